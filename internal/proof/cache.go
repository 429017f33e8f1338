package proof

import (
	"context"
	"sync"
	"time"

	"strataprover/internal/zkvm"
)

// ProofCache keeps recently produced proofs in memory, evicting the least
// recently accessed entry when full.
type ProofCache struct {
	mutex   sync.RWMutex
	proofs  map[string]*CachedProof
	maxSize int
	expiry  time.Duration
}

// CachedProof wraps a proof with access metadata
type CachedProof struct {
	Proof           zkvm.Proof
	VerificationKey zkvm.VerificationKey
	CreatedAt       time.Time
	AccessedAt      time.Time
	UseCount        int
}

func NewProofCache(maxSize int, expiry time.Duration) *ProofCache {
	return &ProofCache{
		proofs:  make(map[string]*CachedProof),
		maxSize: maxSize,
		expiry:  expiry,
	}
}

// Get retrieves a proof from cache
func (pc *ProofCache) Get(key string) *CachedProof {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	cached, exists := pc.proofs[key]
	if !exists {
		return nil
	}

	if time.Since(cached.CreatedAt) > pc.expiry {
		delete(pc.proofs, key)
		return nil
	}

	cached.AccessedAt = time.Now()
	cached.UseCount++

	out := *cached
	return &out
}

// Set stores a proof in cache
func (pc *ProofCache) Set(key string, proof zkvm.Proof, vk zkvm.VerificationKey) {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	if _, exists := pc.proofs[key]; !exists && len(pc.proofs) >= pc.maxSize {
		pc.evictOldest()
	}

	now := time.Now()
	pc.proofs[key] = &CachedProof{
		Proof:           proof,
		VerificationKey: vk,
		CreatedAt:       now,
		AccessedAt:      now,
	}
}

func (pc *ProofCache) Len() int {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()
	return len(pc.proofs)
}

// Stats returns cache statistics
func (pc *ProofCache) Stats() map[string]interface{} {
	pc.mutex.RLock()
	defer pc.mutex.RUnlock()

	totalHits := 0
	for _, cached := range pc.proofs {
		totalHits += cached.UseCount
	}

	return map[string]interface{}{
		"cache_size":      len(pc.proofs),
		"max_cache_size":  pc.maxSize,
		"total_hits":      totalHits,
		"expiry_duration": pc.expiry.String(),
	}
}

// evictOldest removes the least recently accessed entry
func (pc *ProofCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, cached := range pc.proofs {
		if oldestKey == "" || cached.AccessedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = cached.AccessedAt
		}
	}

	if oldestKey != "" {
		delete(pc.proofs, oldestKey)
	}
}

// cleanup removes expired entries
func (pc *ProofCache) cleanup() {
	pc.mutex.Lock()
	defer pc.mutex.Unlock()

	now := time.Now()
	for key, cached := range pc.proofs {
		if now.Sub(cached.CreatedAt) > pc.expiry {
			delete(pc.proofs, key)
		}
	}
}

// runCleanup periodically drops expired entries until ctx is done.
func (pc *ProofCache) runCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pc.cleanup()
		}
	}
}
