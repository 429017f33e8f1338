package native

import (
	"fmt"
	"sync"

	"strataprover/internal/zkvm"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// GuestFunc is the logic of a guest program.
type GuestFunc func(env *Env) error

type program struct {
	name string
	run  GuestFunc
}

// Registry maps program verification keys to guest logic.
type Registry struct {
	mu       sync.RWMutex
	programs map[chainhash.Hash]program
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[chainhash.Hash]program)}
}

// Register binds the code image to run and returns the program key.
func (r *Registry) Register(name string, image []byte, run GuestFunc) (zkvm.VerificationKey, error) {
	key := ProgramKey(image)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.programs[key]; ok {
		return zkvm.VerificationKey{}, fmt.Errorf("program %s already registered as %s", key, existing.name)
	}
	r.programs[key] = program{name: name, run: run}
	return zkvm.NewVerificationKey(key[:]), nil
}

// Name returns the registered name of the program with key vk.
func (r *Registry) Name(vk zkvm.VerificationKey) (string, bool) {
	p, ok := r.lookup(vk)
	return p.name, ok
}

func (r *Registry) lookup(vk zkvm.VerificationKey) (program, bool) {
	raw := vk.Bytes()
	if len(raw) != chainhash.HashSize {
		return program{}, false
	}

	var key chainhash.Hash
	copy(key[:], raw)

	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[key]
	return p, ok
}
