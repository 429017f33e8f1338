package bitcoin

import (
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// MemoryChain is an in-memory BlockSource. Blocks are appended in height
// order starting at the base height. Blocks dropped by Reorg stay
// retrievable by hash but leave the active chain.
type MemoryChain struct {
	mu     sync.RWMutex
	base   int64
	blocks []*wire.MsgBlock
	byHash map[chainhash.Hash]knownBlock
}

type knownBlock struct {
	block  *wire.MsgBlock
	height int64
}

var _ BlockSource = (*MemoryChain)(nil)

func NewMemoryChain(base int64) *MemoryChain {
	return &MemoryChain{
		base:   base,
		byHash: make(map[chainhash.Hash]knownBlock),
	}
}

// Add appends blocks to the tip.
func (m *MemoryChain) Add(blocks ...*wire.MsgBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.add(blocks)
}

// Reorg drops the active blocks from height on and appends blocks in
// their place.
func (m *MemoryChain) Reorg(height int64, blocks ...*wire.MsgBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := height - m.base
	if idx < 0 || idx > int64(len(m.blocks)) {
		return fmt.Errorf("reorg height %d outside chain", height)
	}
	m.blocks = m.blocks[:idx]
	m.add(blocks)
	return nil
}

func (m *MemoryChain) add(blocks []*wire.MsgBlock) {
	for _, block := range blocks {
		m.byHash[block.BlockHash()] = knownBlock{block: block, height: m.base + int64(len(m.blocks))}
		m.blocks = append(m.blocks, block)
	}
}

func (m *MemoryChain) BestHeight(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.blocks) == 0 {
		return 0, fmt.Errorf("empty chain")
	}
	return m.base + int64(len(m.blocks)) - 1, nil
}

func (m *MemoryChain) BlockHash(ctx context.Context, height int64) (chainhash.Hash, error) {
	if err := ctx.Err(); err != nil {
		return chainhash.Hash{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := height - m.base
	if idx < 0 || idx >= int64(len(m.blocks)) {
		return chainhash.Hash{}, fmt.Errorf("no block at height %d", height)
	}
	return m.blocks[idx].BlockHash(), nil
}

func (m *MemoryChain) Block(ctx context.Context, hash chainhash.Hash) (*btcutil.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	known, ok := m.byHash[hash]
	if !ok {
		return nil, fmt.Errorf("block not found: %s", hash)
	}
	block := btcutil.NewBlock(known.block)
	block.SetHeight(int32(known.height))
	return block, nil
}
