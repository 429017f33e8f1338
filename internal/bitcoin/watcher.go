package bitcoin

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/log"
)

// BlockCallback is invoked for every newly confirmed block, in height order.
type BlockCallback func(block *btcutil.Block)

// WatcherConfig for the chain watcher
type WatcherConfig struct {
	PollInterval time.Duration
	// Confirmations a block needs before it is reported; the tip has one.
	Confirmations int64
	// StartHeight is the first height to report. Negative starts after the
	// current tip.
	StartHeight int64
}

// Watcher polls a BlockSource and reports blocks as they confirm.
type Watcher struct {
	source BlockSource
	config WatcherConfig
	logger log.Logger

	mu        sync.RWMutex
	callbacks []BlockCallback
	next      int64
	lastHash  *chainhash.Hash

	cancel context.CancelFunc
	done   chan struct{}
}

func NewWatcher(source BlockSource, config WatcherConfig, logger log.Logger) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = 30 * time.Second
	}
	if config.Confirmations <= 0 {
		config.Confirmations = 1
	}
	if logger == nil {
		logger = log.Root()
	}

	return &Watcher{
		source: source,
		config: config,
		logger: logger,
		next:   config.StartHeight,
	}
}

func (w *Watcher) AddCallback(callback BlockCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.callbacks = append(w.callbacks, callback)
}

// Start runs the poll loop until Stop is called.
func (w *Watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	w.logger.Info("Starting block watcher", "interval", w.config.PollInterval, "confirmations", w.config.Confirmations)
	go w.loop(ctx)
}

// Stop ends the poll loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("Block watcher poll failed", "err", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("Block watcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll reports every block confirmed since the previous poll.
func (w *Watcher) Poll(ctx context.Context) error {
	best, err := w.source.BestHeight(ctx)
	if err != nil {
		return err
	}
	confirmed := best - w.config.Confirmations + 1

	w.mu.Lock()
	if w.next < 0 {
		w.next = confirmed + 1
	}
	w.mu.Unlock()

	for {
		w.mu.RLock()
		height := w.next
		w.mu.RUnlock()
		if height > confirmed {
			return nil
		}

		hash, err := w.source.BlockHash(ctx, height)
		if err != nil {
			return err
		}
		block, err := w.source.Block(ctx, hash)
		if err != nil {
			return err
		}

		w.mu.Lock()
		if w.lastHash != nil && block.MsgBlock().Header.PrevBlock != *w.lastHash {
			w.logger.Warn("Reorganisation below watched tip", "height", height, "hash", hash, "prev", block.MsgBlock().Header.PrevBlock)
		}
		w.lastHash = &hash
		w.next = height + 1
		w.mu.Unlock()

		w.logger.Debug("New block confirmed", "height", height, "hash", hash, "txs", len(block.MsgBlock().Transactions))
		w.notify(block)
	}
}

// NextHeight returns the next height the watcher will report.
func (w *Watcher) NextHeight() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.next
}

func (w *Watcher) notify(block *btcutil.Block) {
	w.mu.RLock()
	callbacks := make([]BlockCallback, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Block callback panic", "height", block.Height(), "panic", r)
				}
			}()
			cb(block)
		}()
	}
}
