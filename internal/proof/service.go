// Package proof schedules proving tasks for Bitcoin blocks and L1 batches,
// persists their results and serves SPV inclusion proofs.
package proof

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"strataprover/internal/bitcoin"
	"strataprover/internal/guest"
	"strataprover/internal/zkvm"
	"strataprover/pkg/types"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxBatchBlocks bounds the range of a single L1 batch.
	MaxBatchBlocks = 1008
	queueSize      = 256
)

var (
	ErrTaskNotFound     = errors.New("task not found")
	ErrProofNotReady    = errors.New("proof not ready")
	ErrInvalidRange     = errors.New("invalid block range")
	ErrBlockUnavailable = errors.New("block unavailable")
	ErrTxNotFound       = errors.New("transaction not in block")
	ErrStaleBlock       = errors.New("block not on the active chain")
	ErrUnknownProgram   = errors.New("unknown program")
	ErrServiceClosed    = errors.New("prover service closed")
)

// ServiceConfig for the prover service
type ServiceConfig struct {
	Backend         zkvm.Backend
	Source          bitcoin.BlockSource
	Store           *Store
	Options         zkvm.ProverOptions
	Workers         int
	MaxRetries      int
	RetryDelay      time.Duration
	MaxCacheSize    int
	CacheExpiration time.Duration
	Logger          log.Logger
}

// Service runs proving tasks on a bounded pool of workers
type Service struct {
	backend    zkvm.Backend
	source     bitcoin.BlockSource
	store      *Store
	cache      *ProofCache
	generator  *Generator
	opts       zkvm.ProverOptions
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     log.Logger

	jobs    chan *job
	group   errgroup.Group
	batches sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	closed  sync.Once

	mu      sync.Mutex
	done    map[string]chan struct{}
	subs    map[int]func(types.TaskEvent)
	nextSub int
}

type job struct {
	task  *types.Task
	prove func(ctx context.Context) (zkvm.Proof, zkvm.VerificationKey, error)
}

func NewService(config ServiceConfig) (*Service, error) {
	if config.Backend == nil || config.Source == nil || config.Store == nil {
		return nil, fmt.Errorf("backend, block source and store are required")
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.MaxCacheSize <= 0 {
		config.MaxCacheSize = 256
	}
	if config.CacheExpiration == 0 {
		config.CacheExpiration = 24 * time.Hour
	}
	if config.Logger == nil {
		config.Logger = log.Root()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		backend:    config.Backend,
		source:     config.Source,
		store:      config.Store,
		cache:      NewProofCache(config.MaxCacheSize, config.CacheExpiration),
		generator:  NewGenerator(config.Source),
		opts:       config.Options,
		workers:    config.Workers,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
		logger:     config.Logger,
		jobs:       make(chan *job, queueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(map[string]chan struct{}),
		subs:       make(map[int]func(types.TaskEvent)),
	}

	for i := 0; i < config.Workers; i++ {
		s.group.Go(s.worker)
	}
	s.group.Go(func() error {
		s.cache.runCleanup(ctx, time.Hour)
		return nil
	})

	s.logger.Info("Prover service started", "backend", s.backend.Name(), "workers", config.Workers,
		"mock", s.opts.UseMockProver, "compression", s.opts.EnableCompression, "snark", s.opts.StarkToSnarkConversion)
	return s, nil
}

// Close stops the workers and fails every task that did not finish.
func (s *Service) Close() error {
	var err error
	s.closed.Do(func() {
		s.cancel()
		s.batches.Wait()
		_ = s.group.Wait()

		n, ferr := s.store.FailUnfinished(ErrServiceClosed.Error())
		if ferr != nil {
			err = ferr
		} else if n > 0 {
			s.logger.Warn("Abandoned unfinished tasks", "count", n)
		}

		s.mu.Lock()
		for id, ch := range s.done {
			close(ch)
			delete(s.done, id)
		}
		s.mu.Unlock()
	})
	return err
}

// ProveBlock schedules a btc-blockspace proof for the block with hash.
func (s *Service) ProveBlock(ctx context.Context, hash chainhash.Hash) (string, error) {
	j, err := s.prepareBlock(ctx, hash)
	if err != nil {
		return "", err
	}
	if err := s.register(j.task); err != nil {
		return "", err
	}
	if err := s.submit(ctx, j); err != nil {
		s.fail(j.task, err)
		return "", err
	}
	return j.task.ID, nil
}

// ProveL1Batch schedules one btc-blockspace task per block from start to
// end inclusive and an l1-batch task aggregating them. The batch task id
// comes first.
func (s *Service) ProveL1Batch(ctx context.Context, start, end chainhash.Hash) ([]string, error) {
	startHeight, err := s.canonicalHeight(ctx, start)
	if err != nil {
		return nil, err
	}
	endHeight, err := s.canonicalHeight(ctx, end)
	if err != nil {
		return nil, err
	}
	if endHeight < startHeight {
		return nil, fmt.Errorf("%w: end height %d below start height %d", ErrInvalidRange, endHeight, startHeight)
	}
	if count := endHeight - startHeight + 1; count > MaxBatchBlocks {
		return nil, fmt.Errorf("%w: %d blocks exceeds the limit of %d", ErrInvalidRange, count, MaxBatchBlocks)
	}

	children := make([]*job, 0, endHeight-startHeight+1)
	for h := startHeight; h <= endHeight; h++ {
		hash, err := s.source.BlockHash(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
		}
		j, err := s.prepareBlock(ctx, hash)
		if err != nil {
			return nil, err
		}
		children = append(children, j)
	}

	batch := newTask(types.TaskL1Batch)
	batch.StartHeight = startHeight
	batch.EndHeight = endHeight
	batch.BlockHash = end.String()
	ids := []string{batch.ID}
	for _, j := range children {
		batch.Children = append(batch.Children, j.task.ID)
		ids = append(ids, j.task.ID)
	}

	if err := s.register(batch); err != nil {
		return nil, err
	}
	waits := make([]<-chan struct{}, 0, len(children))
	for _, j := range children {
		if err := s.register(j.task); err != nil {
			s.fail(batch, err)
			return nil, err
		}
		waits = append(waits, s.doneChan(j.task.ID))
	}

	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		s.aggregate(batch, waits)
	}()

	for i, j := range children {
		if err := s.submit(ctx, j); err != nil {
			for _, rest := range children[i:] {
				s.fail(rest.task, err)
			}
			return nil, err
		}
	}

	s.logger.Info("Scheduled L1 batch", "task", batch.ID, "start", startHeight, "end", endHeight)
	return ids, nil
}

// HandleBlock schedules a proof for a block reported by the watcher.
func (s *Service) HandleBlock(block *btcutil.Block) {
	id, err := s.ProveBlock(s.ctx, *block.Hash())
	if err != nil {
		s.logger.Warn("Failed to schedule block proof", "height", block.Height(), "hash", block.Hash(), "err", err)
		return
	}
	s.logger.Info("Scheduled block proof", "task", id, "height", block.Height(), "hash", block.Hash())
}

// Task returns the current state of a task.
func (s *Service) Task(id string) (*types.Task, error) {
	task, ok, err := s.store.Task(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// Tasks returns every known task, oldest first.
func (s *Service) Tasks() ([]*types.Task, error) {
	return s.store.Tasks()
}

// Wait blocks until the task finishes or ctx is done.
func (s *Service) Wait(ctx context.Context, id string) (*types.Task, error) {
	if ch := s.doneChan(id); ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.Task(id)
}

// Proof returns the proof of a completed task.
func (s *Service) Proof(id string) (*types.ProofResponse, error) {
	task, err := s.Task(id)
	if err != nil {
		return nil, err
	}
	if task.Status != types.StatusCompleted {
		return nil, fmt.Errorf("%w: task %s is %s", ErrProofNotReady, id, task.Status)
	}

	proof, vk, cached, err := s.loadProof(task)
	if err != nil {
		return nil, err
	}
	return &types.ProofResponse{
		TaskID:          task.ID,
		Kind:            task.Kind,
		Proof:           proof.Bytes(),
		VerificationKey: vk.Bytes(),
		Cached:          cached,
	}, nil
}

// VerifyProof verifies proof against the named guest program and decodes
// its public output. An empty vk defaults to the program's key.
func (s *Service) VerifyProof(program string, proof zkvm.Proof, vk zkvm.VerificationKey) (*types.VerifyProofResponse, error) {
	image, err := guest.Image(program)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, program)
	}

	expected := s.backend.NewHost(image, s.opts).VerificationKey()
	if !vk.IsEmpty() && !vk.Equal(expected) {
		return nil, zkvm.Errorf(zkvm.KindVerification, "verify proof", "verification key does not belong to %s", program)
	}

	verifier := s.backend.Verifier()
	if err := verifier.Verify(expected, proof); err != nil {
		return nil, err
	}

	resp := &types.VerifyProofResponse{Valid: true, Program: program}
	switch program {
	case guest.BlockspaceName:
		out, err := zkvm.ExtractPublicOutput[guest.BlockspaceOutput](verifier, proof)
		if err != nil {
			return nil, err
		}
		resp.Block = blockResult(&out)
	case guest.L1BatchName:
		out, err := zkvm.ExtractPublicOutput[guest.BatchOutput](verifier, proof)
		if err != nil {
			return nil, err
		}
		resp.Batch = batchResult(&out)
	}
	return resp, nil
}

// InclusionProof returns an SPV proof for txid in the block with blockHash.
func (s *Service) InclusionProof(ctx context.Context, blockHash, txid chainhash.Hash) (*SPVProof, error) {
	return s.generator.InclusionProof(ctx, blockHash, txid)
}

// Subscribe registers fn for task events and returns a function removing
// it. fn runs on the goroutine changing the task and must not block.
func (s *Service) Subscribe(fn func(types.TaskEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Stats returns service and cache statistics
func (s *Service) Stats() map[string]interface{} {
	s.mu.Lock()
	inflight := len(s.done)
	s.mu.Unlock()

	return map[string]interface{}{
		"backend":     s.backend.Name(),
		"workers":     s.workers,
		"queued_jobs": len(s.jobs),
		"inflight":    inflight,
		"cache":       s.cache.Stats(),
	}
}

func (s *Service) worker() error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case j := <-s.jobs:
			s.run(j)
		}
	}
}

func (s *Service) submit(ctx context.Context, j *job) error {
	if s.ctx.Err() != nil {
		return ErrServiceClosed
	}
	select {
	case s.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrServiceClosed
	}
}

func (s *Service) run(j *job) {
	task := j.task
	s.setStatus(task, types.StatusProving)
	start := time.Now()

	var (
		proof zkvm.Proof
		vk    zkvm.VerificationKey
		err   error
	)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			case <-s.ctx.Done():
				s.fail(task, ErrServiceClosed)
				return
			}
		}

		task.Attempts = attempt + 1
		proof, vk, err = j.prove(s.ctx)
		if err == nil || !retryable(err) {
			break
		}
		s.logger.Warn("Proving attempt failed", "task", task.ID, "kind", task.Kind, "attempt", task.Attempts, "err", err)
	}
	if err != nil {
		s.fail(task, err)
		return
	}

	if err := s.backend.Verifier().Verify(vk, proof); err != nil {
		s.fail(task, fmt.Errorf("produced proof does not verify: %w", err))
		return
	}
	if err := s.complete(task, proof, vk); err != nil {
		s.fail(task, err)
		return
	}
	s.logger.Info("Proof completed", "task", task.ID, "kind", task.Kind, "size", proof.Len(), "attempts", task.Attempts, "elapsed", time.Since(start))
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch zkvm.KindOf(err) {
	case zkvm.KindSerialization, zkvm.KindDecode:
		return false
	}
	return true
}

// prepareBlock fetches a block and its parent hash and returns an
// unregistered task proving it.
func (s *Service) prepareBlock(ctx context.Context, hash chainhash.Hash) (*job, error) {
	block, err := s.source.Block(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}

	params := guest.BlockspaceParams{Height: int64(block.Height())}
	if params.Height > 0 {
		prev, err := s.source.BlockHash(ctx, params.Height-1)
		if err != nil {
			return nil, fmt.Errorf("%w: parent of %s: %v", ErrBlockUnavailable, hash, err)
		}
		params.PrevBlockHash = prev.String()
	}

	task := newTask(types.TaskBlock)
	task.BlockHash = hash.String()
	task.Height = params.Height

	return &job{
		task: task,
		prove: func(ctx context.Context) (zkvm.Proof, zkvm.VerificationKey, error) {
			host := s.backend.NewHost(guest.BlockspaceImage, s.opts)
			input, err := guest.BlockspaceInput(host.NewInputBuilder(), block.MsgBlock(), params)
			if err != nil {
				return zkvm.Proof{}, zkvm.VerificationKey{}, err
			}
			return host.Prove(ctx, input)
		},
	}, nil
}

// canonicalHeight returns the height of hash and checks it is on the
// source's active chain.
func (s *Service) canonicalHeight(ctx context.Context, hash chainhash.Hash) (int64, error) {
	block, err := s.source.Block(ctx, hash)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	height := int64(block.Height())
	if err := checkActive(ctx, s.source, hash, height); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	return height, nil
}

// checkActive fails with ErrStaleBlock unless the source's active chain
// has hash at height.
func checkActive(ctx context.Context, source bitcoin.BlockSource, hash chainhash.Hash, height int64) error {
	active, err := source.BlockHash(ctx, height)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	if active != hash {
		return fmt.Errorf("%w: %s", ErrStaleBlock, hash)
	}
	return nil
}

// aggregate waits for the block tasks of a batch and schedules the batch
// proof over their results.
func (s *Service) aggregate(batch *types.Task, waits []<-chan struct{}) {
	for _, ch := range waits {
		select {
		case <-ch:
		case <-s.ctx.Done():
			return
		}
	}

	inputs := make([]zkvm.AggregationInput, 0, len(batch.Children))
	for _, id := range batch.Children {
		child, err := s.Task(id)
		if err != nil {
			s.fail(batch, err)
			return
		}
		if child.Status != types.StatusCompleted {
			s.fail(batch, fmt.Errorf("block task %s (height %d) %s: %s", id, child.Height, child.Status, child.Error))
			return
		}
		proof, vk, _, err := s.loadProof(child)
		if err != nil {
			s.fail(batch, err)
			return
		}
		inputs = append(inputs, zkvm.NewAggregationInput(proof, vk))
	}

	j := &job{
		task: batch,
		prove: func(ctx context.Context) (zkvm.Proof, zkvm.VerificationKey, error) {
			host := s.backend.NewHost(guest.L1BatchImage, s.opts)
			input, err := guest.BatchInput(host.NewInputBuilder(), batch.StartHeight, inputs)
			if err != nil {
				return zkvm.Proof{}, zkvm.VerificationKey{}, err
			}
			return host.Prove(ctx, input)
		},
	}
	if err := s.submit(s.ctx, j); err != nil {
		s.fail(batch, err)
	}
}

func (s *Service) loadProof(task *types.Task) (zkvm.Proof, zkvm.VerificationKey, bool, error) {
	if cached := s.cache.Get(task.ID); cached != nil {
		return cached.Proof, cached.VerificationKey, true, nil
	}

	data, ok, err := s.store.Proof(task.ID)
	if err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, false, fmt.Errorf("failed to load proof %s: %w", task.ID, err)
	}
	if !ok {
		return zkvm.Proof{}, zkvm.VerificationKey{}, false, fmt.Errorf("%w: no stored proof for %s", ErrProofNotReady, task.ID)
	}

	proof := zkvm.NewProof(data)
	vk := zkvm.NewVerificationKey(task.VerificationKey)
	s.cache.Set(task.ID, proof, vk)
	return proof, vk, false, nil
}

func (s *Service) complete(task *types.Task, proof zkvm.Proof, vk zkvm.VerificationKey) error {
	verifier := s.backend.Verifier()
	switch task.Kind {
	case types.TaskBlock:
		out, err := zkvm.ExtractPublicOutput[guest.BlockspaceOutput](verifier, proof)
		if err != nil {
			return err
		}
		task.Block = blockResult(&out)
	case types.TaskL1Batch:
		out, err := zkvm.ExtractPublicOutput[guest.BatchOutput](verifier, proof)
		if err != nil {
			return err
		}
		task.Batch = batchResult(&out)
	}

	if err := s.store.PutProof(task.ID, proof.Bytes()); err != nil {
		return fmt.Errorf("failed to store proof: %w", err)
	}
	s.cache.Set(task.ID, proof, vk)

	task.ProofSize = proof.Len()
	task.VerificationKey = vk.Bytes()
	task.Error = ""
	s.setStatus(task, types.StatusCompleted)
	s.finish(task.ID)
	return nil
}

func (s *Service) fail(task *types.Task, err error) {
	task.Error = err.Error()
	s.logger.Warn("Proving task failed", "task", task.ID, "kind", task.Kind, "err", err)
	s.setStatus(task, types.StatusFailed)
	s.finish(task.ID)
}

// register persists a new task and tracks its completion.
func (s *Service) register(task *types.Task) error {
	if err := s.store.PutTask(task); err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}

	s.mu.Lock()
	s.done[task.ID] = make(chan struct{})
	s.mu.Unlock()

	s.publish("task_created", task)
	return nil
}

func (s *Service) setStatus(task *types.Task, status types.TaskStatus) {
	task.Status = status
	task.UpdatedAt = time.Now()
	if err := s.store.PutTask(task); err != nil {
		s.logger.Error("Failed to persist task", "task", task.ID, "err", err)
	}
	s.publish("task_"+string(status), task)
}

func (s *Service) doneChan(id string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.done[id]; ok {
		return ch
	}
	return nil
}

func (s *Service) finish(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.done[id]; ok {
		close(ch)
		delete(s.done, id)
	}
}

func (s *Service) publish(event string, task *types.Task) {
	snapshot := *task
	snapshot.Children = append([]string(nil), task.Children...)
	ev := types.TaskEvent{Type: event, Task: &snapshot}

	s.mu.Lock()
	subs := make([]func(types.TaskEvent), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("Task subscriber panic", "task", task.ID, "panic", r)
				}
			}()
			fn(ev)
		}()
	}
}

func newTask(kind types.TaskKind) *types.Task {
	now := time.Now()
	return &types.Task{
		ID:        newTaskID(),
		Kind:      kind,
		Status:    types.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newTaskID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%x", buf)
}
