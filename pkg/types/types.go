package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// TaskKind names the guest program a task proves.
type TaskKind string

const (
	TaskBlock   TaskKind = "btc-blockspace"
	TaskL1Batch TaskKind = "l1-batch"
)

// TaskStatus of a proving task
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusProving   TaskStatus = "proving"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// Finished reports whether the status is terminal.
func (s TaskStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a proving job tracked by the prover service
type Task struct {
	ID        string     `json:"id"`
	Kind      TaskKind   `json:"kind"`
	Status    TaskStatus `json:"status"`
	BlockHash string     `json:"block_hash,omitempty"`
	Height    int64      `json:"height,omitempty"`

	// Batch range and the block tasks it aggregates
	StartHeight int64    `json:"start_height,omitempty"`
	EndHeight   int64    `json:"end_height,omitempty"`
	Children    []string `json:"children,omitempty"`

	Attempts        int           `json:"attempts"`
	Error           string        `json:"error,omitempty"`
	ProofSize       int           `json:"proof_size,omitempty"`
	VerificationKey hexutil.Bytes `json:"verification_key,omitempty"`
	Block           *BlockResult  `json:"block,omitempty"`
	Batch           *BatchResult  `json:"batch,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlockResult is the public output of a block proof
type BlockResult struct {
	BlockHash              string `json:"block_hash"`
	PrevBlockHash          string `json:"prev_block_hash"`
	Height                 int64  `json:"height"`
	Timestamp              int64  `json:"timestamp"`
	TxCount                uint32 `json:"tx_count"`
	MerkleRootValid        bool   `json:"merkle_root_valid"`
	WitnessCommitmentValid bool   `json:"witness_commitment_valid"`
	PowValid               bool   `json:"pow_valid"`
	LinksToPrev            bool   `json:"links_to_prev"`
	Valid                  bool   `json:"valid"`
}

// BatchResult is the public output of an L1 batch proof
type BatchResult struct {
	StartHeight    int64  `json:"start_height"`
	EndHeight      int64  `json:"end_height"`
	PrevBlockHash  string `json:"prev_block_hash"`
	StartBlockHash string `json:"start_block_hash"`
	EndBlockHash   string `json:"end_block_hash"`
	BlockCount     uint32 `json:"block_count"`
	AllValid       bool   `json:"all_valid"`
}

// TaskEvent is published on every task status change
type TaskEvent struct {
	Type string `json:"type"`
	Task *Task  `json:"task"`
}

// ProveBlockRequest asks for a btc-blockspace proof
type ProveBlockRequest struct {
	BlockHash string `json:"block_hash" binding:"required"`
}

// ProveL1BatchRequest asks for an l1-batch proof over an inclusive range
type ProveL1BatchRequest struct {
	StartBlockHash string `json:"start_block_hash" binding:"required"`
	EndBlockHash   string `json:"end_block_hash" binding:"required"`
}

// ProveResponse lists the scheduled task ids, aggregate task first
type ProveResponse struct {
	TaskIDs []string `json:"task_ids"`
}

// ProofResponse carries a completed proof
type ProofResponse struct {
	TaskID          string        `json:"task_id"`
	Kind            TaskKind      `json:"kind"`
	Proof           hexutil.Bytes `json:"proof"`
	VerificationKey hexutil.Bytes `json:"verification_key"`
	Cached          bool          `json:"cached"`
}

// VerifyProofRequest checks a proof against a guest program
type VerifyProofRequest struct {
	Program         string        `json:"program" binding:"required"`
	Proof           hexutil.Bytes `json:"proof" binding:"required"`
	VerificationKey hexutil.Bytes `json:"verification_key,omitempty"`
}

// VerifyProofResponse reports the verified public output
type VerifyProofResponse struct {
	Valid   bool         `json:"valid"`
	Program string       `json:"program"`
	Block   *BlockResult `json:"block,omitempty"`
	Batch   *BatchResult `json:"batch,omitempty"`
}
