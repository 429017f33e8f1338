package proof

import (
	"bytes"
	"context"
	"fmt"

	"strataprover/internal/bitcoin"
	"strataprover/internal/blockspace"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SPVProof shows a transaction is committed to by a block header
type SPVProof struct {
	BlockHash     string                   `json:"block_hash"`
	BlockHeight   int64                    `json:"block_height"`
	Confirmations int64                    `json:"confirmations"`
	BlockHeader   hexutil.Bytes            `json:"block_header"`
	TxID          string                   `json:"txid"`
	Transaction   hexutil.Bytes            `json:"transaction"`
	MerkleRoot    string                   `json:"merkle_root"`
	Branch        *blockspace.MerkleBranch `json:"branch"`
}

// Generator builds SPV proofs from a block source
type Generator struct {
	source bitcoin.BlockSource
}

func NewGenerator(source bitcoin.BlockSource) *Generator {
	return &Generator{source: source}
}

// InclusionProof proves that txid is in the block with blockHash. The
// block must be on the active chain and its merkle root is checked before
// a branch is produced.
func (g *Generator) InclusionProof(ctx context.Context, blockHash, txid chainhash.Hash) (*SPVProof, error) {
	block, err := g.source.Block(ctx, blockHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBlockUnavailable, err)
	}
	msg := block.MsgBlock()
	height := int64(block.Height())

	if err := checkActive(ctx, g.source, blockHash, height); err != nil {
		return nil, err
	}
	if !blockspace.CheckMerkleRoot(msg) {
		return nil, fmt.Errorf("block %s has an invalid merkle root", blockHash)
	}

	txids := make([]chainhash.Hash, len(msg.Transactions))
	txIndex := -1
	for i, tx := range block.Transactions() {
		txids[i] = *tx.Hash()
		if txids[i] == txid {
			txIndex = i
		}
	}
	if txIndex == -1 {
		return nil, fmt.Errorf("%w: %s not found in block %s", ErrTxNotFound, txid, blockHash)
	}

	branch, err := blockspace.BuildMerkleBranch(txids, txIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to build merkle branch: %w", err)
	}

	best, err := g.source.BestHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get best height: %w", err)
	}

	var header bytes.Buffer
	if err := msg.Header.Serialize(&header); err != nil {
		return nil, fmt.Errorf("failed to serialize header: %w", err)
	}
	var tx bytes.Buffer
	if err := msg.Transactions[txIndex].SerializeNoWitness(&tx); err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}

	return &SPVProof{
		BlockHash:     blockHash.String(),
		BlockHeight:   height,
		Confirmations: best - height + 1,
		BlockHeader:   header.Bytes(),
		TxID:          txid.String(),
		Transaction:   tx.Bytes(),
		MerkleRoot:    msg.Header.MerkleRoot.String(),
		Branch:        branch,
	}, nil
}

// VerifyProof checks an SPV proof on its own: the header hashes to the
// block hash, the transaction to the txid, and the branch leads from the
// txid to the header's merkle root.
func VerifyProof(proof *SPVProof) error {
	if proof.Branch == nil {
		return fmt.Errorf("missing merkle branch")
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(proof.BlockHeader)); err != nil {
		return fmt.Errorf("invalid block header: %w", err)
	}
	if blockspace.ComputeBlockHash(&header).String() != proof.BlockHash {
		return fmt.Errorf("block hash mismatch")
	}
	if header.MerkleRoot.String() != proof.MerkleRoot {
		return fmt.Errorf("merkle root mismatch")
	}

	var tx wire.MsgTx
	if err := tx.DeserializeNoWitness(bytes.NewReader(proof.Transaction)); err != nil {
		return fmt.Errorf("invalid transaction: %w", err)
	}
	txid := blockspace.ComputeTxID(&tx)
	if txid.String() != proof.TxID {
		return fmt.Errorf("transaction hash mismatch")
	}

	if !blockspace.VerifyMerkleBranch(txid, header.MerkleRoot, proof.Branch) {
		return fmt.Errorf("invalid merkle branch")
	}
	return nil
}

// ValidateMinimumConfirmations checks the proof is buried deep enough
func ValidateMinimumConfirmations(proof *SPVProof, minConfirmations int64) error {
	if proof.Confirmations < minConfirmations {
		return fmt.Errorf("insufficient confirmations: %d < %d", proof.Confirmations, minConfirmations)
	}
	return nil
}
