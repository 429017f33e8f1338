package guest

import (
	"bytes"
	"fmt"

	"strataprover/internal/blockspace"
	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockspaceParams is the structured input preceding the raw block.
type BlockspaceParams struct {
	Height int64 `json:"height"`
	// PrevBlockHash, when set, is the hash the block must build on.
	PrevBlockHash string `json:"prev_block_hash,omitempty"`
}

// BlockspaceOutput is committed by the btc-blockspace guest.
type BlockspaceOutput struct {
	_                      struct{} `cbor:",toarray"`
	BlockHash              chainhash.Hash
	PrevBlockHash          chainhash.Hash
	Height                 int64
	Timestamp              int64
	TxCount                uint32
	MerkleRootValid        bool
	WitnessCommitmentValid bool
	PowValid               bool
	LinksToPrev            bool
}

// Valid reports whether every check passed.
func (o *BlockspaceOutput) Valid() bool {
	return o.MerkleRootValid && o.WitnessCommitmentValid && o.PowValid && o.LinksToPrev
}

// EvaluateBlock runs the block checks and reports each verdict.
func EvaluateBlock(block *wire.MsgBlock, params BlockspaceParams) (BlockspaceOutput, error) {
	out := BlockspaceOutput{
		BlockHash:              blockspace.ComputeBlockHash(&block.Header),
		PrevBlockHash:          block.Header.PrevBlock,
		Height:                 params.Height,
		Timestamp:              block.Header.Timestamp.Unix(),
		TxCount:                uint32(len(block.Transactions)),
		MerkleRootValid:        blockspace.CheckMerkleRoot(block),
		WitnessCommitmentValid: blockspace.CheckWitnessCommitment(block),
		PowValid:               blockspace.CheckPoW(block),
		LinksToPrev:            true,
	}

	if params.PrevBlockHash != "" {
		prev, err := chainhash.NewHashFromStr(params.PrevBlockHash)
		if err != nil {
			return BlockspaceOutput{}, fmt.Errorf("invalid previous block hash: %w", err)
		}
		out.LinksToPrev = block.Header.PrevBlock == *prev
	}
	return out, nil
}

func blockspaceGuest(env *native.Env) error {
	var params BlockspaceParams
	if err := env.Read(&params); err != nil {
		return err
	}

	raw, err := env.ReadSerialized()
	if err != nil {
		return err
	}

	var block wire.MsgBlock
	r := bytes.NewReader(raw)
	if err := block.Deserialize(r); err != nil {
		return fmt.Errorf("failed to decode block: %w", err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes after block", r.Len())
	}

	out, err := EvaluateBlock(&block, params)
	if err != nil {
		return err
	}
	return env.Commit(out)
}

// BlockspaceInput writes the params and the serialized block.
func BlockspaceInput(b zkvm.InputBuilder, block *wire.MsgBlock, params BlockspaceParams) (zkvm.GuestInput, error) {
	var buf bytes.Buffer
	buf.Grow(block.SerializeSize())
	if err := block.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize block: %w", err)
	}
	return b.Write(params).WriteSerialized(buf.Bytes()).Build()
}
