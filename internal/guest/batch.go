package guest

import (
	"fmt"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BatchParams is the compact input of the l1-batch guest.
type BatchParams struct {
	_           struct{} `cbor:",toarray"`
	StartHeight int64
	Count       uint32
}

// BatchOutput is committed by the l1-batch guest.
type BatchOutput struct {
	_              struct{} `cbor:",toarray"`
	StartHeight    int64
	EndHeight      int64
	PrevBlockHash  chainhash.Hash
	StartBlockHash chainhash.Hash
	EndBlockHash   chainhash.Hash
	BlockCount     uint32
	AllValid       bool
}

// batchGuest aggregates consecutive btc-blockspace proofs.
func batchGuest(env *native.Env) error {
	var params BatchParams
	if err := env.ReadCompact(&params); err != nil {
		return err
	}
	if params.Count == 0 {
		return fmt.Errorf("empty batch")
	}

	blockspaceVK := BlockspaceKey()
	out := BatchOutput{StartHeight: params.StartHeight, BlockCount: params.Count, AllValid: true}

	var prev *BlockspaceOutput
	for i := uint32(0); i < params.Count; i++ {
		agg, err := env.ReadAggregation()
		if err != nil {
			return err
		}
		if !agg.VerificationKey.Equal(blockspaceVK) {
			return fmt.Errorf("proof %d is not a %s proof", i, BlockspaceName)
		}

		var block BlockspaceOutput
		if err := agg.Decode(&block); err != nil {
			return err
		}

		if prev == nil {
			if block.Height != params.StartHeight {
				return fmt.Errorf("batch starts at height %d, expected %d", block.Height, params.StartHeight)
			}
			out.PrevBlockHash = block.PrevBlockHash
			out.StartBlockHash = block.BlockHash
		} else {
			if block.Height != prev.Height+1 {
				return fmt.Errorf("height %d does not follow %d", block.Height, prev.Height)
			}
			if block.PrevBlockHash != prev.BlockHash {
				return fmt.Errorf("block %s does not build on %s", block.BlockHash, prev.BlockHash)
			}
		}

		out.AllValid = out.AllValid && block.Valid()
		prev = &block
	}

	out.EndHeight = prev.Height
	out.EndBlockHash = prev.BlockHash
	return env.Commit(out)
}

// BatchInput writes the batch params followed by the block proofs in
// height order.
func BatchInput(b zkvm.InputBuilder, startHeight int64, proofs []zkvm.AggregationInput) (zkvm.GuestInput, error) {
	b.WriteCompact(BatchParams{StartHeight: startHeight, Count: uint32(len(proofs))})
	for _, p := range proofs {
		b.WriteProof(p)
	}
	return b.Build()
}
