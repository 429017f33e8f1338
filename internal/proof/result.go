package proof

import (
	"strataprover/internal/guest"
	"strataprover/pkg/types"
)

func blockResult(out *guest.BlockspaceOutput) *types.BlockResult {
	return &types.BlockResult{
		BlockHash:              out.BlockHash.String(),
		PrevBlockHash:          out.PrevBlockHash.String(),
		Height:                 out.Height,
		Timestamp:              out.Timestamp,
		TxCount:                out.TxCount,
		MerkleRootValid:        out.MerkleRootValid,
		WitnessCommitmentValid: out.WitnessCommitmentValid,
		PowValid:               out.PowValid,
		LinksToPrev:            out.LinksToPrev,
		Valid:                  out.Valid(),
	}
}

func batchResult(out *guest.BatchOutput) *types.BatchResult {
	return &types.BatchResult{
		StartHeight:    out.StartHeight,
		EndHeight:      out.EndHeight,
		PrevBlockHash:  out.PrevBlockHash.String(),
		StartBlockHash: out.StartBlockHash.String(),
		EndBlockHash:   out.EndBlockHash.String(),
		BlockCount:     out.BlockCount,
		AllValid:       out.AllValid,
	}
}
