// Package guest holds the guest programs proven by the prover: block
// verification of a single Bitcoin block and aggregation of consecutive
// block proofs into an L1 batch proof.
package guest

import (
	"fmt"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"
)

const (
	BlockspaceName = "btc-blockspace"
	L1BatchName    = "l1-batch"
)

// Code images identifying the guest programs.
var (
	BlockspaceImage = []byte("strataprover/guest/btc-blockspace/v1")
	L1BatchImage    = []byte("strataprover/guest/l1-batch/v1")
)

// BlockspaceKey returns the verification key of the btc-blockspace guest.
func BlockspaceKey() zkvm.VerificationKey {
	key := native.ProgramKey(BlockspaceImage)
	return zkvm.NewVerificationKey(key[:])
}

// L1BatchKey returns the verification key of the l1-batch guest.
func L1BatchKey() zkvm.VerificationKey {
	key := native.ProgramKey(L1BatchImage)
	return zkvm.NewVerificationKey(key[:])
}

// Image returns the code image of a guest by name.
func Image(name string) ([]byte, error) {
	switch name {
	case BlockspaceName:
		return BlockspaceImage, nil
	case L1BatchName:
		return L1BatchImage, nil
	default:
		return nil, fmt.Errorf("unknown guest program %q", name)
	}
}

// Register installs every guest program into r.
func Register(r *native.Registry) error {
	if _, err := r.Register(BlockspaceName, BlockspaceImage, blockspaceGuest); err != nil {
		return err
	}
	if _, err := r.Register(L1BatchName, L1BatchImage, batchGuest); err != nil {
		return err
	}
	return nil
}
