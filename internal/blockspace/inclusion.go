package blockspace

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MerkleBranch is the list of sibling hashes linking a leaf to the merkle
// root, lowest level first.
type MerkleBranch struct {
	Index    uint32           `json:"index"`
	Total    uint32           `json:"total"`
	Siblings []chainhash.Hash `json:"siblings"`
}

// BuildMerkleBranch collects the siblings of leaves[index] on the way to
// the root, using the same odd-node duplication as CalculateRoot.
func BuildMerkleBranch(leaves []chainhash.Hash, index int) (*MerkleBranch, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("no leaves provided")
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}

	branch := &MerkleBranch{
		Index: uint32(index),
		Total: uint32(len(leaves)),
	}

	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	pos := index
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		// Even position = left child, sibling on the right
		if pos%2 == 0 {
			branch.Siblings = append(branch.Siblings, level[pos+1])
		} else {
			branch.Siblings = append(branch.Siblings, level[pos-1])
		}

		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashParent(level[i], level[i+1]))
		}
		level = next
		pos /= 2
	}

	return branch, nil
}

// Root folds leaf up the branch and returns the resulting root.
func (b *MerkleBranch) Root(leaf chainhash.Hash) chainhash.Hash {
	current := leaf
	index := b.Index
	for _, sibling := range b.Siblings {
		if index%2 == 0 {
			current = hashParent(current, sibling)
		} else {
			current = hashParent(sibling, current)
		}
		index /= 2
	}
	return current
}

// VerifyMerkleBranch reports whether leaf is committed to by root through
// branch.
func VerifyMerkleBranch(leaf, root chainhash.Hash, branch *MerkleBranch) bool {
	if branch == nil || branch.Index >= branch.Total {
		return false
	}
	if len(branch.Siblings) != branchDepth(branch.Total) {
		return false
	}
	return branch.Root(leaf) == root
}

func branchDepth(total uint32) int {
	depth := 0
	for n := total; n > 1; n = (n + 1) / 2 {
		depth++
	}
	return depth
}
