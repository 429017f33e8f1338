package blockspace

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// CalculateRoot folds leaves into a Bitcoin merkle root. Each level pairs
// adjacent nodes and hashes them with Sha256d; an odd node count duplicates
// the last node. A single leaf is its own root. The second return value is
// false when there are no leaves.
func CalculateRoot(leaves []chainhash.Hash) (chainhash.Hash, bool) {
	if len(leaves) == 0 {
		return chainhash.Hash{}, false
	}

	level := make([]chainhash.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}

		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			next = append(next, hashParent(level[i], level[i+1]))
		}
		level = next
	}

	return level[0], true
}

func hashParent(left, right chainhash.Hash) chainhash.Hash {
	var pair [2 * chainhash.HashSize]byte
	copy(pair[:chainhash.HashSize], left[:])
	copy(pair[chainhash.HashSize:], right[:])
	return Sha256d(pair[:])
}
