package blockspace

import (
	"bytes"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// witnessCommitmentScriptLen is OP_RETURN, a 36 byte push, the 4 byte
	// header and the 32 byte commitment.
	witnessCommitmentScriptLen = 38

	// witnessReservedValueLen is the size of the single coinbase witness item.
	witnessReservedValueLen = 32
)

// witnessCommitmentMagic prefixes the coinbase output carrying the
// commitment: OP_RETURN, OP_PUSHBYTES_36, 0xaa21a9ed.
var witnessCommitmentMagic = []byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}

// ComputeMerkleRoot returns the merkle root over the txids of the block.
// The second value is false for an empty block or one holding a malformed
// transaction.
func ComputeMerkleRoot(block *wire.MsgBlock) (chainhash.Hash, bool) {
	if block == nil {
		return chainhash.Hash{}, false
	}

	leaves := make([]chainhash.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		if !wellFormed(tx) {
			return chainhash.Hash{}, false
		}
		leaves[i] = ComputeTxID(tx)
	}
	return CalculateRoot(leaves)
}

// ComputeWitnessRoot returns the merkle root over the wtxids of the block
// with the coinbase leaf replaced by 32 zero bytes. The second value is
// false under the same conditions as ComputeMerkleRoot.
func ComputeWitnessRoot(block *wire.MsgBlock) (chainhash.Hash, bool) {
	if block == nil {
		return chainhash.Hash{}, false
	}

	leaves := make([]chainhash.Hash, len(block.Transactions))
	for i, tx := range block.Transactions {
		if !wellFormed(tx) {
			return chainhash.Hash{}, false
		}
		if i == 0 {
			continue
		}
		leaves[i] = ComputeWTxID(tx)
	}
	return CalculateRoot(leaves)
}

// CheckMerkleRoot reports whether the header merkle root matches the root
// recomputed from the block transactions. Empty blocks never match.
func CheckMerkleRoot(block *wire.MsgBlock) bool {
	root, ok := ComputeMerkleRoot(block)
	if !ok {
		return false
	}
	return root == block.Header.MerkleRoot
}

// ComputeWitnessCommitment returns Sha256d(witnessRoot || reservedValue).
func ComputeWitnessCommitment(witnessRoot chainhash.Hash, reservedValue []byte) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+len(reservedValue))
	buf = append(buf, witnessRoot[:]...)
	buf = append(buf, reservedValue...)
	return Sha256d(buf)
}

// CheckWitnessCommitment validates the segwit commitment in the coinbase.
//
// A block where no input carries witness data passes, including an empty
// block. Otherwise the coinbase must hold an output whose script starts
// with the commitment header; when several outputs match, the last one is
// used. The coinbase input witness must be exactly one 32 byte reserved
// value, and Sha256d(witness root || reserved value) must equal the
// committed hash.
func CheckWitnessCommitment(block *wire.MsgBlock) bool {
	if block == nil || !hasWitnessData(block) {
		return true
	}
	if len(block.Transactions) == 0 {
		return false
	}

	coinbase := block.Transactions[0]
	if !wellFormed(coinbase) || !isCoinbase(coinbase) {
		return false
	}

	commitment, ok := extractWitnessCommitment(coinbase)
	if !ok {
		return false
	}

	witness := coinbase.TxIn[0].Witness
	if len(witness) != 1 || len(witness[0]) != witnessReservedValueLen {
		return false
	}

	witnessRoot, ok := ComputeWitnessRoot(block)
	if !ok {
		return false
	}

	return ComputeWitnessCommitment(witnessRoot, witness[0]) == commitment
}

// extractWitnessCommitment returns bytes [6:38] of the last coinbase output
// that carries the commitment header.
func extractWitnessCommitment(coinbase *wire.MsgTx) (chainhash.Hash, bool) {
	for i := len(coinbase.TxOut) - 1; i >= 0; i-- {
		script := coinbase.TxOut[i].PkScript
		if len(script) < witnessCommitmentScriptLen {
			continue
		}
		if !bytes.HasPrefix(script, witnessCommitmentMagic) {
			continue
		}

		var commitment chainhash.Hash
		copy(commitment[:], script[len(witnessCommitmentMagic):witnessCommitmentScriptLen])
		return commitment, true
	}
	return chainhash.Hash{}, false
}

func hasWitnessData(block *wire.MsgBlock) bool {
	for _, tx := range block.Transactions {
		if tx == nil {
			continue
		}
		for _, in := range tx.TxIn {
			if in != nil && len(in.Witness) > 0 {
				return true
			}
		}
	}
	return false
}

// isCoinbase reports whether tx has a single input spending the null
// outpoint.
func isCoinbase(tx *wire.MsgTx) bool {
	if tx == nil || len(tx.TxIn) != 1 {
		return false
	}
	prev := tx.TxIn[0].PreviousOutPoint
	return prev.Index == math.MaxUint32 && prev.Hash == chainhash.Hash{}
}

// wellFormed reports whether tx and all its inputs and outputs are non-nil,
// so it can be serialized.
func wellFormed(tx *wire.MsgTx) bool {
	if tx == nil {
		return false
	}
	for _, in := range tx.TxIn {
		if in == nil {
			return false
		}
	}
	for _, out := range tx.TxOut {
		if out == nil {
			return false
		}
	}
	return true
}
