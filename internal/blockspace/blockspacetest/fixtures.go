// Package blockspacetest builds mined regtest blocks for tests.
package blockspacetest

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"strataprover/internal/blockspace"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// RegtestBits is the regtest proof-of-work limit; roughly every second
// nonce meets it.
const RegtestBits = 0x207fffff

// BaseTime is the timestamp of the block at height zero.
var BaseTime = time.Unix(1700000000, 0)

// Coinbase returns a coinbase paying to a fixed witness program. With
// segwit set the input carries a 32 byte zero reserved value.
func Coinbase(height int32, segwit bool) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)

	heightPush := []byte{0x04, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(heightPush[1:], uint32(height))

	in := wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, math.MaxUint32), heightPush, nil)
	if segwit {
		in.Witness = wire.TxWitness{make([]byte, 32)}
	}
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(50_0000_0000, payScript(byte(height))))
	return tx
}

// SpendTx returns a one-in one-out transaction with a distinct outpoint
// per (height, index). With segwit set the input carries a witness stack.
func SpendTx(height int32, index int, segwit bool) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)

	var seed [8]byte
	binary.LittleEndian.PutUint32(seed[:4], uint32(height))
	binary.LittleEndian.PutUint32(seed[4:], uint32(index))
	prev := blockspace.Sha256d(seed[:])

	in := wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil)
	if segwit {
		in.Witness = wire.TxWitness{
			bytes.Repeat([]byte{0x30}, 71),
			bytes.Repeat([]byte{0x02}, 33),
		}
	}
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(int64(1000+index), payScript(byte(index))))
	return tx
}

// CommitmentScript returns the coinbase output script committing to c.
func CommitmentScript(c chainhash.Hash) []byte {
	script := []byte{0x6a, 0x24, 0xaa, 0x21, 0xa9, 0xed}
	return append(script, c[:]...)
}

// AddWitnessCommitment appends a commitment output to the coinbase of
// block computed from its current transactions and the coinbase reserved
// value. The merkle root is not updated.
func AddWitnessCommitment(block *wire.MsgBlock) {
	root, _ := blockspace.ComputeWitnessRoot(block)
	coinbase := block.Transactions[0]
	commitment := blockspace.ComputeWitnessCommitment(root, coinbase.TxIn[0].Witness[0])
	coinbase.AddTxOut(wire.NewTxOut(0, CommitmentScript(commitment)))
}

// Seal sets the merkle root and searches for a nonce meeting the target.
func Seal(block *wire.MsgBlock) {
	block.Header.MerkleRoot, _ = blockspace.ComputeMerkleRoot(block)
	Mine(&block.Header)
}

// Mine increments the nonce until the header meets its target.
func Mine(header *wire.BlockHeader) {
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		if blockspace.CheckHeaderPoW(header) {
			return
		}
	}
}

// NewBlock builds a mined block at height on top of prev with txCount
// spending transactions. Segwit blocks carry witnesses and a valid
// commitment.
func NewBlock(prev chainhash.Hash, height int32, txCount int, segwit bool) *wire.MsgBlock {
	block := wire.NewMsgBlock(&wire.BlockHeader{
		Version:   0x20000000,
		PrevBlock: prev,
		Timestamp: BaseTime.Add(time.Duration(height) * 10 * time.Minute),
		Bits:      RegtestBits,
	})

	_ = block.AddTransaction(Coinbase(height, segwit))
	for i := 0; i < txCount; i++ {
		_ = block.AddTransaction(SpendTx(height, i, segwit))
	}
	if segwit {
		AddWitnessCommitment(block)
	}

	Seal(block)
	return block
}

// Chain builds count linked blocks starting at height start on top of prev.
func Chain(prev chainhash.Hash, start int32, count int, segwit bool) []*wire.MsgBlock {
	blocks := make([]*wire.MsgBlock, 0, count)
	for i := 0; i < count; i++ {
		block := NewBlock(prev, start+int32(i), 1+i%3, segwit)
		blocks = append(blocks, block)
		prev = block.BlockHash()
	}
	return blocks
}

// Serialize returns the wire encoding of block.
func Serialize(block *wire.MsgBlock) []byte {
	var buf bytes.Buffer
	_ = block.Serialize(&buf)
	return buf.Bytes()
}

func payScript(tag byte) []byte {
	script := []byte{0x00, 0x14}
	return append(script, bytes.Repeat([]byte{tag}, 20)...)
}
