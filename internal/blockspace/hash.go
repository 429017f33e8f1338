// Package blockspace verifies Bitcoin blocks: transaction merkle roots,
// segwit witness commitments and proof of work. Every check is a pure
// function over a decoded block so the same code runs natively and inside
// proving guests.
package blockspace

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Sha256d returns SHA256(SHA256(data)).
func Sha256d(data []byte) chainhash.Hash {
	return chainhash.DoubleHashH(data)
}

// ComputeTxID hashes the transaction serialized without witness data.
func ComputeTxID(tx *wire.MsgTx) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSizeStripped())
	// bytes.Buffer writes never fail
	_ = tx.SerializeNoWitness(&buf)
	return Sha256d(buf.Bytes())
}

// ComputeWTxID hashes the transaction including witness data. For a
// transaction without witnesses this equals the txid.
func ComputeWTxID(tx *wire.MsgTx) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	_ = tx.Serialize(&buf)
	return Sha256d(buf.Bytes())
}

// ComputeBlockHash returns the double SHA-256 of the 80 byte header.
func ComputeBlockHash(header *wire.BlockHeader) chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(wire.MaxBlockHeaderPayload)
	_ = header.Serialize(&buf)
	return Sha256d(buf.Bytes())
}
