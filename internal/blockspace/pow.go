package blockspace

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/holiman/uint256"
)

// CompactToTarget decodes the compact "bits" encoding of a difficulty
// target. The second value is false when the encoding is negative,
// overflows 256 bits or decodes to zero.
func CompactToTarget(bits uint32) (*uint256.Int, bool) {
	exponent := uint(bits >> 24)
	mantissa := uint64(bits & 0x007fffff)
	negative := bits&0x00800000 != 0

	target := new(uint256.Int)
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		target.SetUint64(mantissa)
	} else {
		if mantissa != 0 && (exponent > 34 ||
			(mantissa > 0xff && exponent > 33) ||
			(mantissa > 0xffff && exponent > 32)) {
			return nil, false
		}
		target.SetUint64(mantissa)
		target.Lsh(target, 8*(exponent-3))
	}

	if mantissa != 0 && negative {
		return nil, false
	}
	if target.IsZero() {
		return nil, false
	}
	return target, true
}

// HashToNumber interprets a hash in its internal little-endian byte order
// as a 256-bit unsigned integer.
func HashToNumber(hash chainhash.Hash) *uint256.Int {
	var be [chainhash.HashSize]byte
	for i := range hash {
		be[chainhash.HashSize-1-i] = hash[i]
	}
	return new(uint256.Int).SetBytes32(be[:])
}

// CheckHeaderPoW reports whether the header hash meets the target encoded
// in its bits field.
func CheckHeaderPoW(header *wire.BlockHeader) bool {
	if header == nil {
		return false
	}
	target, ok := CompactToTarget(header.Bits)
	if !ok {
		return false
	}
	hash := ComputeBlockHash(header)
	return !HashToNumber(hash).Gt(target)
}

// CheckPoW reports whether the block header meets its own target.
func CheckPoW(block *wire.MsgBlock) bool {
	if block == nil {
		return false
	}
	return CheckHeaderPoW(&block.Header)
}
