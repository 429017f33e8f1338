// Package groth16 verifies Groth16 proofs over BN254 and provides a
// deterministic development setup able to produce them.
package groth16

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

const (
	g1Size = 64
	g2Size = 128

	// ProofSize is the encoded size of A || B || C.
	ProofSize = 2*g1Size + g2Size

	vkHeaderSize = g1Size + 3*g2Size + 4
)

var (
	// ErrInvalidProof reports a failed pairing check.
	ErrInvalidProof = errors.New("groth16: invalid proof")

	// ErrInputCount reports a public input count the key does not accept.
	ErrInputCount = errors.New("groth16: wrong number of public inputs")
)

// VerifyingKey is a Groth16 verifying key. IC holds one point per public
// input plus the constant term.
type VerifyingKey struct {
	Alpha *bn256.G1
	Beta  *bn256.G2
	Gamma *bn256.G2
	Delta *bn256.G2
	IC    []*bn256.G1
}

// Proof is a Groth16 proof.
type Proof struct {
	A *bn256.G1
	B *bn256.G2
	C *bn256.G1
}

// Marshal encodes alpha, beta, gamma, delta, a big-endian IC count and the
// IC points.
func (vk *VerifyingKey) Marshal() []byte {
	out := make([]byte, 0, vkHeaderSize+len(vk.IC)*g1Size)
	out = append(out, vk.Alpha.Marshal()...)
	out = append(out, vk.Beta.Marshal()...)
	out = append(out, vk.Gamma.Marshal()...)
	out = append(out, vk.Delta.Marshal()...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(vk.IC)))
	for _, p := range vk.IC {
		out = append(out, p.Marshal()...)
	}
	return out
}

// UnmarshalVerifyingKey decodes a key produced by Marshal.
func UnmarshalVerifyingKey(data []byte) (*VerifyingKey, error) {
	if len(data) < vkHeaderSize {
		return nil, fmt.Errorf("groth16: verifying key too short: %d bytes", len(data))
	}

	vk := &VerifyingKey{
		Alpha: new(bn256.G1),
		Beta:  new(bn256.G2),
		Gamma: new(bn256.G2),
		Delta: new(bn256.G2),
	}

	rest, err := vk.Alpha.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("groth16: alpha: %w", err)
	}
	if rest, err = vk.Beta.Unmarshal(rest); err != nil {
		return nil, fmt.Errorf("groth16: beta: %w", err)
	}
	if rest, err = vk.Gamma.Unmarshal(rest); err != nil {
		return nil, fmt.Errorf("groth16: gamma: %w", err)
	}
	if rest, err = vk.Delta.Unmarshal(rest); err != nil {
		return nil, fmt.Errorf("groth16: delta: %w", err)
	}

	count := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) != uint64(count)*g1Size {
		return nil, fmt.Errorf("groth16: expected %d IC points, got %d bytes", count, len(rest))
	}

	vk.IC = make([]*bn256.G1, count)
	for i := range vk.IC {
		vk.IC[i] = new(bn256.G1)
		if rest, err = vk.IC[i].Unmarshal(rest); err != nil {
			return nil, fmt.Errorf("groth16: IC[%d]: %w", i, err)
		}
	}
	return vk, nil
}

// Marshal encodes A || B || C.
func (p *Proof) Marshal() []byte {
	out := make([]byte, 0, ProofSize)
	out = append(out, p.A.Marshal()...)
	out = append(out, p.B.Marshal()...)
	out = append(out, p.C.Marshal()...)
	return out
}

// UnmarshalProof decodes a proof produced by Marshal.
func UnmarshalProof(data []byte) (*Proof, error) {
	if len(data) != ProofSize {
		return nil, fmt.Errorf("groth16: proof must be %d bytes, got %d", ProofSize, len(data))
	}

	p := &Proof{A: new(bn256.G1), B: new(bn256.G2), C: new(bn256.G1)}
	rest, err := p.A.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("groth16: A: %w", err)
	}
	if rest, err = p.B.Unmarshal(rest); err != nil {
		return nil, fmt.Errorf("groth16: B: %w", err)
	}
	if _, err = p.C.Unmarshal(rest); err != nil {
		return nil, fmt.Errorf("groth16: C: %w", err)
	}
	return p, nil
}

// Verify checks e(A, B) = e(alpha, beta) * e(vk_x, gamma) * e(C, delta)
// where vk_x = IC[0] + sum(inputs[i] * IC[i+1]).
func Verify(vk *VerifyingKey, proof *Proof, inputs []*big.Int) error {
	if vk == nil || proof == nil {
		return ErrInvalidProof
	}
	if len(inputs)+1 != len(vk.IC) {
		return fmt.Errorf("%w: got %d, key expects %d", ErrInputCount, len(inputs), len(vk.IC)-1)
	}

	vkx := new(bn256.G1).Set(vk.IC[0])
	for i, in := range inputs {
		if in.Sign() < 0 || in.Cmp(bn256.Order) >= 0 {
			return fmt.Errorf("groth16: public input %d outside the scalar field", i)
		}
		term := new(bn256.G1).ScalarMult(vk.IC[i+1], in)
		vkx.Add(vkx, term)
	}

	negA := new(bn256.G1).Neg(proof.A)
	ok := bn256.PairingCheck(
		[]*bn256.G1{negA, vk.Alpha, vkx, proof.C},
		[]*bn256.G2{proof.B, vk.Beta, vk.Gamma, vk.Delta},
	)
	if !ok {
		return ErrInvalidProof
	}
	return nil
}

// HashToField maps data to a scalar below 2^253 by clearing the top three
// bits of its SHA-256 digest.
func HashToField(data []byte) *big.Int {
	digest := sha256.Sum256(data)
	digest[0] &= 0x1f
	return new(big.Int).SetBytes(digest[:])
}
