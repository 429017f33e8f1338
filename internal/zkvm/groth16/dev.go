package groth16

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	bn256 "github.com/ethereum/go-ethereum/crypto/bn256/cloudflare"
)

// DevSetup is a setup whose trapdoor is derived from a seed. Anyone holding
// the seed can produce a valid proof for any public inputs, so it is only
// suitable for development networks.
type DevSetup struct {
	seed  []byte
	alpha *big.Int
	beta  *big.Int
	gamma *big.Int
	delta *big.Int
	ic    []*big.Int
	vk    *VerifyingKey
}

// NewDevSetup derives a setup for the given number of public inputs.
func NewDevSetup(seed []byte, publicInputs int) *DevSetup {
	s := &DevSetup{
		seed:  append([]byte(nil), seed...),
		alpha: deriveScalar(seed, "alpha"),
		beta:  deriveScalar(seed, "beta"),
		gamma: deriveScalar(seed, "gamma"),
		delta: deriveScalar(seed, "delta"),
		ic:    make([]*big.Int, publicInputs+1),
	}
	for i := range s.ic {
		s.ic[i] = deriveScalar(seed, fmt.Sprintf("ic/%d", i))
	}

	s.vk = &VerifyingKey{
		Alpha: new(bn256.G1).ScalarBaseMult(s.alpha),
		Beta:  new(bn256.G2).ScalarBaseMult(s.beta),
		Gamma: new(bn256.G2).ScalarBaseMult(s.gamma),
		Delta: new(bn256.G2).ScalarBaseMult(s.delta),
		IC:    make([]*bn256.G1, len(s.ic)),
	}
	for i, k := range s.ic {
		s.vk.IC[i] = new(bn256.G1).ScalarBaseMult(k)
	}
	return s
}

// VerifyingKey returns the public half of the setup.
func (s *DevSetup) VerifyingKey() *VerifyingKey {
	return s.vk
}

// Prove returns a proof for inputs. The same inputs always yield the same
// proof.
func (s *DevSetup) Prove(inputs []*big.Int) (*Proof, error) {
	if len(inputs)+1 != len(s.ic) {
		return nil, fmt.Errorf("%w: got %d, setup expects %d", ErrInputCount, len(inputs), len(s.ic)-1)
	}

	r := bn256.Order
	transcript := make([]byte, 0, 32*len(inputs))
	x := new(big.Int).Set(s.ic[0])
	for i, in := range inputs {
		if in.Sign() < 0 || in.Cmp(r) >= 0 {
			return nil, fmt.Errorf("groth16: public input %d outside the scalar field", i)
		}
		x.Add(x, new(big.Int).Mul(in, s.ic[i+1]))
		transcript = append(transcript, in.FillBytes(make([]byte, 32))...)
	}
	x.Mod(x, r)

	material := make([]byte, 0, len(s.seed)+len(transcript))
	material = append(material, s.seed...)
	material = append(material, transcript...)
	a := deriveScalar(material, "a")
	b := deriveScalar(material, "b")

	// c = (a*b - alpha*beta - gamma*x) / delta
	c := new(big.Int).Mul(a, b)
	c.Sub(c, new(big.Int).Mul(s.alpha, s.beta))
	c.Sub(c, new(big.Int).Mul(s.gamma, x))
	c.Mod(c, r)
	c.Mul(c, new(big.Int).ModInverse(s.delta, r))
	c.Mod(c, r)

	return &Proof{
		A: new(bn256.G1).ScalarBaseMult(a),
		B: new(bn256.G2).ScalarBaseMult(b),
		C: new(bn256.G1).ScalarBaseMult(c),
	}, nil
}

// deriveScalar returns a non-zero scalar from SHA-256(seed || label).
func deriveScalar(seed []byte, label string) *big.Int {
	h := sha256.New()
	h.Write(seed)
	h.Write([]byte(label))
	k := new(big.Int).SetBytes(h.Sum(nil))

	n := new(big.Int).Sub(bn256.Order, big.NewInt(1))
	k.Mod(k, n)
	return k.Add(k, big.NewInt(1))
}
