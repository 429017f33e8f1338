package native

import (
	"bytes"
	"crypto/hmac"
	"fmt"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/groth16"
)

// maxAggregationDepth bounds recursion into embedded child proofs.
const maxAggregationDepth = 16

// Verifier checks native proofs.
type Verifier struct {
	groth16VK *groth16.VerifyingKey
	sealKey   []byte
	allowMock bool
}

var _ zkvm.Verifier = (*Verifier)(nil)

// NewVerifier returns a verifier for Groth16 proofs under vk and for core
// and compressed proofs sealed with sealKey. Mock proofs are accepted only
// when allowMock is set.
func NewVerifier(vk *groth16.VerifyingKey, sealKey []byte, allowMock bool) *Verifier {
	return &Verifier{groth16VK: vk, sealKey: append([]byte(nil), sealKey...), allowMock: allowMock}
}

// NewVerifierFromSeed returns a verifier for proofs of a native backend
// configured with seed.
func NewVerifierFromSeed(seed []byte, allowMock bool) *Verifier {
	if len(seed) == 0 {
		seed = DefaultGroth16Seed
	}
	return NewVerifier(groth16.NewDevSetup(seed, 2).VerifyingKey(), SealKey(seed), allowMock)
}

// Verify checks proof against the program key vk.
func (v *Verifier) Verify(vk zkvm.VerificationKey, proof zkvm.Proof) error {
	env, err := decodeEnvelope(proof)
	if err != nil {
		return err
	}
	if !bytes.Equal(env.Program, vk.Bytes()) {
		return zkvm.Errorf(zkvm.KindVerification, "verify", "proof is for program %x, not %x", env.Program, vk.Bytes())
	}
	return v.verifyEnvelope(env, 0)
}

func (v *Verifier) verifyEnvelope(env *envelope, depth int) error {
	switch env.Kind {
	case ProofMock:
		if !v.allowMock {
			return zkvm.Errorf(zkvm.KindVerification, "verify", "mock proofs are not accepted")
		}
		return nil

	case ProofCore:
		if depth >= maxAggregationDepth {
			return zkvm.Errorf(zkvm.KindVerification, "verify", "aggregation deeper than %d", maxAggregationDepth)
		}
		claims := make([][]byte, len(env.Children))
		for i, child := range env.Children {
			childEnv, err := decodeEnvelope(zkvm.NewProof(child.Proof))
			if err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
			if !bytes.Equal(childEnv.Program, child.VerificationKey) {
				return zkvm.Errorf(zkvm.KindVerification, "verify", "child %d verification key mismatch", i)
			}
			if err := v.verifyEnvelope(childEnv, depth+1); err != nil {
				return fmt.Errorf("child %d: %w", i, err)
			}
			claim := claimDigest(childEnv.Program, childEnv.PublicValues)
			claims[i] = claim[:]
		}
		return v.checkSeal(env, claims)

	case ProofCompressed:
		return v.checkSeal(env, env.Claims)

	case ProofGroth16:
		return v.VerifyGroth16(env.Seal, env.Program, env.PublicValues)

	default:
		return zkvm.Errorf(zkvm.KindDecode, "verify", "unknown proof kind %d", env.Kind)
	}
}

func (v *Verifier) checkSeal(env *envelope, claims [][]byte) error {
	if len(v.sealKey) == 0 {
		return zkvm.Errorf(zkvm.KindVerification, "verify", "no seal key configured")
	}
	want := sealMAC(v.sealKey, env.Kind, env.Program, env.PublicValues, env.InputDigest, claims)
	if !hmac.Equal(want, env.Seal) {
		return zkvm.Errorf(zkvm.KindVerification, "verify", "%s seal mismatch", env.Kind)
	}
	return nil
}

// VerifyWithPublicParams verifies proof and requires its public values to
// equal the canonical encoding of publicParams.
func (v *Verifier) VerifyWithPublicParams(vk zkvm.VerificationKey, publicParams any, proof zkvm.Proof) error {
	if err := v.Verify(vk, proof); err != nil {
		return err
	}

	expected, err := EncodePublicValues(publicParams)
	if err != nil {
		return zkvm.NewError(zkvm.KindSerialization, "verify public params", err)
	}

	env, err := decodeEnvelope(proof)
	if err != nil {
		return err
	}
	if !bytes.Equal(expected, env.PublicValues) {
		return zkvm.Errorf(zkvm.KindVerification, "verify public params", "public parameters do not match the proof")
	}
	return nil
}

// VerifyGroth16 checks a raw Groth16 proof for program key vk and raw
// public values.
func (v *Verifier) VerifyGroth16(proof, vk, publicParamsRaw []byte) error {
	if v.groth16VK == nil {
		return zkvm.Errorf(zkvm.KindVerification, "verify groth16", "no verifying key configured")
	}
	p, err := groth16.UnmarshalProof(proof)
	if err != nil {
		return zkvm.NewError(zkvm.KindDecode, "verify groth16", err)
	}
	if err := groth16.Verify(v.groth16VK, p, groth16Inputs(vk, publicParamsRaw)); err != nil {
		return zkvm.NewError(zkvm.KindVerification, "verify groth16", err)
	}
	return nil
}

// ExtractPublicOutput decodes the public values of proof into out without
// verifying the proof.
func (v *Verifier) ExtractPublicOutput(proof zkvm.Proof, out any) error {
	env, err := decodeEnvelope(proof)
	if err != nil {
		return err
	}
	if err := DecodePublicValues(env.PublicValues, out); err != nil {
		return zkvm.NewError(zkvm.KindDecode, "extract public output", err)
	}
	return nil
}

// PublicValues returns the raw public values committed in proof.
func PublicValues(proof zkvm.Proof) ([]byte, error) {
	env, err := decodeEnvelope(proof)
	if err != nil {
		return nil, err
	}
	return env.PublicValues, nil
}
