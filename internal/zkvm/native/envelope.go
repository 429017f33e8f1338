package native

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/groth16"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const envelopeVersion = 1

// ProofKind is the flavour of a native proof.
type ProofKind uint8

const (
	ProofMock ProofKind = iota + 1
	ProofCore
	ProofCompressed
	ProofGroth16
)

func (k ProofKind) String() string {
	switch k {
	case ProofMock:
		return "mock"
	case ProofCore:
		return "core"
	case ProofCompressed:
		return "compressed"
	case ProofGroth16:
		return "groth16"
	default:
		return fmt.Sprintf("proof(%d)", uint8(k))
	}
}

// proofKindFor picks the proof flavour for a set of prover options.
func proofKindFor(opts zkvm.ProverOptions) ProofKind {
	switch {
	case opts.UseMockProver:
		return ProofMock
	case opts.StarkToSnarkConversion:
		return ProofGroth16
	case opts.EnableCompression:
		return ProofCompressed
	default:
		return ProofCore
	}
}

type embeddedProof struct {
	_               struct{} `cbor:",toarray"`
	Proof           []byte
	VerificationKey []byte
}

// envelope is the encoding of every native proof. Core proofs embed their
// aggregated children; compressed proofs keep only the child claims.
type envelope struct {
	_            struct{} `cbor:",toarray"`
	Version      uint8
	Kind         ProofKind
	Program      []byte
	PublicValues []byte
	InputDigest  []byte
	Children     []embeddedProof
	Claims       [][]byte
	Seal         []byte
}

func (e *envelope) marshal() ([]byte, error) {
	return encMode.Marshal(e)
}

func decodeEnvelope(proof zkvm.Proof) (*envelope, error) {
	if proof.IsEmpty() {
		return nil, zkvm.Errorf(zkvm.KindDecode, "decode proof", "empty proof")
	}
	var e envelope
	if err := decMode.Unmarshal(proof.Bytes(), &e); err != nil {
		return nil, zkvm.NewError(zkvm.KindDecode, "decode proof", err)
	}
	if e.Version != envelopeVersion {
		return nil, zkvm.Errorf(zkvm.KindDecode, "decode proof", "unsupported proof version %d", e.Version)
	}
	return &e, nil
}

// claimDigest commits to a program and the public values it produced.
func claimDigest(program, publicValues []byte) chainhash.Hash {
	pv := chainhash.DoubleHashH(publicValues)
	buf := make([]byte, 0, 16+len(program)+chainhash.HashSize)
	buf = append(buf, "native/claim"...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(program)))
	buf = append(buf, program...)
	buf = append(buf, pv[:]...)
	return chainhash.DoubleHashH(buf)
}

// SealKey derives the key that seals core and compressed proofs from the
// backend seed. Verifiers need the same seed as the prover.
func SealKey(seed []byte) []byte {
	mac := hmac.New(sha256.New, []byte("native/seal-key"))
	mac.Write(seed)
	return mac.Sum(nil)
}

// sealMAC binds the proof kind, the execution claim, the input and the
// claims of every aggregated child under key.
func sealMAC(key []byte, kind ProofKind, program, publicValues, inputDigest []byte, claims [][]byte) []byte {
	claim := claimDigest(program, publicValues)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("native/seal"))
	mac.Write([]byte{byte(kind)})
	mac.Write(claim[:])
	mac.Write(binary.BigEndian.AppendUint32(nil, uint32(len(inputDigest))))
	mac.Write(inputDigest)
	mac.Write(binary.BigEndian.AppendUint32(nil, uint32(len(claims))))
	for _, c := range claims {
		mac.Write(binary.BigEndian.AppendUint32(nil, uint32(len(c))))
		mac.Write(c)
	}
	return mac.Sum(nil)
}

// groth16Inputs maps a program key and its public values to the two public
// inputs of the wrapper circuit.
func groth16Inputs(program, publicValues []byte) []*big.Int {
	return []*big.Int{
		groth16.HashToField(program),
		groth16.HashToField(publicValues),
	}
}
