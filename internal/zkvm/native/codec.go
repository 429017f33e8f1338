// Package native is a zkvm backend that executes registered Go guest
// programs in process and seals their results into proof envelopes.
//
// Guest code images are resolved to guest logic through a Registry keyed by
// the image's verification key. Mock proofs carry no seal, core and
// compressed proofs carry a digest over the execution claim, and Groth16
// proofs wrap the claim in a BN254 proof from a development setup.
package native

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodePublicValues returns the canonical encoding guests commit with.
// Verifiers compare expected public parameters against it byte for byte.
func EncodePublicValues(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// DecodePublicValues decodes committed public values into out.
func DecodePublicValues(data []byte, out any) error {
	return decMode.Unmarshal(data, out)
}

// ProgramKey returns the verification key of a guest code image.
func ProgramKey(image []byte) chainhash.Hash {
	return chainhash.DoubleHashH(image)
}
