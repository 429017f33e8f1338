// Package zkvm defines the backend-independent proving interfaces: input
// builders, prover hosts and proof verifiers, together with the proof,
// verification key and aggregation types they exchange.
package zkvm

import (
	"bytes"
	"context"
)

// Proof is an opaque proof produced by a Host.
type Proof struct {
	data []byte
}

// NewProof wraps a copy of data.
func NewProof(data []byte) Proof {
	return Proof{data: bytes.Clone(data)}
}

// Bytes returns a copy of the encoded proof.
func (p Proof) Bytes() []byte {
	return bytes.Clone(p.data)
}

// Len returns the encoded proof size in bytes.
func (p Proof) Len() int {
	return len(p.data)
}

// IsEmpty reports whether the proof carries no data.
func (p Proof) IsEmpty() bool {
	return len(p.data) == 0
}

// VerificationKey identifies a guest program. It is immutable once created.
type VerificationKey struct {
	data []byte
}

// NewVerificationKey wraps a copy of data.
func NewVerificationKey(data []byte) VerificationKey {
	return VerificationKey{data: bytes.Clone(data)}
}

// Bytes returns a copy of the encoded key.
func (vk VerificationKey) Bytes() []byte {
	return bytes.Clone(vk.data)
}

// Equal reports whether both keys have the same encoding.
func (vk VerificationKey) Equal(other VerificationKey) bool {
	return bytes.Equal(vk.data, other.data)
}

// IsEmpty reports whether the key carries no data.
func (vk VerificationKey) IsEmpty() bool {
	return len(vk.data) == 0
}

// ProverOptions select how a Host proves.
type ProverOptions struct {
	// EnableCompression folds aggregated proofs into a constant-size proof.
	EnableCompression bool `json:"enable_compression"`
	// UseMockProver skips cryptographic proving.
	UseMockProver bool `json:"use_mock_prover"`
	// StarkToSnarkConversion wraps the proof into a Groth16 SNARK.
	StarkToSnarkConversion bool `json:"stark_to_snark_conversion"`
}

// DefaultProverOptions returns compression off, mock proving on and SNARK
// conversion off.
func DefaultProverOptions() ProverOptions {
	return ProverOptions{
		EnableCompression:      false,
		UseMockProver:          true,
		StarkToSnarkConversion: false,
	}
}

// AggregationInput is a proof and the key it verifies under, supplied to a
// guest that verifies it as part of its own execution.
type AggregationInput struct {
	proof Proof
	vk    VerificationKey
}

// NewAggregationInput pairs a proof with its verification key.
func NewAggregationInput(proof Proof, vk VerificationKey) AggregationInput {
	return AggregationInput{proof: proof, vk: vk}
}

// Proof returns the wrapped proof.
func (a AggregationInput) Proof() Proof {
	return a.proof
}

// VerificationKey returns the wrapped verification key.
func (a AggregationInput) VerificationKey() VerificationKey {
	return a.vk
}

// GuestInput is a finalized, backend-specific input. It is consumed by a
// single Prove call.
type GuestInput interface {
	// Items returns the number of values written into the input.
	Items() int
}

// InputBuilder accumulates typed values in the order the guest reads them.
// Every write returns the builder for chaining; the first failure sticks and
// is reported by Err and Build.
type InputBuilder interface {
	// Write appends v in the general-purpose structured encoding.
	Write(v any) InputBuilder
	// WriteCompact appends v in the position-based compact encoding.
	WriteCompact(v any) InputBuilder
	// WriteSerialized appends raw bytes verbatim.
	WriteSerialized(b []byte) InputBuilder
	// WriteProof appends a proof for the guest to verify.
	WriteProof(in AggregationInput) InputBuilder
	// Err returns the first write failure.
	Err() error
	// Build finalizes the input.
	Build() (GuestInput, error)
}

// Host proves executions of one guest program.
//
// Hosts are immutable and safe for concurrent use. Prove runs to completion
// once started; ctx is only consulted before execution begins.
type Host interface {
	// NewInputBuilder returns a builder whose inputs this host accepts.
	NewInputBuilder() InputBuilder
	// Prove executes the guest on input and returns its proof and the
	// program's verification key.
	Prove(ctx context.Context, input GuestInput) (Proof, VerificationKey, error)
	// VerificationKey returns the key of the guest program without proving.
	VerificationKey() VerificationKey
	// Options returns the options the host was created with.
	Options() ProverOptions
}

// Verifier checks proofs produced by a Host of the same backend.
type Verifier interface {
	// Verify checks that proof is valid for the program identified by vk.
	Verify(vk VerificationKey, proof Proof) error
	// VerifyWithPublicParams verifies proof and additionally requires its
	// public output to equal the canonical encoding of publicParams.
	VerifyWithPublicParams(vk VerificationKey, publicParams any, proof Proof) error
	// VerifyGroth16 checks a raw Groth16 proof for the program vk and the
	// raw public values.
	VerifyGroth16(proof, vk, publicParamsRaw []byte) error
	// ExtractPublicOutput decodes the committed public output of proof into
	// out without verifying it.
	ExtractPublicOutput(proof Proof, out any) error
}

// Backend creates hosts and verifiers of one proving system.
type Backend interface {
	// Name identifies the backend in configuration and logs.
	Name() string
	// NewHost prepares a host for guestCode. It performs no proving work.
	NewHost(guestCode []byte, opts ProverOptions) Host
	// Verifier returns the verifier matching the backend's hosts.
	Verifier() Verifier
}

// ExtractPublicOutput decodes the public output of proof into a T.
func ExtractPublicOutput[T any](v Verifier, proof Proof) (T, error) {
	var out T
	if err := v.ExtractPublicOutput(proof, &out); err != nil {
		return out, err
	}
	return out, nil
}
