package native

import (
	"fmt"

	"strataprover/internal/zkvm"

	json "github.com/goccy/go-json"
)

// Env is the guest side of a proving run. Reads consume input items in the
// order they were written. A guest commits its public values once.
type Env struct {
	items        []item
	pos          int
	verifier     *Verifier
	publicValues []byte
	committed    bool
	children     []childClaim
}

// Aggregated is a verified proof read from the input.
type Aggregated struct {
	VerificationKey zkvm.VerificationKey
	PublicValues    []byte
}

// Decode decodes the public values of the aggregated proof into out.
func (a *Aggregated) Decode(out any) error {
	if err := DecodePublicValues(a.PublicValues, out); err != nil {
		return zkvm.NewError(zkvm.KindDecode, "decode aggregated output", err)
	}
	return nil
}

type childClaim struct {
	input        zkvm.AggregationInput
	publicValues []byte
}

func newEnv(items []item, verifier *Verifier) *Env {
	return &Env{items: items, verifier: verifier}
}

// Remaining returns the number of unread items.
func (e *Env) Remaining() int {
	return len(e.items) - e.pos
}

func (e *Env) next(kind ItemKind) (item, error) {
	if e.pos >= len(e.items) {
		return item{}, zkvm.Errorf(zkvm.KindDecode, "read", "input exhausted after %d items", len(e.items))
	}
	it := e.items[e.pos]
	if it.Kind != kind {
		return item{}, zkvm.Errorf(zkvm.KindDecode, "read", "item %d is %s, not %s", e.pos, it.Kind, kind)
	}
	e.pos++
	return it, nil
}

// Read decodes the next item, written with Write, into v.
func (e *Env) Read(v any) error {
	it, err := e.next(ItemStructured)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(it.Data, v); err != nil {
		return zkvm.NewError(zkvm.KindDecode, fmt.Sprintf("read item %d", e.pos-1), err)
	}
	return nil
}

// ReadCompact decodes the next item, written with WriteCompact, into v.
func (e *Env) ReadCompact(v any) error {
	it, err := e.next(ItemCompact)
	if err != nil {
		return err
	}
	if err := decMode.Unmarshal(it.Data, v); err != nil {
		return zkvm.NewError(zkvm.KindDecode, fmt.Sprintf("read compact item %d", e.pos-1), err)
	}
	return nil
}

// ReadSerialized returns the next item written with WriteSerialized.
func (e *Env) ReadSerialized() ([]byte, error) {
	it, err := e.next(ItemSerialized)
	if err != nil {
		return nil, err
	}
	return it.Data, nil
}

// ReadAggregation verifies the next proof written with WriteProof and
// returns its key and public values. The proof becomes part of the claim
// of the running guest.
func (e *Env) ReadAggregation() (*Aggregated, error) {
	it, err := e.next(ItemProof)
	if err != nil {
		return nil, err
	}

	proof := zkvm.NewProof(it.Data)
	vk := zkvm.NewVerificationKey(it.VerificationKey)
	if err := e.verifier.Verify(vk, proof); err != nil {
		return nil, fmt.Errorf("aggregated proof %d: %w", e.pos-1, err)
	}

	env, err := decodeEnvelope(proof)
	if err != nil {
		return nil, err
	}

	e.children = append(e.children, childClaim{
		input:        zkvm.NewAggregationInput(proof, vk),
		publicValues: env.PublicValues,
	})
	return &Aggregated{VerificationKey: vk, PublicValues: env.PublicValues}, nil
}

// Commit sets the public values to the canonical encoding of v. A second
// commit fails.
func (e *Env) Commit(v any) error {
	if e.committed {
		return zkvm.Errorf(zkvm.KindGuestExecution, "commit", "public values already committed")
	}
	data, err := EncodePublicValues(v)
	if err != nil {
		return zkvm.NewError(zkvm.KindSerialization, "commit", err)
	}
	e.publicValues = data
	e.committed = true
	return nil
}
