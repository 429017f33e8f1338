package native

import (
	"fmt"
	"sync/atomic"

	"strataprover/internal/zkvm"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	json "github.com/goccy/go-json"
)

const inputVersion = 1

// ItemKind tags how an input item was encoded.
type ItemKind uint8

const (
	ItemStructured ItemKind = iota + 1
	ItemCompact
	ItemSerialized
	ItemProof
)

func (k ItemKind) String() string {
	switch k {
	case ItemStructured:
		return "structured"
	case ItemCompact:
		return "compact"
	case ItemSerialized:
		return "serialized"
	case ItemProof:
		return "proof"
	default:
		return fmt.Sprintf("item(%d)", uint8(k))
	}
}

type item struct {
	_               struct{} `cbor:",toarray"`
	Kind            ItemKind
	Data            []byte
	VerificationKey []byte
}

type inputWire struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	Items   []item
}

// Input is a finalized guest input. It can be proven once.
type Input struct {
	items    []item
	consumed atomic.Bool
}

var _ zkvm.GuestInput = (*Input)(nil)

// Items returns the number of written values.
func (in *Input) Items() int {
	return len(in.items)
}

// MarshalBinary encodes the input for transport to a remote prover.
func (in *Input) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(inputWire{Version: inputVersion, Items: in.items})
}

// Digest commits to the ordered input items.
func (in *Input) Digest() (chainhash.Hash, error) {
	data, err := in.MarshalBinary()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.DoubleHashH(data), nil
}

// UnmarshalInput decodes an input produced by MarshalBinary.
func UnmarshalInput(data []byte) (*Input, error) {
	var w inputWire
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, zkvm.NewError(zkvm.KindDecode, "unmarshal input", err)
	}
	if w.Version != inputVersion {
		return nil, zkvm.Errorf(zkvm.KindDecode, "unmarshal input", "unsupported input version %d", w.Version)
	}
	for i, it := range w.Items {
		if it.Kind < ItemStructured || it.Kind > ItemProof {
			return nil, zkvm.Errorf(zkvm.KindDecode, "unmarshal input", "item %d has unknown kind %d", i, it.Kind)
		}
	}
	return &Input{items: w.Items}, nil
}

// Consume marks the input as used by a proving run. It fails when the input
// was already consumed.
func (in *Input) Consume() error {
	if in.consumed.Swap(true) {
		return zkvm.Errorf(zkvm.KindSerialization, "prove", "guest input already consumed")
	}
	return nil
}

// InputBuilder appends items in guest read order.
type InputBuilder struct {
	items []item
	err   error
}

var _ zkvm.InputBuilder = (*InputBuilder)(nil)

// NewInputBuilder returns an empty builder.
func NewInputBuilder() *InputBuilder {
	return &InputBuilder{}
}

// Write appends v encoded as JSON.
func (b *InputBuilder) Write(v any) zkvm.InputBuilder {
	if b.err != nil {
		return b
	}
	data, err := json.Marshal(v)
	if err != nil {
		return b.fail("write", err)
	}
	b.items = append(b.items, item{Kind: ItemStructured, Data: data})
	return b
}

// WriteCompact appends v encoded as deterministic CBOR. Structs tagged
// `cbor:",toarray"` are encoded by field position.
func (b *InputBuilder) WriteCompact(v any) zkvm.InputBuilder {
	if b.err != nil {
		return b
	}
	data, err := encMode.Marshal(v)
	if err != nil {
		return b.fail("write compact", err)
	}
	b.items = append(b.items, item{Kind: ItemCompact, Data: data})
	return b
}

// WriteSerialized appends a copy of data.
func (b *InputBuilder) WriteSerialized(data []byte) zkvm.InputBuilder {
	if b.err != nil {
		return b
	}
	b.items = append(b.items, item{Kind: ItemSerialized, Data: append([]byte{}, data...)})
	return b
}

// WriteProof appends an aggregation input.
func (b *InputBuilder) WriteProof(in zkvm.AggregationInput) zkvm.InputBuilder {
	if b.err != nil {
		return b
	}
	if in.Proof().IsEmpty() {
		return b.fail("write proof", fmt.Errorf("empty proof"))
	}
	if in.VerificationKey().IsEmpty() {
		return b.fail("write proof", fmt.Errorf("empty verification key"))
	}
	b.items = append(b.items, item{
		Kind:            ItemProof,
		Data:            in.Proof().Bytes(),
		VerificationKey: in.VerificationKey().Bytes(),
	})
	return b
}

// Err returns the first write failure.
func (b *InputBuilder) Err() error {
	return b.err
}

// Build returns the input written so far.
func (b *InputBuilder) Build() (zkvm.GuestInput, error) {
	if b.err != nil {
		return nil, b.err
	}
	items := make([]item, len(b.items))
	copy(items, b.items)
	return &Input{items: items}, nil
}

func (b *InputBuilder) fail(op string, err error) *InputBuilder {
	b.err = zkvm.NewError(zkvm.KindSerialization, fmt.Sprintf("%s item %d", op, len(b.items)), err)
	return b
}
