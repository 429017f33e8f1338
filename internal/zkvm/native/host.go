package native

import (
	"context"
	"fmt"
	"time"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/groth16"

	"github.com/ethereum/go-ethereum/log"
)

// BackendName identifies the native backend in configuration.
const BackendName = "native"

// DefaultGroth16Seed seeds the development Groth16 setup and the seal key
// when none is configured. It is public, so proofs under it prove nothing
// outside development.
var DefaultGroth16Seed = []byte("strataprover/native/groth16-dev")

// Config for the native backend
type Config struct {
	Registry *Registry
	// Groth16Seed derives the development wrapper setup and the key that
	// seals core and compressed proofs. It must stay secret.
	Groth16Seed []byte
	// AllowMockProofs makes the backend verifier accept mock proofs.
	AllowMockProofs bool
	Logger          log.Logger
}

// Backend runs registered guests in process.
type Backend struct {
	registry *Registry
	wrapper  *groth16.DevSetup
	sealKey  []byte
	verifier *Verifier
	logger   log.Logger
}

var _ zkvm.Backend = (*Backend)(nil)

// NewBackend creates a native backend.
func NewBackend(config Config) *Backend {
	if config.Registry == nil {
		config.Registry = NewRegistry()
	}
	if len(config.Groth16Seed) == 0 {
		config.Groth16Seed = DefaultGroth16Seed
	}
	if config.Logger == nil {
		config.Logger = log.Root()
	}

	wrapper := groth16.NewDevSetup(config.Groth16Seed, 2)
	sealKey := SealKey(config.Groth16Seed)
	return &Backend{
		registry: config.Registry,
		wrapper:  wrapper,
		sealKey:  sealKey,
		verifier: NewVerifier(wrapper.VerifyingKey(), sealKey, config.AllowMockProofs),
		logger:   config.Logger,
	}
}

func (b *Backend) Name() string {
	return BackendName
}

// Registry returns the programs the backend can prove.
func (b *Backend) Registry() *Registry {
	return b.registry
}

// Verifier returns the backend verifier.
func (b *Backend) Verifier() zkvm.Verifier {
	return b.verifier
}

// Groth16VerifyingKey returns the wrapper verifying key.
func (b *Backend) Groth16VerifyingKey() *groth16.VerifyingKey {
	return b.wrapper.VerifyingKey()
}

// NewHost returns a host for guestCode. Lookup of the guest logic happens
// when proving.
func (b *Backend) NewHost(guestCode []byte, opts zkvm.ProverOptions) zkvm.Host {
	key := ProgramKey(guestCode)
	return &Host{
		backend:  b,
		vk:       zkvm.NewVerificationKey(key[:]),
		opts:     opts,
		children: NewVerifier(b.wrapper.VerifyingKey(), b.sealKey, opts.UseMockProver),
	}
}

// Host proves one guest program.
type Host struct {
	backend  *Backend
	vk       zkvm.VerificationKey
	opts     zkvm.ProverOptions
	children *Verifier
}

var _ zkvm.Host = (*Host)(nil)

func (h *Host) NewInputBuilder() zkvm.InputBuilder {
	return NewInputBuilder()
}

func (h *Host) VerificationKey() zkvm.VerificationKey {
	return h.vk
}

func (h *Host) Options() zkvm.ProverOptions {
	return h.opts
}

// Prove executes the guest and seals its public values.
func (h *Host) Prove(ctx context.Context, input zkvm.GuestInput) (zkvm.Proof, zkvm.VerificationKey, error) {
	if err := ctx.Err(); err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.NewError(zkvm.KindGuestExecution, "prove", err)
	}

	in, ok := input.(*Input)
	if !ok || in == nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.Errorf(zkvm.KindSerialization, "prove", "unsupported guest input %T", input)
	}
	if err := in.Consume(); err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, err
	}

	prog, ok := h.backend.registry.lookup(h.vk)
	if !ok {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.Errorf(zkvm.KindGuestExecution, "prove", "no guest registered for program %x", h.vk.Bytes())
	}

	start := time.Now()
	env := newEnv(in.items, h.children)
	if err := runGuest(prog.run, env); err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.NewError(zkvm.KindGuestExecution, "prove "+prog.name, err)
	}

	digest, err := in.Digest()
	if err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.NewError(zkvm.KindSerialization, "prove", err)
	}

	kind := proofKindFor(h.opts)
	proof, err := h.seal(kind, env, digest[:])
	if err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, err
	}

	h.backend.logger.Debug("Proved guest", "program", prog.name, "kind", kind,
		"items", in.Items(), "children", len(env.children), "size", proof.Len(),
		"elapsed", time.Since(start))

	return proof, h.vk, nil
}

func (h *Host) seal(kind ProofKind, env *Env, inputDigest []byte) (zkvm.Proof, error) {
	program := h.vk.Bytes()
	e := &envelope{
		Version:      envelopeVersion,
		Kind:         kind,
		Program:      program,
		PublicValues: env.publicValues,
		InputDigest:  inputDigest,
	}

	claims := make([][]byte, len(env.children))
	for i, child := range env.children {
		claim := claimDigest(child.input.VerificationKey().Bytes(), child.publicValues)
		claims[i] = claim[:]
	}

	switch kind {
	case ProofMock:
	case ProofCore:
		for _, child := range env.children {
			e.Children = append(e.Children, embeddedProof{
				Proof:           child.input.Proof().Bytes(),
				VerificationKey: child.input.VerificationKey().Bytes(),
			})
		}
		e.Seal = sealMAC(h.backend.sealKey, kind, program, e.PublicValues, inputDigest, claims)
	case ProofCompressed:
		e.Claims = claims
		e.Seal = sealMAC(h.backend.sealKey, kind, program, e.PublicValues, inputDigest, claims)
	case ProofGroth16:
		p, err := h.backend.wrapper.Prove(groth16Inputs(program, e.PublicValues))
		if err != nil {
			return zkvm.Proof{}, zkvm.NewError(zkvm.KindGuestExecution, "wrap groth16", err)
		}
		e.Seal = p.Marshal()
	}

	data, err := e.marshal()
	if err != nil {
		return zkvm.Proof{}, zkvm.NewError(zkvm.KindSerialization, "encode proof", err)
	}
	return zkvm.NewProof(data), nil
}

func runGuest(run GuestFunc, env *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("guest panicked: %v", r)
		}
	}()
	return run(env)
}
