// Package remote is a zkvm backend that forwards proving to a prover
// service over HTTP. Inputs and proofs use the native backend encoding.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	json "github.com/goccy/go-json"
)

// BackendName identifies the remote backend in configuration.
const BackendName = "remote"

// ProvePath is the endpoint the prover service exposes.
const ProvePath = "/v1/zkvm/prove"

// ProveRequest is the body of a remote prove call.
type ProveRequest struct {
	GuestCode hexutil.Bytes      `json:"guest_code"`
	Options   zkvm.ProverOptions `json:"options"`
	Input     hexutil.Bytes      `json:"input"`
}

// ProveResponse carries the proof of a successful remote prove call.
type ProveResponse struct {
	Proof           hexutil.Bytes `json:"proof"`
	VerificationKey hexutil.Bytes `json:"verification_key"`
}

// ErrorResponse reports a failed remote prove call.
type ErrorResponse struct {
	Error string         `json:"error"`
	Kind  zkvm.ErrorKind `json:"kind"`
}

// Config for the remote backend
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	// Verifier checks every proof returned by the service before Prove
	// hands it out. Nil skips the check.
	Verifier zkvm.Verifier
	Logger   log.Logger
}

// Backend proves through a remote prover service.
type Backend struct {
	baseURL  string
	client   *http.Client
	verifier zkvm.Verifier
	logger   log.Logger
}

var _ zkvm.Backend = (*Backend)(nil)

// NewBackend creates a remote backend.
func NewBackend(config Config) *Backend {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Logger == nil {
		config.Logger = log.Root()
	}
	return &Backend{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		client:   config.HTTPClient,
		verifier: config.Verifier,
		logger:   config.Logger,
	}
}

func (b *Backend) Name() string {
	return BackendName
}

func (b *Backend) Verifier() zkvm.Verifier {
	return b.verifier
}

// NewHost returns a host that sends guestCode with every prove call.
func (b *Backend) NewHost(guestCode []byte, opts zkvm.ProverOptions) zkvm.Host {
	key := native.ProgramKey(guestCode)
	return &Host{
		backend: b,
		code:    append([]byte(nil), guestCode...),
		vk:      zkvm.NewVerificationKey(key[:]),
		opts:    opts,
	}
}

// Host proves one guest program remotely.
type Host struct {
	backend *Backend
	code    []byte
	vk      zkvm.VerificationKey
	opts    zkvm.ProverOptions
}

var _ zkvm.Host = (*Host)(nil)

func (h *Host) NewInputBuilder() zkvm.InputBuilder {
	return native.NewInputBuilder()
}

func (h *Host) VerificationKey() zkvm.VerificationKey {
	return h.vk
}

func (h *Host) Options() zkvm.ProverOptions {
	return h.opts
}

// Prove sends the input to the prover service and waits for the proof.
func (h *Host) Prove(ctx context.Context, input zkvm.GuestInput) (zkvm.Proof, zkvm.VerificationKey, error) {
	if err := ctx.Err(); err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.NewError(zkvm.KindGuestExecution, "remote prove", err)
	}

	in, ok := input.(*native.Input)
	if !ok || in == nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.Errorf(zkvm.KindSerialization, "remote prove", "unsupported guest input %T", input)
	}
	if err := in.Consume(); err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, err
	}

	encoded, err := in.MarshalBinary()
	if err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.NewError(zkvm.KindSerialization, "remote prove", err)
	}
	body, err := json.Marshal(ProveRequest{GuestCode: h.code, Options: h.opts, Input: encoded})
	if err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.NewError(zkvm.KindSerialization, "remote prove", err)
	}

	start := time.Now()
	resp, err := h.post(ctx, body)
	if err != nil {
		return zkvm.Proof{}, zkvm.VerificationKey{}, err
	}

	vk := zkvm.NewVerificationKey(resp.VerificationKey)
	if !vk.Equal(h.vk) {
		return zkvm.Proof{}, zkvm.VerificationKey{}, zkvm.Errorf(zkvm.KindVerification, "remote prove", "service returned key %x, expected %x", vk.Bytes(), h.vk.Bytes())
	}

	proof := zkvm.NewProof(resp.Proof)
	if h.backend.verifier != nil {
		if err := h.backend.verifier.Verify(vk, proof); err != nil {
			return zkvm.Proof{}, zkvm.VerificationKey{}, fmt.Errorf("remote proof rejected: %w", err)
		}
	}

	h.backend.logger.Debug("Remote proof received", "url", h.backend.baseURL, "size", len(resp.Proof), "elapsed", time.Since(start))
	return proof, vk, nil
}

func (h *Host) post(ctx context.Context, body []byte) (*ProveResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.backend.baseURL+ProvePath, bytes.NewReader(body))
	if err != nil {
		return nil, zkvm.NewError(zkvm.KindGuestExecution, "remote prove", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := h.backend.client.Do(req)
	if err != nil {
		return nil, zkvm.NewError(zkvm.KindGuestExecution, "remote prove", fmt.Errorf("failed to reach prover: %w", err))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, zkvm.NewError(zkvm.KindGuestExecution, "remote prove", fmt.Errorf("failed to read response: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(data, &errResp); err != nil || errResp.Kind == 0 {
			return nil, zkvm.Errorf(zkvm.KindGuestExecution, "remote prove", "prover returned status %d", httpResp.StatusCode)
		}
		return nil, zkvm.Errorf(errResp.Kind, "remote prove", "%s", errResp.Error)
	}

	var resp ProveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, zkvm.NewError(zkvm.KindDecode, "remote prove", err)
	}
	return &resp, nil
}
