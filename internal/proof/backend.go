package proof

import (
	"fmt"

	"strataprover/internal/guest"
	"strataprover/internal/zkvm"
	"strataprover/internal/zkvm/native"
	"strataprover/internal/zkvm/remote"
	"strataprover/pkg/config"

	"github.com/ethereum/go-ethereum/log"
)

// NewBackend builds the configured zkvm backend with the guest programs
// available to it.
func NewBackend(cfg *config.ProverConfig, logger log.Logger) (zkvm.Backend, error) {
	seed := []byte(cfg.Groth16Seed)
	if len(seed) == 0 {
		seed = native.DefaultGroth16Seed
	}

	switch cfg.Backend {
	case native.BackendName:
		registry := native.NewRegistry()
		if err := guest.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register guests: %w", err)
		}
		return native.NewBackend(native.Config{
			Registry:        registry,
			Groth16Seed:     seed,
			AllowMockProofs: cfg.UseMock,
			Logger:          logger,
		}), nil

	case remote.BackendName:
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("remote backend requires a URL")
		}
		// Proofs come back in the native format, sealed and wrapped under
		// the serving prover's seed.
		return remote.NewBackend(remote.Config{
			BaseURL:  cfg.RemoteURL,
			Timeout:  cfg.RemoteTimeout,
			Verifier: native.NewVerifierFromSeed(seed, cfg.UseMock),
			Logger:   logger,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported prover backend: %s", cfg.Backend)
	}
}

// ProverOptions maps the configuration onto backend options.
func ProverOptions(cfg *config.ProverConfig) zkvm.ProverOptions {
	return zkvm.ProverOptions{
		EnableCompression:      cfg.EnableCompression,
		UseMockProver:          cfg.UseMock,
		StarkToSnarkConversion: cfg.StarkToSnark,
	}
}
