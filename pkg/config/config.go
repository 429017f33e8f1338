package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Bitcoin BitcoinConfig
	Prover  ProverConfig
	Watcher WatcherConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port string
}

type BitcoinConfig struct {
	RPCHost     string
	RPCPort     int
	RPCUser     string
	RPCPassword string
	Network     string // mainnet, testnet, signet, regtest
}

type ProverConfig struct {
	Backend           string // native, remote
	RemoteURL         string
	RemoteTimeout     time.Duration
	UseMock           bool
	EnableCompression bool
	StarkToSnark      bool
	Workers           int
	MaxRetries        int
	RetryDelay        time.Duration
	Groth16Seed       string
	DataDir           string
}

type WatcherConfig struct {
	Enabled       bool
	PollInterval  time.Duration
	Confirmations int64
	StartHeight   int64 // negative starts at the tip
}

type LogConfig struct {
	Level string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Bitcoin: BitcoinConfig{
			RPCHost:     getEnv("BITCOIN_RPC_HOST", "localhost"),
			RPCPort:     getEnvInt("BITCOIN_RPC_PORT", 18443), // regtest default
			RPCUser:     getEnv("BITCOIN_RPC_USER", ""),
			RPCPassword: getEnv("BITCOIN_RPC_PASSWORD", ""),
			Network:     getEnv("BITCOIN_NETWORK", "regtest"),
		},
		Prover: ProverConfig{
			Backend:           getEnv("PROVER_BACKEND", "native"),
			RemoteURL:         getEnv("PROVER_REMOTE_URL", ""),
			RemoteTimeout:     getEnvDuration("PROVER_REMOTE_TIMEOUT", 10*time.Minute),
			UseMock:           getEnvBool("PROVER_USE_MOCK", true),
			EnableCompression: getEnvBool("PROVER_ENABLE_COMPRESSION", false),
			StarkToSnark:      getEnvBool("PROVER_STARK_TO_SNARK", false),
			Workers:           getEnvInt("PROVER_WORKERS", 4),
			MaxRetries:        getEnvInt("PROVER_MAX_RETRIES", 2),
			RetryDelay:        getEnvDuration("PROVER_RETRY_DELAY", time.Second),
			Groth16Seed:       getEnv("PROVER_GROTH16_SEED", ""),
			DataDir:           getEnv("PROVER_DATA_DIR", "./data"),
		},
		Watcher: WatcherConfig{
			Enabled:       getEnvBool("WATCHER_ENABLED", false),
			PollInterval:  getEnvDuration("WATCHER_POLL_INTERVAL", 30*time.Second),
			Confirmations: getEnvInt64("WATCHER_CONFIRMATIONS", 1),
			StartHeight:   getEnvInt64("WATCHER_START_HEIGHT", -1),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}
}

// Validate rejects configurations the prover cannot start with.
func (c *Config) Validate() error {
	switch c.Bitcoin.Network {
	case "mainnet", "testnet", "signet", "regtest":
	default:
		return fmt.Errorf("unsupported bitcoin network: %s", c.Bitcoin.Network)
	}

	switch c.Prover.Backend {
	case "native":
	case "remote":
		if c.Prover.RemoteURL == "" {
			return fmt.Errorf("PROVER_REMOTE_URL is required for the remote backend")
		}
	default:
		return fmt.Errorf("unsupported prover backend: %s", c.Prover.Backend)
	}

	if c.Prover.Workers <= 0 {
		return fmt.Errorf("prover workers must be positive, got %d", c.Prover.Workers)
	}
	if c.Prover.MaxRetries < 0 {
		return fmt.Errorf("prover retries must not be negative, got %d", c.Prover.MaxRetries)
	}
	if c.Watcher.Enabled && c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher poll interval must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "crit":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Log.Level)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
