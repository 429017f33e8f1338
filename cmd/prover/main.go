package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"strataprover/internal/api"
	"strataprover/internal/bitcoin"
	"strataprover/internal/proof"
	"strataprover/pkg/config"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Crit("Invalid configuration", "err", err)
	}
	setupLogging(cfg.Log.Level)

	log.Info("Starting strataprover", "backend", cfg.Prover.Backend, "network", cfg.Bitcoin.Network)

	backend, err := proof.NewBackend(&cfg.Prover, log.New("component", "zkvm"))
	if err != nil {
		log.Error("Failed to create prover backend", "err", err)
		return 1
	}

	store, err := proof.OpenStore(cfg.Prover.DataDir)
	if err != nil {
		log.Error("Failed to open task store", "dir", cfg.Prover.DataDir, "err", err)
		return 1
	}
	defer store.Close()

	if n, err := store.FailUnfinished("interrupted by restart"); err != nil {
		log.Error("Failed to recover task store", "err", err)
		return 1
	} else if n > 0 {
		log.Warn("Marked interrupted tasks as failed", "count", n)
	}

	btcClient, err := bitcoin.NewClient(cfg.Bitcoin.RPCHost, cfg.Bitcoin.RPCPort, cfg.Bitcoin.RPCUser, cfg.Bitcoin.RPCPassword, cfg.Bitcoin.Network)
	if err != nil {
		log.Error("Failed to create bitcoin client", "err", err)
		return 1
	}
	defer btcClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := btcClient.Ping(pingCtx); err != nil {
		log.Warn("Bitcoin node not reachable, proving requests will fail until it is", "err", err)
	} else {
		log.Info("Connected to bitcoin node", "host", cfg.Bitcoin.RPCHost, "port", cfg.Bitcoin.RPCPort)
	}
	cancel()

	service, err := proof.NewService(proof.ServiceConfig{
		Backend:    backend,
		Source:     btcClient,
		Store:      store,
		Options:    proof.ProverOptions(&cfg.Prover),
		Workers:    cfg.Prover.Workers,
		MaxRetries: cfg.Prover.MaxRetries,
		RetryDelay: cfg.Prover.RetryDelay,
		Logger:     log.New("component", "prover"),
	})
	if err != nil {
		log.Error("Failed to start prover service", "err", err)
		return 1
	}
	defer service.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsManager := api.NewWebSocketManager(log.New("component", "websocket"))
	wsManager.Start(ctx)

	server := api.NewAPIServer(api.Config{
		Prover:    service,
		Backend:   backend,
		Source:    btcClient,
		WebSocket: wsManager,
		RateLimit: 100,
		Logger:    log.New("component", "api"),
	})
	defer server.Close()

	if cfg.Watcher.Enabled {
		watcher := bitcoin.NewWatcher(btcClient, bitcoin.WatcherConfig{
			PollInterval:  cfg.Watcher.PollInterval,
			Confirmations: cfg.Watcher.Confirmations,
			StartHeight:   cfg.Watcher.StartHeight,
		}, log.New("component", "watcher"))
		watcher.AddCallback(server.NotifyBlock)
		watcher.AddCallback(service.HandleBlock)
		watcher.Start()
		defer watcher.Stop()
	}

	if !strings.EqualFold(cfg.Log.Level, "debug") && !strings.EqualFold(cfg.Log.Level, "trace") {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	server.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("API server listening", "addr", httpServer.Addr)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("API server failed", "err", err)
			return 1
		}
	case <-ctx.Done():
		log.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown incomplete", "err", err)
	}

	log.Info("Shutdown complete")
	return 0
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "trace":
		lvl = log.LevelTrace
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "crit":
		lvl = log.LevelCrit
	default:
		lvl = slog.LevelInfo
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
}
