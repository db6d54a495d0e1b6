package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spounge-ai/auditchain/internal/app/grpc"
	infra_config "github.com/spounge-ai/auditchain/internal/infra/config"
	"github.com/spounge-ai/auditchain/internal/infra/persistence"
	"github.com/spounge-ai/auditchain/internal/wiring"
	"github.com/spounge-ai/auditchain/pkg/patterns/lifecycle"
)

const (
	shutdownTimeout     = 10 * time.Second
	healthCheckInterval = 15 * time.Second
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := infra_config.Load(os.Getenv("AUDITCHAIN_CONFIG_PATH"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting auditchain", "version", cfg.ServiceVersion, "commit", cfg.BuildCommit, "mode", cfg.Server.Mode)

	deps, err := wiring.ProvideDependencies(ctx, cfg, true, logger)
	if err != nil {
		logger.Error("failed to get dependencies", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("failed to close dependencies", "error", err)
		}
	}()

	srv, port, err := grpc.New(cfg, deps.AuditTrail, logger, deps.ErrorClassifier, grpc.WithTLSConfig(deps.TLS))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if deps.Ledger.Pinger != nil {
		monitor := persistence.NewConnectionMonitor(deps.Ledger.Pinger, func(healthy bool, err error) {
			srv.SetServing(healthy)
		}, logger)
		go monitor.Start(ctx, healthCheckInterval)
	}

	resources := []lifecycle.ManagedResource{srv}

	go func() {
		logger.Info("starting application resources")
		for _, r := range resources {
			if err := r.Start(ctx); err != nil {
				logger.Error("error starting resource", "error", err)
				cancel()
				return
			}
		}
		logger.Info("application started successfully", "port", port, "signing", deps.Signer.IsSigningAvailable())
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-signalChan:
		logger.Info("received shutdown signal", "signal", s.String())
	case err := <-srv.Errors():
		logger.Error("gRPC server failed", "error", err)
	case <-ctx.Done():
		logger.Info("context cancelled, initiating shutdown")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down application resources")
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].Stop(shutdownCtx); err != nil {
			logger.Error("error stopping resource", "error", err)
		}
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg infra_config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
