// Package main is the entry point for the juncture binary.
// juncture supervises an agent subprocess speaking the Codex app-server
// protocol over stdio and exposes a stable session API over HTTP and
// WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/juncture-dev/juncture/internal/api"
	"github.com/juncture-dev/juncture/internal/bridge"
	"github.com/juncture-dev/juncture/internal/common/config"
	"github.com/juncture-dev/juncture/internal/common/constants"
	"github.com/juncture-dev/juncture/internal/common/logger"
	"github.com/juncture-dev/juncture/internal/session"
	"github.com/juncture-dev/juncture/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting juncture",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("agent_command", cfg.Agent.Command),
		zap.String("data_dir", cfg.Bridge.DataDir))

	store := session.NewStore(cfg.Bridge.StateFilePath(), log)
	sessions := session.NewManager(store, log)

	br := bridge.New(cfg, sessions, log)

	server := api.NewServer(br, sessions, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server starting", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Agent connection is eager but non-fatal: the API stays up and a
		// later /bridge/connect can retry.
		connectCtx, cancel := context.WithTimeout(ctx, constants.AgentConnectTimeout)
		defer cancel()
		if err := br.Connect(connectCtx); err != nil {
			log.Warn("initial agent connect failed", zap.Error(err))
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down juncture")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := br.Close(); err != nil {
			log.Error("bridge close error", zap.Error(err))
		}
		sessions.Flush()
		store.Close()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Error("tracing shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal("juncture exited with error", zap.Error(err))
	}
	log.Info("juncture stopped")
}
