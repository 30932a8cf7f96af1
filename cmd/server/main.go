package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hongminglow/friendface-be/internal/config"
	"github.com/hongminglow/friendface-be/internal/fetcher"
	"github.com/hongminglow/friendface-be/internal/reconcile"
	"github.com/hongminglow/friendface-be/internal/server"
	"github.com/hongminglow/friendface-be/internal/state"
	"github.com/hongminglow/friendface-be/internal/storage"
	"github.com/hongminglow/friendface-be/internal/storage/memory"
	postgres "github.com/hongminglow/friendface-be/internal/storage/postgres"
	"github.com/hongminglow/friendface-be/internal/storage/sqlite"
)

func main() {
	if err := run(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run() error {
	loadLocalEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init cache store: %w", err)
	}
	defer closeStore()

	appState := state.New()
	reconciler := reconcile.New(fetcher.New(nil), store, appState, cfg.RemoteURL, logger)
	srv := server.New(cfg, appState, reconciler, logger)

	if cfg.FetchOnStart {
		go func() {
			if _, err := reconciler.Fetch(ctx, cfg.DebugMode, false); err != nil {
				logger.Info("initial fetch stopped", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("friendface backend listening", "addr", cfg.HTTPAddress(), "cache", cfg.CacheDriver)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("graceful shutdown error", "err", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.CacheStore, func(), error) {
	switch cfg.CacheDriver {
	case config.DriverPostgres:
		s, err := postgres.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.DriverMemory:
		return memory.NewStore(), func() {}, nil
	default:
		s, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Error("close sqlite cache", "err", err)
			}
		}, nil
	}
}

func loadLocalEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found; relying on existing environment")
	}
}
