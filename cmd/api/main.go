package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/ledgerd/internal/config"
	"github.com/congo-pay/ledgerd/internal/events"
	"github.com/congo-pay/ledgerd/internal/infra"
	"github.com/congo-pay/ledgerd/internal/logging"
	"github.com/congo-pay/ledgerd/internal/notification"
	"github.com/congo-pay/ledgerd/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)

	ctx := context.Background()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, infra.PostgresOptions{
			URL:             cfg.DatabaseURL,
			MaxConns:        int32(cfg.DBMaxConns),
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	cache, err := infra.NewRedisClient(ctx, infra.RedisOptions{
		URL:             cfg.RedisURL,
		PoolSize:        cfg.RedisPoolSize,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		logger.Error("connect redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()

	transfers, err := infra.NewTransferQueue(ctx, cfg, cache)
	if err != nil {
		logger.Error("build transfer queue", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, db, cache, transfers, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	consumer := events.NewConsumer(
		transfers,
		notification.NewLoggerNotifier(logging.Component(logger, "notifier")),
		cache,
		logging.Component(logger, "transfer_consumer"),
		events.ConsumerConfig{Wait: cfg.ConsumerWait, Backoff: cfg.ConsumerBackoff},
	)
	if err := consumer.Start(ctx); err != nil {
		logger.Error("start consumer", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		exitCode = 1
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		logger.Error("consumer shutdown error", "error", err)
		exitCode = 1
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	logger.Info("server exited cleanly")
}
