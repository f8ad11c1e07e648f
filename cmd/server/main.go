/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Build the zap logger
  3. Open the selected store (memory, sqlite or postgres)
  4. Wire processors, optional Kafka publisher, HTTP router
  5. Start server with graceful shutdown

CONFIGURATION (environment, see config/config.go):
  PORT            HTTP port (default 8080)
  LOG_LEVEL       zap level (default info)
  STORE_DRIVER    memory | sqlite | postgres (default sqlite)
  DB_PATH         SQLite path, ":memory:" works (default billing.db)
  POSTGRES_DSN    lib/pq connection string
  KAFKA_BROKERS   comma-separated; empty disables event publishing

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  in-flight requests, close the store, exit.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tally/billing-engine/api"
	"github.com/tally/billing-engine/billing"
	"github.com/tally/billing-engine/config"
	"github.com/tally/billing-engine/events"
	"github.com/tally/billing-engine/events/kafka"
	"github.com/tally/billing-engine/store/memory"
	"github.com/tally/billing-engine/store/postgres"
	"github.com/tally/billing-engine/store/sqlite"
)

func main() {
	// A missing .env file is fine; real deployments set the environment.
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		publisher = kp
		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	payments := billing.NewProcessor(store, publisher, logger)
	payments.MaxAttempts = cfg.MaxRetries
	payments.RetryBackoff = cfg.InitialBackoff
	refunds := billing.NewRefundProcessor(store, publisher, logger)
	refunds.MaxAttempts = cfg.MaxRetries
	refunds.RetryBackoff = cfg.InitialBackoff

	handler := api.NewHandler(store, payments, refunds, logger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func openStore(cfg config.Config) (billing.TxStore, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		return memory.New(), func() {}, nil
	case "sqlite":
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		return s, closeQuietly(s), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("POSTGRES_DSN is required with STORE_DRIVER=postgres")
		}
		s, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, closeQuietly(s), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func closeQuietly(c io.Closer) func() {
	return func() { _ = c.Close() }
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
