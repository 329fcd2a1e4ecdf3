package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"message-board/contract"
	"message-board/domain"
	"message-board/infrastructure/graphql"
	"message-board/infrastructure/health"
	"message-board/infrastructure/storage"
	"message-board/infrastructure/transport"
	"message-board/internal"
	"message-board/moderation"
	"message-board/observability"
	"message-board/runtime"
	"message-board/runtime/workers"
	"message-board/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const startupTimeout = 5 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and blocks until a shutdown signal.
// Returning instead of exiting lets the deferred cleanups (bus, badger) run.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	charReplacement, _ := internal.CharacterRune(config.CharReplacement)
	policy, _ := config.BufferPolicy()
	logger := logs.GetLoggerFromString(config.Level())

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	store := storage.NewMessageStore(db, logger, config.LimitMessages)
	if err := prepareStore(config, logger, store); err != nil {
		return exitRuntime, err
	}

	if config.DebugPort > 0 {
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d/inspect", config.DebugPort))
		database.StartDebugServer(db, config.DebugPort, "/inspect", MessageMapper)
	}

	// 3. Metrics, bus and dispatcher
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		return exitRuntime, fmt.Errorf("metrics registration failed: %w", err)
	}

	bus := runtime.NewBus(logger, policy, config.SubscriptionBufferSize, metrics)
	defer bus.Close()

	var censor contract.Censor
	if words := config.Words(); len(words) > 0 {
		moderator, err := moderation.NewModerator(words, charReplacement, logger)
		if err != nil {
			return exitConfig, fmt.Errorf("moderation setup failed: %w", err)
		}
		censor = moderator
		logger.Info("Content moderation enabled", "words", len(words))
	}

	messageService := services.NewMessageService(logger, bus, censor, config.MaxContentLength, nil)
	schema, err := graphql.NewSchema(graphql.NewResolver(logger, messageService, metrics), logger)
	if err != nil {
		return exitRuntime, err
	}

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Transport & supervision
	handler := transport.NewGraphQLHandler(ctx, logger, schema, store, transport.Options{
		AllowedOrigins: config.Origins(),
		InitTimeout:    config.WSInitTimeout,
		PingInterval:   config.WSPingInterval,
	}, metrics)
	router := transport.NewRouter(logger, handler, store, registry, config.Origins())

	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		workers.NewHTTPServerWorker(logger, config.Address(), router, config.ShutdownTimeout),
		workers.NewHeartbeatWorker(logger, config.HeartbeatInterval, bus, metrics),
	)
	if config.HealthPort > 0 {
		sup.Add(health.NewWorker(logger, fmt.Sprintf("%s:%d", config.Host, config.HealthPort), store, config.HealthInterval))
	}

	logger.Info("Message board started", "address", config.Address(), "env", config.AppEnv, "buffer_policy", policy)
	sup.Run(ctx)

	// 6. Final Cleanup (Graceful Shutdown)
	logger.Info("Shutdown signal received, closing subscriptions")
	bus.Close()
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

// prepareStore checks the store is reachable, then applies the reset and seed settings.
func prepareStore(config internal.Config, logger *slog.Logger, store *storage.MessageStore) error {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	if config.ResetOnStart {
		if err := store.Reset(); err != nil {
			return fmt.Errorf("store reset failed: %w", err)
		}
	}
	if config.SeedOnStart {
		seeded, err := store.Seed(ctx, domain.NewMessage("Aaron", "Hello, World!", time.Now()))
		if err != nil {
			return fmt.Errorf("store seed failed: %w", err)
		}
		if seeded {
			logger.Info("Empty store seeded with a welcome message")
		}
	}
	return nil
}

func buildBadgerOpts(config internal.Config) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)
	if config.BadgerInMemory {
		options = badger.DefaultOptions("").WithInMemory(true)
	}
	if config.Production() {
		return options.WithLoggingLevel(badger.WARNING)
	}
	return options.WithLoggingLevel(badger.INFO)
}
