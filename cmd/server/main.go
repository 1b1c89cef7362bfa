package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/redis/go-redis/v9"

	"market-chat/auth"
	"market-chat/gateway"
	"market-chat/internal"
	"market-chat/moderation"
	"market-chat/observability"
	"market-chat/presence"
	"market-chat/queue"
	"market-chat/repositories"
	"market-chat/runtime/workers"
	"market-chat/search"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Gateway terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the gateway and background workers.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		// Defer ensures the database lock is released and buffers are flushed before the function returns.
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := search.OpenWriter(config.BlugeFilepath)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	// 3. Redis (presence + ingestion queue)
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return exitRuntime, fmt.Errorf("redis unreachable at %s: %w", config.RedisAddr, err)
	}
	defer func() {
		logger.Info("Closing redis client...")
		_ = rdb.Close()
	}()

	// 4. Monitoring & debug surface
	stats := observability.NewManager()
	debugServer := internal.NewDebugServer(db, config.DebugPort, nil, func() map[string]any {
		return statsMap(stats)
	})
	go func() {
		logger.Info("Debug server available", "addr", debugServer.Addr)
		if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Debug server stopped", "err", err)
		}
	}()

	// 5. Wiring
	userRepository := repositories.NewUserRepository(db, logger)
	chatRepository := repositories.NewChatRepository(db, logger)
	messageRepository := repositories.NewMessageRepository(db, logger)
	presenceStore := presence.NewStore(rdb, config.PresenceTTL, logger)
	producer := queue.NewProducer(rdb, config.QueuePartitions, logger, stats)
	registry := gateway.NewRegistry(logger)
	messageIndex := search.NewMessageIndex(blugeWriter, logger)
	replayer := gateway.NewReplayer(
		chatRepository, messageRepository, registry,
		config.ReplayBatchSize, config.ReplayBatchPause, logger, stats,
	)
	verifier := auth.NewTokenService(config.JWTSecret, config.JWTIssuer)

	var moderator *moderation.Moderator
	if config.WordlistPath != "" {
		words, err := moderation.LoadWordlist(config.WordlistPath)
		if err != nil {
			return exitConfig, fmt.Errorf("failed to load wordlist: %w", err)
		}
		m, err := moderation.NewModerator(words, charReplacement)
		if err != nil {
			return exitConfig, fmt.Errorf("failed to build moderator: %w", err)
		}
		moderator = &m
		logger.Info("Moderation enabled", "words", len(words))
	}

	gw := gateway.NewGateway(
		verifier, userRepository, chatRepository, messageRepository,
		presenceStore, producer, registry, replayer, messageIndex,
		config.AllowedOrigins, logger, stats,
	)

	// 6. Supervision: one consumer per partition keeps per-chat order,
	// plus the health monitor.
	fanOut := workers.NewFanOut(
		messageRepository, presenceStore, registry,
		moderator, messageIndex, logger, stats,
	)
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	for partition := 0; partition < config.QueuePartitions; partition++ {
		sup.Add(queue.NewConsumer(
			rdb, partition,
			config.ConsumerGroup, consumerName(partition),
			fanOut.Handle,
			config.MaxDeliveryAttempts, config.RetryMinIdle,
			logger, stats,
		))
	}
	sup.Add(workers.NewHealthMonitor(config.MetricInterval, logger, stats))

	// 7. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)

	go func() {
		logger.Info("Starting workers...")
		sup.Run(ctx)
	}()

	// 8. Websocket gateway
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWS)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("Starting websocket gateway", "address", server.Addr, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("gateway server error: %w", err)
		}
	}()

	// 9. Wait for Stop or Error
	// The execution blocks here until either a signal is received or the server crashes.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 10. Final Cleanup (Graceful Shutdown)
	// Stop accepting sockets first, then drain the workers so in-flight
	// jobs either finish or stay pending for the next boot.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	_ = debugServer.Shutdown(shutdownCtx)
	sup.Stop()
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}

func consumerName(partition int) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "gateway"
	}
	return fmt.Sprintf("%s-%d", hostname, partition)
}

// statsMap flattens the monitoring snapshot through its JSON form so
// the debug endpoint stays in sync with the snapshot fields.
func statsMap(stats *observability.Manager) map[string]any {
	raw, err := json.Marshal(stats.GetLatest())
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}
