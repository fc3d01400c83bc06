package main

import (
	"chat-relay/auth"
	relaygrpc "chat-relay/grpc"
	"chat-relay/infrastructure/websocket"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and blocks until SIGINT/SIGTERM or a server failure.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	policy, err := runtime.ParsePersistFailurePolicy(config.PersistFailurePolicy)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()
	messageRepository := repositories.NewMessageRepository(db, log)
	defer func() { _ = messageRepository.Close() }()

	// 3. Relay core
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, registry)
	presence := runtime.NewPresence(log, registry, broadcaster)
	coordinator := runtime.NewCoordinator(log, registry, broadcaster, presence, messageRepository,
		config.CommandBufferSize, config.StorageQueueSize, config.HistoryLimit, policy)
	chatService := services.NewChatService(coordinator)

	// 4. Transport
	var validator *auth.TokenValidator
	if config.JwtSecret != "" {
		validator = auth.NewTokenValidator(config.JwtSecret)
	}
	wsHandler := websocket.NewHandler(log, chatService, validator, websocket.Options{
		ConnectionBufferSize: config.ConnectionBufferSize,
		MaxMessageSize:       int64(config.MaxMessageSize),
		WriteTimeout:         config.WriteTimeout,
		PongWait:             config.PongWait,
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/api/health", internal.NewHealthHandler(log, registry))
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	healthServer := relaygrpc.NewHealthServer(log, fmt.Sprintf("%s:%d", config.Host, config.GrpcHealthPort))

	// 5. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 6. Supervised components
	supCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(coordinator, healthServer,
		workers.NewQueueMonitorWorker(log, "commands", coordinator, config.MetricInterval, config.QueueWarnPercent))
	supervised := make(chan struct{})
	go func() {
		sup.Run(supCtx)
		close(supervised)
	}()

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 7. Wait for Stop or Error
	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case serveErr = <-errChan:
	}

	// 8. Final Cleanup: stop accepting, say goodbye to clients, then stop the loop
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server did not stop cleanly", "error", err)
	}
	if err := wsHandler.Shutdown(shutdownCtx); err != nil {
		log.Warn("Websocket clients did not stop cleanly", "error", err)
	}
	stopWorkers()
	<-supervised
	if err := coordinator.Drain(shutdownCtx); err != nil {
		log.Warn("In-flight messages not persisted", "error", err)
	}
	log.Info("Program stopped cleanly")

	return serveErr
}
