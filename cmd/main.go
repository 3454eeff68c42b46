/*
Package main is the entry point for the Crapchat application.

It is responsible for loading configuration, initializing the global logging system,
connecting to PostgreSQL, starting the notification listener and relay, setting up
the HTTP server, and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown. Losing the notification
subscription is fatal: a server that cannot hear the shared channel must not keep
accepting traffic.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crapchat/internal/app/chat"
	"crapchat/internal/app/db"
	"crapchat/internal/app/store"
	"crapchat/internal/configs"
	"crapchat/internal/handler"
	"crapchat/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("notify_channel", cfg.NotifyChannel).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL and run migrations
	pool, err := db.NewPool(cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to initialize database")
	}
	defer pool.Close()

	pg := store.NewPostgres(pool)

	// Wire the presence and fanout core
	registry := chat.NewRegistry()
	publisher := chat.NewPublisher(pg, cfg.NotifyChannel)
	hub := chat.NewHub(pg, registry, publisher)

	listener := store.NewListener(pool.Config().ConnConfig, cfg.NotifyChannel)
	relay := chat.NewRelay(registry, pg, listener.Payloads())

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()

	fatalCh := make(chan error, 2)

	go func() {
		if err := listener.Run(relayCtx); err != nil {
			fatalCh <- err
		}
	}()
	go func() {
		if err := relay.Run(relayCtx); err != nil {
			fatalCh <- err
		}
	}()

	// Setup HTTP server and routes
	deps := &handler.AppDeps{
		Hub:    hub,
		Config: cfg,
		Store:  pg,
	}
	router := handler.Router(deps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Crapchat Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	exitCode := 0

	select {
	case <-ctx.Done():
		logx.Info("Received shutdown signal. Starting graceful shutdown...")

	case err := <-fatalCh:
		logx.Error(err, "Notification pipeline failed. Shutting down.")
		exitCode = 1
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	// Stop accepting new connections first, then close the live ones and wait
	// for their disconnect bookkeeping, then silence the relay.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
		exitCode = 1
	}

	hub.Shutdown()
	cancelRelay()

	logx.Info("Server gracefully stopped.")
	os.Exit(exitCode)
}
