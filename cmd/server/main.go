/*
Package main is the entry point of the Messenger relay server.

It is responsible for loading configuration, initializing the global logging system,
opening the store (PostgreSQL when DATABASE_URL is set, in-memory otherwise), starting
the Hub event loop, serving HTTP and WebSocket traffic, and gracefully handling operating
system interrupt signals (SIGINT, SIGTERM) to ensure a smooth shutdown.
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

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"messenger/internal/configs"
	"messenger/internal/handler"
	"messenger/internal/pkg/limiter"
	"messenger/internal/pkg/logx"
	"messenger/internal/server"
	"messenger/internal/server/store"
)

const (
	// per-user sendMessage throttle
	messageRate  = 5
	messageBurst = 10
)

func main() {
	// A missing .env file is fine; the real environment still applies.
	_ = godotenv.Load()

	cfg, err := configs.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.Init(os.Stdout, cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("postgres", cfg.DatabaseDSN != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open store")
	}
	defer st.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	hub := server.NewHub(st, limiter.NewKeyedRateLimiter(hubCtx, rate.Limit(messageRate), messageBurst))
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	deps := &handler.AppDeps{
		Hub:    hub,
		Config: cfg,
		Store:  st,
	}

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:        serverAddr,
		Handler:     handler.Router(hubCtx, deps),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Messenger relay starting on http://localhost%s", serverAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	stopHub()
	<-hubDone

	logx.Info("Server gracefully stopped.")
}

func openStore(ctx context.Context, cfg *configs.ServerConfig) (store.Store, error) {
	if cfg.DatabaseDSN == "" {
		logx.Warn("DATABASE_URL not set, using in-memory store; data is lost on restart.")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(ctx, cfg.DatabaseDSN)
}
