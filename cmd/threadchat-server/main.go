// Package main provides the HTTP and WebSocket chat server for threadchat.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/threadchat/internal/app"
	"github.com/raphaelgruber/threadchat/internal/config"
	"github.com/raphaelgruber/threadchat/internal/server"
	"github.com/raphaelgruber/threadchat/internal/session"
)

const version = "0.1.0"

func main() {
	// Parse flags
	configPath := flag.String("config", os.Getenv("THREADCHAT_CONFIG"), "config file (.yaml, .yml or .toml)")
	addr := flag.String("addr", "", "listen address (default from THREADCHAT_SERVER_ADDR)")
	wipeDB := flag.Bool("wipe", false, "wipe all conversations on startup (testing only)")
	flag.Parse()

	// Load configuration
	cfg := config.Load()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}
	if *addr != "" {
		cfg.ServerAddr = *addr
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel, true)
	defer cleanup()
	slog.SetDefault(logger)

	logger.Info("starting threadchat-server",
		"version", version,
		"addr", cfg.ServerAddr,
		"store", cfg.StoreBackend,
		"provider", cfg.LLMProvider,
		"model", cfg.LLMModel,
	)

	// Create store and engine
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	// Wipe database if requested (via flag or env var)
	if *wipeDB || os.Getenv("THREADCHAT_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := deps.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
		logger.Warn("wiped all conversations")
	}

	srv := server.New(deps.Store, deps.Engine,
		server.WithLogger(logger),
		server.WithMetrics(deps.Metrics),
		server.WithSessionOptions(session.WithTitleLen(cfg.TitleMaxLen)),
	)

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // Long for LLM responses
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("chat endpoint available", "url", "ws://localhost"+cfg.ServerAddr+"/ws")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
