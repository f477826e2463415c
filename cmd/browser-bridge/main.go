package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/datagram1/mcp-eyes-sub000/internal/bridge"
	"github.com/datagram1/mcp-eyes-sub000/internal/config"
	"github.com/datagram1/mcp-eyes-sub000/internal/handlers"
	"github.com/datagram1/mcp-eyes-sub000/internal/history"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Printf("browser-bridge %s\n", version)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "config" {
		config.HandleConfigCommand(cfg)
		os.Exit(0)
	}

	if len(os.Args) > 1 && os.Args[1] == "agent" {
		runAgent(cfg)
		return
	}

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		slog.Error("cannot create state dir", "dir", cfg.StateDir, "err", err)
		os.Exit(1)
	}

	hub := bridge.NewHub(cfg.CommandTimeout)

	var store *history.Store
	if cfg.HistoryEnabled {
		var err error
		store, err = history.Open(context.Background(), filepath.Join(cfg.StateDir, "history.db"))
		if err != nil {
			slog.Warn("command history disabled", "err", err)
		} else {
			hub.SetRecorder(store)
		}
	}

	mux := http.NewServeMux()
	h := handlers.New(hub, cfg, store)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownOnce := &sync.Once{}
	doShutdown := func() {
		shutdownOnce.Do(func() {
			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
			hub.CloseAll()
			if store != nil {
				_ = store.Close()
			}
			slog.Info("bridge closed")
		})
	}

	h.RegisterRoutes(mux, doShutdown)
	srv.Handler = handlers.LoggingMiddleware(
		handlers.CorsMiddleware(
			handlers.AuthMiddleware(cfg,
				handlers.RequestIDMiddleware(mux))))

	setupSignalHandler(doShutdown)

	slog.Info("browser bridge listening", "addr", cfg.ListenAddr(), "timeout", cfg.CommandTimeout)
	if cfg.Token != "" {
		slog.Info("auth enabled", "token", config.MaskToken(cfg.Token))
	} else {
		slog.Info("auth disabled (set BRIDGE_TOKEN to enable)")
	}

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server", "err", err)
		os.Exit(1)
	}
}

func setupSignalHandler(shutdownFn func()) {
	go func() {
		sig := make(chan os.Signal, 2)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		go shutdownFn()
		<-sig
		slog.Warn("force shutdown requested")
		os.Exit(130)
	}()
}
