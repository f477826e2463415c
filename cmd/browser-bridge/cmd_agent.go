package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/datagram1/mcp-eyes-sub000/internal/agent"
	"github.com/datagram1/mcp-eyes-sub000/internal/config"
)

// runAgent launches a headless Chrome and attaches it to a running bridge as
// a browser peer. Useful on machines with no extension-capable browser open.
func runAgent(cfg *config.RuntimeConfig) {
	host := cfg.Bind
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	bridgeURL := os.Getenv("BRIDGE_URL")
	if bridgeURL == "" {
		bridgeURL = fmt.Sprintf("ws://%s:%s/ws", host, cfg.Port)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	driver, err := agent.StartChrome(ctx, agent.ChromeOptions{
		Headless:     os.Getenv("AGENT_HEADLESS") != "false",
		ChromeBinary: os.Getenv("AGENT_CHROME_BINARY"),
		ProfileDir:   filepath.Join(cfg.StateDir, "agent-profile"),
	})
	if err != nil {
		slog.Error("chrome agent startup failed", "err", err)
		os.Exit(1)
	}
	defer driver.Close()

	a := agent.New(bridgeURL, "Chrome Agent", driver)
	slog.Info("chrome agent running", "bridge", bridgeURL)
	if err := a.Run(ctx); err != nil && err != context.Canceled {
		slog.Error("agent", "err", err)
		os.Exit(1)
	}
}
