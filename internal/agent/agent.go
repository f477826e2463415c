// Package agent runs a headless Chrome peer for the bridge. Instead of a
// browser extension dialing in, the agent connects to the bridge's /ws
// endpoint as a client, identifies itself as chrome, and serves the same
// command catalog against a Chrome instance it drives over CDP.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/datagram1/mcp-eyes-sub000/internal/bridge"
)

const (
	reconnectDelay = 3 * time.Second
	commandTimeout = 25 * time.Second
)

// Driver executes one browser command. Implementations own the browser
// session; the agent only shuttles envelopes.
type Driver interface {
	Handle(ctx context.Context, action string, payload json.RawMessage) (json.RawMessage, error)
}

type Agent struct {
	url     string
	name    string
	driver  Driver
	writeMu sync.Mutex
}

func New(bridgeURL, name string, driver Driver) *Agent {
	return &Agent{url: bridgeURL, name: name, driver: driver}
}

// Run dials the bridge and serves commands until ctx is cancelled. Lost
// connections are redialed after a short delay; the bridge treats each
// reconnect as a fresh identification.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.serve(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("bridge connection lost", "url", a.url, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (a *Agent) serve(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	defer ws.Close()

	// Unblock the read loop when the caller shuts down.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	slog.Info("connected to bridge", "url", a.url, "name", a.name)

	for {
		var env bridge.Envelope
		if err := ws.ReadJSON(&env); err != nil {
			return err
		}
		switch {
		case env.Action == bridge.ActionIdentify:
			if err := a.write(ws, &bridge.Envelope{
				ID:          bridge.InitID,
				Browser:     "Google Chrome",
				BrowserName: a.name,
			}); err != nil {
				return err
			}
		case env.ID == bridge.InitID:
			slog.Debug("bridge acknowledged identity", "action", env.Action)
		case env.ID != "" && env.Action != "":
			go a.dispatch(ctx, ws, &env)
		default:
			slog.Debug("ignoring frame", "id", env.ID, "action", env.Action)
		}
	}
}

// dispatch runs one command and writes the reply. Commands run concurrently
// so a slow navigation does not starve getTabs.
func (a *Agent) dispatch(ctx context.Context, ws *websocket.Conn, env *bridge.Envelope) {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	start := time.Now()
	result, err := a.driver.Handle(cmdCtx, env.Action, env.Payload)
	reply := &bridge.Envelope{ID: env.ID}
	if err != nil {
		reply.Error = err.Error()
		slog.Warn("command failed", "action", env.Action, "id", env.ID, "err", err)
	} else {
		reply.Response = result
		slog.Debug("command served", "action", env.Action, "id", env.ID, "ms", time.Since(start).Milliseconds())
	}
	if err := a.write(ws, reply); err != nil {
		slog.Warn("reply write failed", "id", env.ID, "err", err)
	}
}

func (a *Agent) write(ws *websocket.Conn, env *bridge.Envelope) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return ws.WriteJSON(env)
}
