// Package handlers provides the HTTP facade over the browser bridge.
package handlers

import (
	"net/http"

	"github.com/datagram1/mcp-eyes-sub000/internal/bridge"
	"github.com/datagram1/mcp-eyes-sub000/internal/config"
	"github.com/datagram1/mcp-eyes-sub000/internal/history"
)

type Handlers struct {
	Hub     *bridge.Hub
	Config  *config.RuntimeConfig
	History *history.Store // nil when the audit store is disabled
}

func New(hub *bridge.Hub, cfg *config.RuntimeConfig, hist *history.Store) *Handlers {
	return &Handlers{Hub: hub, Config: cfg, History: hist}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux, doShutdown func()) {
	mux.HandleFunc("GET /ws", h.Hub.HandleBridgeSocket)
	mux.HandleFunc("GET /events", h.HandleEvents)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /browsers", h.HandleBrowsers)
	mux.HandleFunc("POST /browser/setDefault", h.HandleSetDefault)
	mux.HandleFunc("POST /browser/{action}", h.HandleBrowserAction)
	mux.HandleFunc("GET /history", h.HandleHistory)

	if doShutdown != nil {
		mux.HandleFunc("POST /shutdown", h.HandleShutdown(doShutdown))
	}
}
