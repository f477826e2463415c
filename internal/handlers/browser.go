package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/datagram1/mcp-eyes-sub000/internal/bridge"
	"github.com/datagram1/mcp-eyes-sub000/internal/web"
)

// knownActions is the catalog of commands the extensions implement. Anything
// else is rejected before it reaches a browser.
var knownActions = map[string]bool{
	"getTabs":         true,
	"getActiveTab":    true,
	"activateTab":     true,
	"newTab":          true,
	"closeTab":        true,
	"navigate":        true,
	"reload":          true,
	"goBack":          true,
	"goForward":       true,
	"getPageInfo":     true,
	"getPageContent":  true,
	"getSelectedText": true,
	"clickElement":    true,
	"fillField":       true,
	"executeScript":   true,
	"screenshot":      true,
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	browsers := h.Hub.Browsers()
	list := make([]map[string]any, 0, len(browsers))
	for _, b := range browsers {
		list = append(list, map[string]any{
			"type":      b.Type,
			"name":      b.Name,
			"connected": b.Connected,
		})
	}
	web.JSON(w, 200, map[string]any{
		"status":            "ok",
		"connectedBrowsers": list,
		"defaultBrowser":    h.Hub.DefaultBrowser(),
	})
}

func (h *Handlers) HandleBrowsers(w http.ResponseWriter, r *http.Request) {
	web.JSON(w, 200, map[string]any{
		"browsers":       h.Hub.Browsers(),
		"defaultBrowser": h.Hub.DefaultBrowser(),
	})
}

func (h *Handlers) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Browser string `json:"browser"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Browser == "" {
		web.Error(w, 400, errors.New("missing browser field"))
		return
	}
	t, ok := bridge.ParseBrowserType(body.Browser)
	if !ok {
		web.Error(w, 400, fmt.Errorf("unknown browser type: %s", body.Browser))
		return
	}
	if err := h.Hub.SetDefault(t); err != nil {
		web.Error(w, 400, err)
		return
	}
	web.JSON(w, 200, map[string]any{
		"success":        true,
		"defaultBrowser": h.Hub.DefaultBrowser(),
	})
}

// HandleBrowserAction proxies POST /browser/{action} to the correlator and
// waits for the extension's reply. The optional "browser" body field routes
// the command explicitly; every other body field rides along as payload.
func (h *Handlers) HandleBrowserAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if !knownActions[action] {
		web.Error(w, 400, fmt.Errorf("Unknown browser action: %s", action))
		return
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		web.Error(w, 400, fmt.Errorf("invalid JSON body: %w", err))
		return
	}

	explicit := ""
	if raw, ok := body["browser"]; ok {
		if err := json.Unmarshal(raw, &explicit); err != nil {
			web.Error(w, 400, errors.New("browser field must be a string"))
			return
		}
		delete(body, "browser")
	}

	var payload json.RawMessage
	if len(body) > 0 {
		payload, _ = json.Marshal(body)
	}

	start := time.Now()
	response, err := h.Hub.Send(r.Context(), explicit, action, payload)
	if err != nil {
		var re *bridge.RoutingError
		code := 500
		if errors.As(err, &re) {
			code = 400
		}
		slog.Warn("browser action failed", "action", action, "browser", explicit, "ms", time.Since(start).Milliseconds(), "err", err)
		web.Error(w, code, err)
		return
	}

	if len(response) == 0 {
		response = json.RawMessage(`{"success":true}`)
	}
	web.JSON(w, 200, response)
}

func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.History == nil {
		web.Error(w, 404, errors.New("command history is disabled"))
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := h.History.Recent(r.Context(), limit)
	if err != nil {
		web.Error(w, 500, err)
		return
	}
	web.JSON(w, 200, map[string]any{"commands": entries})
}

func (h *Handlers) HandleShutdown(doShutdown func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		web.JSON(w, 200, map[string]string{"status": "shutting down"})
		go doShutdown()
	}
}
