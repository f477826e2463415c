package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// HandleEvents upgrades to WebSocket and streams bridge lifecycle events
// (connections, default changes, command traffic) to observers such as
// dashboards. Browser extensions do not connect here; they use /ws.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Error("events upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	subID, events := h.Hub.Feed().Subscribe()
	defer h.Hub.Feed().Unsubscribe(subID)

	slog.Info("events subscriber connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-done:
			return
		case <-time.After(10 * time.Second):
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}
