package bridge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const pingInterval = 30 * time.Second

// HandleBridgeSocket upgrades an extension connection and runs its protocol
// lifecycle: AwaitingIdentity until a valid identify reply arrives, then
// Identified until the socket closes. The server opens the exchange by
// asking the peer to identify itself.
//
// All per-connection state transitions funnel through this read loop, so a
// message is fully processed before the next one is read; ordering within a
// connection follows transport delivery order.
func (h *Hub) HandleBridgeSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("bridge upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	slog.Info("browser socket open", "remote", r.RemoteAddr)

	if err := ws.WriteJSON(&Envelope{ID: InitID, Action: ActionIdentify}); err != nil {
		slog.Warn("identify request failed", "remote", r.RemoteAddr, "err", err)
		_ = ws.Close()
		return
	}

	stopPing := make(chan struct{})
	go keepalive(ws, stopPing)

	var conn *Conn // nil while AwaitingIdentity
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("browser socket read error", "remote", r.RemoteAddr, "err", err)
			}
			break
		}

		env, kind := DecodeEnvelope(data)
		if kind == KindMalformed {
			slog.Warn("malformed bridge frame dropped", "remote", r.RemoteAddr, "bytes", len(data))
			continue
		}

		if conn == nil {
			if kind != KindIdentifyReply {
				slog.Warn("frame before identification dropped", "remote", r.RemoteAddr, "kind", kind.String())
				continue
			}
			conn = h.identify(ws, env)
			continue
		}

		conn.Touch()
		switch kind {
		case KindResponse:
			h.HandleResponse(conn.Type, env.ID, env.Response, "")
		case KindErrorResponse:
			h.HandleResponse(conn.Type, env.ID, nil, env.Error)
		case KindEvent:
			name := env.Event
			if name == "" {
				name = env.Action
			}
			slog.Info("browser event", "browser", conn.Type, "event", name)
			h.feed.Publish(Event{Type: EventBrowser, Browser: string(conn.Type), Action: name})
		case KindIdentifyReply:
			// Re-identification on a live socket: refresh the display name,
			// keep the registration.
			if env.BrowserName != "" {
				conn.setName(env.BrowserName)
			}
			slog.Debug("duplicate identify ignored", "browser", conn.Type)
		}
	}

	close(stopPing)
	if conn != nil {
		h.unregister(conn)
	}
	_ = ws.Close()
	slog.Info("browser socket closed", "remote", r.RemoteAddr)
}

// identify turns an identify reply into a registered connection and acks it.
func (h *Hub) identify(ws *websocket.Conn, env *Envelope) *Conn {
	browserType := DetectBrowserType(env.Browser)
	name := env.BrowserName
	if name == "" {
		name = env.Browser
	}

	conn := newConn(browserType, name, ws)
	h.register(conn)
	slog.Info("browser identified", "browser", browserType, "name", name)

	if err := conn.WriteEnvelope(&Envelope{
		ID:      InitID,
		Action:  "identified",
		Browser: string(browserType),
	}); err != nil {
		slog.Warn("identify ack failed", "browser", browserType, "err", err)
	}
	return conn
}

// keepalive sends WebSocket ping frames until the read loop exits. Control
// frames may be written concurrently with data frames on a gorilla conn.
func keepalive(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
