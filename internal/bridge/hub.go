// Package bridge implements the browser bridge: a WebSocket command/response
// protocol between this server and long-lived browser-extension connections.
// One Hub bundles the connection registry, the default-target pointer, and
// the pending-command set; the three are causally linked (identify and
// disconnect mutate all of them), so a single mutex guards them together.
package bridge

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultCommandTimeout is the window a dispatched command waits for its
// response before the correlator rejects it.
const DefaultCommandTimeout = 30 * time.Second

// CommandRecord is the audit entry for one settled command.
type CommandRecord struct {
	ID       string
	Browser  BrowserType
	Action   string
	Status   string // "ok", "error", "timeout"
	Error    string
	Duration time.Duration
	At       time.Time
}

// Recorder persists settled commands. Implementations must tolerate being
// called from concurrent facade goroutines.
type Recorder interface {
	RecordCommand(CommandRecord)
}

// BrowserStatus is one entry of the registry snapshot. Connected mirrors
// presence in the registry: a peer that drops is evicted by its read loop,
// so an entry never lingers in a disconnected state.
type BrowserStatus struct {
	Type      BrowserType `json:"type"`
	Name      string      `json:"name"`
	Connected bool        `json:"connected"`
}

// Hub owns all mutable bridge state.
type Hub struct {
	mu          sync.Mutex
	conns       map[BrowserType]*Conn
	defaultType BrowserType // "" when no connection exists
	pending     map[string]*pendingCommand
	seq         uint64

	timeout  time.Duration
	feed     *Feed
	recorder Recorder
}

// NewHub creates a hub with the given command timeout. A timeout of zero
// falls back to DefaultCommandTimeout.
func NewHub(timeout time.Duration) *Hub {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Hub{
		conns:   make(map[BrowserType]*Conn),
		pending: make(map[string]*pendingCommand),
		timeout: timeout,
		feed:    NewFeed(),
	}
}

// SetRecorder wires a command audit store. Call before serving.
func (h *Hub) SetRecorder(r Recorder) { h.recorder = r }

// Feed exposes the bridge event feed for observers.
func (h *Hub) Feed() *Feed { return h.feed }

// register installs conn as the single connection for its family, evicting
// (and closing) any prior one, and makes the new family the default target.
// Most recently identified wins; this is deliberately not activity-based.
func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	prior := h.conns[conn.Type]
	h.conns[conn.Type] = conn
	h.defaultType = conn.Type
	h.mu.Unlock()

	if prior != nil && prior != conn {
		// The evicted socket's own read loop sees the close and runs its
		// disconnect handling; unregister there is identity-checked so it
		// cannot remove the replacement.
		_ = prior.Close()
		slog.Info("evicted prior browser connection", "browser", conn.Type)
	}

	h.feed.Publish(Event{Type: EventConnected, Browser: string(conn.Type), Name: conn.Name()})
	h.feed.Publish(Event{Type: EventDefaultChanged, Browser: string(conn.Type)})
}

// unregister removes conn if it is still the registered connection for its
// family, reassigning the default target when it pointed at conn. Pending
// commands tied to conn are left to their timeouts; see DESIGN.md.
func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	if h.conns[conn.Type] != conn {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn.Type)
	defaultChanged := false
	if h.defaultType == conn.Type {
		h.defaultType = ""
		for t := range h.conns { // arbitrary remaining key; order is a non-guarantee
			h.defaultType = t
			break
		}
		defaultChanged = true
	}
	newDefault := h.defaultType
	h.mu.Unlock()

	h.feed.Publish(Event{Type: EventDisconnected, Browser: string(conn.Type), Name: conn.Name()})
	if defaultChanged {
		h.feed.Publish(Event{Type: EventDefaultChanged, Browser: string(newDefault)})
	}
	slog.Info("browser disconnected", "browser", conn.Type, "default", newDefault)
}

// Conn returns the live connection for a family.
func (h *Hub) Conn(t BrowserType) (*Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[t]
	return c, ok
}

// Browsers returns a snapshot of every registered connection, sorted by
// family for stable output. Order is not part of the contract.
func (h *Hub) Browsers() []BrowserStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]BrowserStatus, 0, len(h.conns))
	for _, c := range h.conns {
		// Connected is synonymous with presence: a dropped peer is evicted
		// by its read loop before a snapshot could observe it half-dead.
		out = append(out, BrowserStatus{Type: c.Type, Name: c.Name(), Connected: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// DefaultBrowser returns the current default target family, or "" if none.
func (h *Hub) DefaultBrowser() BrowserType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.defaultType
}

// SetDefault explicitly repoints the default target. The family must be
// connected; the default may never reference an absent connection.
func (h *Hub) SetDefault(t BrowserType) error {
	h.mu.Lock()
	if _, ok := h.conns[t]; !ok {
		err := &RoutingError{Requested: t, Connected: h.connectedLocked()}
		h.mu.Unlock()
		return err
	}
	h.defaultType = t
	h.mu.Unlock()
	h.feed.Publish(Event{Type: EventDefaultChanged, Browser: string(t)})
	return nil
}

// connectedLocked lists registered families. Caller holds h.mu.
func (h *Hub) connectedLocked() []BrowserType {
	out := make([]BrowserType, 0, len(h.conns))
	for t := range h.conns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CloseAll closes every registered connection. Used on shutdown; each read
// loop unwinds through its normal disconnect path.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
