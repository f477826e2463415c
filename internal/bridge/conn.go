package bridge

import (
	"sync"
	"sync/atomic"
	"time"
)

// transport is the writable half of a browser socket. *websocket.Conn
// satisfies it; tests substitute a recorder.
type transport interface {
	WriteJSON(v any) error
	Close() error
}

// Conn is the single live connection for one browser family. It exclusively
// owns its transport: closing the Conn closes the socket, and all outbound
// frames for this browser are serialized through it.
type Conn struct {
	Type        BrowserType
	ConnectedAt time.Time

	// name is the peer's display name. It can be refreshed by a duplicate
	// identify on a live socket while registry snapshots read it, so access
	// goes through Name/setName.
	nameMu sync.Mutex
	name   string

	tr      transport
	writeMu sync.Mutex

	lastActivity atomic.Int64 // unix nanos
	closed       atomic.Bool
}

func newConn(t BrowserType, name string, tr transport) *Conn {
	c := &Conn{
		Type:        t,
		ConnectedAt: time.Now(),
		name:        name,
		tr:          tr,
	}
	c.lastActivity.Store(c.ConnectedAt.UnixNano())
	return c
}

// Name returns the peer's current display name.
func (c *Conn) Name() string {
	c.nameMu.Lock()
	defer c.nameMu.Unlock()
	return c.name
}

func (c *Conn) setName(name string) {
	c.nameMu.Lock()
	c.name = name
	c.nameMu.Unlock()
}

// WriteEnvelope sends one JSON frame. Concurrent senders (the hub, the
// identify ack, the events path) are serialized on writeMu; gorilla conns
// allow only one writer at a time.
func (c *Conn) WriteEnvelope(e *Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.tr.WriteJSON(e)
}

// Close shuts the transport. The read loop on the other side of the socket
// observes the close and runs its own disconnect handling.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.tr.Close()
}

// Touch records inbound activity attributable to this connection.
func (c *Conn) Touch() { c.lastActivity.Store(time.Now().UnixNano()) }

// LastActivity returns the time of the most recent inbound message.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}
