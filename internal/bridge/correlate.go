package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// pendingCommand is one in-flight command awaiting its response. Exactly one
// of {response, error response, timeout} settles it; settlement removes it
// from the pending set under the hub mutex, so later signals for the same id
// find nothing and are ignored.
type pendingCommand struct {
	id      string
	action  string
	browser BrowserType
	started time.Time
	timer   *time.Timer
	done    chan commandResult // buffered; settle never blocks
}

type commandResult struct {
	payload json.RawMessage
	err     error
}

// nextIDLocked mints a fresh correlation id. The counter is process-wide and
// monotonic, so collisions are structurally impossible. Caller holds h.mu.
func (h *Hub) nextIDLocked() string {
	h.seq++
	return fmt.Sprintf("cmd_%d", h.seq)
}

// resolveTarget picks the connection a command goes to. An explicit family
// must be connected — it never falls back to the default. An empty target
// uses the default, failing if the registry is empty.
func (h *Hub) resolveTarget(explicit string) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if explicit != "" {
		t, ok := ParseBrowserType(explicit)
		if !ok {
			return nil, &RoutingError{Requested: BrowserType(explicit), Connected: h.connectedLocked()}
		}
		c, ok := h.conns[t]
		if !ok {
			return nil, &RoutingError{Requested: t, Connected: h.connectedLocked()}
		}
		return c, nil
	}

	if h.defaultType == "" {
		return nil, &RoutingError{}
	}
	// Invariant: the default always names a registered family.
	return h.conns[h.defaultType], nil
}

// Send dispatches action+payload to the explicit target family (or the
// default when explicit is empty) and blocks until the command settles:
// a matching response, an extension-reported error, the timeout window
// elapsing, or ctx being canceled.
func (h *Hub) Send(ctx context.Context, explicit, action string, payload json.RawMessage) (json.RawMessage, error) {
	conn, err := h.resolveTarget(explicit)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	id := h.nextIDLocked()
	p := &pendingCommand{
		id:      id,
		action:  action,
		browser: conn.Type,
		started: time.Now(),
		done:    make(chan commandResult, 1),
	}
	p.timer = time.AfterFunc(h.timeout, func() {
		h.settle(id, nil, &TimeoutError{Browser: p.browser, Action: action, Window: h.timeout})
	})
	h.pending[id] = p
	h.mu.Unlock()

	env := &Envelope{ID: id, Action: action, Payload: payload}
	if err := conn.WriteEnvelope(env); err != nil {
		h.retire(id)
		return nil, fmt.Errorf("send %s to %s: %w", action, conn.Type, err)
	}

	h.feed.Publish(Event{Type: EventCommand, Browser: string(conn.Type), Action: action, ID: id})
	slog.Debug("command sent", "id", id, "action", action, "browser", conn.Type)

	select {
	case res := <-p.done:
		h.record(p, res.err)
		return res.payload, res.err
	case <-ctx.Done():
		h.retire(id)
		return nil, ctx.Err()
	}
}

// HandleResponse routes an inbound response envelope to its pending command.
// Unknown ids (already settled, already timed out) are logged and ignored.
func (h *Hub) HandleResponse(browser BrowserType, id string, payload json.RawMessage, errMsg string) {
	var err error
	if errMsg != "" {
		err = &ExtensionError{Browser: browser, Message: errMsg}
	}
	if !h.settle(id, payload, err) {
		slog.Debug("response for unknown command id", "id", id, "browser", browser)
	}
}

// settle retires the pending entry for id and delivers the outcome. Returns
// false when the id is no longer tracked.
func (h *Hub) settle(id string, payload json.RawMessage, err error) bool {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	p.done <- commandResult{payload: payload, err: err}
	h.feed.Publish(Event{Type: EventResponse, Browser: string(p.browser), Action: p.action, ID: id})
	return true
}

// retire drops a pending entry without delivering anything, for callers that
// stopped waiting (write failure, context cancellation).
func (h *Hub) retire(id string) {
	h.mu.Lock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()
	if ok {
		p.timer.Stop()
	}
}

// PendingCount reports in-flight commands.
func (h *Hub) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

func (h *Hub) record(p *pendingCommand, err error) {
	if h.recorder == nil {
		return
	}
	rec := CommandRecord{
		ID:       p.id,
		Browser:  p.browser,
		Action:   p.action,
		Status:   "ok",
		Duration: time.Since(p.started),
		At:       p.started,
	}
	switch err.(type) {
	case nil:
	case *TimeoutError:
		rec.Status = "timeout"
		rec.Error = err.Error()
	default:
		rec.Status = "error"
		rec.Error = err.Error()
	}
	h.recorder.RecordCommand(rec)
}
