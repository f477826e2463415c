package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bridge lifecycle event types published on the feed.
const (
	EventConnected      = "connected"
	EventDisconnected   = "disconnected"
	EventDefaultChanged = "defaultChanged"
	EventCommand        = "command"
	EventResponse       = "response"
	EventBrowser        = "browserEvent"
)

// Event is one observable bridge occurrence, streamed to /events subscribers.
type Event struct {
	Type    string `json:"type"`
	Browser string `json:"browser,omitempty"`
	Name    string `json:"name,omitempty"`
	Action  string `json:"action,omitempty"`
	ID      string `json:"id,omitempty"`
	Detail  string `json:"detail,omitempty"`
	At      string `json:"at"`
}

// Feed fans bridge events out to subscribers. Slow subscribers drop events
// rather than stall the bridge.
type Feed struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]chan Event)}
}

// Subscribe registers an observer and returns its id and channel. The
// channel is closed on Unsubscribe.
func (f *Feed) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, 16)
	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()
	return id, ch
}

func (f *Feed) Unsubscribe(id string) {
	f.mu.Lock()
	ch, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	f.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish delivers ev to every subscriber, dropping it for full buffers.
func (f *Feed) Publish(ev Event) {
	if ev.At == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339Nano)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
