package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport records written envelopes and reports closes.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []*Envelope
	closed bool
}

func (f *fakeTransport) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	if e, ok := v.(*Envelope); ok {
		cp := *e
		f.sent = append(f.sent, &cp)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) lastSent() *Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func attach(h *Hub, t BrowserType, name string) (*Conn, *fakeTransport) {
	tr := &fakeTransport{}
	c := newConn(t, name, tr)
	h.register(c)
	return c, tr
}

func TestRegister_EvictsSameFamily(t *testing.T) {
	h := NewHub(time.Second)
	first, firstTr := attach(h, BrowserFirefox, "Firefox 119")
	second, _ := attach(h, BrowserFirefox, "Firefox 120")

	if !firstTr.isClosed() {
		t.Error("prior connection should be closed on re-identification")
	}

	got, ok := h.Conn(BrowserFirefox)
	if !ok || got != second {
		t.Fatal("registry should hold the newer connection")
	}

	// The evicted socket's disconnect handling must not remove the
	// replacement.
	h.unregister(first)
	if _, ok := h.Conn(BrowserFirefox); !ok {
		t.Error("stale unregister evicted the replacement connection")
	}

	list := h.Browsers()
	if len(list) != 1 {
		t.Fatalf("list has %d entries, want 1", len(list))
	}
	if list[0].Name != "Firefox 120" {
		t.Errorf("list name = %q", list[0].Name)
	}
}

func TestDefaultTarget_MostRecentlyIdentifiedWins(t *testing.T) {
	h := NewHub(time.Second)
	attach(h, BrowserFirefox, "Firefox")
	if h.DefaultBrowser() != BrowserFirefox {
		t.Fatalf("default = %s, want firefox", h.DefaultBrowser())
	}
	attach(h, BrowserChrome, "Chrome")
	if h.DefaultBrowser() != BrowserChrome {
		t.Fatalf("default = %s, want chrome", h.DefaultBrowser())
	}
}

func TestDefaultTarget_FallbackOnDisconnect(t *testing.T) {
	h := NewHub(time.Second)
	ff, _ := attach(h, BrowserFirefox, "Firefox")
	ch, _ := attach(h, BrowserChrome, "Chrome")
	// default=chrome (identified last)

	// Disconnecting a non-default connection leaves the default alone.
	h.unregister(ff)
	if h.DefaultBrowser() != BrowserChrome {
		t.Fatalf("default changed on non-default disconnect: %s", h.DefaultBrowser())
	}

	ff2, _ := attach(h, BrowserFirefox, "Firefox")
	// default=firefox now; drop it and expect chrome to take over.
	h.unregister(ff2)
	if h.DefaultBrowser() != BrowserChrome {
		t.Fatalf("default = %s, want chrome after fallback", h.DefaultBrowser())
	}

	h.unregister(ch)
	if h.DefaultBrowser() != "" {
		t.Fatalf("default = %s, want none with empty registry", h.DefaultBrowser())
	}
}

func TestSetDefault_RequiresConnection(t *testing.T) {
	h := NewHub(time.Second)
	attach(h, BrowserChrome, "Chrome")

	if err := h.SetDefault(BrowserChrome); err != nil {
		t.Fatalf("SetDefault(chrome) = %v", err)
	}

	err := h.SetDefault(BrowserSafari)
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("SetDefault(safari) = %v, want RoutingError", err)
	}
	if !strings.Contains(err.Error(), "chrome") {
		t.Errorf("routing error should name the connected set: %q", err)
	}
}

func TestSend_ExplicitTargetNeverFallsBack(t *testing.T) {
	h := NewHub(time.Second)
	attach(h, BrowserChrome, "Chrome") // healthy default

	_, err := h.Send(context.Background(), "firefox", "getTabs", nil)
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RoutingError", err)
	}
	if re.Requested != BrowserFirefox {
		t.Errorf("requested = %s", re.Requested)
	}

	if _, err := h.Send(context.Background(), "netscape", "getTabs", nil); !errors.As(err, &re) {
		t.Errorf("unparseable target should be a routing error, got %v", err)
	}
}

func TestSend_NoDefault(t *testing.T) {
	h := NewHub(time.Second)
	_, err := h.Send(context.Background(), "", "getTabs", nil)
	var re *RoutingError
	if !errors.As(err, &re) {
		t.Fatalf("err = %v, want RoutingError", err)
	}
}

func TestSend_ResolvedByResponse(t *testing.T) {
	h := NewHub(time.Second)
	_, tr := attach(h, BrowserFirefox, "Firefox")

	type out struct {
		payload json.RawMessage
		err     error
	}
	res := make(chan out, 1)
	go func() {
		p, err := h.Send(context.Background(), "", "getPageInfo", json.RawMessage(`{"tabId":1}`))
		res <- out{p, err}
	}()

	env := waitForSent(t, tr, "getPageInfo")
	if env.ID == "" || string(env.Payload) != `{"tabId":1}` {
		t.Fatalf("bad outbound envelope: %+v", env)
	}

	h.HandleResponse(BrowserFirefox, env.ID, json.RawMessage(`{"url":"https://x"}`), "")
	got := <-res
	if got.err != nil {
		t.Fatalf("Send returned %v", got.err)
	}
	if string(got.payload) != `{"url":"https://x"}` {
		t.Errorf("payload = %s", got.payload)
	}
	if h.PendingCount() != 0 {
		t.Errorf("pending = %d after settlement", h.PendingCount())
	}
}

func TestSend_ExtensionReportedError(t *testing.T) {
	h := NewHub(time.Second)
	_, tr := attach(h, BrowserChrome, "Chrome")

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Send(context.Background(), "chrome", "clickElement", nil)
		errCh <- err
	}()

	env := waitForSent(t, tr, "clickElement")
	h.HandleResponse(BrowserChrome, env.ID, nil, "element not found")

	err := <-errCh
	var ee *ExtensionError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExtensionError", err)
	}
	if err.Error() != "element not found" {
		t.Errorf("message not propagated verbatim: %q", err)
	}
}

func TestSend_TimeoutFiresOnceAndNamesTarget(t *testing.T) {
	h := NewHub(50 * time.Millisecond)
	_, tr := attach(h, BrowserFirefox, "Firefox")

	start := time.Now()
	_, err := h.Send(context.Background(), "", "getTabs", nil)
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
	if te.Browser != BrowserFirefox {
		t.Errorf("timeout names %s, want firefox", te.Browser)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("settled before the window: %v", elapsed)
	}

	// A response arriving after expiry must be a no-op: the id is retired.
	env := tr.lastSent()
	h.HandleResponse(BrowserFirefox, env.ID, json.RawMessage(`{}`), "")
	if h.PendingCount() != 0 {
		t.Errorf("pending = %d", h.PendingCount())
	}
}

func TestSend_DuplicateResponseIgnored(t *testing.T) {
	h := NewHub(time.Second)
	_, tr := attach(h, BrowserFirefox, "Firefox")

	done := make(chan struct{})
	go func() {
		_, _ = h.Send(context.Background(), "", "getTabs", nil)
		close(done)
	}()

	env := waitForSent(t, tr, "getTabs")
	h.HandleResponse(BrowserFirefox, env.ID, json.RawMessage(`{}`), "")
	<-done
	// Late duplicates: no panic, no double settlement.
	h.HandleResponse(BrowserFirefox, env.ID, json.RawMessage(`{}`), "")
	h.HandleResponse(BrowserFirefox, env.ID, nil, "late failure")
}

func TestSend_CorrelationIDsDistinct(t *testing.T) {
	h := NewHub(time.Second)
	_, tr := attach(h, BrowserFirefox, "Firefox")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.Send(context.Background(), "", "getTabs", nil)
		}()
	}

	// Wait for every command to hit the wire, then answer them all.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tr.mu.Lock()
		count := len(tr.sent)
		tr.mu.Unlock()
		if count >= n {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d commands sent", count, n)
		}
		time.Sleep(time.Millisecond)
	}

	tr.mu.Lock()
	seen := make(map[string]bool, n)
	ids := make([]string, 0, n)
	for _, e := range tr.sent {
		if seen[e.ID] {
			t.Errorf("duplicate correlation id %s", e.ID)
		}
		seen[e.ID] = true
		ids = append(ids, e.ID)
	}
	tr.mu.Unlock()

	for _, id := range ids {
		h.HandleResponse(BrowserFirefox, id, json.RawMessage(`{}`), "")
	}
	wg.Wait()
	if h.PendingCount() != 0 {
		t.Errorf("pending = %d", h.PendingCount())
	}
}

func TestDisconnect_PendingSurvivesUntilTimeout(t *testing.T) {
	h := NewHub(100 * time.Millisecond)
	conn, tr := attach(h, BrowserChrome, "Chrome")

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Send(context.Background(), "chrome", "getTabs", nil)
		errCh <- err
	}()
	waitForSent(t, tr, "getTabs")

	// Connection drops mid-flight: the command stays pending (no proactive
	// rejection) and only the timeout settles it.
	h.unregister(conn)
	if h.PendingCount() != 1 {
		t.Fatalf("pending = %d immediately after disconnect, want 1", h.PendingCount())
	}
	select {
	case err := <-errCh:
		t.Fatalf("settled before timeout: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	err := <-errCh
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want TimeoutError", err)
	}
}

func TestSend_ContextCancelRetiresPending(t *testing.T) {
	h := NewHub(time.Minute)
	_, tr := attach(h, BrowserChrome, "Chrome")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := h.Send(ctx, "", "getTabs", nil)
		errCh <- err
	}()
	waitForSent(t, tr, "getTabs")

	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if h.PendingCount() != 0 {
		t.Errorf("pending = %d after cancel", h.PendingCount())
	}
}

func waitForSent(t *testing.T, tr *fakeTransport, action string) *Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		tr.mu.Lock()
		for _, e := range tr.sent {
			if e.Action == action {
				tr.mu.Unlock()
				return e
			}
		}
		tr.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("command %s never sent", action)
	return nil
}
