package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/datagram1/mcp-eyes-sub000/internal/bridge"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []bridge.CommandRecord{
		{ID: "cmd_1", Browser: bridge.BrowserFirefox, Action: "getTabs", Status: "ok", Duration: 40 * time.Millisecond, At: base},
		{ID: "cmd_2", Browser: bridge.BrowserChrome, Action: "navigate", Status: "error", Error: "tab not found", Duration: 10 * time.Millisecond, At: base.Add(time.Second)},
		{ID: "cmd_3", Browser: bridge.BrowserFirefox, Action: "getPageInfo", Status: "timeout", Error: "no response", Duration: 30 * time.Second, At: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		s.RecordCommand(rec)
	}

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	// Newest first.
	if got[0].ID != "cmd_3" || got[2].ID != "cmd_1" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[0].Status != "timeout" || got[0].Error == "" {
		t.Errorf("entry = %+v", got[0])
	}
	if got[2].DurationMs != 40 {
		t.Errorf("durationMs = %d", got[2].DurationMs)
	}
}

func TestStore_RecentLimit(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 5; i++ {
		s.RecordCommand(bridge.CommandRecord{
			ID:      "cmd_" + string(rune('a'+i)),
			Browser: bridge.BrowserChrome,
			Action:  "getTabs",
			Status:  "ok",
			At:      time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	got, err := s.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d entries, want 2", len(got))
	}
}

func TestStore_DuplicateIDIgnored(t *testing.T) {
	s := openTestStore(t)
	rec := bridge.CommandRecord{ID: "cmd_1", Browser: bridge.BrowserEdge, Action: "getTabs", Status: "ok", At: time.Now()}
	s.RecordCommand(rec)
	s.RecordCommand(rec)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d entries, want 1", len(got))
	}
}
