package web

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, 200, map[string]any{"ok": true})

	if w.Code != 200 {
		t.Errorf("code = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, 500, errors.New("boom"))

	if w.Code != 500 {
		t.Errorf("code = %d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if body["error"] != "boom" {
		t.Errorf(`error = %q`, body["error"])
	}
}

func TestStatusWriter(t *testing.T) {
	w := httptest.NewRecorder()
	sw := &StatusWriter{ResponseWriter: w, Code: 200}

	sw.WriteHeader(404)
	if sw.Code != 404 {
		t.Errorf("code = %d", sw.Code)
	}
	if _, _, err := sw.Hijack(); err == nil {
		t.Error("Hijack on a recorder should fail")
	}
}
