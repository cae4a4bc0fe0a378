package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tgrelay/tgrelay/internal/telegram"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"tgrelay", "/tgrelay"},
		{"/tgrelay", "/tgrelay"},
		{"/tgrelay/", "/tgrelay"},
		{"tgrelay/", "/tgrelay"},
		{"/a/b", "/a/b"},
		{"/a/b/", "/a/b"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	// Idempotent: normalizing a normalized path is a no-op.
	for _, tt := range tests {
		if got := NormalizePath(tt.want); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, not idempotent", tt.want, got)
		}
	}
}

// handleRecorder collects updates dispatched to a target.
type handleRecorder struct {
	mu      sync.Mutex
	updates []*telegram.Update
	done    chan struct{}
}

func newHandleRecorder() *handleRecorder {
	return &handleRecorder{done: make(chan struct{}, 16)}
}

func (h *handleRecorder) handle(_ context.Context, update *telegram.Update) {
	h.mu.Lock()
	h.updates = append(h.updates, update)
	h.mu.Unlock()
	h.done <- struct{}{}
}

func (h *handleRecorder) wait(t *testing.T) *telegram.Update {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update dispatch")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.updates[len(h.updates)-1]
}

func (h *handleRecorder) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.updates)
}

func validUpdate() string {
	return `{"update_id":42,"message":{"message_id":1,"date":1700000000,"chat":{"id":100,"type":"private"},"text":"hello"}}`
}

func TestRegistry_UnknownPathFallsThrough(t *testing.T) {
	reg := NewRegistry(nil)

	req := httptest.NewRequest("POST", "/unknown", strings.NewReader(validUpdate()))
	w := httptest.NewRecorder()

	if reg.Handle(w, req) {
		t.Error("expected Handle to return false for unregistered path")
	}
	if w.Body.Len() != 0 {
		t.Errorf("expected no response written, got %q", w.Body.String())
	}
}

func TestRegistry_MethodNotAllowed(t *testing.T) {
	reg := NewRegistry(nil)
	rec := newHandleRecorder()
	reg.Register(&Target{AccountID: "a", Path: "/hook", Handle: rec.handle})

	for _, method := range []string{"GET", "PUT", "DELETE", "PATCH", "HEAD"} {
		req := httptest.NewRequest(method, "/hook", nil)
		w := httptest.NewRecorder()

		if !reg.Handle(w, req) {
			t.Fatalf("%s: expected Handle to claim the request", method)
		}
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: status = %d, want %d", method, w.Code, http.StatusMethodNotAllowed)
		}
		if allow := w.Header().Get("Allow"); allow != "POST" {
			t.Errorf("%s: Allow header = %q, want POST", method, allow)
		}
	}
	if rec.count() != 0 {
		t.Errorf("expected no dispatches, got %d", rec.count())
	}
}

func TestRegistry_PayloadTooLarge(t *testing.T) {
	reg := NewRegistry(nil)
	rec := newHandleRecorder()
	reg.Register(&Target{AccountID: "a", Path: "/hook", Handle: rec.handle})

	big := strings.Repeat("x", maxBodyBytes+1)
	req := httptest.NewRequest("POST", "/hook", strings.NewReader(big))
	w := httptest.NewRecorder()

	reg.Handle(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestRegistry_BadBody(t *testing.T) {
	reg := NewRegistry(nil)
	rec := newHandleRecorder()
	reg.Register(&Target{AccountID: "a", Path: "/hook", Handle: rec.handle})

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"invalid JSON", "{not json"},
		{"JSON array", `[1,2,3]`},
		{"missing update_id", `{"message":{"message_id":1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/hook", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			reg.Handle(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
	if rec.count() != 0 {
		t.Errorf("expected no dispatches for bad bodies, got %d", rec.count())
	}
}

func TestRegistry_AcceptsAndDispatches(t *testing.T) {
	reg := NewRegistry(nil)
	rec := newHandleRecorder()
	reg.Register(&Target{AccountID: "a", Path: "tgrelay/", Handle: rec.handle})

	// Registered as "tgrelay/", requested as "/tgrelay" — normalization
	// makes them the same key.
	req := httptest.NewRequest("POST", "/tgrelay", strings.NewReader(validUpdate()))
	w := httptest.NewRecorder()

	if !reg.Handle(w, req) {
		t.Fatal("expected Handle to claim the request")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := w.Body.String(); body != "{}" {
		t.Errorf("body = %q, want {}", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	update := rec.wait(t)
	if update.UpdateID == nil || *update.UpdateID != 42 {
		t.Errorf("dispatched update_id = %v, want 42", update.UpdateID)
	}
}

func TestRegistry_SecretRequired(t *testing.T) {
	reg := NewRegistry(nil)
	rec := newHandleRecorder()
	reg.Register(&Target{AccountID: "a", Path: "/hook", Secret: "s3cret", Handle: rec.handle})

	req := httptest.NewRequest("POST", "/hook", strings.NewReader(validUpdate()))
	w := httptest.NewRecorder()

	reg.Handle(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if rec.count() != 0 {
		t.Error("expected no dispatch for unauthorized request")
	}

	req = httptest.NewRequest("POST", "/hook", strings.NewReader(validUpdate()))
	req.Header.Set(secretHeader, "s3cret")
	w = httptest.NewRecorder()

	reg.Handle(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	rec.wait(t)
}

func TestRegistry_SharedPathSelectsBySecret(t *testing.T) {
	reg := NewRegistry(nil)
	recA := newHandleRecorder()
	recB := newHandleRecorder()
	reg.Register(&Target{AccountID: "a", Path: "/hook", Secret: "alpha", Handle: recA.handle})
	reg.Register(&Target{AccountID: "b", Path: "/hook", Secret: "beta", Handle: recB.handle})

	req := httptest.NewRequest("POST", "/hook", strings.NewReader(validUpdate()))
	req.Header.Set(secretHeader, "beta")
	w := httptest.NewRecorder()

	reg.Handle(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	recB.wait(t)
	if recA.count() != 0 {
		t.Error("expected first target not to receive the update")
	}
}

func TestRegistry_SharedPathFirstMatchWins(t *testing.T) {
	reg := NewRegistry(nil)
	recA := newHandleRecorder()
	recB := newHandleRecorder()
	// First target has no secret so it accepts everything, shadowing
	// the second one. Registration order decides.
	reg.Register(&Target{AccountID: "a", Path: "/hook", Handle: recA.handle})
	reg.Register(&Target{AccountID: "b", Path: "/hook", Secret: "beta", Handle: recB.handle})

	req := httptest.NewRequest("POST", "/hook", strings.NewReader(validUpdate()))
	req.Header.Set(secretHeader, "beta")
	w := httptest.NewRecorder()

	reg.Handle(w, req)
	recA.wait(t)
	if recB.count() != 0 {
		t.Error("expected second target to be shadowed by the open first target")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry(nil)
	rec := newHandleRecorder()
	unregister := reg.Register(&Target{AccountID: "a", Path: "/hook", Handle: rec.handle})

	unregister()

	req := httptest.NewRequest("POST", "/hook", strings.NewReader(validUpdate()))
	w := httptest.NewRecorder()
	if reg.Handle(w, req) {
		t.Error("expected Handle to fall through after unregister")
	}

	// Unregister is safe to call twice.
	unregister()
}

func TestRegistry_UnregisterRemovesOnlyItsTarget(t *testing.T) {
	reg := NewRegistry(nil)
	recA := newHandleRecorder()
	recB := newHandleRecorder()
	unregisterA := reg.Register(&Target{AccountID: "a", Path: "/hook", Secret: "alpha", Handle: recA.handle})
	reg.Register(&Target{AccountID: "b", Path: "/hook", Secret: "beta", Handle: recB.handle})

	unregisterA()

	req := httptest.NewRequest("POST", "/hook", strings.NewReader(validUpdate()))
	req.Header.Set(secretHeader, "beta")
	w := httptest.NewRecorder()

	if !reg.Handle(w, req) {
		t.Fatal("expected remaining target to still handle the path")
	}
	recB.wait(t)
}
