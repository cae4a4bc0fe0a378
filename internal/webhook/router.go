// Package webhook routes inbound platform webhook requests to the account
// that registered the matching path, after verifying the request credential.
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/tgrelay/tgrelay/internal/telegram"
)

// maxBodyBytes caps the webhook request body. Telegram updates are far
// smaller; anything larger is rejected with 413 before parsing.
const maxBodyBytes = 1 << 20

// Target is a runtime registration binding a normalized path to one account.
// Multiple targets may share a path; the first one whose credential check
// passes wins.
type Target struct {
	// AccountID identifies the owning account, for logs and status.
	AccountID string

	// Path is the webhook path. It is normalized at registration time.
	Path string

	// Secret is the inbound credential. Empty means every request passes
	// (explicit opt-in to insecure mode).
	Secret string

	// Handle processes one verified update. The registry invokes it on its
	// own goroutine after the HTTP response has been written — processing
	// outcomes are only observable via logs and status, never via the
	// webhook response.
	Handle func(ctx context.Context, update *telegram.Update)
}

// Registry is the process-wide path→targets table. Lookups take a snapshot
// of the target list; Register and Unregister are the only mutations.
type Registry struct {
	mu      sync.RWMutex
	targets map[string][]*Target
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		targets: make(map[string][]*Target),
		logger:  logger,
	}
}

// NormalizePath ensures a leading slash and strips a single trailing slash.
// The empty path maps to "/". Idempotent.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// Register adds a target under its normalized path and returns a function
// that removes exactly this registration.
func (r *Registry) Register(t *Target) (unregister func()) {
	t.Path = NormalizePath(t.Path)

	r.mu.Lock()
	r.targets[t.Path] = append(r.targets[t.Path], t)
	r.mu.Unlock()

	r.logger.Info("webhook target registered", "path", t.Path, "account", t.AccountID)

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.targets[t.Path]
		for i, existing := range list {
			if existing == t {
				r.targets[t.Path] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(r.targets[t.Path]) == 0 {
			delete(r.targets, t.Path)
		}
	}
}

// lookup returns a snapshot of the targets registered under the normalized path.
func (r *Registry) lookup(path string) []*Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.targets[path]
	if len(list) == 0 {
		return nil
	}
	snapshot := make([]*Target, len(list))
	copy(snapshot, list)
	return snapshot
}

// Handle offers the request to the registry. It returns false when no target
// is registered under the request path, in which case the caller must fall
// through to its other handlers — the registry never assumes it owns all
// traffic. When it returns true a response has been written.
//
// The 200 response is sent as soon as the credential check passes; update
// processing continues asynchronously on the selected target.
func (r *Registry) Handle(w http.ResponseWriter, req *http.Request) bool {
	path := NormalizePath(req.URL.Path)
	targets := r.lookup(path)
	if len(targets) == 0 {
		return false
	}

	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return true
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return true
	}
	if len(body) > maxBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return true
	}

	var update telegram.Update
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return true
	}
	if update.UpdateID == nil {
		http.Error(w, "missing update_id", http.StatusBadRequest)
		return true
	}

	// Tenant ambiguity on a shared path is resolved by the first target
	// whose credential check passes, in registration order.
	var selected *Target
	for _, t := range targets {
		if VerifySecret(req, t.Secret) {
			selected = t
			break
		}
	}
	if selected == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("{}"))

	r.logger.Debug("webhook update accepted",
		"path", path,
		"account", selected.AccountID,
		"update_id", *update.UpdateID,
	)

	// Fire-and-forget: the webhook contract ends at the 200 above.
	go selected.Handle(context.WithoutCancel(req.Context()), &update)

	return true
}
