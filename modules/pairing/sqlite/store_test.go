package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tgrelay/tgrelay/internal/pairing"
)

func openTestStore(t *testing.T) *store {
	t.Helper()
	cfg := Config{Path: filepath.Join(t.TempDir(), "pairing.db")}
	cfg.defaults()
	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &store{db: db}
}

func TestStore_RequestIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := pairing.Request{Channel: "telegram", ExternalID: "555", ChatID: "555", Username: "newcomer"}

	code1, created, err := s.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !created {
		t.Error("first request should create a code")
	}
	if len(code1) != 8 {
		t.Errorf("code length = %d, want 8", len(code1))
	}

	code2, created, err := s.Request(ctx, req)
	if err != nil {
		t.Fatalf("Request resend: %v", err)
	}
	if created {
		t.Error("resend must not create a new code")
	}
	if code2 != code1 {
		t.Errorf("resend code = %q, want the outstanding %q", code2, code1)
	}
}

func TestStore_ApproveTransitionsToPaired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, _, err := s.Request(ctx, pairing.Request{Channel: "telegram", ExternalID: "555", ChatID: "900"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	paired, err := s.IsPaired(ctx, "telegram", "555")
	if err != nil || paired {
		t.Fatalf("IsPaired before approve = (%v, %v), want false", paired, err)
	}

	req, err := s.Approve(ctx, code)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if req.Status != pairing.StatusApproved {
		t.Errorf("status = %s, want approved", req.Status)
	}
	if req.ChatID != "900" {
		t.Errorf("chat id = %q, want 900 for the approval notification", req.ChatID)
	}
	if req.ApprovedAt.IsZero() {
		t.Error("approved_at not recorded")
	}

	paired, err = s.IsPaired(ctx, "telegram", "555")
	if err != nil || !paired {
		t.Errorf("IsPaired after approve = (%v, %v), want true", paired, err)
	}
}

func TestStore_ApproveUnknownCode(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Approve(context.Background(), "NOPE1234"); !errors.Is(err, pairing.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_ApproveIsTerminal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	code, _, err := s.Request(ctx, pairing.Request{Channel: "telegram", ExternalID: "555"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := s.Approve(ctx, code); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	// A second approval of the same code finds no pending request.
	if _, err := s.Approve(ctx, code); !errors.Is(err, pairing.ErrNotFound) {
		t.Errorf("second approve err = %v, want ErrNotFound", err)
	}
}

func TestStore_AllowEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	codeA, _, _ := s.Request(ctx, pairing.Request{Channel: "telegram", ExternalID: "1"})
	_, _, _ = s.Request(ctx, pairing.Request{Channel: "telegram", ExternalID: "2"})
	codeC, _, _ := s.Request(ctx, pairing.Request{Channel: "other", ExternalID: "3"})

	if _, err := s.Approve(ctx, codeA); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := s.Approve(ctx, codeC); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	entries, err := s.AllowEntries(ctx, "telegram")
	if err != nil {
		t.Fatalf("AllowEntries: %v", err)
	}
	if len(entries) != 1 || entries[0] != "1" {
		t.Errorf("entries = %v, want only the approved telegram sender", entries)
	}
}

func TestStore_List(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, _ = s.Request(ctx, pairing.Request{Channel: "telegram", ExternalID: "1", Username: "alice"})
	_, _, _ = s.Request(ctx, pairing.Request{Channel: "telegram", ExternalID: "2", Username: "bob"})

	reqs, err := s.List(ctx, "telegram")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("len = %d, want 2", len(reqs))
	}
	for _, r := range reqs {
		if r.Status != pairing.StatusPending {
			t.Errorf("status = %s, want pending", r.Status)
		}
		if r.CreatedAt.IsZero() {
			t.Error("created_at not recorded")
		}
	}
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	cfg := Config{Path: filepath.Join(t.TempDir(), "pairing.db")}
	cfg.defaults()
	db, err := openDB(cfg)
	if err != nil {
		t.Fatalf("openDB: %v", err)
	}
	if err := migrate(db); err != nil {
		t.Errorf("second migrate: %v", err)
	}
	_ = db.Close()

	// Reopening applies PRAGMAs and migration again.
	db, err = openDB(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = db.Close()
}
