// Package pairing defines the pairing flow contract: unknown senders
// receive a one-time code, an operator approves it out of band, and the
// sender's next message resolves as allowed.
package pairing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a code does not match any pending request.
var ErrNotFound = errors.New("pairing: request not found")

// Status of a pairing request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
)

// Request is one sender's pairing state on a channel.
type Request struct {
	Code       string
	Channel    string
	ExternalID string
	ChatID     string
	Username   string
	Status     Status
	CreatedAt  time.Time
	ApprovedAt time.Time
}

// Store persists pairing requests. It is the source of truth for both
// "already has an outstanding code" and "is paired"; no TTL or expiry is
// modeled here.
type Store interface {
	// IsPaired reports whether the sender has an approved entry.
	IsPaired(ctx context.Context, channel, externalID string) (bool, error)

	// Request creates a pairing request for the sender or returns the
	// outstanding one. created is true only when a new code was issued;
	// callers send the pairing-code reply exactly on that transition.
	Request(ctx context.Context, req Request) (code string, created bool, err error)

	// Approve marks the request with the given code as approved and
	// returns it, so the caller can notify the now-paired chat.
	// Returns ErrNotFound when no pending request carries the code.
	Approve(ctx context.Context, code string) (Request, error)

	// List returns all requests for a channel, newest first.
	List(ctx context.Context, channel string) ([]Request, error)

	// AllowEntries returns the external ids of all approved senders on a
	// channel, for merging into access allow sets.
	AllowEntries(ctx context.Context, channel string) ([]string, error)
}

// NewCode generates an 8-character uppercase pairing code.
func NewCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
}
