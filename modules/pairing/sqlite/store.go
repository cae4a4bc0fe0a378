package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tgrelay/tgrelay/internal/pairing"
)

// store implements pairing.Store backed by SQLite.
type store struct {
	db *sql.DB
}

// IsPaired reports whether the sender has an approved entry.
func (s *store) IsPaired(ctx context.Context, channel, externalID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM pairing_requests WHERE channel = ? AND external_id = ? AND status = ?`,
		channel, externalID, pairing.StatusApproved,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pairing sqlite: lookup: %w", err)
	}
	return true, nil
}

// Request returns the outstanding code for the sender, creating one when
// none exists. The (channel, external_id) primary key makes resends
// idempotent: the existing row wins and created stays false.
func (s *store) Request(ctx context.Context, req pairing.Request) (string, bool, error) {
	var code string
	err := s.db.QueryRowContext(ctx,
		`SELECT code FROM pairing_requests WHERE channel = ? AND external_id = ?`,
		req.Channel, req.ExternalID,
	).Scan(&code)
	if err == nil {
		return code, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("pairing sqlite: lookup request: %w", err)
	}

	code = pairing.NewCode()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pairing_requests (channel, external_id, code, chat_id, username, status)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel, external_id) DO NOTHING`,
		req.Channel, req.ExternalID, code, req.ChatID, req.Username, pairing.StatusPending,
	)
	if err != nil {
		return "", false, fmt.Errorf("pairing sqlite: insert request: %w", err)
	}

	// A concurrent insert may have won the conflict; re-read the row so
	// every caller sees the same code.
	var stored string
	if err := s.db.QueryRowContext(ctx,
		`SELECT code FROM pairing_requests WHERE channel = ? AND external_id = ?`,
		req.Channel, req.ExternalID,
	).Scan(&stored); err != nil {
		return "", false, fmt.Errorf("pairing sqlite: reread request: %w", err)
	}
	return stored, stored == code, nil
}

// Approve marks a pending request as approved and returns it.
func (s *store) Approve(ctx context.Context, code string) (pairing.Request, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pairing_requests
		 SET status = ?, approved_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		 WHERE code = ? AND status = ?`,
		pairing.StatusApproved, code, pairing.StatusPending,
	)
	if err != nil {
		return pairing.Request{}, fmt.Errorf("pairing sqlite: approve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return pairing.Request{}, fmt.Errorf("pairing sqlite: approve: %w", err)
	}
	if n == 0 {
		return pairing.Request{}, pairing.ErrNotFound
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT channel, external_id, code, chat_id, username, status, created_at, approved_at
		 FROM pairing_requests WHERE code = ?`, code)
	return scanRequest(row)
}

// List returns all requests for a channel, newest first.
func (s *store) List(ctx context.Context, channel string) ([]pairing.Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel, external_id, code, chat_id, username, status, created_at, approved_at
		 FROM pairing_requests WHERE channel = ? ORDER BY created_at DESC`, channel)
	if err != nil {
		return nil, fmt.Errorf("pairing sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []pairing.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// AllowEntries returns the external ids of all approved senders.
func (s *store) AllowEntries(ctx context.Context, channel string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM pairing_requests WHERE channel = ? AND status = ?`,
		channel, pairing.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("pairing sqlite: allow entries: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pairing sqlite: scan entry: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (pairing.Request, error) {
	var req pairing.Request
	var status, createdAt, approvedAt string
	if err := row.Scan(&req.Channel, &req.ExternalID, &req.Code, &req.ChatID, &req.Username, &status, &createdAt, &approvedAt); err != nil {
		return pairing.Request{}, fmt.Errorf("pairing sqlite: scan request: %w", err)
	}
	req.Status = pairing.Status(status)
	req.CreatedAt = parseTime(createdAt)
	req.ApprovedAt = parseTime(approvedAt)
	return req, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
