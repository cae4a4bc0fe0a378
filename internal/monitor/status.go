package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/tgrelay/tgrelay/internal/rpc"
)

// Status is one account's observable state for the status endpoint.
type Status struct {
	AccountID   string           `json:"account_id"`
	BotName     string           `json:"bot_name,omitempty"`
	WebhookPath string           `json:"webhook_path"`
	Updates     int64            `json:"updates"`
	Accepted    int64            `json:"accepted"`
	Rejected    int64            `json:"rejected"`
	LastUpdate  time.Time        `json:"last_update,omitzero"`
	LastError   string           `json:"last_error,omitempty"`
	LastErrorAt time.Time        `json:"last_error_at,omitzero"`
	Probe       *rpc.ProbeResult `json:"probe,omitempty"`
}

// StatusSink aggregates per-account counters and the latest error. All
// methods are safe for concurrent use; the pipeline writes from update
// goroutines while the status endpoint reads.
type StatusSink struct {
	mu       sync.Mutex
	accounts map[string]*Status
}

// NewStatusSink creates an empty sink.
func NewStatusSink() *StatusSink {
	return &StatusSink{accounts: make(map[string]*Status)}
}

// Track registers an account so it appears in snapshots before any
// update arrives.
func (s *StatusSink) Track(accountID, botName, webhookPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(accountID)
	st.BotName = botName
	st.WebhookPath = webhookPath
}

// RecordUpdate notes one received update.
func (s *StatusSink) RecordUpdate(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(accountID)
	st.Updates++
	st.LastUpdate = time.Now()
}

// RecordAccepted notes an update admitted by access control.
func (s *StatusSink) RecordAccepted(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(accountID).Accepted++
}

// RecordRejected notes a silently dropped update.
func (s *StatusSink) RecordRejected(accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(accountID).Rejected++
}

// RecordError notes a processing or delivery failure.
func (s *StatusSink) RecordError(accountID string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(accountID)
	st.LastError = err.Error()
	st.LastErrorAt = time.Now()
}

// RecordProbe stores the latest reachability probe outcome.
func (s *StatusSink) RecordProbe(accountID string, result rpc.ProbeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(accountID).Probe = &result
}

// Snapshot returns a copy of every tracked account's status.
func (s *StatusSink) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.accounts))
	for _, st := range s.accounts {
		copied := *st
		if st.Probe != nil {
			p := *st.Probe
			copied.Probe = &p
		}
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (s *StatusSink) get(accountID string) *Status {
	st, ok := s.accounts[accountID]
	if !ok {
		st = &Status{AccountID: accountID}
		s.accounts[accountID] = st
	}
	return st
}
