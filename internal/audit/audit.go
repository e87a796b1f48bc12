// Package audit records every breach, enforcement, and suppression as a
// structured entry. Entries go three places: the structured log, an
// in-memory ring the admin API serves, and an optional durable sink.
package audit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"riskguard/internal/domain"
)

// Outcome classifies what happened to the recorded decision.
const (
	OutcomeBreach     = "breach"
	OutcomeEnforced   = "enforced"
	OutcomeFailed     = "failed"
	OutcomeSuppressed = "suppressed"
	OutcomeCleared    = "cleared"
	OutcomeReset      = "reset"
)

// Entry is one audit record.
type Entry struct {
	ID      string           `json:"id"`
	Time    time.Time        `json:"time"`
	Account domain.AccountID `json:"account"`
	Event   string           `json:"event,omitempty"`
	Rule    string           `json:"rule,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Action  string           `json:"action,omitempty"`
	Outcome string           `json:"outcome"`
	Detail  string           `json:"detail,omitempty"`
}

// Sink receives entries for durable storage.
type Sink interface {
	AppendAudit(e Entry) error
}

// Recorder assigns IDs, logs, buffers, and forwards entries. Safe for
// concurrent use.
type Recorder struct {
	log  *slog.Logger
	sink Sink

	mu   sync.Mutex
	seq  uint64
	ring []Entry
	next int
	full bool
}

// NewRecorder creates a Recorder keeping the most recent ringSize entries in
// memory. sink may be nil.
func NewRecorder(log *slog.Logger, sink Sink, ringSize int) *Recorder {
	if ringSize <= 0 {
		ringSize = 1024
	}
	return &Recorder{
		log:  log,
		sink: sink,
		ring: make([]Entry, ringSize),
	}
}

// Record completes and stores the entry, returning it with ID and Time set.
func (r *Recorder) Record(e Entry) Entry {
	r.mu.Lock()
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	r.seq++
	e.ID = fmt.Sprintf("%d-%06d", e.Time.UnixMilli(), r.seq)

	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	r.log.Info("audit",
		"id", e.ID,
		"account", e.Account,
		"rule", e.Rule,
		"outcome", e.Outcome,
		"reason", e.Reason,
		"action", e.Action,
		"detail", e.Detail,
	)

	if r.sink != nil {
		if err := r.sink.AppendAudit(e); err != nil {
			r.log.Error("audit sink append failed", "id", e.ID, "error", err)
		}
	}
	return e
}

// Recent returns up to n entries, newest first.
func (r *Recorder) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}
