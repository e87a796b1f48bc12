// Package quotes tracks the most recent market price per instrument with a
// staleness horizon, plus open-interest refcounts that tell the feed layer
// when an instrument no longer needs a subscription.
package quotes

import (
	"sync"
	"time"

	"riskguard/internal/domain"
)

// Status classifies the result of a quote lookup. Callers must branch on it;
// a stale or missing quote is never usable as a zero price.
type Status int

const (
	StatusFresh Status = iota
	StatusStale
	StatusMissing
)

func (s Status) String() string {
	switch s {
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	case StatusMissing:
		return "missing"
	}
	return "unknown"
}

// Tracker is a last-write-wins per-instrument quote store.
type Tracker struct {
	mu       sync.RWMutex
	quotes   map[string]domain.Quote
	interest map[string]int
	maxAge   time.Duration
}

// NewTracker creates a Tracker with the given default staleness horizon.
func NewTracker(maxAge time.Duration) *Tracker {
	return &Tracker{
		quotes:   make(map[string]domain.Quote),
		interest: make(map[string]int),
		maxAge:   maxAge,
	}
}

// Update records a quote. Last write wins per instrument; an older timestamp
// never overwrites a newer one (out-of-order delivery).
func (t *Tracker) Update(q domain.Quote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.quotes[q.Instrument]; ok && q.Timestamp.Before(prev.Timestamp) {
		return
	}
	t.quotes[q.Instrument] = q
}

// Get returns the quote for the instrument and its freshness classified
// against maxAge at time now.
func (t *Tracker) Get(instrument string, maxAge time.Duration, now time.Time) (domain.Quote, Status) {
	t.mu.RLock()
	q, ok := t.quotes[instrument]
	t.mu.RUnlock()
	if !ok {
		return domain.Quote{}, StatusMissing
	}
	if now.Sub(q.Timestamp) > maxAge {
		return q, StatusStale
	}
	return q, StatusFresh
}

// Fresh returns the quote only if it is within the tracker's default
// staleness horizon at time now.
func (t *Tracker) Fresh(instrument string, now time.Time) (domain.Quote, bool) {
	q, st := t.Get(instrument, t.maxAge, now)
	return q, st == StatusFresh
}

// AddOpenInterest notes that an account opened a position in the instrument.
func (t *Tracker) AddOpenInterest(instrument string) {
	t.mu.Lock()
	t.interest[instrument]++
	t.mu.Unlock()
}

// ReleaseOpenInterest notes that a position in the instrument closed.
func (t *Tracker) ReleaseOpenInterest(instrument string) {
	t.mu.Lock()
	if n := t.interest[instrument]; n > 1 {
		t.interest[instrument] = n - 1
	} else {
		delete(t.interest, instrument)
	}
	t.mu.Unlock()
}

// HasOpenInterest reports whether any account still holds a position in the
// instrument. The realtime transport uses this to decide when to
// unsubscribe.
func (t *Tracker) HasOpenInterest(instrument string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.interest[instrument] > 0
}

// Instruments returns all instruments with open interest.
func (t *Tracker) Instruments() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.interest))
	for in := range t.interest {
		out = append(out, in)
	}
	return out
}
