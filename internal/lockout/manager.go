// Package lockout tracks active lockouts and named cooldown/grace timers per
// account, swept at a fixed one-second cadence. Expiries live in a min-heap
// so a sweep touches only due entries instead of scanning every account.
package lockout

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"riskguard/internal/domain"
)

// SweepInterval is the cadence of the background expiry sweep.
const SweepInterval = time.Second

// TimerKey identifies a named per-account timer.
type TimerKey struct {
	Account domain.AccountID
	Purpose string
}

type timer struct {
	key  TimerKey
	at   time.Time
	fire func()
}

type expiryEntry struct {
	at      time.Time
	account domain.AccountID
	// timer is zero-valued for lockout entries.
	timer TimerKey
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int           { return len(h) }
func (h expiryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h expiryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)        { *h = append(*h, x.(expiryEntry)) }

func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Manager owns lockout and timer state. Callbacks registered by the engine
// run outside the manager's lock and are expected to re-enter the account's
// sequential execution context themselves.
type Manager struct {
	log       *slog.Logger
	onCleared func(domain.Lockout)

	mu       sync.Mutex
	lockouts map[domain.AccountID]domain.Lockout
	timers   map[TimerKey]*timer
	heap     expiryHeap
}

// NewManager creates a Manager. onCleared (may be nil) is invoked after the
// sweep clears an expired lockout.
func NewManager(log *slog.Logger, onCleared func(domain.Lockout)) *Manager {
	return &Manager{
		log:       log,
		onCleared: onCleared,
		lockouts:  make(map[domain.AccountID]domain.Lockout),
		timers:    make(map[TimerKey]*timer),
	}
}

// Set applies a lockout, merging with any active one: the expiry only ever
// extends, and the reason is overwritten only by an equal or higher
// severity. Returns the effective lockout.
func (m *Manager) Set(l domain.Lockout) domain.Lockout {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.lockouts[l.Account]
	if !ok {
		m.lockouts[l.Account] = l
		if !l.UntilReset {
			heap.Push(&m.heap, expiryEntry{at: l.Expiry, account: l.Account})
		}
		m.log.Info("lockout set", "account", l.Account, "reason", l.Reason, "severity", l.Severity.String(), "until_reset", l.UntilReset, "expiry", l.Expiry)
		return l
	}

	merged := cur
	if l.UntilReset {
		merged.UntilReset = true
	}
	if l.Expiry.After(merged.Expiry) {
		merged.Expiry = l.Expiry
	}
	if l.Severity >= merged.Severity {
		merged.Reason = l.Reason
		merged.Severity = l.Severity
	}
	merged.SetAt = l.SetAt
	m.lockouts[l.Account] = merged
	if !merged.UntilReset && merged.Expiry.After(cur.Expiry) {
		// Stale heap entries for the old expiry are skipped lazily.
		heap.Push(&m.heap, expiryEntry{at: merged.Expiry, account: l.Account})
	}
	m.log.Info("lockout extended", "account", l.Account, "reason", merged.Reason, "severity", merged.Severity.String(), "expiry", merged.Expiry)
	return merged
}

// Active returns the account's lockout if one is in force at time now.
func (m *Manager) Active(id domain.AccountID, now time.Time) (domain.Lockout, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lockouts[id]
	if !ok || !l.Active(now) {
		return domain.Lockout{}, false
	}
	return l, true
}

// StartTimer schedules (or reschedules) a named one-shot timer for the
// account. fire runs from the sweep goroutine.
func (m *Manager) StartTimer(id domain.AccountID, purpose string, d time.Duration, now time.Time, fire func()) {
	key := TimerKey{Account: id, Purpose: purpose}
	at := now.Add(d)

	m.mu.Lock()
	m.timers[key] = &timer{key: key, at: at, fire: fire}
	heap.Push(&m.heap, expiryEntry{at: at, account: id, timer: key})
	m.mu.Unlock()
}

// CancelTimer drops a named timer if present.
func (m *Manager) CancelTimer(id domain.AccountID, purpose string) {
	m.mu.Lock()
	delete(m.timers, TimerKey{Account: id, Purpose: purpose})
	m.mu.Unlock()
}

// CancelAccount discards the account's lockout and all of its timers
// (account removed from monitoring).
func (m *Manager) CancelAccount(id domain.AccountID) {
	m.mu.Lock()
	delete(m.lockouts, id)
	for key := range m.timers {
		if key.Account == id {
			delete(m.timers, key)
		}
	}
	m.mu.Unlock()
}

// ClearDaily clears an until-reset lockout at the daily reset. Timed
// lockouts that outlive the reset (hard locks) are kept.
func (m *Manager) ClearDaily(id domain.AccountID, now time.Time) {
	m.mu.Lock()
	l, ok := m.lockouts[id]
	if ok && (l.UntilReset || !l.Active(now)) {
		delete(m.lockouts, id)
	} else {
		ok = false
	}
	m.mu.Unlock()

	if ok {
		m.log.Info("lockout cleared by daily reset", "account", id, "reason", l.Reason)
		if m.onCleared != nil {
			m.onCleared(l)
		}
	}
}

// Sweep clears expired lockouts and fires due timers. Called by Run every
// second; exposed for tests.
func (m *Manager) Sweep(now time.Time) {
	var cleared []domain.Lockout
	var due []*timer

	m.mu.Lock()
	for len(m.heap) > 0 && !m.heap[0].at.After(now) {
		e := heap.Pop(&m.heap).(expiryEntry)

		if e.timer != (TimerKey{}) {
			t, ok := m.timers[e.timer]
			if ok && !t.at.After(now) {
				delete(m.timers, e.timer)
				due = append(due, t)
			}
			continue
		}

		l, ok := m.lockouts[e.account]
		// Lazy deletion: the entry is stale if the lockout was extended,
		// replaced by until-reset, or already cleared.
		if ok && !l.UntilReset && !l.Expiry.After(now) {
			delete(m.lockouts, e.account)
			cleared = append(cleared, l)
		}
	}
	m.mu.Unlock()

	for _, l := range cleared {
		m.log.Info("lockout cleared", "account", l.Account, "reason", l.Reason)
		if m.onCleared != nil {
			m.onCleared(l)
		}
	}
	for _, t := range due {
		t.fire()
	}
}

// Run sweeps at SweepInterval until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Snapshot returns all active lockouts at time now.
func (m *Manager) Snapshot(now time.Time) []domain.Lockout {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Lockout, 0, len(m.lockouts))
	for _, l := range m.lockouts {
		if l.Active(now) {
			out = append(out, l)
		}
	}
	return out
}
