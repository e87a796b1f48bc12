package config

import (
	"log/slog"
	"sync"
)

// SettingsStore holds the current rule settings with copy-on-read snapshots
// and pub/sub notification, so a reload swaps data without touching rule
// identity and never loses rule history (counters live in the state store).
type SettingsStore struct {
	mu    sync.RWMutex
	rules Rules
	log   *slog.Logger

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Rules
}

// NewSettingsStore creates a SettingsStore seeded with the given rules.
func NewSettingsStore(rules Rules, log *slog.Logger) *SettingsStore {
	return &SettingsStore{
		rules: rules,
		log:   log,
		subs:  make(map[int]chan Rules),
	}
}

// Snapshot returns the current rule settings. The returned value is a copy;
// map fields must not be mutated by callers.
func (s *SettingsStore) Snapshot() Rules {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rules
}

// Replace swaps in new rule settings (hot reload) and notifies subscribers.
func (s *SettingsStore) Replace(rules Rules) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()

	s.log.Info("rule settings replaced", "priority", rules.Priority)
	s.broadcast(rules)
}

// Subscribe returns a channel receiving each new settings snapshot. Slow
// consumers have updates dropped; they can always call Snapshot.
func (s *SettingsStore) Subscribe(bufSize int) (int, <-chan Rules) {
	ch := make(chan Rules, bufSize)
	s.subsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *SettingsStore) Unsubscribe(id int) {
	s.subsMu.Lock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
	s.subsMu.Unlock()
}

func (s *SettingsStore) broadcast(rules Rules) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- rules:
		default:
			// Slow consumer, drop the update.
		}
	}
}
