package feed

import (
	"context"
	"time"

	"riskguard/internal/domain"
)

// Compile-time interface check.
var _ Source = (*ReplaySource)(nil)

// ReplaySource emits a fixed event sequence, optionally paced by the gap
// between event timestamps. Used in tests and paper runs.
type ReplaySource struct {
	events []domain.Event
	paced  bool
}

// NewReplaySource creates a replay over the given events. When paced is
// true, Run sleeps out the timestamp gaps; otherwise it emits as fast as the
// consumer accepts.
func NewReplaySource(events []domain.Event, paced bool) *ReplaySource {
	return &ReplaySource{events: events, paced: paced}
}

// Name returns "replay".
func (s *ReplaySource) Name() string { return "replay" }

// Run emits every event, then returns nil.
func (s *ReplaySource) Run(ctx context.Context, emit func(domain.Event)) error {
	var prev time.Time
	for _, ev := range s.events {
		if s.paced && !prev.IsZero() && ev.Timestamp.After(prev) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ev.Timestamp.Sub(prev)):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		emit(ev)
		prev = ev.Timestamp
	}
	return nil
}
