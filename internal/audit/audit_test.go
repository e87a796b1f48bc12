package audit

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"riskguard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memSink struct {
	entries []Entry
	err     error
}

func (s *memSink) AppendAudit(e Entry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func TestRecordAssignsUniqueIDs(t *testing.T) {
	r := NewRecorder(testLogger(), nil, 8)

	a := r.Record(Entry{Account: "ACC-1", Outcome: OutcomeBreach})
	b := r.Record(Entry{Account: "ACC-1", Outcome: OutcomeEnforced})

	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		t.Errorf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
	}
	if a.Time.IsZero() {
		t.Error("Record left Time unset")
	}
}

func TestRecentNewestFirst(t *testing.T) {
	r := NewRecorder(testLogger(), nil, 8)
	r.Record(Entry{Account: "ACC-1", Reason: "first", Outcome: OutcomeBreach})
	r.Record(Entry{Account: "ACC-1", Reason: "second", Outcome: OutcomeBreach})
	r.Record(Entry{Account: "ACC-1", Reason: "third", Outcome: OutcomeBreach})

	got := r.Recent(2)
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[0].Reason != "third" || got[1].Reason != "second" {
		t.Errorf("order = %q, %q, want newest first", got[0].Reason, got[1].Reason)
	}
}

func TestRingWraps(t *testing.T) {
	r := NewRecorder(testLogger(), nil, 4)
	for i := 0; i < 10; i++ {
		r.Record(Entry{Account: domain.AccountID("ACC-1"), Outcome: OutcomeBreach})
	}

	got := r.Recent(0)
	if len(got) != 4 {
		t.Errorf("ring kept %d entries, want 4", len(got))
	}
}

func TestSinkReceivesEntries(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(testLogger(), sink, 8)
	r.Record(Entry{Account: "ACC-1", Outcome: OutcomeEnforced})

	if len(sink.entries) != 1 {
		t.Fatalf("sink received %d entries, want 1", len(sink.entries))
	}
	if sink.entries[0].ID == "" {
		t.Error("sink entry missing assigned ID")
	}
}

func TestSinkFailureDoesNotBlockRecording(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	r := NewRecorder(testLogger(), sink, 8)

	e := r.Record(Entry{Account: "ACC-1", Outcome: OutcomeFailed})
	if e.ID == "" {
		t.Error("record failed because the sink failed")
	}
	if got := r.Recent(0); len(got) != 1 {
		t.Errorf("ring entries = %d, want 1 despite sink failure", len(got))
	}
}
