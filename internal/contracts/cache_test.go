package contracts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"riskguard/internal/domain"
)

type countingResolver struct {
	mu    sync.Mutex
	calls int
	meta  domain.ContractMeta
	err   error
}

func (r *countingResolver) ResolveContract(_ context.Context, _ string) (domain.ContractMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.meta, r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveCachesForever(t *testing.T) {
	r := &countingResolver{meta: domain.ContractMeta{Instrument: "ESZ5", TickSize: 0.25, TickValue: 12.5}}
	c := NewCache(r, testLogger())

	for i := 0; i < 3; i++ {
		m, err := c.Resolve(context.Background(), "ESZ5")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if m.TickValue != 12.5 {
			t.Errorf("TickValue = %v, want 12.5", m.TickValue)
		}
	}
	if r.calls != 1 {
		t.Errorf("resolver called %d times, want 1 (cached indefinitely)", r.calls)
	}
}

func TestLookupMissDoesNotBlock(t *testing.T) {
	r := &countingResolver{err: errors.New("unreachable")}
	c := NewCache(r, testLogger())

	if _, ok := c.Lookup("NQZ5"); ok {
		t.Error("Lookup on empty cache should miss")
	}
	if r.calls != 0 {
		t.Errorf("Lookup triggered %d fetches, want 0", r.calls)
	}
}

func TestResolveError(t *testing.T) {
	r := &countingResolver{err: errors.New("boom")}
	c := NewCache(r, testLogger())

	if _, err := c.Resolve(context.Background(), "NQZ5"); err == nil {
		t.Fatal("Resolve should propagate resolver error")
	}
	if _, ok := c.Lookup("NQZ5"); ok {
		t.Error("failed resolve must not populate the cache")
	}
}

func TestStaticResolver(t *testing.T) {
	s := &StaticResolver{Table: map[string]domain.ContractMeta{
		"ESZ5": {Instrument: "ESZ5", TickSize: 0.25, TickValue: 12.5},
	}}

	if _, err := s.ResolveContract(context.Background(), "ESZ5"); err != nil {
		t.Errorf("known instrument errored: %v", err)
	}
	if _, err := s.ResolveContract(context.Background(), "??"); err == nil {
		t.Error("unknown instrument should error, never return zero metadata")
	}
}
