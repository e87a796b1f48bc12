// Package contracts caches per-instrument pricing metadata (tick size and
// tick value) needed for P&L math. Metadata is fetched lazily on first
// reference and cached indefinitely; it never changes for a listed contract.
package contracts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"riskguard/internal/domain"
)

// Resolver fetches contract metadata from an external source (broker API or
// a static instrument table).
type Resolver interface {
	ResolveContract(ctx context.Context, instrument string) (domain.ContractMeta, error)
}

// StaticResolver resolves metadata from a fixed table. Unknown instruments
// are an error, never a zero tick value.
type StaticResolver struct {
	Table map[string]domain.ContractMeta
}

// ResolveContract looks the instrument up in the table.
func (s *StaticResolver) ResolveContract(_ context.Context, instrument string) (domain.ContractMeta, error) {
	m, ok := s.Table[instrument]
	if !ok {
		return domain.ContractMeta{}, fmt.Errorf("unknown instrument %q", instrument)
	}
	return m, nil
}

// Cache is the lazy metadata cache. Lookup is non-blocking for use on the
// event path; Ensure triggers a background fetch for unseen instruments.
type Cache struct {
	resolver Resolver
	log      *slog.Logger

	mu       sync.Mutex
	metas    map[string]domain.ContractMeta
	fetching map[string]struct{}
}

// NewCache creates a Cache over the given resolver.
func NewCache(resolver Resolver, log *slog.Logger) *Cache {
	return &Cache{
		resolver: resolver,
		log:      log,
		metas:    make(map[string]domain.ContractMeta),
		fetching: make(map[string]struct{}),
	}
}

// Lookup returns cached metadata without blocking. A miss means the rule
// evaluation that needed it is skipped this cycle (data-quality error, not a
// zero).
func (c *Cache) Lookup(instrument string) (domain.ContractMeta, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metas[instrument]
	return m, ok
}

// Ensure starts a background fetch for the instrument if it is neither
// cached nor already being fetched.
func (c *Cache) Ensure(ctx context.Context, instrument string) {
	c.mu.Lock()
	if _, ok := c.metas[instrument]; ok {
		c.mu.Unlock()
		return
	}
	if _, inflight := c.fetching[instrument]; inflight {
		c.mu.Unlock()
		return
	}
	c.fetching[instrument] = struct{}{}
	c.mu.Unlock()

	go func() {
		meta, err := c.resolver.ResolveContract(ctx, instrument)

		c.mu.Lock()
		delete(c.fetching, instrument)
		if err == nil {
			c.metas[instrument] = meta
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Warn("resolving contract metadata", "instrument", instrument, "error", err)
		}
	}()
}

// Resolve returns metadata, fetching synchronously on a miss. Used outside
// the event path (startup warm-up).
func (c *Cache) Resolve(ctx context.Context, instrument string) (domain.ContractMeta, error) {
	if m, ok := c.Lookup(instrument); ok {
		return m, nil
	}
	meta, err := c.resolver.ResolveContract(ctx, instrument)
	if err != nil {
		return domain.ContractMeta{}, fmt.Errorf("resolving %s: %w", instrument, err)
	}
	c.mu.Lock()
	c.metas[instrument] = meta
	c.mu.Unlock()
	return meta, nil
}
