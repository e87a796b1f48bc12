// Package store persists engine state across restarts: lockouts, daily
// account counters, applied trades, position and order snapshots, and the
// audit trail.
package store

import (
	"context"
	"time"

	"riskguard/internal/audit"
	"riskguard/internal/domain"
	"riskguard/internal/state"
)

// AccountDay is the persisted daily rollup for one account.
type AccountDay struct {
	Account     domain.AccountID
	RealizedPnL float64
	LastReset   time.Time
}

// CheckpointStore persists the state the engine needs back after a restart.
// Writes happen on the account's event path, so implementations must be fast
// and safe for concurrent use.
type CheckpointStore interface {
	// SaveLockout upserts the account's lockout.
	SaveLockout(ctx context.Context, l domain.Lockout) error

	// DeleteLockout removes the account's lockout.
	DeleteLockout(ctx context.Context, account domain.AccountID) error

	// ListLockouts returns every persisted lockout.
	ListLockouts(ctx context.Context) ([]domain.Lockout, error)

	// SaveAccountDay upserts the daily rollup.
	SaveAccountDay(ctx context.Context, d AccountDay) error

	// GetAccountDay returns the daily rollup, or ok=false if none exists.
	GetAccountDay(ctx context.Context, account domain.AccountID) (AccountDay, bool, error)

	// SaveTrade appends one applied trade.
	SaveTrade(ctx context.Context, account domain.AccountID, t state.AppliedTrade) error

	// DeleteTrade removes one applied trade (voided execution).
	DeleteTrade(ctx context.Context, account domain.AccountID, tradeID string) error

	// ListTrades returns the account's applied trades at or after since,
	// ordered by timestamp.
	ListTrades(ctx context.Context, account domain.AccountID, since time.Time) ([]state.AppliedTrade, error)

	// ClearTrades removes the account's applied trades before the cutoff.
	ClearTrades(ctx context.Context, account domain.AccountID, before time.Time) error

	// SavePosition upserts the account's position in one instrument. A zero
	// size deletes the row.
	SavePosition(ctx context.Context, account domain.AccountID, p domain.Position) error

	// ListPositions returns the account's open positions.
	ListPositions(ctx context.Context, account domain.AccountID) ([]domain.Position, error)

	// SaveOrder upserts a working order; any other status deletes the row.
	SaveOrder(ctx context.Context, account domain.AccountID, o domain.Order) error

	// ListOrders returns the account's working orders.
	ListOrders(ctx context.Context, account domain.AccountID) ([]domain.Order, error)

	// AppendAudit stores one audit entry. Also satisfies audit.Sink.
	AppendAudit(e audit.Entry) error

	// ListAudit returns up to limit audit entries, newest first.
	ListAudit(ctx context.Context, limit int) ([]audit.Entry, error)

	Close() error
}
