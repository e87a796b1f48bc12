// Package broker defines the Broker interface the enforcement layer drives
// and provides implementations for executing risk actions at a brokerage.
package broker

import (
	"context"
	"errors"
	"fmt"

	"riskguard/internal/domain"
)

// Broker abstracts the brokerage operations enforcement needs. All calls are
// idempotent from the caller's point of view: closing an already-flat
// position or cancelling a gone order is success, not an error.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// ClosePosition flattens the account's position in one instrument.
	ClosePosition(ctx context.Context, account domain.AccountID, instrument string) error

	// ReducePosition brings the position in one instrument to the signed
	// target size by submitting an offsetting market order.
	ReducePosition(ctx context.Context, account domain.AccountID, instrument string, targetSize int) error

	// CancelOrder requests cancellation of one open order by its ID.
	CancelOrder(ctx context.Context, account domain.AccountID, orderID string) error

	// CancelAllOrders cancels every open order on the account.
	CancelAllOrders(ctx context.Context, account domain.AccountID) error
}

// Error wraps a failed broker operation with a transient/permanent
// classification. Transient failures (timeouts, rate limits, 5xx) are worth
// retrying; permanent ones (rejected, unauthorized) are not.
type Error struct {
	Op        string
	Account   domain.AccountID
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker %s for %s: %v", e.Op, e.Account, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a broker error worth retrying.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Transient
	}
	return false
}
