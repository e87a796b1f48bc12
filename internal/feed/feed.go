// Package feed supplies the engine's normalized event stream. A Source
// pushes events through an emit callback; the engine routes them to the
// owning account.
package feed

import (
	"context"

	"riskguard/internal/domain"
)

// Source is one producer of normalized events. Run blocks until ctx is
// cancelled or the source fails.
type Source interface {
	// Name returns the source identifier (e.g. "alpaca-quotes", "replay").
	Name() string

	// Run emits events until ctx is cancelled.
	Run(ctx context.Context, emit func(domain.Event)) error
}
