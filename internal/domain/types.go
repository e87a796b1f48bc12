// Package domain defines the core types shared across the risk engine:
// accounts, positions, orders, trades, quotes, contract metadata, lockouts,
// and enforcement actions.
package domain

import "time"

// AccountID identifies a monitored trading account.
type AccountID string

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderStatus represents the current status of an order.
type OrderStatus string

const (
	OrderStatusWorking   OrderStatus = "working"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Position is the net position in one instrument. Size is the signed net of
// all fills; a size of zero means the position is closed.
type Position struct {
	Instrument string
	Size       int
	AvgPrice   float64
	UpdatedAt  time.Time
}

// Flat reports whether the position is closed.
func (p Position) Flat() bool { return p.Size == 0 }

// Order is an open or recently updated order at the broker.
type Order struct {
	ID         string
	Instrument string
	Side       OrderSide
	Type       OrderType
	Qty        int
	Price      float64
	StopPrice  float64
	Status     OrderStatus
	UpdatedAt  time.Time
}

// Working reports whether the order is still live at the broker.
func (o Order) Working() bool { return o.Status == OrderStatusWorking }

// Protective reports whether the order is a stop-type order that could
// protect a position of the given signed size in the same instrument.
func (o Order) Protective(positionSize int) bool {
	if o.Type != OrderTypeStop && o.Type != OrderTypeStopLimit {
		return false
	}
	if !o.Working() {
		return false
	}
	// A long position is protected by a sell stop, a short by a buy stop.
	if positionSize > 0 {
		return o.Side == OrderSideSell
	}
	if positionSize < 0 {
		return o.Side == OrderSideBuy
	}
	return false
}

// Trade is a single execution (fill) reported by the broker.
type Trade struct {
	ID         string
	Instrument string
	Side       OrderSide
	Qty        int // always positive; direction comes from Side
	Price      float64
	Timestamp  time.Time
	Voided     bool
}

// SignedQty returns the fill quantity signed by side (buys positive).
func (t Trade) SignedQty() int {
	if t.Side == OrderSideSell {
		return -t.Qty
	}
	return t.Qty
}

// Quote is the most recent market price for an instrument.
type Quote struct {
	Instrument string
	Price      float64
	Timestamp  time.Time
}

// ContractMeta holds the pricing parameters of an instrument. Immutable once
// cached.
type ContractMeta struct {
	Instrument string
	TickSize   float64
	TickValue  float64
}

// PnL converts a price move on a signed position size into currency using
// the contract's tick parameters.
func (m ContractMeta) PnL(entry, current float64, size int) float64 {
	if m.TickSize == 0 {
		return 0
	}
	return (current - entry) / m.TickSize * m.TickValue * float64(size)
}

// Severity orders lockout reasons. A lockout reason is only overwritten by a
// reason of equal or higher severity.
type Severity int

const (
	SeverityCooldown Severity = iota + 1 // short timed cooldown
	SeverityDaily                        // until next daily reset
	SeverityHard                         // hard lock (auth loss, operator)
)

func (s Severity) String() string {
	switch s {
	case SeverityCooldown:
		return "cooldown"
	case SeverityDaily:
		return "daily"
	case SeverityHard:
		return "hard"
	}
	return "unknown"
}

// Lockout forbids further trading on an account until it expires or the next
// daily reset clears it. At most one lockout is active per account.
type Lockout struct {
	Account    AccountID
	Reason     string
	Severity   Severity
	Expiry     time.Time
	UntilReset bool
	SetAt      time.Time
}

// Active reports whether the lockout is still in force at time now.
func (l Lockout) Active(now time.Time) bool {
	if l.UntilReset {
		return true
	}
	return now.Before(l.Expiry)
}

// AccountStatus carries account-level status changes from the broker, such
// as loss of authorization.
type AccountStatus struct {
	Authorized bool
	Detail     string
}

// ActionKind selects the enforcement remediation for a breach.
type ActionKind string

const (
	ActionCloseAll      ActionKind = "close_all"
	ActionClosePosition ActionKind = "close_position"
	ActionReduceTo      ActionKind = "reduce_to"
	ActionCancelOrders  ActionKind = "cancel_all_orders"
	ActionLockOnly      ActionKind = "lock_account"
)

// Action is the concrete enforcement step attached to a breach verdict.
// Instrument and TargetSize are only meaningful for the per-instrument
// kinds (close_position, reduce_to).
type Action struct {
	Kind       ActionKind
	Instrument string
	TargetSize int
}
