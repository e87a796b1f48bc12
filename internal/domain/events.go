package domain

import "time"

// EventType identifies the kind of a normalized broker event.
type EventType string

const (
	EventPositionUpdate EventType = "position_update"
	EventOrderUpdate    EventType = "order_update"
	EventTradeExecution EventType = "trade_execution"
	EventQuoteUpdate    EventType = "quote_update"
	EventAccountStatus  EventType = "account_status"

	// EventTimerFired is synthesized by the engine when a named per-account
	// timer expires (grace-period re-checks, session sweeps). It never
	// arrives from the broker feed.
	EventTimerFired EventType = "timer_fired"
)

// TimerFire carries the payload of a synthesized timer event.
type TimerFire struct {
	Purpose    string
	Instrument string
}

// Event is one normalized message from the broker connectivity layer.
// Exactly one payload pointer is set, matching Type. Quote updates carry no
// account: they are fanned out to every account with open interest in the
// instrument.
type Event struct {
	Type       EventType
	Account    AccountID
	Instrument string
	Timestamp  time.Time

	Position *Position
	Order    *Order
	Trade    *Trade
	Quote    *Quote
	Status   *AccountStatus
	Timer    *TimerFire
}
