package domain

import (
	"testing"
	"time"
)

func TestSignedQty(t *testing.T) {
	buy := Trade{Side: OrderSideBuy, Qty: 3}
	if got := buy.SignedQty(); got != 3 {
		t.Errorf("buy SignedQty = %d, want 3", got)
	}
	sell := Trade{Side: OrderSideSell, Qty: 3}
	if got := sell.SignedQty(); got != -3 {
		t.Errorf("sell SignedQty = %d, want -3", got)
	}
}

func TestProtective(t *testing.T) {
	sellStop := Order{Type: OrderTypeStop, Side: OrderSideSell, Status: OrderStatusWorking}
	if !sellStop.Protective(2) {
		t.Error("working sell stop should protect a long position")
	}
	if sellStop.Protective(-2) {
		t.Error("sell stop should not protect a short position")
	}
	if sellStop.Protective(0) {
		t.Error("no order protects a flat position")
	}

	buyStopLimit := Order{Type: OrderTypeStopLimit, Side: OrderSideBuy, Status: OrderStatusWorking}
	if !buyStopLimit.Protective(-1) {
		t.Error("working buy stop-limit should protect a short position")
	}

	cancelled := Order{Type: OrderTypeStop, Side: OrderSideSell, Status: OrderStatusCancelled}
	if cancelled.Protective(2) {
		t.Error("cancelled stop should not count as protective")
	}

	limit := Order{Type: OrderTypeLimit, Side: OrderSideSell, Status: OrderStatusWorking}
	if limit.Protective(2) {
		t.Error("plain limit order should not count as protective")
	}
}

func TestContractMetaPnL(t *testing.T) {
	// ES-style contract: 0.25 tick, $12.50 per tick.
	meta := ContractMeta{Instrument: "ESZ5", TickSize: 0.25, TickValue: 12.50}

	// Long 2 contracts, price moves up 1 point (4 ticks): 2 * 4 * 12.50 = 100.
	if got := meta.PnL(5000.00, 5001.00, 2); got != 100.0 {
		t.Errorf("long PnL = %v, want 100", got)
	}
	// Short 2 contracts, same move is a loss.
	if got := meta.PnL(5000.00, 5001.00, -2); got != -100.0 {
		t.Errorf("short PnL = %v, want -100", got)
	}

	// Zero tick size never divides by zero.
	if got := (ContractMeta{}).PnL(1, 2, 1); got != 0 {
		t.Errorf("zero-meta PnL = %v, want 0", got)
	}
}

func TestLockoutActive(t *testing.T) {
	now := time.Now()

	timed := Lockout{Expiry: now.Add(time.Minute)}
	if !timed.Active(now) {
		t.Error("lockout with future expiry should be active")
	}
	if timed.Active(now.Add(2 * time.Minute)) {
		t.Error("lockout past expiry should be inactive")
	}

	untilReset := Lockout{UntilReset: true}
	if !untilReset.Active(now.Add(24 * time.Hour)) {
		t.Error("until-reset lockout should stay active regardless of time")
	}
}
