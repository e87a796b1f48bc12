package broker

import (
	"context"
	"errors"
	"testing"

	"riskguard/internal/domain"
)

const acct = domain.AccountID("ACC-1")

func TestSimulatorClosePosition(t *testing.T) {
	b := NewSimulatorBroker()
	b.SetPosition(acct, "ESZ5", 3)

	if err := b.ClosePosition(context.Background(), acct, "ESZ5"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if got := b.Position(acct, "ESZ5"); got != 0 {
		t.Errorf("position after close = %d, want 0", got)
	}
}

func TestSimulatorReducePosition(t *testing.T) {
	b := NewSimulatorBroker()
	b.SetPosition(acct, "NQZ5", -4)

	if err := b.ReducePosition(context.Background(), acct, "NQZ5", -2); err != nil {
		t.Fatalf("ReducePosition: %v", err)
	}
	if got := b.Position(acct, "NQZ5"); got != -2 {
		t.Errorf("position after reduce = %d, want -2", got)
	}
}

func TestSimulatorCancelAllOrders(t *testing.T) {
	b := NewSimulatorBroker()
	b.AddOrder(acct, domain.Order{ID: "o1", Instrument: "ESZ5"})
	b.AddOrder(acct, domain.Order{ID: "o2", Instrument: "NQZ5"})

	if err := b.CancelAllOrders(context.Background(), acct); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	if got := b.OpenOrders(acct); got != 0 {
		t.Errorf("open orders after cancel = %d, want 0", got)
	}
}

func TestSimulatorScriptedFailure(t *testing.T) {
	b := NewSimulatorBroker()
	b.SetPosition(acct, "ESZ5", 3)
	b.FailNext("close_position", &Error{Op: "close_position", Account: acct, Transient: true, Err: errors.New("timeout")})

	err := b.ClosePosition(context.Background(), acct, "ESZ5")
	if err == nil {
		t.Fatal("scripted failure did not surface")
	}
	if !IsTransient(err) {
		t.Error("scripted transient error classified as permanent")
	}
	if got := b.Position(acct, "ESZ5"); got != 3 {
		t.Errorf("failed close mutated position to %d", got)
	}

	// The queue is consumed; the retry succeeds.
	if err := b.ClosePosition(context.Background(), acct, "ESZ5"); err != nil {
		t.Fatalf("retry after scripted failure: %v", err)
	}
	if got := len(b.Calls()); got != 2 {
		t.Errorf("recorded calls = %d, want 2", got)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(errors.New("plain")) {
		t.Error("plain error misclassified as transient")
	}
	perm := &Error{Op: "cancel_order", Account: acct, Err: errors.New("rejected")}
	if IsTransient(perm) {
		t.Error("permanent broker error misclassified as transient")
	}
	trans := &Error{Op: "cancel_order", Account: acct, Transient: true, Err: errors.New("rate limited")}
	if !IsTransient(trans) {
		t.Error("transient broker error misclassified as permanent")
	}
}

func TestAlpacaBrokerName(t *testing.T) {
	b := NewAlpacaBroker("key", "secret", "https://paper-api.alpaca.markets")
	if got := b.Name(); got != "alpaca" {
		t.Errorf("Name() = %q, want alpaca", got)
	}
}
