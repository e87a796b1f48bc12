package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"riskguard/internal/audit"
	"riskguard/internal/broker"
	"riskguard/internal/domain"
	"riskguard/internal/rules"
)

// gateBroker blocks ClosePosition until released, to hold an enforcement in
// flight.
type gateBroker struct {
	mu      sync.Mutex
	gate    chan struct{}
	closes  []string
	cancels int
}

func newGateBroker() *gateBroker {
	return &gateBroker{gate: make(chan struct{})}
}

func (b *gateBroker) Name() string { return "gate" }

func (b *gateBroker) ClosePosition(ctx context.Context, account domain.AccountID, instrument string) error {
	<-b.gate
	b.mu.Lock()
	b.closes = append(b.closes, instrument)
	b.mu.Unlock()
	return nil
}

func (b *gateBroker) ReducePosition(ctx context.Context, account domain.AccountID, instrument string, targetSize int) error {
	return nil
}

func (b *gateBroker) CancelOrder(ctx context.Context, account domain.AccountID, orderID string) error {
	return nil
}

func (b *gateBroker) CancelAllOrders(ctx context.Context, account domain.AccountID) error {
	b.mu.Lock()
	b.cancels++
	b.mu.Unlock()
	return nil
}

func (b *gateBroker) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.closes)
}

func newTestCoordinator(b broker.Broker) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		Log:       testLogger(),
		Broker:    b,
		Recorder:  audit.NewRecorder(testLogger(), nil, 64),
		Backoff:   time.Millisecond,
		Timeout:   time.Second,
		Positions: func(domain.AccountID) []domain.Position { return nil },
	})
}

func verdict(instrument string) rules.Verdict {
	return rules.Verdict{
		Rule:   "no_stop_loss",
		Reason: "test",
		Action: domain.Action{Kind: domain.ActionClosePosition, Instrument: instrument},
	}
}

func TestAtMostOneEnforcementInFlight(t *testing.T) {
	gb := newGateBroker()
	c := newTestCoordinator(gb)
	ctx := context.Background()
	now := time.Now()

	// Three verdicts in a burst: the first runs, the queue keeps only the
	// last of the remaining two.
	c.Execute(ctx, acct, verdict("ESZ5"), now)
	c.Execute(ctx, acct, verdict("NQZ5"), now)
	c.Execute(ctx, acct, verdict("CLF6"), now)

	if got := gb.closeCount(); got != 0 {
		t.Fatalf("broker saw %d closes before release", got)
	}

	close(gb.gate)
	c.Wait()

	gb.mu.Lock()
	defer gb.mu.Unlock()
	if len(gb.closes) != 2 {
		t.Fatalf("broker saw closes %v, want exactly 2 (first plus latest queued)", gb.closes)
	}
	if gb.closes[0] != "ESZ5" || gb.closes[1] != "CLF6" {
		t.Errorf("closes = %v, want [ESZ5 CLF6]", gb.closes)
	}
}

func TestCloseAllAttemptsEveryPosition(t *testing.T) {
	sim := broker.NewSimulatorBroker()
	sim.SetPosition(acct, "ESZ5", 2)
	sim.SetPosition(acct, "NQZ5", -1)
	// The first close is permanently rejected; the second must still run.
	sim.FailNext("close_position", &broker.Error{Op: "close_position", Account: acct, Err: errors.New("rejected")})

	c := NewCoordinator(CoordinatorConfig{
		Log:      testLogger(),
		Broker:   sim,
		Recorder: audit.NewRecorder(testLogger(), nil, 64),
		Backoff:  time.Millisecond,
		Timeout:  time.Second,
		Positions: func(domain.AccountID) []domain.Position {
			return []domain.Position{
				{Instrument: "ESZ5", Size: 2},
				{Instrument: "NQZ5", Size: -1},
			}
		},
	})
	c.Execute(context.Background(), acct, rules.Verdict{
		Rule:   "daily_loss",
		Reason: "DailyLoss 1000.00/1000.00",
		Action: domain.Action{Kind: domain.ActionCloseAll},
	}, time.Now())
	c.Wait()

	closes := 0
	for _, call := range sim.Calls() {
		if call.Op == "close_position" {
			closes++
		}
	}
	if closes != 2 {
		t.Fatalf("close-all attempted %d position closes, want 2 (one per position, independently)", closes)
	}
	if got := sim.Position(acct, "NQZ5"); got != 0 {
		t.Errorf("NQZ5 position = %d, want 0 (success after a failed sibling)", got)
	}
	detail, degraded := c.Degraded(acct)
	if !degraded {
		t.Fatal("partial close-all failure did not mark the account degraded")
	}
	if !strings.Contains(detail, "ESZ5") {
		t.Errorf("degraded detail %q does not name the failed position", detail)
	}
}

func TestTransientFailureRetried(t *testing.T) {
	sim := broker.NewSimulatorBroker()
	sim.SetPosition(acct, "ESZ5", 2)
	sim.FailNext("close_position", &broker.Error{Op: "close_position", Account: acct, Transient: true, Err: errors.New("gateway timeout")})

	c := newTestCoordinator(sim)
	c.Execute(context.Background(), acct, verdict("ESZ5"), time.Now())
	c.Wait()

	if got := sim.Position(acct, "ESZ5"); got != 0 {
		t.Errorf("position after retried close = %d, want 0", got)
	}
	if _, degraded := c.Degraded(acct); degraded {
		t.Error("account degraded despite eventual success")
	}
}

func TestPermanentFailureDegrades(t *testing.T) {
	sim := broker.NewSimulatorBroker()
	sim.SetPosition(acct, "ESZ5", 2)
	sim.FailNext("close_position", &broker.Error{Op: "close_position", Account: acct, Err: errors.New("account closed")})

	c := newTestCoordinator(sim)
	c.Execute(context.Background(), acct, verdict("ESZ5"), time.Now())
	c.Wait()

	detail, degraded := c.Degraded(acct)
	if !degraded {
		t.Fatal("failed enforcement did not mark the account degraded")
	}
	if detail == "" {
		t.Error("degraded detail empty")
	}
	if got := len(sim.Calls()); got != 1 {
		t.Errorf("permanent failure was retried: %d calls", got)
	}

	// A later success clears the degraded flag.
	c.Execute(context.Background(), acct, verdict("ESZ5"), time.Now())
	c.Wait()
	if _, still := c.Degraded(acct); still {
		t.Error("degraded flag survived a successful enforcement")
	}
}

func TestTransientFailureExhaustsRetries(t *testing.T) {
	sim := broker.NewSimulatorBroker()
	sim.SetPosition(acct, "ESZ5", 2)
	for i := 0; i < 3; i++ {
		sim.FailNext("close_position", &broker.Error{Op: "close_position", Account: acct, Transient: true, Err: errors.New("timeout")})
	}

	c := newTestCoordinator(sim)
	c.Execute(context.Background(), acct, verdict("ESZ5"), time.Now())
	c.Wait()

	if _, degraded := c.Degraded(acct); !degraded {
		t.Error("exhausted retries did not degrade the account")
	}
	if got := len(sim.Calls()); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestLockOnlyNeverCallsBroker(t *testing.T) {
	sim := broker.NewSimulatorBroker()
	locked := 0
	c := NewCoordinator(CoordinatorConfig{
		Log:      testLogger(),
		Broker:   sim,
		Recorder: audit.NewRecorder(testLogger(), nil, 64),
		ApplyLockout: func(domain.AccountID, rules.Verdict, time.Time) {
			locked++
		},
		Positions: func(domain.AccountID) []domain.Position { return nil },
	})

	v := rules.Verdict{
		Rule:    "trade_frequency",
		Reason:  "TradeFrequency minute 4/3",
		Action:  domain.Action{Kind: domain.ActionLockOnly},
		Lockout: &rules.LockoutSpec{Severity: domain.SeverityCooldown, Duration: time.Minute},
	}
	c.Execute(context.Background(), acct, v, time.Now())
	c.Wait()

	if locked != 1 {
		t.Errorf("lockout applied %d times, want 1", locked)
	}
	if got := len(sim.Calls()); got != 0 {
		t.Errorf("lock-only verdict reached the broker: %v", sim.Calls())
	}
}
