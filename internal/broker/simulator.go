package broker

import (
	"context"
	"sync"

	"riskguard/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// Call records one operation the simulator received.
type Call struct {
	Op         string
	Account    domain.AccountID
	Instrument string
	OrderID    string
	TargetSize int
}

// SimulatorBroker implements the Broker interface in memory for tests and
// paper runs. Failures can be scripted per operation: each queued error is
// returned once, in order, before calls start succeeding again.
type SimulatorBroker struct {
	mu        sync.Mutex
	positions map[domain.AccountID]map[string]int
	orders    map[domain.AccountID]map[string]domain.Order
	failures  map[string][]error
	calls     []Call
}

// NewSimulatorBroker creates an empty SimulatorBroker.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		positions: make(map[domain.AccountID]map[string]int),
		orders:    make(map[domain.AccountID]map[string]domain.Order),
		failures:  make(map[string][]error),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetPosition seeds a signed position size.
func (b *SimulatorBroker) SetPosition(account domain.AccountID, instrument string, size int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.positions[account] == nil {
		b.positions[account] = make(map[string]int)
	}
	b.positions[account][instrument] = size
}

// Position returns the current simulated signed size.
func (b *SimulatorBroker) Position(account domain.AccountID, instrument string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.positions[account][instrument]
}

// AddOrder seeds an open order.
func (b *SimulatorBroker) AddOrder(account domain.AccountID, o domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.orders[account] == nil {
		b.orders[account] = make(map[string]domain.Order)
	}
	b.orders[account][o.ID] = o
}

// OpenOrders returns the number of open orders on the account.
func (b *SimulatorBroker) OpenOrders(account domain.AccountID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders[account])
}

// FailNext queues an error for the named operation. Queued errors are
// consumed one per call, oldest first.
func (b *SimulatorBroker) FailNext(op string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[op] = append(b.failures[op], err)
}

// Calls returns a copy of the recorded operations.
func (b *SimulatorBroker) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *SimulatorBroker) fail(op string) error {
	queue := b.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	b.failures[op] = queue[1:]
	return err
}

// ClosePosition zeroes the simulated position.
func (b *SimulatorBroker) ClosePosition(ctx context.Context, account domain.AccountID, instrument string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Op: "close_position", Account: account, Instrument: instrument})
	if err := b.fail("close_position"); err != nil {
		return err
	}
	delete(b.positions[account], instrument)
	return nil
}

// ReducePosition sets the simulated position to the target size.
func (b *SimulatorBroker) ReducePosition(ctx context.Context, account domain.AccountID, instrument string, targetSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Op: "reduce_position", Account: account, Instrument: instrument, TargetSize: targetSize})
	if err := b.fail("reduce_position"); err != nil {
		return err
	}
	if b.positions[account] == nil {
		b.positions[account] = make(map[string]int)
	}
	if targetSize == 0 {
		delete(b.positions[account], instrument)
	} else {
		b.positions[account][instrument] = targetSize
	}
	return nil
}

// CancelOrder removes one simulated open order.
func (b *SimulatorBroker) CancelOrder(ctx context.Context, account domain.AccountID, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Op: "cancel_order", Account: account, OrderID: orderID})
	if err := b.fail("cancel_order"); err != nil {
		return err
	}
	delete(b.orders[account], orderID)
	return nil
}

// CancelAllOrders removes every simulated open order on the account.
func (b *SimulatorBroker) CancelAllOrders(ctx context.Context, account domain.AccountID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, Call{Op: "cancel_all_orders", Account: account})
	if err := b.fail("cancel_all_orders"); err != nil {
		return err
	}
	b.orders[account] = make(map[string]domain.Order)
	return nil
}
