// Package state holds the authoritative in-memory snapshot of each monitored
// account: open positions, open orders, realized P&L, and the rolling trade
// log behind the frequency rules. It is the single mutation point for
// account state; the event router linearizes all writes per account.
package state

import (
	"sync"
	"time"

	"riskguard/internal/domain"
)

// AppliedTrade is one counted trade: the timestamp feeds the rolling
// windows, the fill (signed quantity, price) and realized delta support
// retroactive reversal when the upstream feed later voids the trade.
type AppliedTrade struct {
	ID         string
	Instrument string
	SignedQty  int
	Price      float64
	Timestamp  time.Time
	Realized   float64
}

// PositionChange describes the open-interest transition caused by a
// position mutation, so the caller can maintain quote subscriptions.
type PositionChange struct {
	Instrument string
	Opened     bool // 0 -> nonzero
	Closed     bool // nonzero -> 0
}

// accountState is the per-account arena entry. Each instance is owned by its
// account's sequential execution context; the mutex only protects concurrent
// read-only snapshots (admin API).
type accountState struct {
	mu            sync.RWMutex
	positions     map[string]domain.Position
	orders        map[string]domain.Order
	realizedPnL   float64
	sessionTrades int
	trades        []AppliedTrade
	applied       map[string]int // trade id -> index into trades
	lastReset     time.Time
}

// Store is the arena of per-account state objects addressed by account id.
type Store struct {
	mu       sync.RWMutex
	accounts map[domain.AccountID]*accountState
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{accounts: make(map[domain.AccountID]*accountState)}
}

func (s *Store) account(id domain.AccountID) *accountState {
	s.mu.RLock()
	a, ok := s.accounts[id]
	s.mu.RUnlock()
	if ok {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.accounts[id]; ok {
		return a
	}
	a = &accountState{
		positions: make(map[string]domain.Position),
		orders:    make(map[string]domain.Order),
		applied:   make(map[string]int),
	}
	s.accounts[id] = a
	return a
}

// Accounts returns the ids of all accounts with state.
func (s *Store) Accounts() []domain.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AccountID, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	return out
}

// Remove drops all state for an account (de-configured).
func (s *Store) Remove(id domain.AccountID) {
	s.mu.Lock()
	delete(s.accounts, id)
	s.mu.Unlock()
}

// ApplyPositionUpdate applies an authoritative net position from the broker.
// Positions in the same instrument are netted, never stored as separate
// entries; a zero size removes the position.
func (s *Store) ApplyPositionUpdate(id domain.AccountID, pos domain.Position) (Snapshot, PositionChange) {
	a := s.account(id)
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.positions[pos.Instrument]
	change := PositionChange{
		Instrument: pos.Instrument,
		Opened:     prev.Size == 0 && pos.Size != 0,
		Closed:     prev.Size != 0 && pos.Size == 0,
	}

	if pos.Size == 0 {
		delete(a.positions, pos.Instrument)
	} else {
		a.positions[pos.Instrument] = pos
	}
	return a.snapshotLocked(id), change
}

// ApplyTrade applies an execution to the account: nets the position,
// realizes P&L on the closing portion (when contract metadata is known),
// and counts the trade in the rolling log. A voided trade never mutates
// counters; if it was already counted it is retroactively subtracted.
func (s *Store) ApplyTrade(id domain.AccountID, t domain.Trade, meta domain.ContractMeta, metaOK bool) (Snapshot, PositionChange) {
	a := s.account(id)
	a.mu.Lock()
	defer a.mu.Unlock()

	if t.Voided {
		change := a.voidTradeLocked(t)
		return a.snapshotLocked(id), change
	}

	if _, dup := a.applied[t.ID]; dup && t.ID != "" {
		// Idempotent replay of an already-counted execution.
		return a.snapshotLocked(id), PositionChange{Instrument: t.Instrument}
	}

	prev := a.positions[t.Instrument]
	realized := a.netFillLocked(t, meta, metaOK)
	cur := a.positions[t.Instrument]

	a.realizedPnL += realized
	a.sessionTrades++
	a.applied[t.ID] = len(a.trades)
	a.trades = append(a.trades, AppliedTrade{
		ID:         t.ID,
		Instrument: t.Instrument,
		SignedQty:  t.SignedQty(),
		Price:      t.Price,
		Timestamp:  t.Timestamp,
		Realized:   realized,
	})

	change := PositionChange{
		Instrument: t.Instrument,
		Opened:     prev.Size == 0 && cur.Size != 0,
		Closed:     prev.Size != 0 && cur.Size == 0,
	}
	return a.snapshotLocked(id), change
}

// netFillLocked folds the fill into the net position and returns the
// realized P&L of the closing portion.
func (a *accountState) netFillLocked(t domain.Trade, meta domain.ContractMeta, metaOK bool) float64 {
	pos := a.positions[t.Instrument]
	q := t.SignedQty()
	old := pos.Size

	var realized float64
	switch {
	case old == 0 || (old > 0) == (q > 0):
		// Opening or adding: weighted average entry.
		total := abs(old) + abs(q)
		if total > 0 {
			pos.AvgPrice = (pos.AvgPrice*float64(abs(old)) + t.Price*float64(abs(q))) / float64(total)
		}
		pos.Size = old + q
	default:
		// Reducing, closing, or flipping.
		closed := min(abs(old), abs(q))
		closedSigned := closed
		if old < 0 {
			closedSigned = -closed
		}
		if metaOK {
			realized = meta.PnL(pos.AvgPrice, t.Price, closedSigned)
		}
		pos.Size = old + q
		if abs(q) > abs(old) {
			// Flipped through zero: remainder entered at the fill price.
			pos.AvgPrice = t.Price
		}
	}

	pos.Instrument = t.Instrument
	pos.UpdatedAt = t.Timestamp
	if pos.Size == 0 {
		delete(a.positions, t.Instrument)
	} else {
		a.positions[t.Instrument] = pos
	}
	return realized
}

// voidTradeLocked retroactively reverses a previously counted trade:
// counters, realized P&L, and the fill's net-size contribution, so a replay
// of the same execution as voided cancels out.
func (a *accountState) voidTradeLocked(t domain.Trade) PositionChange {
	idx, ok := a.applied[t.ID]
	if !ok {
		return PositionChange{Instrument: t.Instrument} // never counted, nothing to undo
	}
	entry := a.trades[idx]
	a.realizedPnL -= entry.Realized
	if a.sessionTrades > 0 {
		a.sessionTrades--
	}
	a.trades = append(a.trades[:idx], a.trades[idx+1:]...)
	delete(a.applied, t.ID)
	for tid, i := range a.applied {
		if i > idx {
			a.applied[tid] = i - 1
		}
	}

	pos := a.positions[entry.Instrument]
	old := pos.Size
	pos.Size = old - entry.SignedQty
	change := PositionChange{
		Instrument: entry.Instrument,
		Opened:     old == 0 && pos.Size != 0,
		Closed:     old != 0 && pos.Size == 0,
	}
	if pos.Size == 0 {
		delete(a.positions, entry.Instrument)
		return change
	}
	if old == 0 {
		// Voiding a close re-opens the position. The original entry price
		// was lost when it closed; the voided fill's price is the best
		// available stand-in.
		pos.AvgPrice = entry.Price
	}
	pos.Instrument = entry.Instrument
	pos.UpdatedAt = t.Timestamp
	a.positions[entry.Instrument] = pos
	return change
}

// ApplyOrderUpdate upserts an order; terminal orders leave the open set.
func (s *Store) ApplyOrderUpdate(id domain.AccountID, o domain.Order) Snapshot {
	a := s.account(id)
	a.mu.Lock()
	defer a.mu.Unlock()

	if o.Working() {
		a.orders[o.ID] = o
	} else {
		delete(a.orders, o.ID)
	}
	return a.snapshotLocked(id)
}

// ResetDaily zeroes the daily realized P&L and the session trade counters.
// Called by the reset scheduler inside the account's execution context.
func (s *Store) ResetDaily(id domain.AccountID, now time.Time) Snapshot {
	a := s.account(id)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.realizedPnL = 0
	a.sessionTrades = 0
	a.trades = a.trades[:0]
	a.applied = make(map[string]int)
	a.lastReset = now
	return a.snapshotLocked(id)
}

// Restore rebuilds an account from persisted checkpoints so rolling windows
// and daily totals survive a mid-day restart.
func (s *Store) Restore(id domain.AccountID, positions []domain.Position, orders []domain.Order, realized float64, trades []AppliedTrade, lastReset time.Time) Snapshot {
	a := s.account(id)
	a.mu.Lock()
	defer a.mu.Unlock()

	a.positions = make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			a.positions[p.Instrument] = p
		}
	}
	a.orders = make(map[string]domain.Order, len(orders))
	for _, o := range orders {
		if o.Working() {
			a.orders[o.ID] = o
		}
	}
	a.realizedPnL = realized
	a.trades = append(a.trades[:0], trades...)
	a.applied = make(map[string]int, len(trades))
	for i, tr := range trades {
		a.applied[tr.ID] = i
	}
	a.sessionTrades = len(trades)
	a.lastReset = lastReset
	return a.snapshotLocked(id)
}

// NetContracts returns the signed net contract count across instruments.
func (s *Store) NetContracts(id domain.AccountID) int {
	return s.Snapshot(id).NetContracts()
}

// ContractCount returns the signed position size in one instrument.
func (s *Store) ContractCount(id domain.AccountID, instrument string) int {
	return s.Snapshot(id).ContractCount(instrument)
}

// RealizedPnL returns the realized P&L for the current trading day.
func (s *Store) RealizedPnL(id domain.AccountID) float64 {
	return s.Snapshot(id).RealizedPnL
}

// TradesInWindow counts logged trades with now-w < t <= now.
func (s *Store) TradesInWindow(id domain.AccountID, w time.Duration, now time.Time) int {
	return s.Snapshot(id).TradesWithin(w, now)
}

// Applied returns the logged trade with the given ID, if it was counted.
func (s *Store) Applied(id domain.AccountID, tradeID string) (AppliedTrade, bool) {
	a := s.account(id)
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.applied[tradeID]
	if !ok {
		return AppliedTrade{}, false
	}
	return a.trades[i], true
}

// Snapshot returns a read-only copy of the account's state.
func (s *Store) Snapshot(id domain.AccountID) Snapshot {
	a := s.account(id)
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked(id)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
