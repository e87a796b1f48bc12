package state

import (
	"time"

	"riskguard/internal/domain"
)

// Snapshot is a read-only copy of one account's state at a point in time.
// Rules evaluate against snapshots, never against live maps.
type Snapshot struct {
	Account       domain.AccountID
	Positions     map[string]domain.Position
	Orders        map[string]domain.Order
	RealizedPnL   float64
	SessionTrades int
	TradeTimes    []time.Time
	LastReset     time.Time
}

// snapshotLocked copies the account state. Caller holds a.mu (read or write).
func (a *accountState) snapshotLocked(id domain.AccountID) Snapshot {
	snap := Snapshot{
		Account:       id,
		Positions:     make(map[string]domain.Position, len(a.positions)),
		Orders:        make(map[string]domain.Order, len(a.orders)),
		RealizedPnL:   a.realizedPnL,
		SessionTrades: a.sessionTrades,
		TradeTimes:    make([]time.Time, len(a.trades)),
		LastReset:     a.lastReset,
	}
	for k, v := range a.positions {
		snap.Positions[k] = v
	}
	for k, v := range a.orders {
		snap.Orders[k] = v
	}
	for i, tr := range a.trades {
		snap.TradeTimes[i] = tr.Timestamp
	}
	return snap
}

// NetContracts returns the signed sum of position sizes.
func (s Snapshot) NetContracts() int {
	net := 0
	for _, p := range s.Positions {
		net += p.Size
	}
	return net
}

// ContractCount returns the signed size held in one instrument.
func (s Snapshot) ContractCount(instrument string) int {
	return s.Positions[instrument].Size
}

// TradesWithin counts trades with now-w < t <= now.
func (s Snapshot) TradesWithin(w time.Duration, now time.Time) int {
	cutoff := now.Add(-w)
	n := 0
	for _, t := range s.TradeTimes {
		if t.After(cutoff) && !t.After(now) {
			n++
		}
	}
	return n
}

// HasProtectiveOrder reports whether a working stop-type order protects the
// position held in the instrument.
func (s Snapshot) HasProtectiveOrder(instrument string) bool {
	pos, ok := s.Positions[instrument]
	if !ok {
		return false
	}
	for _, o := range s.Orders {
		if o.Instrument == instrument && o.Protective(pos.Size) {
			return true
		}
	}
	return false
}
