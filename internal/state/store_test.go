package state

import (
	"testing"
	"time"

	"riskguard/internal/domain"
)

const acct = domain.AccountID("ACC-1")

var esMeta = domain.ContractMeta{Instrument: "ESZ5", TickSize: 0.25, TickValue: 12.5}

func fill(id string, side domain.OrderSide, qty int, price float64, ts time.Time) domain.Trade {
	return domain.Trade{ID: id, Instrument: "ESZ5", Side: side, Qty: qty, Price: price, Timestamp: ts}
}

func TestNetPositionFromFills(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)
	snap, _ := s.ApplyTrade(acct, fill("t2", domain.OrderSideBuy, 3, 5002, now), esMeta, true)

	if got := snap.NetContracts(); got != 5 {
		t.Errorf("net after two buys = %d, want 5", got)
	}
	if got := snap.ContractCount("ESZ5"); got != 5 {
		t.Errorf("ESZ5 count = %d, want 5", got)
	}
	// Weighted average entry: (2*5000 + 3*5002)/5 = 5001.2
	if got := snap.Positions["ESZ5"].AvgPrice; got != 5001.2 {
		t.Errorf("avg price = %v, want 5001.2", got)
	}

	snap, change := s.ApplyTrade(acct, fill("t3", domain.OrderSideSell, 5, 5003, now), esMeta, true)
	if got := snap.NetContracts(); got != 0 {
		t.Errorf("net after flat = %d, want 0", got)
	}
	if !change.Closed {
		t.Error("closing fill should report Closed")
	}
	if _, ok := snap.Positions["ESZ5"]; ok {
		t.Error("flat position must be removed, not stored as zero")
	}
	// Realized: (5003-5001.2)/0.25*12.5*5 = 450.
	if got := snap.RealizedPnL; got < 449.99 || got > 450.01 {
		t.Errorf("realized = %v, want 450", got)
	}
}

func TestFlipThroughZero(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)
	snap, _ := s.ApplyTrade(acct, fill("t2", domain.OrderSideSell, 5, 5001, now), esMeta, true)

	pos := snap.Positions["ESZ5"]
	if pos.Size != -3 {
		t.Errorf("flipped size = %d, want -3", pos.Size)
	}
	if pos.AvgPrice != 5001 {
		t.Errorf("flipped avg = %v, want fill price 5001", pos.AvgPrice)
	}
	// Realized on the 2 closed: (5001-5000)/0.25*12.5*2 = 100.
	if snap.RealizedPnL != 100 {
		t.Errorf("realized = %v, want 100", snap.RealizedPnL)
	}
}

func TestVoidedTradeRetroSubtraction(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 1, 5000, now), esMeta, true)
	snap, _ := s.ApplyTrade(acct, fill("t2", domain.OrderSideSell, 1, 5004, now), esMeta, true)
	if snap.SessionTrades != 2 || snap.RealizedPnL != 200 {
		t.Fatalf("setup: trades=%d realized=%v", snap.SessionTrades, snap.RealizedPnL)
	}

	// Void t2: counters and realized delta are retroactively subtracted.
	void := fill("t2", domain.OrderSideSell, 1, 5004, now)
	void.Voided = true
	snap, _ = s.ApplyTrade(acct, void, esMeta, true)
	if snap.SessionTrades != 1 {
		t.Errorf("session trades after void = %d, want 1", snap.SessionTrades)
	}
	if snap.RealizedPnL != 0 {
		t.Errorf("realized after void = %v, want 0", snap.RealizedPnL)
	}

	// Voiding a never-counted trade is a no-op.
	unknown := fill("zzz", domain.OrderSideBuy, 9, 1, now)
	unknown.Voided = true
	snap, _ = s.ApplyTrade(acct, unknown, esMeta, true)
	if snap.SessionTrades != 1 {
		t.Errorf("void of unknown trade mutated counters: %d", snap.SessionTrades)
	}
}

func TestVoidedTradeCancelsNetSize(t *testing.T) {
	s := NewStore()
	now := time.Now()

	snap, _ := s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)
	if got := snap.NetContracts(); got != 2 {
		t.Fatalf("setup: net = %d, want 2", got)
	}

	// Replaying the same execution as voided cancels its size contribution.
	void := fill("t1", domain.OrderSideBuy, 2, 5000, now)
	void.Voided = true
	snap, change := s.ApplyTrade(acct, void, esMeta, true)
	if got := snap.NetContracts(); got != 0 {
		t.Errorf("net after apply+void = %d, want 0", got)
	}
	if !change.Closed {
		t.Error("void flattening the position should report Closed")
	}
	if _, ok := snap.Positions["ESZ5"]; ok {
		t.Error("voided-out position must be removed, not stored as zero")
	}
	if snap.SessionTrades != 0 {
		t.Errorf("session trades after void = %d, want 0", snap.SessionTrades)
	}
}

func TestVoidedCloseReopensPosition(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)
	snap, _ := s.ApplyTrade(acct, fill("t2", domain.OrderSideSell, 2, 5004, now), esMeta, true)
	if snap.NetContracts() != 0 || snap.RealizedPnL != 400 {
		t.Fatalf("setup: net=%d realized=%v", snap.NetContracts(), snap.RealizedPnL)
	}

	void := fill("t2", domain.OrderSideSell, 2, 5004, now)
	void.Voided = true
	snap, change := s.ApplyTrade(acct, void, esMeta, true)
	if got := snap.ContractCount("ESZ5"); got != 2 {
		t.Errorf("size after voided close = %d, want 2 (position re-opened)", got)
	}
	if !change.Opened {
		t.Error("void re-opening the position should report Opened")
	}
	if snap.RealizedPnL != 0 {
		t.Errorf("realized after voided close = %v, want 0", snap.RealizedPnL)
	}
}

func TestDuplicateTradeIgnored(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)
	snap, _ := s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)

	if snap.SessionTrades != 1 {
		t.Errorf("duplicate id counted: trades = %d, want 1", snap.SessionTrades)
	}
	if snap.NetContracts() != 2 {
		t.Errorf("duplicate id netted: %d, want 2", snap.NetContracts())
	}
}

func TestPositionUpdateNetsAndRemoves(t *testing.T) {
	s := NewStore()
	now := time.Now()

	snap, change := s.ApplyPositionUpdate(acct, domain.Position{Instrument: "NQZ5", Size: 3, AvgPrice: 20000, UpdatedAt: now})
	if !change.Opened {
		t.Error("first nonzero update should report Opened")
	}
	// Same instrument is replaced, never duplicated.
	snap, _ = s.ApplyPositionUpdate(acct, domain.Position{Instrument: "NQZ5", Size: 5, AvgPrice: 20010, UpdatedAt: now})
	if len(snap.Positions) != 1 || snap.ContractCount("NQZ5") != 5 {
		t.Errorf("positions = %v, want single NQZ5 at 5", snap.Positions)
	}

	snap, change = s.ApplyPositionUpdate(acct, domain.Position{Instrument: "NQZ5", Size: 0, UpdatedAt: now})
	if !change.Closed {
		t.Error("zero-size update should report Closed")
	}
	if len(snap.Positions) != 0 {
		t.Error("zero-size position must be removed")
	}
}

func TestTradesWithinBoundaries(t *testing.T) {
	s := NewStore()
	base := time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

	// Trades clustered at window boundaries.
	for i, offset := range []time.Duration{0, -10 * time.Second, -60 * time.Second, -61 * time.Second, -59 * time.Minute, -61 * time.Minute} {
		s.ApplyTrade(acct, fill(string(rune('a'+i)), domain.OrderSideBuy, 1, 5000, base.Add(offset)), esMeta, true)
	}

	// Window (base-60s, base]: offsets 0, -10s, -60s... -60s is NOT after
	// cutoff (t > now-w strict), so exactly 2 count.
	if got := s.TradesInWindow(acct, time.Minute, base); got != 2 {
		t.Errorf("minute window = %d, want 2", got)
	}
	if got := s.TradesInWindow(acct, time.Hour, base); got != 5 {
		t.Errorf("hour window = %d, want 5", got)
	}
	if got := s.TradesInWindow(acct, 2*time.Hour, base); got != 6 {
		t.Errorf("session window = %d, want 6", got)
	}
}

func TestResetDaily(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 1, 5000, now), esMeta, true)
	s.ApplyTrade(acct, fill("t2", domain.OrderSideSell, 1, 5004, now), esMeta, true)

	snap := s.ResetDaily(acct, now)
	if snap.RealizedPnL != 0 || snap.SessionTrades != 0 || len(snap.TradeTimes) != 0 {
		t.Errorf("reset left state: %+v", snap)
	}
	if !snap.LastReset.Equal(now) {
		t.Errorf("LastReset = %v, want %v", snap.LastReset, now)
	}
}

func TestRestoreRebuildsWindows(t *testing.T) {
	s := NewStore()
	now := time.Now()
	trades := []AppliedTrade{
		{ID: "t1", Timestamp: now.Add(-30 * time.Second), Realized: 50},
		{ID: "t2", Timestamp: now.Add(-10 * time.Second), Realized: -20},
	}

	snap := s.Restore(acct,
		[]domain.Position{{Instrument: "ESZ5", Size: 2, AvgPrice: 5000}},
		[]domain.Order{{ID: "o1", Instrument: "ESZ5", Side: domain.OrderSideSell, Type: domain.OrderTypeStop, Status: domain.OrderStatusWorking}},
		30, trades, now.Add(-2*time.Hour))

	if snap.RealizedPnL != 30 {
		t.Errorf("restored realized = %v, want 30 (not reset to zero)", snap.RealizedPnL)
	}
	if got := snap.TradesWithin(time.Minute, now); got != 2 {
		t.Errorf("restored minute window = %d, want 2", got)
	}
	if !snap.HasProtectiveOrder("ESZ5") {
		t.Error("restored protective order not visible")
	}

	// Voiding a restored trade still works.
	void := domain.Trade{ID: "t1", Instrument: "ESZ5", Voided: true}
	after, _ := s.ApplyTrade(acct, void, esMeta, true)
	if after.SessionTrades != 1 || after.RealizedPnL != -20 {
		t.Errorf("void after restore: trades=%d realized=%v, want 1/-20", after.SessionTrades, after.RealizedPnL)
	}
}

func TestHasProtectiveOrder(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.ApplyTrade(acct, fill("t1", domain.OrderSideBuy, 2, 5000, now), esMeta, true)
	if s.Snapshot(acct).HasProtectiveOrder("ESZ5") {
		t.Error("no orders yet, nothing protective")
	}

	s.ApplyOrderUpdate(acct, domain.Order{ID: "o1", Instrument: "ESZ5", Side: domain.OrderSideSell, Type: domain.OrderTypeStop, Status: domain.OrderStatusWorking, Qty: 2})
	if !s.Snapshot(acct).HasProtectiveOrder("ESZ5") {
		t.Error("working sell stop should protect the long")
	}

	// Cancelled stop no longer protects.
	s.ApplyOrderUpdate(acct, domain.Order{ID: "o1", Instrument: "ESZ5", Side: domain.OrderSideSell, Type: domain.OrderTypeStop, Status: domain.OrderStatusCancelled, Qty: 2})
	if s.Snapshot(acct).HasProtectiveOrder("ESZ5") {
		t.Error("cancelled stop should not protect")
	}
}
