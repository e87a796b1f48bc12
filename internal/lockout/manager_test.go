package lockout

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"riskguard/internal/domain"
)

const acct = domain.AccountID("ACC-1")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpiryNeverDecreases(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	m.Set(domain.Lockout{Account: acct, Reason: "first", Severity: domain.SeverityDaily, Expiry: now.Add(time.Hour)})
	got := m.Set(domain.Lockout{Account: acct, Reason: "second", Severity: domain.SeverityDaily, Expiry: now.Add(time.Minute)})

	if !got.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("expiry shortened to %v, want %v", got.Expiry, now.Add(time.Hour))
	}
	// Equal severity overwrites the reason.
	if got.Reason != "second" {
		t.Errorf("reason = %q, want second (equal severity overwrites)", got.Reason)
	}
}

func TestLowerSeverityKeepsReason(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	m.Set(domain.Lockout{Account: acct, Reason: "auth loss", Severity: domain.SeverityHard, Expiry: now.Add(time.Minute)})
	got := m.Set(domain.Lockout{Account: acct, Reason: "cooldown", Severity: domain.SeverityCooldown, Expiry: now.Add(time.Hour)})

	if got.Reason != "auth loss" || got.Severity != domain.SeverityHard {
		t.Errorf("lower severity overwrote reason: %q/%v", got.Reason, got.Severity)
	}
	// But the longer expiry still extends.
	if !got.Expiry.Equal(now.Add(time.Hour)) {
		t.Errorf("expiry = %v, want extended to +1h", got.Expiry)
	}
}

func TestSweepClearsExpired(t *testing.T) {
	var cleared []domain.Lockout
	m := NewManager(testLogger(), func(l domain.Lockout) { cleared = append(cleared, l) })
	now := time.Now()

	m.Set(domain.Lockout{Account: acct, Reason: "cooldown", Severity: domain.SeverityCooldown, Expiry: now.Add(30 * time.Second)})

	m.Sweep(now.Add(10 * time.Second))
	if _, active := m.Active(acct, now.Add(10*time.Second)); !active {
		t.Fatal("lockout cleared before expiry")
	}

	m.Sweep(now.Add(31 * time.Second))
	if _, active := m.Active(acct, now.Add(31*time.Second)); active {
		t.Fatal("lockout still active after expiry sweep")
	}
	if len(cleared) != 1 || cleared[0].Account != acct {
		t.Errorf("cleared notifications = %v, want one for %s", cleared, acct)
	}
}

func TestSweepSkipsStaleEntryAfterExtension(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	m.Set(domain.Lockout{Account: acct, Reason: "r", Severity: domain.SeverityDaily, Expiry: now.Add(10 * time.Second)})
	m.Set(domain.Lockout{Account: acct, Reason: "r", Severity: domain.SeverityDaily, Expiry: now.Add(time.Hour)})

	// The first heap entry comes due, but the lockout has been extended.
	m.Sweep(now.Add(11 * time.Second))
	if _, active := m.Active(acct, now.Add(11*time.Second)); !active {
		t.Fatal("extended lockout was cleared by a stale heap entry")
	}
}

func TestUntilResetIgnoredBySweepClearedByReset(t *testing.T) {
	var cleared int
	m := NewManager(testLogger(), func(domain.Lockout) { cleared++ })
	now := time.Now()

	m.Set(domain.Lockout{Account: acct, Reason: "daily loss", Severity: domain.SeverityDaily, UntilReset: true})

	m.Sweep(now.Add(24 * time.Hour))
	if _, active := m.Active(acct, now.Add(24*time.Hour)); !active {
		t.Fatal("until-reset lockout must survive the sweep")
	}

	m.ClearDaily(acct, now.Add(24*time.Hour))
	if _, active := m.Active(acct, now); active {
		t.Fatal("until-reset lockout must clear at daily reset")
	}
	if cleared != 1 {
		t.Errorf("cleared notifications = %d, want 1", cleared)
	}
}

func TestTimersFireOnce(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	fired := 0
	m.StartTimer(acct, "no_stop:ESZ5", 30*time.Second, now, func() { fired++ })

	m.Sweep(now.Add(10 * time.Second))
	if fired != 0 {
		t.Fatal("timer fired early")
	}
	m.Sweep(now.Add(31 * time.Second))
	m.Sweep(now.Add(32 * time.Second))
	if fired != 1 {
		t.Errorf("timer fired %d times, want exactly 1", fired)
	}
}

func TestCancelTimer(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	fired := false
	m.StartTimer(acct, "grace", time.Second, now, func() { fired = true })
	m.CancelTimer(acct, "grace")

	m.Sweep(now.Add(2 * time.Second))
	if fired {
		t.Error("cancelled timer fired")
	}
}

func TestCancelAccountDiscardsEverything(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	fired := false
	m.Set(domain.Lockout{Account: acct, Reason: "r", Severity: domain.SeverityDaily, Expiry: now.Add(time.Hour)})
	m.StartTimer(acct, "grace", time.Second, now, func() { fired = true })

	m.CancelAccount(acct)

	if _, active := m.Active(acct, now); active {
		t.Error("lockout survived account removal")
	}
	m.Sweep(now.Add(2 * time.Second))
	if fired {
		t.Error("timer survived account removal")
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	m := NewManager(testLogger(), nil)
	now := time.Now()

	fired := 0
	m.StartTimer(acct, "grace", 10*time.Second, now, func() { fired++ })
	m.StartTimer(acct, "grace", 60*time.Second, now, func() { fired++ })

	// Old heap entry is stale; the replacement fires at its own time.
	m.Sweep(now.Add(11 * time.Second))
	if fired != 0 {
		t.Fatal("replaced timer fired at the old deadline")
	}
	m.Sweep(now.Add(61 * time.Second))
	if fired != 1 {
		t.Errorf("timer fired %d times, want 1", fired)
	}
}
