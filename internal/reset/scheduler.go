// Package reset drives the daily account reset: realized P&L, session trade
// counters, and until-reset lockouts all clear at each account's configured
// reset time on trading days.
package reset

import (
	"context"
	"log/slog"
	"time"

	"riskguard/internal/calendar"
	"riskguard/internal/domain"
)

// Account is one account's reset schedule.
type Account struct {
	ID       domain.AccountID
	Location *time.Location
	Hour     int
	Minute   int
}

// Scheduler fires the reset callback at each account's reset instant. The
// callback owns the actual reset (state, lockouts, persistence, audit); the
// scheduler only decides when, and guarantees a reset missed during downtime
// fires exactly once at startup.
type Scheduler struct {
	log      *slog.Logger
	cal      *calendar.Calendar
	accounts []Account

	// lastReset returns the persisted instant of the account's most recent
	// reset. A zero time means the account has never been reset.
	lastReset func(id domain.AccountID) time.Time

	// fire performs the reset for resetAt and must persist resetAt as the
	// new last-reset marker before returning.
	fire func(id domain.AccountID, resetAt time.Time)
}

// NewScheduler creates a Scheduler over the given accounts.
func NewScheduler(log *slog.Logger, cal *calendar.Calendar, accounts []Account, lastReset func(domain.AccountID) time.Time, fire func(domain.AccountID, time.Time)) *Scheduler {
	return &Scheduler{
		log:       log,
		cal:       cal,
		accounts:  accounts,
		lastReset: lastReset,
		fire:      fire,
	}
}

// CatchUp fires, once per account, any reset whose instant passed while the
// process was down. Counters carried across the boundary are cleared before
// live events flow.
func (s *Scheduler) CatchUp(now time.Time) {
	for _, a := range s.accounts {
		prev := s.cal.PrevDailyReset(now, a.Location, a.Hour, a.Minute)
		last := s.lastReset(a.ID)
		if !last.Before(prev) {
			continue
		}
		s.log.Info("firing missed daily reset",
			"account", a.ID,
			"resetAt", prev,
			"lastReset", last,
		)
		s.fire(a.ID, prev)
	}
}

// Run fires each account's reset at its next scheduled instant until ctx is
// cancelled. One goroutine per account; reset times are per-account and the
// schedules do not align.
func (s *Scheduler) Run(ctx context.Context) {
	for _, a := range s.accounts {
		go s.runAccount(ctx, a)
	}
	<-ctx.Done()
}

func (s *Scheduler) runAccount(ctx context.Context, a Account) {
	for {
		next := s.cal.NextDailyReset(time.Now(), a.Location, a.Hour, a.Minute)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.log.Info("daily reset", "account", a.ID, "resetAt", next)
			s.fire(a.ID, next)
		}
	}
}
