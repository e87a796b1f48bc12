package rules

import (
	"fmt"

	"riskguard/internal/config"
	"riskguard/internal/domain"
)

const NameSessionHours = "session_hours"

// SessionSweepPurpose is the timer purpose of the periodic session re-check.
// The engine schedules it on a fixed cadence so accounts with no event flow
// are still flattened when the window closes.
const SessionSweepPurpose = "session_sweep"

// sessionHoursRule forbids open positions outside the configured trading
// window. Times are wall-clock in the account's timezone; windows with
// close <= open span midnight.
type sessionHoursRule struct{}

func (sessionHoursRule) Name() string { return NameSessionHours }

func (sessionHoursRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventPositionUpdate, domain.EventTradeExecution, domain.EventTimerFired}
}

func (sessionHoursRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.SessionHours
	if !cfg.Enabled || ec.Calendar == nil || ec.Location == nil {
		return nil
	}
	if ec.Event.Type == domain.EventTimerFired {
		if ec.Event.Timer == nil || ec.Event.Timer.Purpose != SessionSweepPurpose {
			return nil
		}
	}

	openH, openM, err := config.ParseClock(cfg.Open)
	if err != nil {
		return nil
	}
	closeH, closeM, err := config.ParseClock(cfg.Close)
	if err != nil {
		return nil
	}
	if ec.Calendar.InSession(ec.Now, ec.Location, openH, openM, closeH, closeM) {
		return nil
	}

	held := false
	for _, p := range ec.State.Positions {
		if !p.Flat() {
			held = true
			break
		}
	}
	if !held {
		return nil
	}

	return &Verdict{
		Rule:   NameSessionHours,
		Reason: fmt.Sprintf("SessionHours outside %s-%s", cfg.Open, cfg.Close),
		Action: domain.Action{Kind: domain.ActionCloseAll},
	}
}
