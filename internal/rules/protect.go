package rules

import (
	"fmt"
	"strings"
	"time"

	"riskguard/internal/domain"
)

const NameNoStopLoss = "no_stop_loss"

// noStopTimerPrefix prefixes grace timers so the fired event routes back to
// this rule with the instrument attached.
const noStopTimerPrefix = "no_stop:"

// NoStopTimerPurpose returns the timer purpose used for an instrument's
// protective-order grace period.
func NoStopTimerPurpose(instrument string) string {
	return noStopTimerPrefix + instrument
}

// noStopLossRule requires a working protective order (stop or stop-limit on
// the opposite side) within a grace period of a position opening. The rule
// never breaches at open; it schedules a grace timer and breaches only when
// the timer fires with the position still unprotected.
type noStopLossRule struct{}

func (noStopLossRule) Name() string { return NameNoStopLoss }

func (noStopLossRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventPositionUpdate, domain.EventTradeExecution, domain.EventTimerFired}
}

func (noStopLossRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.NoStopLoss
	if !cfg.Enabled || cfg.GraceSec <= 0 {
		return nil
	}

	if ec.Event.Type == domain.EventTimerFired {
		return evalGraceExpired(ec)
	}

	if !ec.PositionOpened || ec.Event.Instrument == "" || ec.Timers == nil {
		return nil
	}
	ec.Timers.Schedule(NoStopTimerPurpose(ec.Event.Instrument), ec.Event.Instrument, time.Duration(cfg.GraceSec)*time.Second)
	return nil
}

func evalGraceExpired(ec EvalContext) *Verdict {
	fire := ec.Event.Timer
	if fire == nil || !strings.HasPrefix(fire.Purpose, noStopTimerPrefix) {
		return nil
	}
	instrument := fire.Instrument
	if instrument == "" {
		instrument = strings.TrimPrefix(fire.Purpose, noStopTimerPrefix)
	}

	pos, open := ec.State.Positions[instrument]
	if !open || pos.Flat() {
		return nil
	}
	if ec.State.HasProtectiveOrder(instrument) {
		return nil
	}

	return &Verdict{
		Rule:   NameNoStopLoss,
		Reason: fmt.Sprintf("NoStopLoss %s unprotected after %ds grace", instrument, ec.Settings.NoStopLoss.GraceSec),
		Action: domain.Action{Kind: domain.ActionClosePosition, Instrument: instrument},
	}
}
