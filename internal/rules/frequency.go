package rules

import (
	"fmt"
	"time"

	"riskguard/internal/domain"
)

const NameTradeFrequency = "trade_frequency"

// tradeFrequencyRule limits trades per rolling minute, hour, and session.
// All three windows are views over the same trade-timestamp log. Severity
// order is session > hour > minute; only the most severe applicable
// cooldown is applied, never all three stacked.
type tradeFrequencyRule struct{}

func (tradeFrequencyRule) Name() string { return NameTradeFrequency }

func (tradeFrequencyRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventTradeExecution}
}

func (tradeFrequencyRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.TradeFrequency
	if !cfg.Enabled {
		return nil
	}

	if cfg.PerSession > 0 && ec.State.SessionTrades > cfg.PerSession {
		return &Verdict{
			Rule:    NameTradeFrequency,
			Reason:  fmt.Sprintf("TradeFrequency session %d/%d", ec.State.SessionTrades, cfg.PerSession),
			Action:  domain.Action{Kind: domain.ActionLockOnly},
			Lockout: &LockoutSpec{Severity: domain.SeverityDaily, UntilReset: true},
		}
	}

	if cfg.PerHour > 0 {
		if n := ec.State.TradesWithin(time.Hour, ec.Now); n > cfg.PerHour {
			return &Verdict{
				Rule:    NameTradeFrequency,
				Reason:  fmt.Sprintf("TradeFrequency hour %d/%d", n, cfg.PerHour),
				Action:  domain.Action{Kind: domain.ActionLockOnly},
				Lockout: &LockoutSpec{Severity: domain.SeverityCooldown, Duration: time.Duration(cfg.HourCooldownSec) * time.Second},
			}
		}
	}

	if cfg.PerMinute > 0 {
		if n := ec.State.TradesWithin(time.Minute, ec.Now); n > cfg.PerMinute {
			return &Verdict{
				Rule:    NameTradeFrequency,
				Reason:  fmt.Sprintf("TradeFrequency minute %d/%d", n, cfg.PerMinute),
				Action:  domain.Action{Kind: domain.ActionLockOnly},
				Lockout: &LockoutSpec{Severity: domain.SeverityCooldown, Duration: time.Duration(cfg.MinuteCooldownSec) * time.Second},
			}
		}
	}

	return nil
}
