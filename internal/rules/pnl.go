package rules

import (
	"fmt"

	"riskguard/internal/domain"
)

const (
	NameDailyLoss    = "daily_loss"
	NameProfitTarget = "profit_target"
	NameDrawdown     = "drawdown"
)

// dailyLossRule breaches when realized P&L for the day falls below the
// configured loss limit.
type dailyLossRule struct{}

func (dailyLossRule) Name() string { return NameDailyLoss }

func (dailyLossRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventTradeExecution}
}

func (dailyLossRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.DailyLoss
	if !cfg.Enabled || cfg.Limit <= 0 {
		return nil
	}
	if ec.State.RealizedPnL > -cfg.Limit {
		return nil
	}
	return &Verdict{
		Rule:    NameDailyLoss,
		Reason:  fmt.Sprintf("DailyLoss %.2f/%.2f", -ec.State.RealizedPnL, cfg.Limit),
		Action:  domain.Action{Kind: domain.ActionCloseAll},
		Lockout: &LockoutSpec{Severity: domain.SeverityDaily, UntilReset: true},
	}
}

// profitTargetRule breaches when realized P&L reaches the configured daily
// target; trading stops for the day.
type profitTargetRule struct{}

func (profitTargetRule) Name() string { return NameProfitTarget }

func (profitTargetRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventTradeExecution}
}

func (profitTargetRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.ProfitTarget
	if !cfg.Enabled || cfg.Limit <= 0 {
		return nil
	}
	if ec.State.RealizedPnL < cfg.Limit {
		return nil
	}
	return &Verdict{
		Rule:    NameProfitTarget,
		Reason:  fmt.Sprintf("ProfitTarget %.2f/%.2f", ec.State.RealizedPnL, cfg.Limit),
		Action:  domain.Action{Kind: domain.ActionCloseAll},
		Lockout: &LockoutSpec{Severity: domain.SeverityDaily, UntilReset: true},
	}
}

// drawdownRule breaches when the unrealized P&L across open positions falls
// below the configured drawdown limit. Positions with a stale or missing
// quote, or unresolved contract metadata, are excluded from the sum and
// recorded as a data gap; they are never treated as zero loss.
type drawdownRule struct{}

func (drawdownRule) Name() string { return NameDrawdown }

func (drawdownRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventQuoteUpdate, domain.EventPositionUpdate}
}

func (drawdownRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.Drawdown
	if !cfg.Enabled || cfg.Limit <= 0 {
		return nil
	}

	unrealized := 0.0
	for _, pos := range ec.State.Positions {
		meta, ok := ec.Meta.Lookup(pos.Instrument)
		if !ok {
			ec.dataGap(pos.Instrument, "metadata unresolved")
			continue
		}
		q, fresh := ec.Quotes.Fresh(pos.Instrument, ec.Now)
		if !fresh {
			ec.dataGap(pos.Instrument, "quote stale or missing")
			continue
		}
		unrealized += meta.PnL(pos.AvgPrice, q.Price, pos.Size)
	}

	if unrealized > -cfg.Limit {
		return nil
	}
	return &Verdict{
		Rule:    NameDrawdown,
		Reason:  fmt.Sprintf("Drawdown %.2f/%.2f", -unrealized, cfg.Limit),
		Action:  domain.Action{Kind: domain.ActionCloseAll},
		Lockout: &LockoutSpec{Severity: domain.SeverityDaily, UntilReset: true},
	}
}
