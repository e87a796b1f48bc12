package rules

import (
	"fmt"

	"riskguard/internal/domain"
)

// Rule names, also the keys accepted in the configured priority list.
const (
	NameMaxContracts        = "max_contracts"
	NameInstrumentContracts = "instrument_contracts"
)

// maxContractsRule breaches when the absolute net contract count across all
// instruments exceeds the configured limit.
type maxContractsRule struct{}

func (maxContractsRule) Name() string { return NameMaxContracts }

func (maxContractsRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventPositionUpdate, domain.EventTradeExecution}
}

func (maxContractsRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.MaxContracts
	if !cfg.Enabled || cfg.Limit <= 0 {
		return nil
	}
	net := ec.State.NetContracts()
	if iabs(net) <= cfg.Limit {
		return nil
	}

	action := domain.Action{Kind: domain.ActionCloseAll}
	if cfg.Action == "reduce" && ec.Event.Instrument != "" {
		// Reduce the triggering instrument by the excess, preserving
		// direction: excess = |net| - limit.
		excess := iabs(net) - cfg.Limit
		cur := ec.State.ContractCount(ec.Event.Instrument)
		target := cur
		if net > 0 {
			target = cur - excess
		} else {
			target = cur + excess
		}
		action = domain.Action{Kind: domain.ActionReduceTo, Instrument: ec.Event.Instrument, TargetSize: target}
	}

	return &Verdict{
		Rule:    NameMaxContracts,
		Reason:  fmt.Sprintf("MaxContracts %d/%d", iabs(net), cfg.Limit),
		Action:  action,
		Lockout: &LockoutSpec{Severity: domain.SeverityDaily, UntilReset: true},
	}
}

// instrumentContractsRule breaches when the position in one instrument
// exceeds that instrument's configured limit.
type instrumentContractsRule struct{}

func (instrumentContractsRule) Name() string { return NameInstrumentContracts }

func (instrumentContractsRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventPositionUpdate, domain.EventTradeExecution}
}

func (instrumentContractsRule) Evaluate(ec EvalContext) *Verdict {
	cfg := ec.Settings.InstrumentContracts
	if !cfg.Enabled || ec.Event.Instrument == "" {
		return nil
	}
	limit, ok := cfg.Limits[ec.Event.Instrument]
	if !ok || limit <= 0 {
		return nil
	}
	size := ec.State.ContractCount(ec.Event.Instrument)
	if iabs(size) <= limit {
		return nil
	}

	action := domain.Action{Kind: domain.ActionClosePosition, Instrument: ec.Event.Instrument}
	if cfg.Action == "reduce" {
		target := limit
		if size < 0 {
			target = -limit
		}
		action = domain.Action{Kind: domain.ActionReduceTo, Instrument: ec.Event.Instrument, TargetSize: target}
	}

	return &Verdict{
		Rule:    NameInstrumentContracts,
		Reason:  fmt.Sprintf("InstrumentContracts %s %d/%d", ec.Event.Instrument, iabs(size), limit),
		Action:  action,
		Lockout: &LockoutSpec{Severity: domain.SeverityDaily, UntilReset: true},
	}
}

func iabs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
