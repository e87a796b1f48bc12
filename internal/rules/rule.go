// Package rules implements the risk rule set. Rules are stateless with
// respect to their own bookkeeping: every counter they consult lives in the
// account state store, so a settings hot-reload never loses history.
package rules

import (
	"log/slog"
	"time"

	"riskguard/internal/config"
	"riskguard/internal/domain"
	"riskguard/internal/state"
)

// QuoteSource supplies fresh quotes. A quote older than the staleness
// horizon is not returned; rules must skip, never assume zero.
type QuoteSource interface {
	Fresh(instrument string, now time.Time) (domain.Quote, bool)
}

// MetaSource supplies cached contract metadata without blocking.
type MetaSource interface {
	Lookup(instrument string) (domain.ContractMeta, bool)
}

// TimerScheduler schedules named one-shot timers that come back to the rule
// as EventTimerFired.
type TimerScheduler interface {
	Schedule(purpose, instrument string, d time.Duration)
}

// SessionCalendar answers session-window questions for the session rule.
type SessionCalendar interface {
	InSession(now time.Time, loc *time.Location, openH, openM, closeH, closeM int) bool
}

// LockoutSpec describes the lockout or cooldown a breach verdict carries.
type LockoutSpec struct {
	Severity   domain.Severity
	Duration   time.Duration
	UntilReset bool
}

// Verdict is a breach report: which rule fired, why, and what to do.
type Verdict struct {
	Rule    string
	Reason  string
	Action  domain.Action
	Lockout *LockoutSpec
}

// EvalContext is everything a rule may consult for one evaluation. State is
// the snapshot taken just after the triggering event was applied.
type EvalContext struct {
	Now      time.Time
	Event    domain.Event
	State    state.Snapshot
	Settings config.Rules

	Quotes   QuoteSource
	Meta     MetaSource
	Timers   TimerScheduler
	Calendar SessionCalendar
	Location *time.Location // account timezone

	// PositionOpened is set when the triggering event took the event's
	// instrument from flat to open.
	PositionOpened bool

	// DataGap, when non-nil, records a skipped evaluation input (stale
	// quote, unresolved metadata) for logging/metrics.
	DataGap func(instrument, reason string)

	Log *slog.Logger
}

func (ec EvalContext) dataGap(instrument, reason string) {
	if ec.DataGap != nil {
		ec.DataGap(instrument, reason)
	}
}

// Rule is one risk rule. Evaluate returns nil when the rule does not breach.
type Rule interface {
	Name() string
	Events() []domain.EventType
	Evaluate(ec EvalContext) *Verdict
}

// Set holds the fixed rule identities. Settings are data passed per
// evaluation; hot-reload swaps settings, never rules.
type Set struct {
	rules []Rule
}

// defaultOrder is the evaluation order for rules not listed in the
// configured priority.
var defaultOrder = []string{
	NameAuthLoss,
	NameMaxContracts,
	NameInstrumentContracts,
	NameDailyLoss,
	NameProfitTarget,
	NameDrawdown,
	NameTradeFrequency,
	NameNoStopLoss,
	NameSessionHours,
}

// NewSet constructs the full rule set.
func NewSet() *Set {
	return &Set{rules: []Rule{
		authLossRule{},
		maxContractsRule{},
		instrumentContractsRule{},
		dailyLossRule{},
		profitTargetRule{},
		drawdownRule{},
		tradeFrequencyRule{},
		noStopLossRule{},
		sessionHoursRule{},
	}}
}

// ordered returns the rules sorted by the configured priority list, with
// unlisted rules following in default order.
func (s *Set) ordered(priority []string) []Rule {
	byName := make(map[string]Rule, len(s.rules))
	for _, r := range s.rules {
		byName[r.Name()] = r
	}

	out := make([]Rule, 0, len(s.rules))
	taken := make(map[string]struct{}, len(s.rules))
	for _, name := range priority {
		if r, ok := byName[name]; ok {
			out = append(out, r)
			taken[name] = struct{}{}
		}
	}
	for _, name := range defaultOrder {
		if _, done := taken[name]; done {
			continue
		}
		out = append(out, byName[name])
	}
	return out
}

// Evaluate runs the rules interested in the event in priority order and
// returns the first breach verdict, or nil. Only one enforcement action
// executes per event; rules are never combined.
func (s *Set) Evaluate(ec EvalContext) *Verdict {
	for _, r := range s.ordered(ec.Settings.Priority) {
		if !interested(r, ec.Event.Type) {
			continue
		}
		if v := r.Evaluate(ec); v != nil {
			return v
		}
	}
	return nil
}

func interested(r Rule, t domain.EventType) bool {
	for _, e := range r.Events() {
		if e == t {
			return true
		}
	}
	return false
}
