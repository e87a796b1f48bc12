// Package engine routes normalized broker events to per-account processors,
// evaluates the rule set, and drives enforcement. Each account's events are
// handled by a single goroutine, so state mutation, evaluation, and verdict
// dispatch are linearized per account.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"riskguard/internal/audit"
	"riskguard/internal/broker"
	"riskguard/internal/calendar"
	"riskguard/internal/config"
	"riskguard/internal/contracts"
	"riskguard/internal/domain"
	"riskguard/internal/lockout"
	"riskguard/internal/metrics"
	"riskguard/internal/quotes"
	"riskguard/internal/rules"
	"riskguard/internal/state"
	"riskguard/internal/store"
	"riskguard/internal/util"
)

// Config carries the Engine's wiring.
type Config struct {
	Log      *slog.Logger
	State    *state.Store
	Quotes   *quotes.Tracker
	Meta     *contracts.Cache
	Settings *config.SettingsStore
	Recorder *audit.Recorder
	Calendar *calendar.Calendar
	Broker   broker.Broker

	// Checkpoint persists state for restart recovery. Optional.
	Checkpoint store.CheckpointStore

	Limiter     *util.RateLimiter
	MaxRetries  int
	Backoff     time.Duration
	Timeout     time.Duration
	MailboxSize int
}

type actor struct {
	id       domain.AccountID
	location *time.Location
	mailbox  chan domain.Event

	mu      sync.Mutex
	stopped bool
}

// send enqueues the event unless the actor has been stopped. The guard keeps
// a racing Dispatch off the closed mailbox after RemoveAccount.
func (a *actor) send(ev domain.Event) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.mailbox <- ev
	return true
}

// stop marks the actor stopped and closes the mailbox exactly once.
func (a *actor) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true
	close(a.mailbox)
}

// Engine owns the per-account actors and the shared rule machinery.
type Engine struct {
	log        *slog.Logger
	state      *state.Store
	quotes     *quotes.Tracker
	meta       *contracts.Cache
	settings   *config.SettingsStore
	recorder   *audit.Recorder
	cal        *calendar.Calendar
	checkpoint store.CheckpointStore
	lockouts   *lockout.Manager
	ruleset    *rules.Set
	coord      *Coordinator

	mailboxSize int

	ctx context.Context

	mu     sync.Mutex
	actors map[domain.AccountID]*actor
	wg     sync.WaitGroup
}

// New creates an Engine. Call Start before dispatching events.
func New(cfg Config) *Engine {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 256
	}
	e := &Engine{
		log:         cfg.Log,
		state:       cfg.State,
		quotes:      cfg.Quotes,
		meta:        cfg.Meta,
		settings:    cfg.Settings,
		recorder:    cfg.Recorder,
		cal:         cfg.Calendar,
		checkpoint:  cfg.Checkpoint,
		ruleset:     rules.NewSet(),
		mailboxSize: cfg.MailboxSize,
		ctx:         context.Background(),
		actors:      make(map[domain.AccountID]*actor),
	}
	e.lockouts = lockout.NewManager(cfg.Log, e.onLockoutCleared)
	e.coord = NewCoordinator(CoordinatorConfig{
		Log:          cfg.Log,
		Broker:       cfg.Broker,
		Recorder:     cfg.Recorder,
		Limiter:      cfg.Limiter,
		MaxRetries:   cfg.MaxRetries,
		Backoff:      cfg.Backoff,
		Timeout:      cfg.Timeout,
		ApplyLockout: e.applyLockout,
		Positions:    e.openPositions,
	})
	return e
}

// Start begins the lockout sweep loop and seeds per-account session sweeps.
// Events dispatched before Start are processed but timers only fire after.
func (e *Engine) Start(ctx context.Context) {
	e.ctx = ctx
	go e.lockouts.Run(ctx)

	settings := e.settings.Snapshot()
	e.mu.Lock()
	for _, a := range e.actors {
		e.seedSessionSweep(a, settings)
	}
	e.mu.Unlock()
}

// AddAccount registers an account and starts its processing goroutine.
func (e *Engine) AddAccount(id domain.AccountID, location *time.Location) {
	a := &actor{
		id:       id,
		location: location,
		mailbox:  make(chan domain.Event, e.mailboxSize),
	}
	e.mu.Lock()
	if _, dup := e.actors[id]; dup {
		e.mu.Unlock()
		return
	}
	e.actors[id] = a
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for ev := range a.mailbox {
			e.process(a, ev)
		}
	}()
}

// RemoveAccount stops the account's processing, cancels its timers, and
// discards its state. In-flight enforcement is left to finish.
func (e *Engine) RemoveAccount(id domain.AccountID) {
	e.mu.Lock()
	a, ok := e.actors[id]
	if ok {
		delete(e.actors, id)
	}
	e.mu.Unlock()
	if !ok {
		return
	}
	a.stop()

	e.lockouts.CancelAccount(id)
	for instrument := range e.state.Snapshot(id).Positions {
		e.quotes.ReleaseOpenInterest(instrument)
	}
	e.state.Remove(id)
	e.log.Info("account removed", "account", id)
}

// Stop closes every mailbox and waits for the actors and any in-flight
// enforcement to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	for id, a := range e.actors {
		a.stop()
		delete(e.actors, id)
	}
	e.mu.Unlock()
	e.wg.Wait()
	e.coord.Wait()
}

// Dispatch routes one event to its owning account. Quote updates carry no
// account and fan out to every account holding the instrument.
func (e *Engine) Dispatch(ev domain.Event) {
	if ev.Type == domain.EventQuoteUpdate {
		if ev.Quote != nil {
			e.quotes.Update(*ev.Quote)
		}
		for _, a := range e.actorList() {
			if e.state.ContractCount(a.id, ev.Instrument) == 0 {
				continue
			}
			ev.Account = a.id
			a.send(ev)
		}
		return
	}

	e.mu.Lock()
	a, ok := e.actors[ev.Account]
	e.mu.Unlock()
	if !ok {
		e.log.Warn("event for unknown account dropped", "account", ev.Account, "type", ev.Type)
		return
	}
	if !a.send(ev) {
		e.log.Warn("event for removed account dropped", "account", ev.Account, "type", ev.Type)
	}
}

func (e *Engine) actorList() []*actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*actor, 0, len(e.actors))
	for _, a := range e.actors {
		out = append(out, a)
	}
	return out
}

// ---------------------------------------------------------------------------
// Event processing
// ---------------------------------------------------------------------------

func (e *Engine) process(a *actor, ev domain.Event) {
	now := time.Now()
	metrics.EventsTotal.WithLabelValues(string(ev.Type)).Inc()
	settings := e.settings.Snapshot()

	var snap state.Snapshot
	positionOpened := false

	switch ev.Type {
	case domain.EventPositionUpdate:
		if ev.Position == nil {
			return
		}
		var change state.PositionChange
		snap, change = e.state.ApplyPositionUpdate(a.id, *ev.Position)
		e.syncInterest(change)
		positionOpened = change.Opened
		e.checkpointPosition(a.id, snap, ev.Position.Instrument)

	case domain.EventTradeExecution:
		if ev.Trade == nil {
			return
		}
		meta, ok := e.meta.Lookup(ev.Trade.Instrument)
		if !ok {
			e.meta.Ensure(e.ctx, ev.Trade.Instrument)
		}
		var change state.PositionChange
		snap, change = e.state.ApplyTrade(a.id, *ev.Trade, meta, ok)
		e.syncInterest(change)
		positionOpened = change.Opened
		e.checkpointTrade(a.id, *ev.Trade, snap)

	case domain.EventOrderUpdate:
		if ev.Order == nil {
			return
		}
		snap = e.state.ApplyOrderUpdate(a.id, *ev.Order)
		if e.checkpoint != nil {
			if err := e.checkpoint.SaveOrder(e.ctx, a.id, *ev.Order); err != nil {
				e.log.Error("order checkpoint failed", "account", a.id, "error", err)
			}
		}

	case domain.EventQuoteUpdate, domain.EventAccountStatus, domain.EventTimerFired:
		snap = e.state.Snapshot(a.id)

	default:
		return
	}

	// The session sweep is self-rearming so accounts with no event flow are
	// still flattened at the close.
	if ev.Type == domain.EventTimerFired && ev.Timer != nil && ev.Timer.Purpose == rules.SessionSweepPurpose {
		e.seedSessionSweep(a, settings)
	}

	if lk, locked := e.lockouts.Active(a.id, now); locked {
		e.suppress(a, ev, lk, positionOpened)
		return
	}

	ec := rules.EvalContext{
		Now:            now,
		Event:          ev,
		State:          snap,
		Settings:       settings,
		Quotes:         e.quotes,
		Meta:           e.meta,
		Timers:         timerScheduler{e: e, a: a},
		Calendar:       e.cal,
		Location:       a.location,
		PositionOpened: positionOpened,
		DataGap:        e.dataGap(a.id),
		Log:            e.log,
	}
	v := e.ruleset.Evaluate(ec)
	if v == nil {
		return
	}

	metrics.BreachesTotal.WithLabelValues(v.Rule).Inc()
	e.recorder.Record(audit.Entry{
		Account: a.id,
		Event:   string(ev.Type),
		Rule:    v.Rule,
		Reason:  v.Reason,
		Action:  string(v.Action.Kind),
		Outcome: audit.OutcomeBreach,
	})
	e.coord.Execute(e.ctx, a.id, *v, now)
}

// suppress handles an event arriving while the account is locked out. State
// was already mutated; rules are skipped. A fill that re-opened a position
// under lockout triggers an immediate flatten.
func (e *Engine) suppress(a *actor, ev domain.Event, lk domain.Lockout, positionOpened bool) {
	metrics.SuppressedEventsTotal.Inc()
	e.recorder.Record(audit.Entry{
		Account: a.id,
		Event:   string(ev.Type),
		Reason:  lk.Reason,
		Outcome: audit.OutcomeSuppressed,
	})

	if !positionOpened {
		return
	}
	e.log.Warn("position opened under lockout, flattening",
		"account", a.id,
		"instrument", ev.Instrument,
		"reason", lk.Reason,
	)
	e.coord.Execute(e.ctx, a.id, rules.Verdict{
		Rule:   "lockout",
		Reason: lk.Reason,
		Action: domain.Action{Kind: domain.ActionCloseAll},
	}, time.Now())
}

func (e *Engine) syncInterest(change state.PositionChange) {
	if change.Opened {
		e.quotes.AddOpenInterest(change.Instrument)
		e.meta.Ensure(e.ctx, change.Instrument)
	}
	if change.Closed {
		e.quotes.ReleaseOpenInterest(change.Instrument)
	}
}

func (e *Engine) dataGap(id domain.AccountID) func(instrument, reason string) {
	return func(instrument, reason string) {
		metrics.DataGapsTotal.WithLabelValues(reason).Inc()
		e.log.Warn("rule input skipped", "account", id, "instrument", instrument, "reason", reason)
	}
}

// timerScheduler adapts the lockout manager's timer wheel to the rules
// package. A fired timer re-enters the account's mailbox as an event.
type timerScheduler struct {
	e *Engine
	a *actor
}

func (t timerScheduler) Schedule(purpose, instrument string, d time.Duration) {
	e, id := t.e, t.a.id
	e.lockouts.StartTimer(id, purpose, d, time.Now(), func() {
		e.Dispatch(domain.Event{
			Type:       domain.EventTimerFired,
			Account:    id,
			Instrument: instrument,
			Timestamp:  time.Now(),
			Timer:      &domain.TimerFire{Purpose: purpose, Instrument: instrument},
		})
	})
}

func (e *Engine) seedSessionSweep(a *actor, settings config.Rules) {
	if !settings.SessionHours.Enabled || settings.SessionHours.SweepSec <= 0 {
		return
	}
	timerScheduler{e: e, a: a}.Schedule(rules.SessionSweepPurpose, "", time.Duration(settings.SessionHours.SweepSec)*time.Second)
}

// ---------------------------------------------------------------------------
// Lockouts and enforcement wiring
// ---------------------------------------------------------------------------

func (e *Engine) applyLockout(id domain.AccountID, v rules.Verdict, now time.Time) {
	l := domain.Lockout{
		Account:    id,
		Reason:     v.Reason,
		Severity:   v.Lockout.Severity,
		UntilReset: v.Lockout.UntilReset,
		SetAt:      now,
	}
	if v.Lockout.Duration > 0 {
		l.Expiry = now.Add(v.Lockout.Duration)
	}
	merged := e.lockouts.Set(l)
	metrics.LockedAccounts.Set(float64(len(e.lockouts.Snapshot(now))))

	if e.checkpoint != nil {
		if err := e.checkpoint.SaveLockout(e.ctx, merged); err != nil {
			e.log.Error("lockout checkpoint failed", "account", id, "error", err)
		}
	}
}

func (e *Engine) onLockoutCleared(l domain.Lockout) {
	metrics.LockedAccounts.Set(float64(len(e.lockouts.Snapshot(time.Now()))))
	e.recorder.Record(audit.Entry{
		Account: l.Account,
		Reason:  l.Reason,
		Outcome: audit.OutcomeCleared,
	})
	if e.checkpoint != nil {
		if err := e.checkpoint.DeleteLockout(e.ctx, l.Account); err != nil {
			e.log.Error("lockout delete failed", "account", l.Account, "error", err)
		}
	}
}

func (e *Engine) openPositions(id domain.AccountID) []domain.Position {
	snap := e.state.Snapshot(id)
	out := make([]domain.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		out = append(out, p)
	}
	return out
}

// ---------------------------------------------------------------------------
// Checkpointing
// ---------------------------------------------------------------------------

func (e *Engine) checkpointPosition(id domain.AccountID, snap state.Snapshot, instrument string) {
	if e.checkpoint == nil {
		return
	}
	p, ok := snap.Positions[instrument]
	if !ok {
		p = domain.Position{Instrument: instrument} // zero size deletes
	}
	if err := e.checkpoint.SavePosition(e.ctx, id, p); err != nil {
		e.log.Error("position checkpoint failed", "account", id, "error", err)
	}
}

func (e *Engine) checkpointTrade(id domain.AccountID, t domain.Trade, snap state.Snapshot) {
	if e.checkpoint == nil {
		return
	}
	if t.Voided {
		if err := e.checkpoint.DeleteTrade(e.ctx, id, t.ID); err != nil {
			e.log.Error("trade void checkpoint failed", "account", id, "error", err)
		}
	} else if applied, ok := e.state.Applied(id, t.ID); ok {
		if err := e.checkpoint.SaveTrade(e.ctx, id, applied); err != nil {
			e.log.Error("trade checkpoint failed", "account", id, "error", err)
		}
	}
	if err := e.checkpoint.SaveAccountDay(e.ctx, store.AccountDay{
		Account:     id,
		RealizedPnL: snap.RealizedPnL,
		LastReset:   snap.LastReset,
	}); err != nil {
		e.log.Error("day checkpoint failed", "account", id, "error", err)
	}
	e.checkpointPosition(id, snap, t.Instrument)
}

// ---------------------------------------------------------------------------
// Restore and daily reset
// ---------------------------------------------------------------------------

// Restore rebuilds account state and lockouts from the checkpoint store.
// Call after AddAccount and before Start.
func (e *Engine) Restore(ctx context.Context) error {
	if e.checkpoint == nil {
		return nil
	}

	locks, err := e.checkpoint.ListLockouts(ctx)
	if err != nil {
		return err
	}
	for _, l := range locks {
		e.lockouts.Set(l)
	}
	metrics.LockedAccounts.Set(float64(len(locks)))

	for _, a := range e.actorList() {
		day, _, err := e.checkpoint.GetAccountDay(ctx, a.id)
		if err != nil {
			return err
		}
		trades, err := e.checkpoint.ListTrades(ctx, a.id, day.LastReset)
		if err != nil {
			return err
		}
		positions, err := e.checkpoint.ListPositions(ctx, a.id)
		if err != nil {
			return err
		}
		orders, err := e.checkpoint.ListOrders(ctx, a.id)
		if err != nil {
			return err
		}
		snap := e.state.Restore(a.id, positions, orders, day.RealizedPnL, trades, day.LastReset)
		for instrument := range snap.Positions {
			e.quotes.AddOpenInterest(instrument)
			e.meta.Ensure(ctx, instrument)
		}
		e.log.Info("account restored",
			"account", a.id,
			"positions", len(snap.Positions),
			"orders", len(snap.Orders),
			"realizedPnL", snap.RealizedPnL,
			"trades", len(trades),
		)
	}
	return nil
}

// LastReset returns the persisted last-reset marker for the account.
func (e *Engine) LastReset(id domain.AccountID) time.Time {
	return e.state.Snapshot(id).LastReset
}

// ResetAccount performs the daily reset: daily counters zero, until-reset
// and expired lockouts clear, and the trade log restarts at resetAt.
func (e *Engine) ResetAccount(id domain.AccountID, resetAt time.Time) {
	e.state.ResetDaily(id, resetAt)
	e.lockouts.ClearDaily(id, resetAt)

	if e.checkpoint != nil {
		if err := e.checkpoint.SaveAccountDay(e.ctx, store.AccountDay{Account: id, LastReset: resetAt}); err != nil {
			e.log.Error("reset checkpoint failed", "account", id, "error", err)
		}
		if err := e.checkpoint.ClearTrades(e.ctx, id, resetAt); err != nil {
			e.log.Error("trade clear failed", "account", id, "error", err)
		}
	}
	e.recorder.Record(audit.Entry{
		Account: id,
		Outcome: audit.OutcomeReset,
		Detail:  resetAt.Format(time.RFC3339),
	})
}

// ---------------------------------------------------------------------------
// Admin views
// ---------------------------------------------------------------------------

// AccountView is the admin-facing snapshot of one account.
type AccountView struct {
	Account  domain.AccountID `json:"account"`
	Snapshot state.Snapshot   `json:"snapshot"`
	Lockout  *domain.Lockout  `json:"lockout,omitempty"`
	Degraded string           `json:"degraded,omitempty"`
}

// Accounts returns the registered account IDs.
func (e *Engine) Accounts() []domain.AccountID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.AccountID, 0, len(e.actors))
	for id := range e.actors {
		out = append(out, id)
	}
	return out
}

// Account returns the admin view of one account.
func (e *Engine) Account(id domain.AccountID) (AccountView, bool) {
	e.mu.Lock()
	_, ok := e.actors[id]
	e.mu.Unlock()
	if !ok {
		return AccountView{}, false
	}

	view := AccountView{Account: id, Snapshot: e.state.Snapshot(id)}
	if lk, active := e.lockouts.Active(id, time.Now()); active {
		view.Lockout = &lk
	}
	if detail, degraded := e.coord.Degraded(id); degraded {
		view.Degraded = detail
	}
	return view, true
}

// Lockouts returns every active lockout.
func (e *Engine) Lockouts() []domain.Lockout {
	return e.lockouts.Snapshot(time.Now())
}

// Audit returns up to n recent audit entries, newest first.
func (e *Engine) Audit(n int) []audit.Entry {
	return e.recorder.Recent(n)
}

// QuoteInstruments returns the instruments with open interest, for the
// quote feed's subscription loop.
func (e *Engine) QuoteInstruments() []string {
	return e.quotes.Instruments()
}
