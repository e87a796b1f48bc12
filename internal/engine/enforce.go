package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"riskguard/internal/audit"
	"riskguard/internal/broker"
	"riskguard/internal/domain"
	"riskguard/internal/metrics"
	"riskguard/internal/rules"
	"riskguard/internal/util"
)

// Coordinator executes enforcement actions against the broker. Per account,
// at most one action is in flight; a breach arriving mid-flight replaces any
// queued one and runs when the current action completes. Lockouts are
// applied synchronously before any broker call so the account is locked even
// if the broker is down.
type Coordinator struct {
	log      *slog.Logger
	broker   broker.Broker
	recorder *audit.Recorder
	limiter  *util.RateLimiter

	maxRetries int
	backoff    time.Duration
	timeout    time.Duration

	// applyLockout installs and persists the lockout for a verdict.
	applyLockout func(account domain.AccountID, v rules.Verdict, now time.Time)

	// positions returns the account's open positions, for close-all fanout.
	positions func(account domain.AccountID) []domain.Position

	mu       sync.Mutex
	inflight map[domain.AccountID]bool
	pending  map[domain.AccountID]rules.Verdict
	degraded map[domain.AccountID]string
	wg       sync.WaitGroup
}

// CoordinatorConfig carries the Coordinator's wiring.
type CoordinatorConfig struct {
	Log          *slog.Logger
	Broker       broker.Broker
	Recorder     *audit.Recorder
	Limiter      *util.RateLimiter
	MaxRetries   int
	Backoff      time.Duration
	Timeout      time.Duration
	ApplyLockout func(account domain.AccountID, v rules.Verdict, now time.Time)
	Positions    func(account domain.AccountID) []domain.Position
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Coordinator{
		log:          cfg.Log,
		broker:       cfg.Broker,
		recorder:     cfg.Recorder,
		limiter:      cfg.Limiter,
		maxRetries:   cfg.MaxRetries,
		backoff:      cfg.Backoff,
		timeout:      cfg.Timeout,
		applyLockout: cfg.ApplyLockout,
		positions:    cfg.Positions,
		inflight:     make(map[domain.AccountID]bool),
		pending:      make(map[domain.AccountID]rules.Verdict),
		degraded:     make(map[domain.AccountID]string),
	}
}

// Execute applies the verdict's lockout, then runs its broker action. The
// call returns as soon as the action is in flight or queued.
func (c *Coordinator) Execute(ctx context.Context, account domain.AccountID, v rules.Verdict, now time.Time) {
	if v.Lockout != nil && c.applyLockout != nil {
		c.applyLockout(account, v, now)
	}

	if v.Action.Kind == domain.ActionLockOnly {
		c.recorder.Record(audit.Entry{
			Account: account,
			Rule:    v.Rule,
			Reason:  v.Reason,
			Action:  string(v.Action.Kind),
			Outcome: audit.OutcomeEnforced,
		})
		metrics.EnforcementsTotal.WithLabelValues(string(v.Action.Kind), "ok").Inc()
		return
	}

	c.mu.Lock()
	if c.inflight[account] {
		// Latest verdict wins the queue slot; the state it was computed
		// against is newer.
		c.pending[account] = v
		c.mu.Unlock()
		return
	}
	c.inflight[account] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(ctx, account, v)
}

// Wait blocks until every in-flight action has completed.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Degraded returns the failure detail if the account's last enforcement
// failed after all retries.
func (c *Coordinator) Degraded(account domain.AccountID) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	detail, ok := c.degraded[account]
	return detail, ok
}

// DegradedCount returns the number of degraded accounts.
func (c *Coordinator) DegradedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.degraded)
}

func (c *Coordinator) run(ctx context.Context, account domain.AccountID, v rules.Verdict) {
	defer c.wg.Done()

	err := c.perform(ctx, account, v.Action)

	outcome := audit.OutcomeEnforced
	result := "ok"
	detail := ""
	if err != nil {
		outcome = audit.OutcomeFailed
		result = "failed"
		detail = err.Error()
	}
	c.recorder.Record(audit.Entry{
		Account: account,
		Rule:    v.Rule,
		Reason:  v.Reason,
		Action:  string(v.Action.Kind),
		Outcome: outcome,
		Detail:  detail,
	})
	metrics.EnforcementsTotal.WithLabelValues(string(v.Action.Kind), result).Inc()

	c.mu.Lock()
	if err != nil {
		if _, was := c.degraded[account]; !was {
			metrics.DegradedAccounts.Inc()
		}
		c.degraded[account] = detail
	} else if _, was := c.degraded[account]; was {
		delete(c.degraded, account)
		metrics.DegradedAccounts.Dec()
	}

	next, queued := c.pending[account]
	if queued {
		// The in-flight slot is handed straight to the queued verdict;
		// inflight stays true across the handoff.
		delete(c.pending, account)
		c.wg.Add(1)
		go c.run(ctx, account, next)
	} else {
		c.inflight[account] = false
	}
	c.mu.Unlock()

	if err != nil {
		c.log.Error("enforcement failed",
			"account", account,
			"rule", v.Rule,
			"action", v.Action.Kind,
			"error", err,
		)
	}
}

// perform runs the action's broker sub-operations in sequence. Orders are
// cancelled before positions close so a resting order cannot re-open the
// exposure mid-flatten.
func (c *Coordinator) perform(ctx context.Context, account domain.AccountID, a domain.Action) error {
	switch a.Kind {
	case domain.ActionCloseAll:
		// Every sub-operation is attempted regardless of earlier failures;
		// successes are never rolled back.
		var errs []error
		if err := c.call(ctx, func(opCtx context.Context) error {
			return c.broker.CancelAllOrders(opCtx, account)
		}); err != nil {
			c.log.Error("cancel-all failed", "account", account, "error", err)
			errs = append(errs, fmt.Errorf("cancel all orders: %w", err))
		}
		for _, p := range c.positions(account) {
			instrument := p.Instrument
			err := c.call(ctx, func(opCtx context.Context) error {
				return c.broker.ClosePosition(opCtx, account, instrument)
			})
			if err != nil {
				c.log.Error("position close failed", "account", account, "instrument", instrument, "error", err)
				errs = append(errs, fmt.Errorf("close %s: %w", instrument, err))
				continue
			}
			c.log.Info("position closed", "account", account, "instrument", instrument)
		}
		return errors.Join(errs...)

	case domain.ActionClosePosition:
		return c.call(ctx, func(opCtx context.Context) error {
			return c.broker.ClosePosition(opCtx, account, a.Instrument)
		})

	case domain.ActionReduceTo:
		return c.call(ctx, func(opCtx context.Context) error {
			return c.broker.ReducePosition(opCtx, account, a.Instrument, a.TargetSize)
		})

	case domain.ActionCancelOrders:
		return c.call(ctx, func(opCtx context.Context) error {
			return c.broker.CancelAllOrders(opCtx, account)
		})
	}
	return nil
}

// call runs one broker sub-operation under the rate limiter, retrying
// transient failures with exponential backoff.
func (c *Coordinator) call(ctx context.Context, op func(context.Context) error) error {
	return util.RetryIf(ctx, c.maxRetries, c.backoff, broker.IsTransient, func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		opCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return op(opCtx)
	})
}
