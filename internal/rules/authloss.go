package rules

import (
	"fmt"

	"riskguard/internal/domain"
)

const NameAuthLoss = "auth_loss"

// authLossRule hard-locks the account when the broker reports loss of
// authorization. It never closes positions; closing through a broker that no
// longer honors the account would fail anyway.
type authLossRule struct{}

func (authLossRule) Name() string { return NameAuthLoss }

func (authLossRule) Events() []domain.EventType {
	return []domain.EventType{domain.EventAccountStatus}
}

func (authLossRule) Evaluate(ec EvalContext) *Verdict {
	if !ec.Settings.AuthLoss.Enabled {
		return nil
	}
	st := ec.Event.Status
	if st == nil || st.Authorized {
		return nil
	}
	return &Verdict{
		Rule:    NameAuthLoss,
		Reason:  fmt.Sprintf("AuthLoss %s", st.Detail),
		Action:  domain.Action{Kind: domain.ActionLockOnly},
		Lockout: &LockoutSpec{Severity: domain.SeverityHard, UntilReset: true},
	}
}
