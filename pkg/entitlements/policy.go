package entitlements

import "fmt"

// PlanPolicy holds one plan's permission set and per-period limits.
// A feature absent from both limit maps is denied by default for the plan.
type PlanPolicy struct {
	Permissions   map[Permission]bool
	DailyLimits   map[FeatureID]int
	MonthlyLimits map[FeatureID]int
}

// Policy is the versioned, immutable plan table. Version is stamped into
// every Decision so evaluations made under different policy snapshots stay
// distinguishable in audit logs.
type Policy struct {
	Version int
	Plans   map[Plan]PlanPolicy
}

// NewPolicy validates and freezes a plan table. Limits must be non-negative
// or the Unlimited sentinel.
func NewPolicy(version int, plans map[Plan]PlanPolicy) (*Policy, error) {
	if version <= 0 {
		return nil, fmt.Errorf("policy version must be positive, got %d", version)
	}
	for plan, pp := range plans {
		if !plan.Known() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
		}
		for id, limit := range pp.DailyLimits {
			if limit < Unlimited {
				return nil, fmt.Errorf("plan %q daily limit for %q is negative: %d", plan, id, limit)
			}
		}
		for id, limit := range pp.MonthlyLimits {
			if limit < Unlimited {
				return nil, fmt.Errorf("plan %q monthly limit for %q is negative: %d", plan, id, limit)
			}
		}
	}
	return &Policy{Version: version, Plans: plans}, nil
}

// Permits reports whether the plan carries the permission.
func (p *Policy) Permits(plan Plan, perm Permission) bool {
	pp, ok := p.Plans[plan]
	if !ok {
		return false
	}
	return pp.Permissions[perm]
}

// Limit returns the plan's limit for a feature in the given period class.
// The second return is false when the plan has no entry for the feature,
// which callers must treat as default deny.
func (p *Policy) Limit(plan Plan, id FeatureID, period PeriodType) (int, bool) {
	pp, ok := p.Plans[plan]
	if !ok {
		return 0, false
	}
	switch period {
	case PeriodDaily:
		limit, ok := pp.DailyLimits[id]
		return limit, ok
	case PeriodMonthly:
		limit, ok := pp.MonthlyLimits[id]
		return limit, ok
	}
	return 0, false
}
