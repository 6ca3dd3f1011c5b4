package entitlements

import "fmt"

// Evaluator combines the feature catalog and the deployed policy snapshot
// into a pure decision function. It performs no I/O: the caller fetches
// fresh usage counts before evaluating and increments after an allow.
type Evaluator struct {
	catalog *Catalog
	policy  *Policy
}

// NewEvaluator builds an evaluator over an immutable catalog and policy.
func NewEvaluator(catalog *Catalog, policy *Policy) (*Evaluator, error) {
	if catalog == nil || policy == nil {
		return nil, fmt.Errorf("%w: catalog and policy are required", ErrInvalidContext)
	}
	return &Evaluator{catalog: catalog, policy: policy}, nil
}

// Catalog returns the evaluator's feature registry.
func (e *Evaluator) Catalog() *Catalog { return e.catalog }

// PolicyVersion returns the version of the deployed policy snapshot.
func (e *Evaluator) PolicyVersion() int { return e.policy.Version }

// Evaluate decides whether the caller may use a feature right now.
//
// It returns an error only for structurally invalid input: an unknown
// feature ID or a malformed context. Every recognized feature yields a
// whole Decision, negative ones included.
func (e *Evaluator) Evaluate(id FeatureID, ctx EvalContext) (Decision, error) {
	feature, err := e.catalog.Get(id)
	if err != nil {
		return Decision{}, err
	}
	if ctx.Plan == "" {
		return Decision{}, fmt.Errorf("%w: empty plan", ErrInvalidContext)
	}
	if !ctx.Plan.Known() {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidPlan, ctx.Plan)
	}
	if ctx.Now.IsZero() {
		return Decision{}, fmt.Errorf("%w: zero evaluation instant", ErrInvalidContext)
	}

	d := Decision{
		FeatureID:     id,
		Plan:          ctx.Plan,
		PolicyVersion: e.policy.Version,
	}

	if feature.Lifecycle == LifecycleHidden && !ctx.Privileged {
		d.Reason = ReasonLifecycleBlocked
		return d, nil
	}

	if !e.policy.Permits(ctx.Plan, feature.Permission) {
		d.Reason = ReasonNoPermission
		return d, nil
	}

	usageBefore := ctx.Usage[id]
	if usageBefore < 0 {
		return Decision{}, fmt.Errorf("%w: negative usage %d for %q", ErrInvalidContext, usageBefore, id)
	}
	d.UsageBefore = usageBefore

	limit := e.effectiveLimit(id, feature.Period, ctx)
	d.Limit = limit

	if limit == Unlimited {
		// Usage is still tracked for analytics but never blocks.
		d.Allow = true
		d.Remaining = Unlimited
		d.Reason = ReasonOK
		return d, nil
	}

	remaining := limit - usageBefore
	if remaining < 0 {
		remaining = 0
	}
	d.Remaining = remaining
	d.Allow = usageBefore < limit
	if d.Allow {
		d.Reason = ReasonOK
	} else {
		d.Reason = ReasonLimitReached
	}

	reset := NextReset(feature.Period, ctx.Now)
	d.ResetAt = &reset
	return d, nil
}

// effectiveLimit resolves the limit by precedence: plan table, then user
// override, then tenant cap. The tenant cap only applies when it is more
// restrictive than the value it would replace (most-restrictive-wins), so
// a permissive user override can never escape a tenant boundary.
func (e *Evaluator) effectiveLimit(id FeatureID, period PeriodType, ctx EvalContext) int {
	limit, ok := e.policy.Limit(ctx.Plan, id, period)
	if !ok {
		limit = 0 // default deny
	}

	if override, has := ctx.Overrides[id]; has && override >= Unlimited {
		limit = override
	}

	if cap, has := ctx.TenantCaps[id]; has && cap >= 0 {
		if limit == Unlimited || cap < limit {
			limit = cap
		}
	}

	return limit
}
