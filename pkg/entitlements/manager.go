package entitlements

import (
	"context"
	"fmt"
	"time"
)

// Config holds manager configuration.
type Config struct {
	// Catalog is the feature registry (required).
	Catalog *Catalog

	// Policy is the deployed plan table snapshot (required).
	Policy *Policy

	// Usage is the usage bucket store (required).
	Usage UsageStore

	// Resolver resolves authoritative tiers (required).
	Resolver *TierResolver

	// Overrides supplies per-user overrides and tenant caps (optional).
	Overrides OverrideSource

	// Audit receives an entry for every evaluated operation (default: noop).
	Audit AuditSink

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks evaluations and consumptions (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.Policy == nil {
		return fmt.Errorf("policy is required")
	}
	if c.Usage == nil {
		return fmt.Errorf("usage store is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("tier resolver is required")
	}
	return nil
}

// Manager orchestrates entitlement checks: it resolves the caller's plan,
// fetches fresh usage, runs the pure evaluator, applies the atomic usage
// increment on allowed consumptions, and audits every operation.
type Manager struct {
	evaluator *Evaluator
	usage     UsageStore
	resolver  *TierResolver
	overrides OverrideSource
	audit     AuditSink
	logger    Logger
	metrics   Metrics
	now       func() time.Time
}

// NewManager creates a manager from config.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	evaluator, err := NewEvaluator(config.Catalog, config.Policy)
	if err != nil {
		return nil, err
	}
	if config.Audit == nil {
		config.Audit = NoopAuditSink{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Manager{
		evaluator: evaluator,
		usage:     config.Usage,
		resolver:  config.Resolver,
		overrides: config.Overrides,
		audit:     config.Audit,
		logger:    config.Logger,
		metrics:   config.Metrics,
		now:       config.Now,
	}, nil
}

// Evaluator exposes the underlying pure evaluator.
func (m *Manager) Evaluator() *Evaluator { return m.evaluator }

// Resolver exposes the tier resolver, for webhook invalidation wiring.
func (m *Manager) Resolver() *TierResolver { return m.resolver }

// Check evaluates a feature without consuming quota.
//
// An empty userID is a guest: guest evaluations use zero usage and the
// guest plan's limits and persist nothing, so a guest's quota is
// per-request ephemeral.
func (m *Manager) Check(ctx context.Context, userID string, featureID FeatureID) (Decision, error) {
	feature, err := m.evaluator.Catalog().Get(featureID)
	if err != nil {
		return Decision{}, err
	}
	now := m.now().UTC()

	evalCtx, err := m.buildContext(ctx, userID, feature, now)
	if err != nil {
		return Decision{}, err
	}

	decision, err := m.evaluator.Evaluate(featureID, evalCtx)
	if err != nil {
		return Decision{}, err
	}

	m.metrics.RecordEvaluation(featureID, decision.Plan, decision.Reason)
	m.recordAudit(ctx, userID, AuditCheck, decision, decision.UsageBefore)
	return decision, nil
}

// Consume evaluates a feature and, when allowed, consumes one unit of
// quota. The increment is a single atomic fetch-and-add on the bucket and
// the decision is derived from the pre-increment count it returns, so two
// concurrent requests can never both slip past the last remaining unit.
// Unlimited features still increment, for analytics; the count never
// blocks them. Guests consume nothing.
func (m *Manager) Consume(ctx context.Context, userID string, featureID FeatureID) (Decision, error) {
	feature, err := m.evaluator.Catalog().Get(featureID)
	if err != nil {
		return Decision{}, err
	}
	now := m.now().UTC()

	evalCtx, err := m.buildContext(ctx, userID, feature, now)
	if err != nil {
		return Decision{}, err
	}

	// First pass decides permission and lifecycle before touching the
	// counter, using the usage fetched into the context.
	decision, err := m.evaluator.Evaluate(featureID, evalCtx)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allow {
		// Permission, lifecycle, and already-exhausted denials never touch
		// the counter. Denial is monotonic: the fetched count can only be
		// lower than the true one, never higher.
		m.metrics.RecordEvaluation(featureID, decision.Plan, decision.Reason)
		m.recordAudit(ctx, userID, AuditConsume, decision, decision.UsageBefore)
		return decision, nil
	}

	if userID == "" {
		// Guest: decision stands as computed, nothing persists.
		m.metrics.RecordEvaluation(featureID, decision.Plan, decision.Reason)
		m.recordAudit(ctx, userID, AuditConsume, decision, decision.UsageBefore)
		return decision, nil
	}

	bucketKey := BucketKey(feature.Period, now)
	start := m.now()
	newCount, err := m.usage.IncrementUsage(ctx, userID, featureID, bucketKey, 1)
	m.metrics.RecordStorageOperation("increment_usage", m.now().Sub(start), err)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Re-evaluate against the serialized pre-increment count. The fetch in
	// buildContext may be stale under concurrency; the increment's return
	// value is not.
	evalCtx.Usage[featureID] = newCount - 1
	decision, err = m.evaluator.Evaluate(featureID, evalCtx)
	if err != nil {
		return Decision{}, err
	}

	m.metrics.RecordEvaluation(featureID, decision.Plan, decision.Reason)
	if decision.Allow {
		m.metrics.RecordConsumption(featureID, decision.Plan, 1)
	}
	m.recordAudit(ctx, userID, AuditConsume, decision, newCount)
	return decision, nil
}

// Snapshot evaluates every catalog feature for the user without consuming,
// using one batch usage read. Intended for usage dashboards and debugging.
func (m *Manager) Snapshot(ctx context.Context, userID string) (map[FeatureID]Decision, error) {
	now := m.now().UTC()

	plan := PlanGuest
	if userID != "" {
		sub, err := m.resolver.Resolve(ctx, userID)
		if err != nil {
			m.logger.Warn("snapshot using fail-closed plan",
				Field{Key: "user_id", Value: userID},
				Field{Key: "error", Value: err.Error()},
			)
		}
		plan = sub.EffectivePlan(now)
	}

	keys := make([]UsageKey, 0, m.evaluator.Catalog().Len())
	for _, id := range m.evaluator.Catalog().IDs() {
		feature, _ := m.evaluator.Catalog().Get(id)
		keys = append(keys, UsageKey{FeatureID: id, BucketKey: BucketKey(feature.Period, now)})
	}

	usage := map[FeatureID]int{}
	if userID != "" {
		var err error
		start := m.now()
		usage, err = m.usage.GetAllUsage(ctx, userID, keys)
		m.metrics.RecordStorageOperation("get_all_usage", m.now().Sub(start), err)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	overrides, caps := m.loadOverrides(ctx, userID)
	evalCtx := EvalContext{
		UserID:     userID,
		Plan:       plan,
		Usage:      usage,
		Now:        now,
		Overrides:  overrides,
		TenantCaps: caps,
	}

	out := make(map[FeatureID]Decision, len(keys))
	for _, id := range m.evaluator.Catalog().IDs() {
		decision, err := m.evaluator.Evaluate(id, evalCtx)
		if err != nil {
			return nil, err
		}
		out[id] = decision
	}
	return out, nil
}

// buildContext assembles the evaluation context: resolved plan, fresh
// usage for the feature's current bucket, and any overrides.
func (m *Manager) buildContext(ctx context.Context, userID string, feature Feature, now time.Time) (EvalContext, error) {
	if userID == "" {
		return EvalContext{
			UserID: userID,
			Plan:   PlanGuest,
			Usage:  map[FeatureID]int{},
			Now:    now,
		}, nil
	}

	sub, err := m.resolver.Resolve(ctx, userID)
	if err != nil {
		// Fail closed, keep serving: sub already carries the free plan.
		m.logger.Warn("entitlement check using fail-closed plan",
			Field{Key: "user_id", Value: userID},
			Field{Key: "error", Value: err.Error()},
		)
	}
	plan := sub.EffectivePlan(now)

	bucketKey := BucketKey(feature.Period, now)
	start := m.now()
	used, err := m.usage.GetUsage(ctx, userID, feature.ID, bucketKey)
	m.metrics.RecordStorageOperation("get_usage", m.now().Sub(start), err)
	if err != nil {
		return EvalContext{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	overrides, caps := m.loadOverrides(ctx, userID)
	return EvalContext{
		UserID:     userID,
		Plan:       plan,
		Usage:      map[FeatureID]int{feature.ID: used},
		Now:        now,
		Overrides:  overrides,
		TenantCaps: caps,
	}, nil
}

// loadOverrides fetches overrides and tenant caps. Load failures degrade to
// plan-table limits rather than blocking the evaluation.
func (m *Manager) loadOverrides(ctx context.Context, userID string) (map[FeatureID]int, map[FeatureID]int) {
	if m.overrides == nil || userID == "" {
		return nil, nil
	}
	overrides, err := m.overrides.Overrides(ctx, userID)
	if err != nil {
		m.logger.Warn("override load failed", Field{Key: "user_id", Value: userID}, Field{Key: "error", Value: err.Error()})
		overrides = nil
	}
	caps, err := m.overrides.TenantCaps(ctx, userID)
	if err != nil {
		m.logger.Warn("tenant cap load failed", Field{Key: "user_id", Value: userID}, Field{Key: "error", Value: err.Error()})
		caps = nil
	}
	return overrides, caps
}

func (m *Manager) recordAudit(ctx context.Context, userID string, action AuditAction, d Decision, usageAfter int) {
	entry := &AuditEntry{
		UserID:        userID,
		FeatureID:     d.FeatureID,
		Action:        action,
		Allow:         d.Allow,
		Reason:        d.Reason,
		Remaining:     d.Remaining,
		UsageAfter:    usageAfter,
		PolicyVersion: d.PolicyVersion,
		Plan:          d.Plan,
		At:            m.now().UTC(),
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		m.logger.Error("audit record failed",
			Field{Key: "user_id", Value: userID},
			Field{Key: "feature_id", Value: string(d.FeatureID)},
			Field{Key: "error", Value: err.Error()},
		)
	}
}
