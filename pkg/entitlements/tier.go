package entitlements

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TierResolverConfig configures a TierResolver.
type TierResolverConfig struct {
	// Store is the authoritative subscription record store (required).
	Store SubscriptionStore

	// CacheTTL bounds how long a resolved tier may be served from cache
	// before a live read (default: 1 minute).
	CacheTTL time.Duration

	// CacheSize bounds the cache (default: 1000 entries).
	CacheSize int

	// StaleWindow is the lookback used to flag invalidation gaps: when an
	// invalidation arrives for an entry served within this window, the hit
	// is logged as a stale-cache event (default: 1 minute).
	StaleWindow time.Duration

	// Logger is used for structured logging (default: NoopLogger).
	Logger Logger

	// Metrics tracks cache and resolution outcomes (default: NoopMetrics).
	Metrics Metrics

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// TierResolver resolves a user's authoritative plan from the subscription
// record, with a short-lived cache invalidated out-of-band by billing
// events. Money-relevant paths call ResolveAuthoritative and never trust
// the cache or a session token's embedded tier claim.
type TierResolver struct {
	store       SubscriptionStore
	cache       *TierCache
	ttl         time.Duration
	staleWindow time.Duration
	logger      Logger
	metrics     Metrics
	now         func() time.Time
}

// NewTierResolver builds a resolver from config, applying defaults.
func NewTierResolver(config TierResolverConfig) (*TierResolver, error) {
	if config.Store == nil {
		return nil, fmt.Errorf("subscription store is required")
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = time.Minute
	}
	if config.StaleWindow == 0 {
		config.StaleWindow = time.Minute
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
	return &TierResolver{
		store:       config.Store,
		cache:       NewTierCache(config.CacheSize),
		ttl:         config.CacheTTL,
		staleWindow: config.StaleWindow,
		logger:      config.Logger,
		metrics:     config.Metrics,
		now:         config.Now,
	}, nil
}

// Resolve returns the user's subscription, consulting the cache first.
// On store failure it fails closed: the returned subscription carries the
// free plan and the error is surfaced alongside so callers can audit the
// degraded resolution. A missing record is a free user, not an error.
func (r *TierResolver) Resolve(ctx context.Context, userID string) (*Subscription, error) {
	if sub, ok := r.cache.Get(userID); ok {
		r.metrics.RecordCacheHit()
		return sub, nil
	}
	r.metrics.RecordCacheMiss()
	return r.resolveLive(ctx, userID)
}

// ResolveAuthoritative always reads the subscription store, bypassing the
// cache. Irrevocable or money-relevant decisions (the storage routing
// guard) must use this path. The cache is refreshed on success.
func (r *TierResolver) ResolveAuthoritative(ctx context.Context, userID string) (*Subscription, error) {
	return r.resolveLive(ctx, userID)
}

func (r *TierResolver) resolveLive(ctx context.Context, userID string) (*Subscription, error) {
	start := r.now()
	sub, err := r.store.GetSubscription(ctx, userID)
	r.metrics.RecordStorageOperation("get_subscription", r.now().Sub(start), ignoreNotFound(err))

	switch {
	case err == nil:
		r.cache.Set(userID, sub, r.ttl)
		return sub, nil

	case errors.Is(err, ErrSubscriptionNotFound):
		sub = &Subscription{UserID: userID, Plan: PlanFree, Status: StatusNone}
		r.cache.Set(userID, sub, r.ttl)
		return sub, nil

	default:
		// Fail closed: most restrictive known tier for this request only.
		// The degraded result is never cached.
		r.logger.Warn("tier resolution failed closed",
			Field{Key: "user_id", Value: userID},
			Field{Key: "error", Value: err.Error()},
		)
		return &Subscription{UserID: userID, Plan: PlanFree, Status: StatusNone},
			fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Invalidate drops the user's cache entry. It is the out-of-band entry
// point wired to billing webhooks and admin overrides. When the dropped
// entry was served within StaleWindow the gap is logged as a StaleCache
// condition: a quota decision may have used plan data the billing event
// just obsoleted.
func (r *TierResolver) Invalidate(userID string) {
	lastServed, existed := r.cache.Invalidate(userID)
	if !existed {
		return
	}
	if !lastServed.IsZero() && r.now().Sub(lastServed) <= r.staleWindow {
		r.metrics.RecordStaleCache()
		r.logger.Warn("stale cache hit detected",
			Field{Key: "user_id", Value: userID},
			Field{Key: "served_at", Value: lastServed.UTC().Format(time.RFC3339)},
		)
	}
}

// InvalidateByCustomerID resolves a billing customer ID to a user and
// invalidates that user's entry.
func (r *TierResolver) InvalidateByCustomerID(ctx context.Context, customerID string) (string, error) {
	userID, err := r.store.LookupUserByCustomerID(ctx, customerID)
	if err != nil {
		return "", err
	}
	r.Invalidate(userID)
	return userID, nil
}

// CacheStats exposes the underlying cache counters.
func (r *TierResolver) CacheStats() TierCacheStats {
	return r.cache.Stats()
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	return err
}
