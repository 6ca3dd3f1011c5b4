package entitlements

import "context"

// UsageKey addresses one usage bucket.
type UsageKey struct {
	FeatureID FeatureID
	BucketKey string
}

// UsageStore persists per-user, per-period usage counters.
// All methods use concrete types from this package to avoid import cycles.
type UsageStore interface {
	// GetUsage returns the counter for a bucket. Absent buckets read as 0.
	GetUsage(ctx context.Context, userID string, featureID FeatureID, bucketKey string) (int, error)

	// IncrementUsage atomically adds delta to a bucket and returns the new
	// count, creating the bucket lazily on first increment. Implementations
	// must use a single fetch-and-add primitive: a separate read followed by
	// a write loses updates under concurrent requests.
	IncrementUsage(ctx context.Context, userID string, featureID FeatureID, bucketKey string, delta int) (int, error)

	// GetAllUsage batch-reads the counters for several buckets. Absent
	// buckets are omitted from the result.
	GetAllUsage(ctx context.Context, userID string, keys []UsageKey) (map[FeatureID]int, error)
}

// SubscriptionStore is the authoritative source of truth for tier
// resolution.
type SubscriptionStore interface {
	// GetSubscription returns the user's subscription record, or
	// ErrSubscriptionNotFound when none exists.
	GetSubscription(ctx context.Context, userID string) (*Subscription, error)

	// SetSubscription upserts the subscription record. Called by the billing
	// webhook consumer.
	SetSubscription(ctx context.Context, sub *Subscription) error

	// LookupUserByCustomerID resolves a billing customer ID to a user ID,
	// or ErrCustomerNotFound.
	LookupUserByCustomerID(ctx context.Context, customerID string) (string, error)
}

// OverrideSource supplies per-user limit overrides and tenant caps for an
// evaluation. A nil source means neither exists.
type OverrideSource interface {
	// Overrides returns per-user limits keyed by feature. Unlimited (-1) is
	// a valid value.
	Overrides(ctx context.Context, userID string) (map[FeatureID]int, error)

	// TenantCaps returns the caps of the user's tenant, if any.
	TenantCaps(ctx context.Context, userID string) (map[FeatureID]int, error)
}
