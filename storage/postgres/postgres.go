// Package postgres provides a PostgreSQL implementation of the entitlements
// store interfaces. Usage increments are a single upsert with a
// count-accumulating ON CONFLICT clause, so concurrent requests serialize
// on the row without SELECT-then-UPDATE races.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Config holds PostgreSQL store configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string

	// Pool configuration.
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Store implements entitlements.UsageStore and
// entitlements.SubscriptionStore using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL store and verifies connectivity.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool, for callers that manage their own.
func NewWithPool(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate creates the store's tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS entitlement_usage (
			user_id    TEXT NOT NULL,
			feature_id TEXT NOT NULL,
			bucket_key TEXT NOT NULL,
			count      INTEGER NOT NULL DEFAULT 0 CHECK (count >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, feature_id, bucket_key)
		);
		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id            TEXT PRIMARY KEY,
			plan               TEXT NOT NULL,
			status             TEXT NOT NULL,
			customer_id        TEXT,
			current_period_end TIMESTAMPTZ,
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_customer_id
			ON subscriptions (customer_id) WHERE customer_id IS NOT NULL;
	`)
	if err != nil {
		return fmt.Errorf("failed to run migration: %w", err)
	}
	return nil
}

// GetUsage implements entitlements.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, featureID entitlements.FeatureID, bucketKey string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count FROM entitlement_usage
			WHERE user_id = $1 AND feature_id = $2 AND bucket_key = $3`,
		userID, string(featureID), bucketKey).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return count, nil
}

// IncrementUsage implements entitlements.UsageStore.
func (s *Store) IncrementUsage(ctx context.Context, userID string, featureID entitlements.FeatureID, bucketKey string, delta int) (int, error) {
	if delta < 0 {
		return 0, entitlements.ErrInvalidAmount
	}

	var newCount int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO entitlement_usage (user_id, feature_id, bucket_key, count, updated_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (user_id, feature_id, bucket_key) DO UPDATE SET
				count = entitlement_usage.count + EXCLUDED.count,
				updated_at = now()
			RETURNING count`,
		userID, string(featureID), bucketKey, delta).Scan(&newCount)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return newCount, nil
}

// GetAllUsage implements entitlements.UsageStore.
func (s *Store) GetAllUsage(ctx context.Context, userID string, keys []entitlements.UsageKey) (map[entitlements.FeatureID]int, error) {
	if len(keys) == 0 {
		return map[entitlements.FeatureID]int{}, nil
	}

	featureIDs := make([]string, len(keys))
	bucketKeys := make([]string, len(keys))
	for i, k := range keys {
		featureIDs[i] = string(k.FeatureID)
		bucketKeys[i] = k.BucketKey
	}

	rows, err := s.pool.Query(ctx,
		`SELECT feature_id, count FROM entitlement_usage
			WHERE user_id = $1
			AND (feature_id, bucket_key) IN (
				SELECT unnest($2::text[]), unnest($3::text[])
			)`,
		userID, featureIDs, bucketKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get usage: %w", err)
	}
	defer rows.Close()

	out := make(map[entitlements.FeatureID]int, len(keys))
	for rows.Next() {
		var featureID string
		var count int
		if err := rows.Scan(&featureID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		out[entitlements.FeatureID(featureID)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage rows: %w", err)
	}
	return out, nil
}

// GetSubscription implements entitlements.SubscriptionStore.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitlements.Subscription, error) {
	var sub entitlements.Subscription
	var customerID *string
	var periodEnd *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT user_id, plan, status, customer_id, current_period_end, updated_at
			FROM subscriptions WHERE user_id = $1`,
		userID).Scan(&sub.UserID, &sub.Plan, &sub.Status, &customerID, &periodEnd, &sub.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, entitlements.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	if customerID != nil {
		sub.CustomerID = *customerID
	}
	if periodEnd != nil {
		sub.CurrentPeriodEnd = *periodEnd
	}
	return &sub, nil
}

// SetSubscription implements entitlements.SubscriptionStore.
func (s *Store) SetSubscription(ctx context.Context, sub *entitlements.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("invalid subscription")
	}

	var customerID *string
	if sub.CustomerID != "" {
		customerID = &sub.CustomerID
	}
	var periodEnd *time.Time
	if !sub.CurrentPeriodEnd.IsZero() {
		periodEnd = &sub.CurrentPeriodEnd
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO subscriptions (user_id, plan, status, customer_id, current_period_end, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE SET
				plan = EXCLUDED.plan,
				status = EXCLUDED.status,
				customer_id = EXCLUDED.customer_id,
				current_period_end = EXCLUDED.current_period_end,
				updated_at = EXCLUDED.updated_at`,
		sub.UserID, string(sub.Plan), string(sub.Status), customerID, periodEnd, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// LookupUserByCustomerID implements entitlements.SubscriptionStore.
func (s *Store) LookupUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM subscriptions WHERE customer_id = $1`,
		customerID).Scan(&userID)
	if err == pgx.ErrNoRows {
		return "", entitlements.ErrCustomerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}
	return userID, nil
}
