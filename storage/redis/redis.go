// Package redis provides a Redis implementation of the entitlements store
// interfaces. Increments are atomic by construction: a single Lua script
// performs the fetch-and-add and the expiry stamp in one round trip.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Config holds Redis store configuration.
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "moshimoshi:").
	KeyPrefix string

	// UsageTTL is the TTL stamped on a usage bucket at creation. Buckets are
	// only ever addressed by current-period keys, so the TTL just reclaims
	// storage for superseded buckets (default: 45 days, 0 = no expiration).
	UsageTTL time.Duration

	// SubscriptionTTL is the TTL for subscription records (0 = no
	// expiration). Records are re-written on every billing event.
	SubscriptionTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "moshimoshi:",
		UsageTTL:  45 * 24 * time.Hour,
	}
}

// Store implements entitlements.UsageStore and
// entitlements.SubscriptionStore using Redis.
type Store struct {
	client    redis.UniversalClient
	config    Config
	increment *redis.Script
}

// New creates a new Redis store. The client can be *redis.Client,
// *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "moshimoshi:"
	}

	// INCRBY plus a TTL stamped only on bucket creation.
	increment := redis.NewScript(`
		local key = KEYS[1]
		local delta = tonumber(ARGV[1])
		local ttl = tonumber(ARGV[2])

		local newCount = redis.call('INCRBY', key, delta)
		if newCount == delta and ttl > 0 then
			redis.call('EXPIRE', key, ttl)
		end
		return newCount
	`)

	return &Store{
		client:    client,
		config:    config,
		increment: increment,
	}, nil
}

// GetUsage implements entitlements.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, featureID entitlements.FeatureID, bucketKey string) (int, error) {
	count, err := s.client.Get(ctx, s.usageKey(userID, featureID, bucketKey)).Int()
	if err == redis.Nil {
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
	ttl := int(s.config.UsageTTL / time.Second)
	newCount, err := s.increment.Run(ctx, s.client,
		[]string{s.usageKey(userID, featureID, bucketKey)}, delta, ttl).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return newCount, nil
}

// GetAllUsage implements entitlements.UsageStore using a single MGET.
func (s *Store) GetAllUsage(ctx context.Context, userID string, keys []entitlements.UsageKey) (map[entitlements.FeatureID]int, error) {
	if len(keys) == 0 {
		return map[entitlements.FeatureID]int{}, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = s.usageKey(userID, k.FeatureID, k.BucketKey)
	}

	values, err := s.client.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get usage: %w", err)
	}

	out := make(map[entitlements.FeatureID]int, len(keys))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // absent bucket
		}
		var count int
		if _, err := fmt.Sscanf(str, "%d", &count); err != nil {
			return nil, fmt.Errorf("corrupt usage value for %s: %w", redisKeys[i], err)
		}
		out[keys[i].FeatureID] = count
	}
	return out, nil
}

// subscriptionRecord is the JSON shape stored per user.
type subscriptionRecord struct {
	Plan             string    `json:"plan"`
	Status           string    `json:"status"`
	CustomerID       string    `json:"customer_id,omitempty"`
	CurrentPeriodEnd time.Time `json:"current_period_end"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetSubscription implements entitlements.SubscriptionStore.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitlements.Subscription, error) {
	data, err := s.client.Get(ctx, s.subscriptionKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, entitlements.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	var rec subscriptionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt subscription record for %s: %w", userID, err)
	}
	return &entitlements.Subscription{
		UserID:           userID,
		Plan:             entitlements.Plan(rec.Plan),
		Status:           entitlements.SubscriptionStatus(rec.Status),
		CustomerID:       rec.CustomerID,
		CurrentPeriodEnd: rec.CurrentPeriodEnd,
		UpdatedAt:        rec.UpdatedAt,
	}, nil
}

// SetSubscription implements entitlements.SubscriptionStore.
func (s *Store) SetSubscription(ctx context.Context, sub *entitlements.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("invalid subscription")
	}

	data, err := json.Marshal(subscriptionRecord{
		Plan:             string(sub.Plan),
		Status:           string(sub.Status),
		CustomerID:       sub.CustomerID,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		UpdatedAt:        sub.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.subscriptionKey(sub.UserID), data, s.config.SubscriptionTTL)
	if sub.CustomerID != "" {
		pipe.Set(ctx, s.customerKey(sub.CustomerID), sub.UserID, s.config.SubscriptionTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// LookupUserByCustomerID implements entitlements.SubscriptionStore.
func (s *Store) LookupUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	userID, err := s.client.Get(ctx, s.customerKey(customerID)).Result()
	if err == redis.Nil {
		return "", entitlements.ErrCustomerNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}
	return userID, nil
}

func (s *Store) usageKey(userID string, featureID entitlements.FeatureID, bucketKey string) string {
	return fmt.Sprintf("%susage:%s:%s:%s", s.config.KeyPrefix, userID, featureID, bucketKey)
}

func (s *Store) subscriptionKey(userID string) string {
	return fmt.Sprintf("%ssub:%s", s.config.KeyPrefix, userID)
}

func (s *Store) customerKey(customerID string) string {
	return fmt.Sprintf("%scustomer:%s", s.config.KeyPrefix, customerID)
}
