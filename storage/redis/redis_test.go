package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test database
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	client := setupTestRedis(t)
	store, err := New(client, Config{KeyPrefix: "test:"})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		client  redis.UniversalClient
		config  Config
		wantErr bool
	}{
		{
			name:    "nil client",
			client:  nil,
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:    "valid client with default config",
			client:  redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:   "valid client with custom config",
			client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config: Config{
				KeyPrefix: "custom:",
				UsageTTL:  time.Hour,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.client, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && store == nil {
				t.Error("New() returned nil store")
			}
		})
	}
}

func TestStore_EmptyKeyPrefixDefaults(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	store, err := New(client, Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if store.config.KeyPrefix != "moshimoshi:" {
		t.Errorf("KeyPrefix = %q, want default", store.config.KeyPrefix)
	}
}

func TestStore_UsageRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	count, err := store.GetUsage(ctx, "user1", "sentence_analysis", "2025-01-14")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 for absent bucket, got %d", count)
	}

	newCount, err := store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 1)
	if err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if newCount != 1 {
		t.Errorf("Expected new count 1, got %d", newCount)
	}

	newCount, err = store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 3)
	if err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if newCount != 4 {
		t.Errorf("Expected new count 4, got %d", newCount)
	}

	count, err = store.GetUsage(ctx, "user1", "sentence_analysis", "2025-01-14")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != 4 {
		t.Errorf("Expected count 4, got %d", count)
	}
}

func TestStore_IncrementUsage_NegativeDelta(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.IncrementUsage(context.Background(), "user1", "sentence_analysis", "2025-01-14", -1)
	if err != entitlements.ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestStore_BucketIsolation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 3); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}

	count, err := store.GetUsage(ctx, "user1", "sentence_analysis", "2025-01-15")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 in different bucket, got %d", count)
	}

	count, err = store.GetUsage(ctx, "user2", "sentence_analysis", "2025-01-14")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 for different user, got %d", count)
	}
}

func TestStore_GetAllUsage(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 3); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if _, err := store.IncrementUsage(ctx, "user1", "story_generation", "2025-01", 2); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}

	usage, err := store.GetAllUsage(ctx, "user1", []entitlements.UsageKey{
		{FeatureID: "sentence_analysis", BucketKey: "2025-01-14"},
		{FeatureID: "story_generation", BucketKey: "2025-01"},
		{FeatureID: "tts_generation", BucketKey: "2025-01-14"},
	})
	if err != nil {
		t.Fatalf("GetAllUsage failed: %v", err)
	}

	if usage["sentence_analysis"] != 3 {
		t.Errorf("sentence_analysis = %d, want 3", usage["sentence_analysis"])
	}
	if usage["story_generation"] != 2 {
		t.Errorf("story_generation = %d, want 2", usage["story_generation"])
	}
	if _, ok := usage["tts_generation"]; ok {
		t.Error("Expected absent bucket to be omitted")
	}
}

func TestStore_GetAllUsage_Empty(t *testing.T) {
	store := setupTestStore(t)

	usage, err := store.GetAllUsage(context.Background(), "user1", nil)
	if err != nil {
		t.Fatalf("GetAllUsage failed: %v", err)
	}
	if len(usage) != 0 {
		t.Errorf("Expected empty map, got %v", usage)
	}
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const goroutines = 20
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 1); err != nil {
				t.Errorf("IncrementUsage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.GetUsage(ctx, "user1", "sentence_analysis", "2025-01-14")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != goroutines {
		t.Errorf("Expected count %d, got %d", goroutines, count)
	}
}

func TestStore_UsageTTLOnCreation(t *testing.T) {
	client := setupTestRedis(t)
	store, err := New(client, Config{KeyPrefix: "test:", UsageTTL: time.Hour})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 1); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}

	ttl, err := client.TTL(ctx, "test:usage:user1:sentence_analysis:2025-01-14").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("Expected TTL in (0, 1h], got %v", ttl)
	}

	// A second increment must not refresh the expiry.
	if _, err := store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 1); err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	ttl2, err := client.TTL(ctx, "test:usage:user1:sentence_analysis:2025-01-14").Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl2 > ttl {
		t.Errorf("Expected TTL to not be refreshed, got %v > %v", ttl2, ttl)
	}
}

func TestStore_SubscriptionRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	periodEnd := time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)
	sub := &entitlements.Subscription{
		UserID:           "user1",
		Plan:             entitlements.PlanPremiumMonthly,
		Status:           entitlements.StatusActive,
		CustomerID:       "cus_123",
		CurrentPeriodEnd: periodEnd,
		UpdatedAt:        time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC),
	}
	if err := store.SetSubscription(ctx, sub); err != nil {
		t.Fatalf("SetSubscription failed: %v", err)
	}

	got, err := store.GetSubscription(ctx, "user1")
	if err != nil {
		t.Fatalf("GetSubscription failed: %v", err)
	}
	if got.Plan != entitlements.PlanPremiumMonthly {
		t.Errorf("Plan = %s", got.Plan)
	}
	if got.Status != entitlements.StatusActive {
		t.Errorf("Status = %s", got.Status)
	}
	if got.CustomerID != "cus_123" {
		t.Errorf("CustomerID = %s", got.CustomerID)
	}
	if !got.CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("CurrentPeriodEnd = %v", got.CurrentPeriodEnd)
	}
}

func TestStore_GetSubscription_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetSubscription(context.Background(), "nobody")
	if err != entitlements.ErrSubscriptionNotFound {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestStore_SetSubscription_Invalid(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.SetSubscription(ctx, nil); err == nil {
		t.Error("Expected error for nil subscription")
	}
	if err := store.SetSubscription(ctx, &entitlements.Subscription{}); err == nil {
		t.Error("Expected error for missing user ID")
	}
}

func TestStore_LookupUserByCustomerID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.SetSubscription(ctx, &entitlements.Subscription{
		UserID:     "user1",
		Plan:       entitlements.PlanPremiumYearly,
		Status:     entitlements.StatusActive,
		CustomerID: "cus_456",
	})
	if err != nil {
		t.Fatalf("SetSubscription failed: %v", err)
	}

	userID, err := store.LookupUserByCustomerID(ctx, "cus_456")
	if err != nil {
		t.Fatalf("LookupUserByCustomerID failed: %v", err)
	}
	if userID != "user1" {
		t.Errorf("userID = %s, want user1", userID)
	}

	_, err = store.LookupUserByCustomerID(ctx, "cus_unknown")
	if err != entitlements.ErrCustomerNotFound {
		t.Errorf("Expected ErrCustomerNotFound, got %v", err)
	}
}

func TestStore_KeyFormat(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	store, err := New(client, Config{KeyPrefix: "app:"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := store.usageKey("user1", "sentence_analysis", "2025-01-14")
	want := "app:usage:user1:sentence_analysis:2025-01-14"
	if key != want {
		t.Errorf("usageKey = %s, want %s", key, want)
	}

	key = store.subscriptionKey("user1")
	if key != "app:sub:user1" {
		t.Errorf("subscriptionKey = %s", key)
	}

	key = store.customerKey("cus_1")
	if key != "app:customer:cus_1" {
		t.Errorf("customerKey = %s", key)
	}
}
