package firestore

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

const (
	testProjectID = "test-project"
	emulatorHost  = "localhost:8080"
)

// setupTestStore connects to the Firestore emulator with collection names
// unique to this test run, so tests never see each other's documents.
// Requires the emulator running on localhost:8080.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	os.Setenv("FIRESTORE_EMULATOR_HOST", emulatorHost)

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	// Probe the emulator before running the test body
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Collection("probe").Doc("probe").Get(probeCtx); err != nil && probeCtx.Err() != nil {
		t.Skipf("Firestore emulator not available: %v", err)
	}

	suffix := time.Now().UnixNano()
	store, err := New(client, Config{
		UsageCollection:         fmt.Sprintf("test_usage_%d", suffix),
		SubscriptionsCollection: fmt.Sprintf("test_subs_%d", suffix),
		CustomersCollection:     fmt.Sprintf("test_customers_%d", suffix),
		AuditCollection:         fmt.Sprintf("test_audit_%d", suffix),
	})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestNew(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("Expected error for nil client")
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

	newCount, err = store.IncrementUsage(ctx, "user1", "sentence_analysis", "2025-01-14", 2)
	if err != nil {
		t.Fatalf("IncrementUsage failed: %v", err)
	}
	if newCount != 3 {
		t.Errorf("Expected new count 3, got %d", newCount)
	}

	count, err = store.GetUsage(ctx, "user1", "sentence_analysis", "2025-01-14")
	if err != nil {
		t.Fatalf("GetUsage failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3, got %d", count)
	}
}

func TestStore_IncrementUsage_NegativeDelta(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.IncrementUsage(context.Background(), "user1", "sentence_analysis", "2025-01-14", -1)
	if err != entitlements.ErrInvalidAmount {
		t.Errorf("Expected ErrInvalidAmount, got %v", err)
	}
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const goroutines = 10
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

func TestStore_SubscriptionRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetSubscription(ctx, "user1")
	if err != entitlements.ErrSubscriptionNotFound {
		t.Errorf("Expected ErrSubscriptionNotFound, got %v", err)
	}

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

func TestStore_LookupUserByCustomerID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.SetSubscription(ctx, &entitlements.Subscription{
		UserID:     "user1",
		Plan:       entitlements.PlanPremiumYearly,
		Status:     entitlements.StatusActive,
		CustomerID: "cus_456",
		UpdatedAt:  time.Now().UTC(),
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

func TestStore_RecordAudit(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.Record(ctx, &entitlements.AuditEntry{
		UserID:        "user1",
		FeatureID:     "sentence_analysis",
		Action:        entitlements.AuditConsume,
		Allow:         true,
		Reason:        entitlements.ReasonOK,
		Remaining:     4,
		UsageAfter:    1,
		PolicyVersion: 3,
		Plan:          entitlements.PlanFree,
		At:            time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	docs, err := store.client.Collection(store.auditCollection).Documents(ctx).GetAll()
	if err != nil {
		t.Fatalf("Failed to read audit collection: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("Expected 1 audit document, got %d", len(docs))
	}
	data := docs[0].Data()
	if data["userId"] != "user1" {
		t.Errorf("userId = %v", data["userId"])
	}
	if data["allow"] != true {
		t.Errorf("allow = %v", data["allow"])
	}
}
