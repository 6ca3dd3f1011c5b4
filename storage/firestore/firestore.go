// Package firestore provides a Firestore implementation of the entitlements
// store interfaces, for deployments where the platform's managed document
// database is the system of record.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Config holds Firestore store configuration.
type Config struct {
	// UsageCollection is the collection for usage buckets.
	// Default: "entitlement_usage".
	UsageCollection string

	// SubscriptionsCollection is the collection for subscription records.
	// Default: "subscriptions".
	SubscriptionsCollection string

	// CustomersCollection maps billing customer IDs to user IDs.
	// Default: "billing_customers".
	CustomersCollection string

	// AuditCollection is the collection for audit entries.
	// Default: "entitlement_audit".
	AuditCollection string
}

// Store implements entitlements.UsageStore, entitlements.SubscriptionStore,
// and entitlements.AuditSink using Google Cloud Firestore.
type Store struct {
	client                  *firestore.Client
	usageCollection         string
	subscriptionsCollection string
	customersCollection     string
	auditCollection         string
}

// New creates a new Firestore store.
func New(client *firestore.Client, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}
	if config.UsageCollection == "" {
		config.UsageCollection = "entitlement_usage"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "subscriptions"
	}
	if config.CustomersCollection == "" {
		config.CustomersCollection = "billing_customers"
	}
	if config.AuditCollection == "" {
		config.AuditCollection = "entitlement_audit"
	}
	return &Store{
		client:                  client,
		usageCollection:         config.UsageCollection,
		subscriptionsCollection: config.SubscriptionsCollection,
		customersCollection:     config.CustomersCollection,
		auditCollection:         config.AuditCollection,
	}, nil
}

// GetUsage implements entitlements.UsageStore.
func (s *Store) GetUsage(ctx context.Context, userID string, featureID entitlements.FeatureID, bucketKey string) (int, error) {
	snap, err := s.usageDoc(userID, featureID, bucketKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get usage: %w", err)
	}
	return getInt(snap.Data(), "count"), nil
}

// IncrementUsage implements entitlements.UsageStore. The read-modify-write
// runs inside a Firestore transaction, which retries on contention, so
// concurrent increments for the same bucket serialize without lost updates.
func (s *Store) IncrementUsage(ctx context.Context, userID string, featureID entitlements.FeatureID, bucketKey string, delta int) (int, error) {
	if delta < 0 {
		return 0, entitlements.ErrInvalidAmount
	}

	doc := s.usageDoc(userID, featureID, bucketKey)
	var newCount int
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(doc)
		current := 0
		switch {
		case err == nil:
			current = getInt(snap.Data(), "count")
		case status.Code(err) == codes.NotFound:
			// Bucket created lazily on first increment.
		default:
			return err
		}

		newCount = current + delta
		return tx.Set(doc, map[string]interface{}{
			"userId":    userID,
			"featureId": string(featureID),
			"bucketKey": bucketKey,
			"count":     newCount,
			"updatedAt": time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return newCount, nil
}

// GetAllUsage implements entitlements.UsageStore via GetAll on the bucket
// document refs.
func (s *Store) GetAllUsage(ctx context.Context, userID string, keys []entitlements.UsageKey) (map[entitlements.FeatureID]int, error) {
	if len(keys) == 0 {
		return map[entitlements.FeatureID]int{}, nil
	}

	refs := make([]*firestore.DocumentRef, len(keys))
	for i, k := range keys {
		refs[i] = s.usageDoc(userID, k.FeatureID, k.BucketKey)
	}

	snaps, err := s.client.GetAll(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-get usage: %w", err)
	}

	out := make(map[entitlements.FeatureID]int, len(keys))
	for i, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		out[keys[i].FeatureID] = getInt(snap.Data(), "count")
	}
	return out, nil
}

// GetSubscription implements entitlements.SubscriptionStore.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*entitlements.Subscription, error) {
	snap, err := s.client.Collection(s.subscriptionsCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, entitlements.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if !snap.Exists() {
		return nil, entitlements.ErrSubscriptionNotFound
	}

	data := snap.Data()
	return &entitlements.Subscription{
		UserID:           userID,
		Plan:             entitlements.Plan(getString(data, "plan")),
		Status:           entitlements.SubscriptionStatus(getString(data, "status")),
		CustomerID:       getString(data, "customerId"),
		CurrentPeriodEnd: getTime(data, "currentPeriodEnd"),
		UpdatedAt:        getTime(data, "updatedAt"),
	}, nil
}

// SetSubscription implements entitlements.SubscriptionStore.
func (s *Store) SetSubscription(ctx context.Context, sub *entitlements.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("invalid subscription")
	}

	batch := s.client.Batch()
	batch.Set(s.client.Collection(s.subscriptionsCollection).Doc(sub.UserID), map[string]interface{}{
		"plan":             string(sub.Plan),
		"status":           string(sub.Status),
		"customerId":       sub.CustomerID,
		"currentPeriodEnd": sub.CurrentPeriodEnd,
		"updatedAt":        sub.UpdatedAt,
	}, firestore.MergeAll)
	if sub.CustomerID != "" {
		batch.Set(s.client.Collection(s.customersCollection).Doc(sub.CustomerID), map[string]interface{}{
			"userId":    sub.UserID,
			"updatedAt": sub.UpdatedAt,
		}, firestore.MergeAll)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return fmt.Errorf("failed to set subscription: %w", err)
	}
	return nil
}

// LookupUserByCustomerID implements entitlements.SubscriptionStore.
func (s *Store) LookupUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	snap, err := s.client.Collection(s.customersCollection).Doc(customerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", entitlements.ErrCustomerNotFound
		}
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}
	userID := getString(snap.Data(), "userId")
	if userID == "" {
		return "", entitlements.ErrCustomerNotFound
	}
	return userID, nil
}

// Record implements entitlements.AuditSink.
func (s *Store) Record(ctx context.Context, entry *entitlements.AuditEntry) error {
	_, _, err := s.client.Collection(s.auditCollection).Add(ctx, map[string]interface{}{
		"userId":          entry.UserID,
		"featureId":       string(entry.FeatureID),
		"action":          string(entry.Action),
		"allow":           entry.Allow,
		"reason":          string(entry.Reason),
		"remaining":       entry.Remaining,
		"usageAfter":      entry.UsageAfter,
		"policyVersion":   entry.PolicyVersion,
		"plan":            string(entry.Plan),
		"storageLocation": string(entry.StorageLocation),
		"at":              entry.At,
	})
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

func (s *Store) usageDoc(userID string, featureID entitlements.FeatureID, bucketKey string) *firestore.DocumentRef {
	docID := fmt.Sprintf("%s_%s_%s", userID, featureID, bucketKey)
	return s.client.Collection(s.usageCollection).Doc(docID)
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
