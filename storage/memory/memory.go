// Package memory provides in-memory implementations of the entitlements
// store interfaces. Primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Store implements entitlements.UsageStore, entitlements.SubscriptionStore,
// and entitlements.AuditSink using in-memory maps.
type Store struct {
	mu            sync.RWMutex
	usage         map[string]int
	subscriptions map[string]*entitlements.Subscription
	customers     map[string]string // customer ID -> user ID
	audit         []*entitlements.AuditEntry
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		usage:         make(map[string]int),
		subscriptions: make(map[string]*entitlements.Subscription),
		customers:     make(map[string]string),
	}
}

// GetUsage implements entitlements.UsageStore.
func (s *Store) GetUsage(_ context.Context, userID string, featureID entitlements.FeatureID, bucketKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[usageKey(userID, featureID, bucketKey)], nil
}

// IncrementUsage implements entitlements.UsageStore. The mutex serializes
// the read-modify-write, making the increment atomic for this backend.
func (s *Store) IncrementUsage(_ context.Context, userID string, featureID entitlements.FeatureID, bucketKey string, delta int) (int, error) {
	if delta < 0 {
		return 0, entitlements.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(userID, featureID, bucketKey)
	s.usage[key] += delta
	return s.usage[key], nil
}

// GetAllUsage implements entitlements.UsageStore.
func (s *Store) GetAllUsage(_ context.Context, userID string, keys []entitlements.UsageKey) (map[entitlements.FeatureID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[entitlements.FeatureID]int, len(keys))
	for _, k := range keys {
		if count, ok := s.usage[usageKey(userID, k.FeatureID, k.BucketKey)]; ok {
			out[k.FeatureID] = count
		}
	}
	return out, nil
}

// GetSubscription implements entitlements.SubscriptionStore.
func (s *Store) GetSubscription(_ context.Context, userID string) (*entitlements.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, entitlements.ErrSubscriptionNotFound
	}
	subCopy := *sub
	return &subCopy, nil
}

// SetSubscription implements entitlements.SubscriptionStore.
func (s *Store) SetSubscription(_ context.Context, sub *entitlements.Subscription) error {
	if sub == nil || sub.UserID == "" {
		return fmt.Errorf("invalid subscription")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	subCopy := *sub
	s.subscriptions[sub.UserID] = &subCopy
	if sub.CustomerID != "" {
		s.customers[sub.CustomerID] = sub.UserID
	}
	return nil
}

// LookupUserByCustomerID implements entitlements.SubscriptionStore.
func (s *Store) LookupUserByCustomerID(_ context.Context, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, ok := s.customers[customerID]
	if !ok {
		return "", entitlements.ErrCustomerNotFound
	}
	return userID, nil
}

// Record implements entitlements.AuditSink.
func (s *Store) Record(_ context.Context, entry *entitlements.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryCopy := *entry
	s.audit = append(s.audit, &entryCopy)
	return nil
}

// AuditEntries returns a copy of the recorded audit trail.
func (s *Store) AuditEntries() []*entitlements.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entitlements.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// Clear removes all data (useful for testing).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = make(map[string]int)
	s.subscriptions = make(map[string]*entitlements.Subscription)
	s.customers = make(map[string]string)
	s.audit = nil
}

func usageKey(userID string, featureID entitlements.FeatureID, bucketKey string) string {
	return fmt.Sprintf("%s:%s:%s", userID, featureID, bucketKey)
}
