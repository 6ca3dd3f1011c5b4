package entitlements

import "time"

// Metrics defines the interface for tracking entitlement operations.
type Metrics interface {
	// RecordEvaluation records an entitlement evaluation and its outcome.
	RecordEvaluation(featureID FeatureID, plan Plan, reason Reason)

	// RecordConsumption records a usage increment after an allowed operation.
	RecordConsumption(featureID FeatureID, plan Plan, delta int)

	// RecordCacheHit records a tier cache hit.
	RecordCacheHit()

	// RecordCacheMiss records a tier cache miss.
	RecordCacheMiss()

	// RecordStaleCache records a cache entry proven stale by an invalidation
	// arriving shortly after it was served.
	RecordStaleCache()

	// RecordStorageOperation records the duration and status of a backing
	// store operation.
	RecordStorageOperation(operation string, duration time.Duration, err error)

	// RecordGuardOutcome records a storage routing guard invocation.
	RecordGuardOutcome(location StorageLocation, failedClosed bool)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordEvaluation(featureID FeatureID, plan Plan, reason Reason)           {}
func (n *NoopMetrics) RecordConsumption(featureID FeatureID, plan Plan, delta int)              {}
func (n *NoopMetrics) RecordCacheHit()                                                          {}
func (n *NoopMetrics) RecordCacheMiss()                                                         {}
func (n *NoopMetrics) RecordStaleCache()                                                        {}
func (n *NoopMetrics) RecordStorageOperation(operation string, duration time.Duration, err error) {}
func (n *NoopMetrics) RecordGuardOutcome(location StorageLocation, failedClosed bool)           {}
