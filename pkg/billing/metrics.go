package billing

import "time"

// Metrics defines the interface for tracking billing provider operations.
// All methods are optional - providers should gracefully handle nil metrics.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// status: "success" or "error"
	RecordWebhookEvent(provider, eventType, status string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: The type of error (e.g., "auth_failed", "invalid_payload", "processing_error")
	RecordWebhookError(provider, errorType string)

	// RecordUserSync records a user synchronization operation.
	// status: "success" or "error"
	RecordUserSync(provider, status string)

	// RecordPlanChange records when a user's plan changes.
	RecordPlanChange(provider, fromPlan, toPlan string)

	// RecordCacheInvalidation records a tier cache invalidation triggered by
	// a billing event.
	RecordCacheInvalidation(provider, trigger string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordUserSync(_, _ string)                                   {}
func (n *NoopMetrics) RecordPlanChange(_, _, _ string)                              {}
func (n *NoopMetrics) RecordCacheInvalidation(_, _ string)                          {}
