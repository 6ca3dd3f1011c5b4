// Package billing defines the generic interface between billing providers
// and the entitlement core. A provider consumes webhook events, writes
// the authoritative subscription record, and invalidates the tier cache
// so the next evaluation sees the new plan.
package billing

import (
	"context"
	"errors"
	"net/http"
)

// Provider is the generic interface that any billing backend must implement.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that processes real-time events.
	// The implementation handles validation, parsing, subscription updates,
	// and cache invalidation internally.
	WebhookHandler() http.Handler

	// SyncUser forces a synchronization of the user's subscription state from
	// the provider to the subscription store. Used for "Restore Purchases" or
	// nightly reconciliation jobs. Returns the detected plan and any error.
	SyncUser(ctx context.Context, userID string) (string, error)
}

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrInvalidWebhookSignature is returned when webhook signature validation fails
	ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrUserNotFound is returned when a user cannot be found in the provider's system
	ErrUserNotFound = errors.New("user not found in billing provider")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")
)
