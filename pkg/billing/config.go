package billing

import (
	"net/http"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Config defines the standard configuration all providers should accept
type Config struct {
	// Subscriptions is the authoritative subscription store the provider
	// writes to.
	Subscriptions entitlements.SubscriptionStore

	// Resolver is the tier resolver whose cache is invalidated after every
	// subscription write.
	Resolver *entitlements.TierResolver

	// PlanMapping maps provider price/product IDs to plans.
	// For example: map[string]entitlements.Plan{
	//     "price_monthly_123": entitlements.PlanPremiumMonthly,
	//     "price_yearly_456":  entitlements.PlanPremiumYearly,
	// }
	PlanMapping map[string]entitlements.Plan

	// WebhookSecret is used to verify incoming webhook requests.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Logger is optional structured logging. If nil, logging is disabled.
	Logger entitlements.Logger

	// Metrics is an optional metrics collector for webhook operations.
	// If nil, metrics will be silently ignored (no-op).
	Metrics Metrics
}
