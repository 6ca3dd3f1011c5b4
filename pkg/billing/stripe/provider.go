// Package stripe implements the billing.Provider interface on top of the
// Stripe API. Webhook events write the authoritative subscription record
// and invalidate the tier cache so the next evaluation sees the new plan.
package stripe

import (
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/billing"
	"github.com/HelyeFab/moshimoshi-sub019/pkg/billing/internal"
	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

const (
	providerName             = "stripe"
	defaultHTTPTimeout       = 10 * time.Second
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
)

// Provider implements the billing.Provider interface for Stripe
type Provider struct {
	subscriptions entitlements.SubscriptionStore
	resolver      *entitlements.TierResolver
	httpClient    *http.Client
	rateLimiter   *internal.RateLimiter
	planMapping   map[string]entitlements.Plan
	webhookSecret []byte
	apiKey        string
	stripeClient  *stripe.Client
	logger        entitlements.Logger
	metrics       billing.Metrics
}

// NewProvider creates a new Stripe billing provider
func NewProvider(config billing.Config) (*Provider, error) {
	if config.Subscriptions == nil || config.Resolver == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	apiKey := strings.TrimSpace(config.APIKey)
	if apiKey == "" {
		return nil, billing.ErrProviderNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: defaultHTTPTimeout,
		}
	}

	planMapping := make(map[string]entitlements.Plan)
	for priceID, plan := range config.PlanMapping {
		planMapping[strings.ToLower(strings.TrimSpace(priceID))] = plan
	}

	logger := config.Logger
	if logger == nil {
		logger = &entitlements.NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Provider{
		subscriptions: config.Subscriptions,
		resolver:      config.Resolver,
		httpClient:    httpClient,
		rateLimiter:   internal.NewRateLimiter(defaultRateLimitRequests, defaultRateLimitWindow),
		planMapping:   planMapping,
		webhookSecret: []byte(strings.TrimSpace(config.WebhookSecret)),
		apiKey:        apiKey,
		stripeClient:  stripe.NewClient(apiKey),
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// MapPriceToPlan maps a Stripe price ID to a plan. Unknown prices map to
// the free plan so a misconfigured mapping can never grant paid access.
func (p *Provider) MapPriceToPlan(priceID string) entitlements.Plan {
	if priceID == "" {
		return entitlements.PlanFree
	}
	if plan, ok := p.planMapping[strings.ToLower(strings.TrimSpace(priceID))]; ok {
		return plan
	}
	return entitlements.PlanFree
}

// mapStatus converts a Stripe subscription status to the internal one.
func mapStatus(status stripe.SubscriptionStatus) entitlements.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return entitlements.StatusActive
	case stripe.SubscriptionStatusTrialing:
		return entitlements.StatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return entitlements.StatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return entitlements.StatusCanceled
	default:
		return entitlements.StatusNone
	}
}

// invalidate evicts the cached tier after a subscription write so the
// change is visible on the next evaluation.
func (p *Provider) invalidate(userID, trigger string) {
	p.resolver.Invalidate(userID)
	p.metrics.RecordCacheInvalidation(providerName, trigger)
}

var _ billing.Provider = (*Provider)(nil)
