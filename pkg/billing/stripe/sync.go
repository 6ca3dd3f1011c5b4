package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/billing"
	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// SyncUser synchronizes a user's subscription state from the Stripe API.
// Used for "Restore Purchases" and reconciliation jobs where webhook
// delivery cannot be trusted.
func (p *Provider) SyncUser(ctx context.Context, userID string) (string, error) {
	customerID, err := p.findCustomerID(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			// No Stripe customer: the user has never paid.
			return string(entitlements.PlanFree), p.syncToFree(ctx, userID)
		}
		p.metrics.RecordUserSync(providerName, "error")
		return string(entitlements.PlanFree), err
	}

	record, err := p.buildRecordFromAPI(ctx, customerID, userID)
	if err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return string(entitlements.PlanFree), err
	}

	existing, err := p.subscriptions.GetSubscription(ctx, userID)
	if err != nil && !errors.Is(err, entitlements.ErrSubscriptionNotFound) {
		p.metrics.RecordUserSync(providerName, "error")
		return string(record.Plan), err
	}

	if err := p.subscriptions.SetSubscription(ctx, record); err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return string(record.Plan), fmt.Errorf("failed to store subscription: %w", err)
	}

	p.recordPlanChange(existing, record, record.UpdatedAt)
	p.invalidate(userID, "sync")
	p.metrics.RecordUserSync(providerName, "success")
	return string(record.Plan), nil
}

// findCustomerID resolves the user's Stripe customer via the store first,
// then falls back to the eventually consistent Search API.
func (p *Provider) findCustomerID(ctx context.Context, userID string) (string, error) {
	if existing, err := p.subscriptions.GetSubscription(ctx, userID); err == nil && existing.CustomerID != "" {
		return existing.CustomerID, nil
	}

	params := &stripe.CustomerSearchParams{}
	params.Query = fmt.Sprintf("metadata['user_id']:'%s'", userID)

	for cust, err := range p.stripeClient.V1Customers.Search(ctx, params) {
		if err != nil {
			return "", fmt.Errorf("stripe search error: %w", err)
		}
		// Search can return partial matches, verify the metadata exactly.
		if cust.Metadata != nil && cust.Metadata["user_id"] == userID {
			return cust.ID, nil
		}
	}

	return "", billing.ErrUserNotFound
}

// buildRecordFromAPI lists the customer's active subscriptions and folds
// them into a single record, picking the highest-weight plan.
func (p *Provider) buildRecordFromAPI(ctx context.Context, customerID, userID string) (*entitlements.Subscription, error) {
	params := &stripe.SubscriptionListParams{}
	params.Customer = stripe.String(customerID)
	params.Status = stripe.String(string(stripe.SubscriptionStatusActive))

	record := &entitlements.Subscription{
		UserID:     userID,
		Plan:       entitlements.PlanFree,
		Status:     entitlements.StatusNone,
		CustomerID: customerID,
		UpdatedAt:  time.Now().UTC(),
	}

	for sub, err := range p.stripeClient.V1Subscriptions.List(ctx, params) {
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if sub.Status != stripe.SubscriptionStatusActive {
			continue
		}
		plan := p.resolvePlan(sub)
		if plan.Weight() > record.Plan.Weight() {
			record.Plan = plan
			record.Status = entitlements.StatusActive
			record.CurrentPeriodEnd = periodEnd(sub, nil)
		}
	}

	return record, nil
}

// syncToFree records the user as unsubscribed when no customer exists.
func (p *Provider) syncToFree(ctx context.Context, userID string) error {
	record := &entitlements.Subscription{
		UserID:    userID,
		Plan:      entitlements.PlanFree,
		Status:    entitlements.StatusNone,
		UpdatedAt: time.Now().UTC(),
	}
	if err := p.subscriptions.SetSubscription(ctx, record); err != nil {
		p.metrics.RecordUserSync(providerName, "error")
		return fmt.Errorf("failed to store subscription: %w", err)
	}
	p.invalidate(userID, "sync")
	p.metrics.RecordUserSync(providerName, "success")
	return nil
}
