package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/billing"
	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// CheckoutURL creates a Stripe Checkout Session for a subscription plan
// and returns the URL. The plan is resolved back to a Stripe price ID
// through the configured PlanMapping.
func (p *Provider) CheckoutURL(ctx context.Context, userID string, plan entitlements.Plan, successURL, cancelURL string) (string, error) {
	priceID := p.priceIDForPlan(plan)
	if priceID == "" {
		return "", fmt.Errorf("%w: no price mapped for plan %s", billing.ErrProviderNotConfigured, plan)
	}

	// Resolve the customer if one exists so checkout does not create a
	// duplicate. A missing customer is fine, Stripe creates one; a store
	// failure is not, fail rather than risk duplicates.
	customerID, err := p.findCustomerID(ctx, userID)
	if err != nil && !errors.Is(err, billing.ErrUserNotFound) {
		return "", fmt.Errorf("failed to resolve customer: %w", err)
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}

	// The webhook handler keys everything off this metadata.
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata("user_id", userID)

	if customerID != "" {
		params.Customer = stripe.String(customerID)
	} else {
		params.ClientReferenceID = stripe.String(userID)
		params.CustomerCreation = stripe.String("always")
	}

	session, err := p.stripeClient.V1CheckoutSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return session.URL, nil
}

// PortalURL creates a Stripe Customer Portal session so users can manage
// or cancel their subscription.
func (p *Provider) PortalURL(ctx context.Context, userID, returnURL string) (string, error) {
	customerID, err := p.findCustomerID(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", billing.ErrUserNotFound, userID)
	}

	params := &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	session, err := p.stripeClient.V1BillingPortalSessions.Create(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	return session.URL, nil
}

// priceIDForPlan is the reverse of MapPriceToPlan. If multiple prices map
// to the same plan the lexically smallest wins, keeping the choice stable
// across restarts.
func (p *Provider) priceIDForPlan(plan entitlements.Plan) string {
	best := ""
	for priceID, mapped := range p.planMapping {
		if mapped != plan {
			continue
		}
		if best == "" || strings.Compare(priceID, best) < 0 {
			best = priceID
		}
	}
	return best
}
