package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/billing/internal"
	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

const maxWebhookBody = 256 * 1024

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(p.webhookSecret) == 0 {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
		} else {
			http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		sig = r.Header.Get("stripe-signature")
	}

	event, err := stripe.ConstructEvent(body, sig, string(p.webhookSecret))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "UNKNOWN"
	}

	if err := p.processWebhookEvent(r.Context(), &event); err != nil {
		p.logger.Error("webhook processing failed",
			entitlements.Field{Key: "event_type", Value: eventType},
			entitlements.Field{Key: "error", Value: err.Error()},
		)
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		p.metrics.RecordWebhookEvent(providerName, eventType, "error")
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, "success")
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
}

// processWebhookEvent processes a webhook event with timestamp-based idempotency
func (p *Provider) processWebhookEvent(ctx context.Context, event *stripe.Event) error {
	eventTimestamp := time.Unix(event.Created, 0).UTC()

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionEvent(ctx, event, eventTimestamp)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event, eventTimestamp)
	case "invoice.payment_succeeded":
		return p.handleInvoicePaymentSucceeded(ctx, event, eventTimestamp)
	case "invoice.payment_failed":
		return p.handleInvoicePaymentFailed(ctx, event, eventTimestamp)
	case "checkout.session.completed":
		return p.handleCheckoutSessionCompleted(ctx, event, eventTimestamp)
	default:
		// Unknown event type - ignore silently
		return nil
	}
}

// handleSubscriptionEvent processes customer.subscription.created and
// customer.subscription.updated events
func (p *Provider) handleSubscriptionEvent(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return p.applySubscription(ctx, &subscription, event.Data.Raw, eventTimestamp, string(event.Type))
}

// handleSubscriptionDeleted processes customer.subscription.deleted events.
// The record is kept with a canceled status; the effective plan downgrades
// to free through the active-paid check, not by rewriting the plan.
func (p *Provider) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	var subscription stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &subscription); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID, err := p.extractUserID(ctx, &subscription)
	if err != nil {
		return err
	}

	existing, err := p.subscriptions.GetSubscription(ctx, userID)
	if err != nil && !errors.Is(err, entitlements.ErrSubscriptionNotFound) {
		return err
	}

	// Timestamp-based idempotency: only update if event is newer
	if existing != nil && !eventTimestamp.After(existing.UpdatedAt) {
		return nil
	}

	record := &entitlements.Subscription{
		UserID:     userID,
		Plan:       p.resolvePlan(&subscription),
		Status:     entitlements.StatusCanceled,
		CustomerID: customerID(&subscription),
		UpdatedAt:  eventTimestamp,
	}
	if existing != nil {
		record.Plan = existing.Plan
		record.CurrentPeriodEnd = existing.CurrentPeriodEnd
	}

	if err := p.subscriptions.SetSubscription(ctx, record); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}

	p.recordPlanChange(existing, record, eventTimestamp)
	p.invalidate(userID, "subscription_deleted")
	return nil
}

// handleInvoicePaymentSucceeded processes invoice.payment_succeeded events
// by re-fetching the subscription so the period end extends to the newly
// paid cycle.
func (p *Provider) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	subscriptionID := invoiceSubscriptionID(event.Data.Raw)
	if subscriptionID == "" {
		// Not a subscription invoice - ignore
		return nil
	}

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	return p.applySubscription(ctx, sub, nil, eventTimestamp, string(event.Type))
}

// handleInvoicePaymentFailed processes invoice.payment_failed events.
// The subscription remains on its recorded plan until Stripe actually
// cancels it; the event is surfaced through metrics for monitoring.
func (p *Provider) handleInvoicePaymentFailed(_ context.Context, event *stripe.Event, _ time.Time) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to unmarshal invoice: %w", err)
	}
	p.metrics.RecordWebhookEvent(providerName, "invoice.payment_failed", "warning")
	return nil
}

// handleCheckoutSessionCompleted processes checkout.session.completed
// events: patch the user_id onto the subscription metadata if missing,
// then apply the subscription immediately instead of waiting for the
// follow-up subscription event.
func (p *Provider) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event, eventTimestamp time.Time) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	userID := ""
	if session.Metadata != nil {
		userID = session.Metadata["user_id"]
	}
	if userID == "" {
		return fmt.Errorf("metadata.user_id missing on checkout session %s", session.ID)
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	if subscriptionID == "" {
		// Not a subscription checkout - ignore
		return nil
	}

	sub, err := p.stripeClient.V1Subscriptions.Retrieve(ctx, subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	if sub.Metadata == nil || sub.Metadata["user_id"] == "" {
		params := &stripe.SubscriptionUpdateParams{}
		params.AddMetadata("user_id", userID)
		sub, err = p.stripeClient.V1Subscriptions.Update(ctx, subscriptionID, params)
		if err != nil {
			return fmt.Errorf("failed to patch subscription metadata: %w", err)
		}
	}

	return p.applySubscription(ctx, sub, nil, eventTimestamp, string(event.Type))
}

// applySubscription converts the Stripe subscription into the internal
// record, upserts it with timestamp idempotency, and invalidates the tier
// cache.
func (p *Provider) applySubscription(
	ctx context.Context, sub *stripe.Subscription, raw json.RawMessage, eventTimestamp time.Time, trigger string,
) error {
	userID, err := p.extractUserID(ctx, sub)
	if err != nil {
		return err
	}

	existing, err := p.subscriptions.GetSubscription(ctx, userID)
	if err != nil && !errors.Is(err, entitlements.ErrSubscriptionNotFound) {
		return err
	}

	// Timestamp-based idempotency: only update if event is newer
	if existing != nil && !eventTimestamp.After(existing.UpdatedAt) {
		return nil
	}

	record := &entitlements.Subscription{
		UserID:           userID,
		Plan:             p.resolvePlan(sub),
		Status:           mapStatus(sub.Status),
		CustomerID:       customerID(sub),
		CurrentPeriodEnd: periodEnd(sub, raw),
		UpdatedAt:        eventTimestamp,
	}

	if err := p.subscriptions.SetSubscription(ctx, record); err != nil {
		return fmt.Errorf("failed to store subscription: %w", err)
	}

	p.recordPlanChange(existing, record, eventTimestamp)
	p.invalidate(userID, trigger)
	return nil
}

func (p *Provider) recordPlanChange(existing, updated *entitlements.Subscription, now time.Time) {
	previous := entitlements.PlanFree
	if existing != nil {
		previous = existing.EffectivePlan(now)
	}
	current := updated.EffectivePlan(now)
	if previous != current {
		p.metrics.RecordPlanChange(providerName, string(previous), string(current))
	}
}

// resolvePlan picks the highest-weight plan across the subscription's
// items. Ties go to the most recently created subscription.
func (p *Provider) resolvePlan(sub *stripe.Subscription) entitlements.Plan {
	best := entitlements.PlanFree
	if sub.Items == nil {
		return best
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		plan := p.MapPriceToPlan(item.Price.ID)
		if plan.Weight() > best.Weight() {
			best = plan
		}
	}
	return best
}

// extractUserID extracts user_id from subscription or customer metadata
func (p *Provider) extractUserID(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if sub.Metadata != nil {
		if userID, ok := sub.Metadata["user_id"]; ok && userID != "" {
			return userID, nil
		}
	}

	if sub.Customer != nil {
		cust, err := p.stripeClient.V1Customers.Retrieve(ctx, sub.Customer.ID, nil)
		if err == nil && cust.Metadata != nil {
			if userID, ok := cust.Metadata["user_id"]; ok && userID != "" {
				return userID, nil
			}
		}
	}

	return "", fmt.Errorf("metadata.user_id missing on subscription %s", sub.ID)
}

func customerID(sub *stripe.Subscription) string {
	if sub.Customer != nil {
		return sub.Customer.ID
	}
	return ""
}

// periodEnd extracts current_period_end. The v83 struct does not carry the
// field directly, so it is read from the raw event payload when available.
func periodEnd(sub *stripe.Subscription, raw json.RawMessage) time.Time {
	if len(raw) > 0 {
		var payload struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil && payload.CurrentPeriodEnd > 0 {
			return time.Unix(payload.CurrentPeriodEnd, 0).UTC()
		}
	}
	if sub.Items != nil {
		var latest int64
		for _, item := range sub.Items.Data {
			if item.CurrentPeriodEnd > latest {
				latest = item.CurrentPeriodEnd
			}
		}
		if latest > 0 {
			return time.Unix(latest, 0).UTC()
		}
	}
	return time.Time{}
}

// invoiceSubscriptionID digs the subscription ID out of the raw invoice
// payload; the v83 Invoice struct does not expose it directly.
func invoiceSubscriptionID(raw json.RawMessage) string {
	var rawData map[string]interface{}
	if err := json.Unmarshal(raw, &rawData); err != nil {
		return ""
	}
	switch v := rawData["subscription"].(type) {
	case map[string]interface{}:
		if id, ok := v["id"].(string); ok {
			return id
		}
	case string:
		return v
	}
	return ""
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
