// Package entitlements implements the entitlement evaluation core for the
// moshimoshi platform: feature catalog, plan policy tables, per-period usage
// buckets, a pure decision evaluator, and a tier resolver with an explicitly
// invalidated cache.
package entitlements

import (
	"time"
)

// FeatureID identifies a rate-limited platform feature.
type FeatureID string

// Permission names the capability a plan must carry to use a feature.
type Permission string

// PeriodType defines the quota period class of a feature.
type PeriodType string

const (
	// PeriodDaily buckets usage by UTC calendar date.
	PeriodDaily PeriodType = "daily"
	// PeriodMonthly buckets usage by UTC calendar month.
	PeriodMonthly PeriodType = "monthly"
)

// Lifecycle is the deployment state of a feature.
type Lifecycle string

const (
	LifecycleActive     Lifecycle = "active"
	LifecycleDeprecated Lifecycle = "deprecated"
	LifecycleHidden     Lifecycle = "hidden"
)

// Plan is a subscription tier.
type Plan string

const (
	PlanGuest          Plan = "guest"
	PlanFree           Plan = "free"
	PlanPremiumMonthly Plan = "premium_monthly"
	PlanPremiumYearly  Plan = "premium_yearly"
)

// Unlimited is the sentinel limit for features with no cap on a plan.
// -1 keeps the value representable in SQL and JSON without a wrapper type.
const Unlimited = -1

// Weight orders plans from least to most privileged.
func (p Plan) Weight() int {
	switch p {
	case PlanGuest:
		return 0
	case PlanFree:
		return 10
	case PlanPremiumMonthly:
		return 20
	case PlanPremiumYearly:
		return 30
	default:
		return 0
	}
}

// IsPaid reports whether the plan is a paying tier.
func (p Plan) IsPaid() bool {
	return p == PlanPremiumMonthly || p == PlanPremiumYearly
}

// Known reports whether p is one of the defined plans.
func (p Plan) Known() bool {
	switch p {
	case PlanGuest, PlanFree, PlanPremiumMonthly, PlanPremiumYearly:
		return true
	}
	return false
}

// Feature describes one entry of the feature catalog.
type Feature struct {
	ID         FeatureID
	Permission Permission
	Period     PeriodType
	Lifecycle  Lifecycle
}

// Reason explains the outcome of an evaluation.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonNoPermission     Reason = "no_permission"
	ReasonLimitReached     Reason = "limit_reached"
	ReasonLifecycleBlocked Reason = "lifecycle_blocked"
)

// Decision is the immutable output of an entitlement evaluation.
// Remaining is -1 when the effective limit is Unlimited.
type Decision struct {
	Allow         bool       `json:"allow"`
	Remaining     int        `json:"remaining"`
	Reason        Reason     `json:"reason"`
	PolicyVersion int        `json:"policy_version"`
	ResetAt       *time.Time `json:"reset_at_utc,omitempty"`

	// Echo fields for audit and debugging.
	FeatureID   FeatureID `json:"feature_id"`
	Plan        Plan      `json:"plan"`
	UsageBefore int       `json:"usage_before"`
	Limit       int       `json:"limit"`
}

// EvalContext carries everything a single evaluation needs. It is built per
// request by the caller; the evaluator itself performs no I/O.
type EvalContext struct {
	UserID string
	Plan   Plan

	// Usage holds the current-bucket counts the caller fetched before
	// evaluating. Missing entries are treated as zero usage.
	Usage map[FeatureID]int

	// Now is the evaluation instant. Bucket keys and reset times are always
	// derived from its UTC value.
	Now time.Time

	// Overrides are per-user limits that supersede the plan table.
	// Unlimited (-1) is a valid override value.
	Overrides map[FeatureID]int

	// TenantCaps apply when the user belongs to a managed tenant. A cap only
	// takes effect when it is more restrictive than the otherwise effective
	// limit.
	TenantCaps map[FeatureID]int

	// Privileged callers may evaluate hidden features.
	Privileged bool
}

// StorageLocation says where a write-bearing request may persist data.
type StorageLocation string

const (
	StorageNone  StorageLocation = "none"
	StorageLocal StorageLocation = "local"
	StorageBoth  StorageLocation = "both"
)

// StorageDecision is derived fresh on every request from the authoritative
// subscription record. It must never be trusted from a session token: the
// token's embedded tier can predate a billing event.
type StorageDecision struct {
	ShouldWriteToShared bool            `json:"should_write_to_shared"`
	Location            StorageLocation `json:"storage_location"`
	IsPremium           bool            `json:"is_premium"`
	Plan                Plan            `json:"plan"`
}

// SubscriptionStatus mirrors the billing provider's subscription state.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusNone     SubscriptionStatus = "none"
)

// Subscription is the authoritative tier record for a user.
type Subscription struct {
	UserID           string
	Plan             Plan
	Status           SubscriptionStatus
	CustomerID       string
	CurrentPeriodEnd time.Time
	UpdatedAt        time.Time
}

// ActivePaid reports whether the subscription grants a paid tier at the
// given instant. Trialing subscriptions count as paid; past-due and
// canceled ones do not.
func (s *Subscription) ActivePaid(now time.Time) bool {
	if s == nil || !s.Plan.IsPaid() {
		return false
	}
	switch s.Status {
	case StatusActive, StatusTrialing:
	default:
		return false
	}
	if !s.CurrentPeriodEnd.IsZero() && now.After(s.CurrentPeriodEnd) {
		return false
	}
	return true
}

// EffectivePlan is the plan entitlement decisions should use: the recorded
// plan while the subscription is active-paid, free otherwise.
func (s *Subscription) EffectivePlan(now time.Time) Plan {
	if s.ActivePaid(now) {
		return s.Plan
	}
	return PlanFree
}

// DeriveStorageDecision computes the routing decision for a write-bearing
// request. Location is "both" iff the subscription is active-paid at now;
// any other state confines writes to the caller's local store.
func DeriveStorageDecision(sub *Subscription, now time.Time) StorageDecision {
	if sub.ActivePaid(now) {
		return StorageDecision{
			ShouldWriteToShared: true,
			Location:            StorageBoth,
			IsPremium:           true,
			Plan:                sub.Plan,
		}
	}
	plan := PlanFree
	if sub != nil && sub.Plan.Known() && !sub.Plan.IsPaid() {
		plan = sub.Plan
	}
	return StorageDecision{
		ShouldWriteToShared: false,
		Location:            StorageLocal,
		IsPremium:           false,
		Plan:                plan,
	}
}
