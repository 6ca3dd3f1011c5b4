package api

import (
	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// EvaluateRequest is the body of POST /v1/entitlements/evaluate.
type EvaluateRequest struct {
	// FeatureID names the feature being evaluated.
	FeatureID entitlements.FeatureID `json:"feature_id"`

	// Consume increments the usage counter when the request is allowed.
	// When false the evaluation is a dry run and no counter moves.
	Consume bool `json:"consume"`
}

// InvalidateRequest is the body of POST /v1/entitlements/invalidate.
// Exactly one of UserID or CustomerID must be set.
type InvalidateRequest struct {
	UserID     string `json:"user_id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
}

// InvalidateResponse reports the outcome of a cache invalidation.
type InvalidateResponse struct {
	UserID      string `json:"user_id"`
	Invalidated bool   `json:"invalidated"`
}

// UsageResponse is the body of GET /v1/entitlements/usage: the user's
// current standing across every registered feature.
type UsageResponse struct {
	UserID   string                                           `json:"user_id"`
	Plan     entitlements.Plan                                `json:"plan"`
	Features map[entitlements.FeatureID]entitlements.Decision `json:"features"`
}

// ErrorResponse is the standard JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
