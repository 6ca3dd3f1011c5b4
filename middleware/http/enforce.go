package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// EnforceConfig configures the entitlement enforcement middleware.
type EnforceConfig struct {
	// Manager is the entitlement manager (required).
	Manager *entitlements.Manager

	// GetSession resolves the request identity (required).
	GetSession SessionResolver

	// GetFeature extracts the feature being exercised (required).
	GetFeature FeatureExtractor

	// AllowGuests evaluates unauthenticated requests against the guest plan
	// instead of rejecting them.
	AllowGuests bool

	// OnDenied overrides the denial response. Default: 429 for
	// limit_reached, 403 for no_permission and lifecycle_blocked, with the
	// Decision as JSON body.
	OnDenied func(w http.ResponseWriter, r *http.Request, d entitlements.Decision)

	// OnUnauthorized overrides the 401 response.
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError overrides the internal error response. The default replies
	// 503 "feature unavailable, try again" without leaking store errors.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Enforce wraps a handler with quota consumption: one unit of the feature's
// quota is consumed before the handler runs, and denied requests never
// reach it. The Decision is injected into the request context either way
// the evaluation goes for allowed requests.
func Enforce(config EnforceConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			session, err := config.GetSession(r)
			if err == nil && session != nil {
				userID = session.UserID
			}
			if userID == "" && !config.AllowGuests {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "please sign in"})
				}
				return
			}

			featureID := config.GetFeature(r)
			decision, err := config.Manager.Consume(r.Context(), userID, featureID)
			if err != nil {
				status := http.StatusServiceUnavailable
				msg := "feature unavailable, try again"
				if errors.Is(err, entitlements.ErrInvalidFeature) {
					status = http.StatusBadRequest
					msg = "invalid feature"
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeJSON(w, status, map[string]string{"error": msg})
				}
				return
			}

			if !decision.Allow {
				if config.OnDenied != nil {
					config.OnDenied(w, r, decision)
				} else {
					writeJSON(w, denialStatus(decision.Reason), decision)
				}
				return
			}

			ctx := context.WithValue(r.Context(), decisionKey, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func denialStatus(reason entitlements.Reason) int {
	switch reason {
	case entitlements.ReasonLimitReached:
		return http.StatusTooManyRequests
	default:
		return http.StatusForbidden
	}
}
