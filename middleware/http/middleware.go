// Package http provides HTTP middleware for entitlement enforcement and
// storage routing.
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Session is the resolved identity of an inbound request. Claims may carry
// a tier hint for UI purposes; nothing in this package reads it.
type Session struct {
	UserID        string
	EmailVerified bool
	Claims        map[string]interface{}
}

// SessionResolver resolves the session for a request. Return
// entitlements.ErrUnauthorized (or a nil session) when no authenticated
// session exists.
type SessionResolver func(r *http.Request) (*Session, error)

// FeatureExtractor extracts the feature ID being exercised by a request.
type FeatureExtractor func(r *http.Request) entitlements.FeatureID

// FixedFeature returns a FeatureExtractor that always returns id.
func FixedFeature(id entitlements.FeatureID) FeatureExtractor {
	return func(*http.Request) entitlements.FeatureID { return id }
}

// SessionFromHeader returns a SessionResolver that trusts a user ID header.
// Suitable behind a gateway that has already authenticated the request.
func SessionFromHeader(headerName string) SessionResolver {
	return func(r *http.Request) (*Session, error) {
		userID := r.Header.Get(headerName)
		if userID == "" {
			return nil, entitlements.ErrUnauthorized
		}
		return &Session{UserID: userID}, nil
	}
}

type contextKey string

const (
	storageDecisionKey contextKey = "entitlements:storageDecision"
	sessionKey         contextKey = "entitlements:session"
	decisionKey        contextKey = "entitlements:decision"
)

// StorageDecisionFromContext returns the routing decision the guard
// injected for this request.
func StorageDecisionFromContext(ctx context.Context) (entitlements.StorageDecision, bool) {
	d, ok := ctx.Value(storageDecisionKey).(entitlements.StorageDecision)
	return d, ok
}

// SessionFromContext returns the session the guard resolved.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// DecisionFromContext returns the entitlement decision Enforce injected.
func DecisionFromContext(ctx context.Context) (entitlements.Decision, bool) {
	d, ok := ctx.Value(decisionKey).(entitlements.Decision)
	return d, ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
