// Package gin provides Gin middleware for entitlement enforcement
package gin

import (
	"errors"
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// FeatureExtractor extracts the feature being exercised from a Gin context
// For example: "sentence_analysis", "tts_generation"
type FeatureExtractor func(c *gongin.Context) entitlements.FeatureID

// Config holds middleware configuration
type Config struct {
	// Manager is the entitlement manager instance
	Manager *entitlements.Manager

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// GetFeature extracts the feature from context (required)
	GetFeature FeatureExtractor

	// AllowGuests evaluates unauthenticated requests against the guest plan
	// instead of rejecting them
	AllowGuests bool

	// OnDenied is called when the entitlement check denies the request
	// If nil, uses default response: 429 for limit_reached, 403 otherwise,
	// with the Decision encoded as JSON
	OnDenied func(c *gongin.Context, d entitlements.Decision)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 503 Service Unavailable
	OnError func(c *gongin.Context, err error)
}

// DecisionKey is the Gin context key under which the Decision is stored
// for allowed requests.
const DecisionKey = "entitlements.Decision"

// Middleware creates a Gin middleware that consumes one unit of the
// feature's quota before invoking the handler
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("entitlements/gin: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlements/gin: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlements/gin: Config.GetFeature is required")
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" && !cfg.AllowGuests {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		featureID := cfg.GetFeature(c)
		decision, err := cfg.Manager.Consume(c.Request.Context(), userID, featureID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				defaultError(c, err)
			}
			c.Abort()
			return
		}

		if !decision.Allow {
			if cfg.OnDenied != nil {
				cfg.OnDenied(c, decision)
			} else {
				defaultDenied(c, decision)
			}
			c.Abort()
			return
		}

		c.Set(DecisionKey, decision)
		c.Next()
	}
}

// DecisionFromContext returns the Decision stored by the middleware
func DecisionFromContext(c *gongin.Context) (entitlements.Decision, bool) {
	if val, exists := c.Get(DecisionKey); exists {
		if d, ok := val.(entitlements.Decision); ok {
			return d, true
		}
	}
	return entitlements.Decision{}, false
}

// Default error handlers

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "please sign in"})
}

func defaultDenied(c *gongin.Context, d entitlements.Decision) {
	status := http.StatusForbidden
	if d.Reason == entitlements.ReasonLimitReached {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, d)
}

func defaultError(c *gongin.Context, err error) {
	if errors.Is(err, entitlements.ErrInvalidFeature) {
		c.JSON(http.StatusBadRequest, gongin.H{"error": "invalid feature"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "feature unavailable, try again"})
}

// Convenience extractors for User ID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
// This is the recommended approach for integrating with auth middleware that sets
// user information via c.Set("UserID", "...") or similar.
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}

// Convenience extractors for Feature

// FixedFeature returns a FeatureExtractor that always returns a fixed feature
func FixedFeature(id entitlements.FeatureID) FeatureExtractor {
	return func(*gongin.Context) entitlements.FeatureID {
		return id
	}
}

// FeatureFromParam returns a FeatureExtractor that reads the feature from a
// route parameter
func FeatureFromParam(paramName string) FeatureExtractor {
	return func(c *gongin.Context) entitlements.FeatureID {
		return entitlements.FeatureID(c.Param(paramName))
	}
}
