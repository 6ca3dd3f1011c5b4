// Package echo provides Echo middleware for entitlement enforcement
package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// FeatureExtractor extracts the feature being exercised from an Echo context
type FeatureExtractor func(c echo.Context) entitlements.FeatureID

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
	// If nil, uses default response: 429 for limit_reached, 403 otherwise
	OnDenied func(c echo.Context, d entitlements.Decision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c echo.Context) error

	// OnError is called when an internal error occurs
	// If nil, returns 503 Service Unavailable
	OnError func(c echo.Context, err error) error
}

// DecisionKey is the Echo context key under which the Decision is stored
// for allowed requests.
const DecisionKey = "entitlements.Decision"

// Middleware creates an Echo middleware that consumes one unit of the
// feature's quota before invoking the handler
func Middleware(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("entitlements/echo: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlements/echo: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlements/echo: Config.GetFeature is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" && !cfg.AllowGuests {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "please sign in"})
			}

			featureID := cfg.GetFeature(c)
			decision, err := cfg.Manager.Consume(c.Request().Context(), userID, featureID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				if errors.Is(err, entitlements.ErrInvalidFeature) {
					return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid feature"})
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "feature unavailable, try again"})
			}

			if !decision.Allow {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, decision)
				}
				status := http.StatusForbidden
				if decision.Reason == entitlements.ReasonLimitReached {
					status = http.StatusTooManyRequests
				}
				return c.JSON(status, decision)
			}

			c.Set(DecisionKey, decision)
			return next(c)
		}
	}
}

// DecisionFromContext returns the Decision stored by the middleware
func DecisionFromContext(c echo.Context) (entitlements.Decision, bool) {
	if d, ok := c.Get(DecisionKey).(entitlements.Decision); ok {
		return d, true
	}
	return entitlements.Decision{}, false
}

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns a fixed feature
func FixedFeature(id entitlements.FeatureID) FeatureExtractor {
	return func(echo.Context) entitlements.FeatureID {
		return id
	}
}

// FeatureFromParam returns a FeatureExtractor that reads the feature from a
// route parameter
func FeatureFromParam(paramName string) FeatureExtractor {
	return func(c echo.Context) entitlements.FeatureID {
		return entitlements.FeatureID(c.Param(paramName))
	}
}
