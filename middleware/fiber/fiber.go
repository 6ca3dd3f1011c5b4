// Package fiber provides Fiber middleware for entitlement enforcement
package fiber

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// FeatureExtractor extracts the feature being exercised from a Fiber context
type FeatureExtractor func(c *fiber.Ctx) entitlements.FeatureID

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
	OnDenied func(c *fiber.Ctx, d entitlements.Decision) error

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnError is called when an internal error occurs
	// If nil, returns 503 Service Unavailable
	OnError func(c *fiber.Ctx, err error) error
}

// DecisionKey is the Fiber locals key under which the Decision is stored
// for allowed requests.
const DecisionKey = "entitlements.Decision"

// Middleware creates a Fiber middleware that consumes one unit of the
// feature's quota before invoking the handler
func Middleware(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Manager == nil {
		panic("entitlements/fiber: Config.Manager is required")
	}
	if cfg.GetUserID == nil {
		panic("entitlements/fiber: Config.GetUserID is required")
	}
	if cfg.GetFeature == nil {
		panic("entitlements/fiber: Config.GetFeature is required")
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" && !cfg.AllowGuests {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "please sign in"})
		}

		featureID := cfg.GetFeature(c)
		decision, err := cfg.Manager.Consume(c.UserContext(), userID, featureID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			if errors.Is(err, entitlements.ErrInvalidFeature) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid feature"})
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "feature unavailable, try again"})
		}

		if !decision.Allow {
			if cfg.OnDenied != nil {
				return cfg.OnDenied(c, decision)
			}
			status := fiber.StatusForbidden
			if decision.Reason == entitlements.ReasonLimitReached {
				status = fiber.StatusTooManyRequests
			}
			return c.Status(status).JSON(decision)
		}

		c.Locals(DecisionKey, decision)
		return c.Next()
	}
}

// DecisionFromContext returns the Decision stored by the middleware
func DecisionFromContext(c *fiber.Ctx) (entitlements.Decision, bool) {
	if d, ok := c.Locals(DecisionKey).(entitlements.Decision); ok {
		return d, true
	}
	return entitlements.Decision{}, false
}

// FromLocals returns a UserIDExtractor that gets user ID from Fiber locals
func FromLocals(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a UserIDExtractor that gets user ID from a route parameter
func FromParam(paramName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}

// FixedFeature returns a FeatureExtractor that always returns a fixed feature
func FixedFeature(id entitlements.FeatureID) FeatureExtractor {
	return func(*fiber.Ctx) entitlements.FeatureID {
		return id
	}
}

// FeatureFromParam returns a FeatureExtractor that reads the feature from a
// route parameter
func FeatureFromParam(paramName string) FeatureExtractor {
	return func(c *fiber.Ctx) entitlements.FeatureID {
		return entitlements.FeatureID(c.Params(paramName))
	}
}
