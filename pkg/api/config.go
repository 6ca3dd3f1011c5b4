package api

import (
	"fmt"
	"net/http"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Config holds configuration for the entitlement API handler
type Config struct {
	// Manager is the entitlement manager instance (required)
	Manager *entitlements.Manager

	// GetUserID extracts user ID from HTTP request (required)
	// Similar to middleware/http pattern
	GetUserID func(*http.Request) string

	// InvalidateAuth authorizes cache invalidation requests. Invalidation
	// is an internal operation; if nil every request is rejected.
	InvalidateAuth func(*http.Request) bool

	// OnError handles errors (auth, internal, etc.)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is optional structured logging
	// If nil, logging is disabled
	Logger entitlements.Logger

	// Metrics is optional metrics recorder for API operations
	// If nil, metrics are not recorded
	Metrics entitlements.Metrics
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates a new entitlement API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &entitlements.NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &entitlements.NoopMetrics{}
	}
	return &Handler{
		config: config,
	}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts user ID from a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts user ID from request context
// Uses the same context key pattern as middleware/http
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}

// BearerAuth returns an InvalidateAuth function that checks a static bearer token
func BearerAuth(token string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		return token != "" && r.Header.Get("Authorization") == "Bearer "+token
	}
}
