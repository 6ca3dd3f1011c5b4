package entitlements

import "errors"

var (
	// ErrInvalidFeature is returned for feature IDs absent from the catalog
	ErrInvalidFeature = errors.New("invalid feature")

	// ErrInvalidPlan is returned for unknown plan names
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrInvalidContext is returned for structurally invalid evaluation input
	ErrInvalidContext = errors.New("invalid evaluation context")

	// ErrUnauthorized is returned when no authenticated session exists
	ErrUnauthorized = errors.New("unauthorized")

	// ErrStoreUnavailable is returned when a backing store cannot be reached.
	// Callers must treat the accompanying decision as the fail-closed one.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrSubscriptionNotFound is returned when a user has no subscription record
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrCustomerNotFound is returned when a billing customer ID maps to no user
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrInvalidAmount is returned for negative usage deltas
	ErrInvalidAmount = errors.New("invalid amount")
)
