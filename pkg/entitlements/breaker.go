package entitlements

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitBreakerState represents the current state of the circuit breaker.
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker defines the interface for a circuit breaker.
type CircuitBreaker interface {
	// Execute executes the given function within the circuit breaker.
	Execute(ctx context.Context, fn func() error) error
	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// DefaultCircuitBreaker is a simple consecutive-failure circuit breaker.
// While open, storage calls fail fast with ErrCircuitOpen; callers treat
// that like any other store failure and fail closed to the free plan.
type DefaultCircuitBreaker struct {
	mu sync.RWMutex

	state               CircuitBreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	lastFailureTime     time.Time

	onStateChange func(state CircuitBreakerState)
}

// NewDefaultCircuitBreaker creates a new default circuit breaker.
func NewDefaultCircuitBreaker(failureThreshold int, resetTimeout time.Duration,
	onStateChange func(state CircuitBreakerState)) *DefaultCircuitBreaker {
	return &DefaultCircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		onStateChange:    onStateChange,
	}
}

func (cb *DefaultCircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

func (cb *DefaultCircuitBreaker) currentState() CircuitBreakerState {
	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *DefaultCircuitBreaker) Execute(_ context.Context, fn func() error) error {
	if cb.State() == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.failure()
		return err
	}

	cb.success()
	return nil
}

func (cb *DefaultCircuitBreaker) success() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen || cb.state == StateOpen {
		cb.changeState(StateClosed)
	}
	cb.consecutiveFailures = 0
}

func (cb *DefaultCircuitBreaker) failure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold {
		cb.changeState(StateOpen)
	} else if cb.state == StateHalfOpen {
		cb.changeState(StateOpen)
	}
}

func (cb *DefaultCircuitBreaker) changeState(newState CircuitBreakerState) {
	if cb.state != newState {
		cb.state = newState
		if cb.onStateChange != nil {
			cb.onStateChange(newState)
		}
	}
}

// BreakerUsageStore wraps a UsageStore with circuit breaker protection.
type BreakerUsageStore struct {
	store UsageStore
	cb    CircuitBreaker
}

// NewBreakerUsageStore creates a usage store wrapper with circuit breaker.
func NewBreakerUsageStore(store UsageStore, cb CircuitBreaker) *BreakerUsageStore {
	return &BreakerUsageStore{store: store, cb: cb}
}

func (s *BreakerUsageStore) GetUsage(ctx context.Context, userID string, featureID FeatureID, bucketKey string) (int, error) {
	var count int
	err := s.cb.Execute(ctx, func() error {
		var e error
		count, e = s.store.GetUsage(ctx, userID, featureID, bucketKey)
		return e
	})
	return count, err
}

func (s *BreakerUsageStore) IncrementUsage(ctx context.Context, userID string, featureID FeatureID, bucketKey string, delta int) (int, error) {
	var count int
	err := s.cb.Execute(ctx, func() error {
		var e error
		count, e = s.store.IncrementUsage(ctx, userID, featureID, bucketKey, delta)
		return e
	})
	return count, err
}

func (s *BreakerUsageStore) GetAllUsage(ctx context.Context, userID string, keys []UsageKey) (map[FeatureID]int, error) {
	var usage map[FeatureID]int
	err := s.cb.Execute(ctx, func() error {
		var e error
		usage, e = s.store.GetAllUsage(ctx, userID, keys)
		return e
	})
	return usage, err
}

// BreakerSubscriptionStore wraps a SubscriptionStore with circuit breaker
// protection. Not-found results count as successes, only real store
// failures trip the breaker.
type BreakerSubscriptionStore struct {
	store SubscriptionStore
	cb    CircuitBreaker
}

// NewBreakerSubscriptionStore creates a subscription store wrapper with
// circuit breaker.
func NewBreakerSubscriptionStore(store SubscriptionStore, cb CircuitBreaker) *BreakerSubscriptionStore {
	return &BreakerSubscriptionStore{store: store, cb: cb}
}

func (s *BreakerSubscriptionStore) GetSubscription(ctx context.Context, userID string) (*Subscription, error) {
	var sub *Subscription
	var notFound error
	err := s.cb.Execute(ctx, func() error {
		var e error
		sub, e = s.store.GetSubscription(ctx, userID)
		if errors.Is(e, ErrSubscriptionNotFound) {
			notFound = e
			return nil
		}
		return e
	})
	if err != nil {
		return nil, err
	}
	if notFound != nil {
		return nil, notFound
	}
	return sub, nil
}

func (s *BreakerSubscriptionStore) SetSubscription(ctx context.Context, sub *Subscription) error {
	return s.cb.Execute(ctx, func() error {
		return s.store.SetSubscription(ctx, sub)
	})
}

func (s *BreakerSubscriptionStore) LookupUserByCustomerID(ctx context.Context, customerID string) (string, error) {
	var userID string
	var notFound error
	err := s.cb.Execute(ctx, func() error {
		var e error
		userID, e = s.store.LookupUserByCustomerID(ctx, customerID)
		if errors.Is(e, ErrCustomerNotFound) {
			notFound = e
			return nil
		}
		return e
	})
	if err != nil {
		return "", err
	}
	if notFound != nil {
		return "", notFound
	}
	return userID, nil
}

var (
	_ UsageStore        = (*BreakerUsageStore)(nil)
	_ SubscriptionStore = (*BreakerSubscriptionStore)(nil)
)
