package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HelyeFab/moshimoshi-sub019/pkg/entitlements"
)

// Metrics implements entitlements.Metrics using Prometheus.
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	consumptionsTotal  *prometheus.CounterVec
	cacheHitsTotal     prometheus.Counter
	cacheMissesTotal   prometheus.Counter
	staleCacheTotal    prometheus.Counter
	storageOpsDuration *prometheus.HistogramVec
	storageOpsErrors   *prometheus.CounterVec
	guardOutcomesTotal *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		evaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_evaluations_total",
			Help:      "Total number of entitlement evaluations.",
		}, []string{"feature", "plan", "reason"}),

		consumptionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entitlement_consumptions_total",
			Help:      "Total quota units consumed on allowed operations.",
		}, []string{"feature", "plan"}),

		cacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_cache_hits_total",
			Help:      "Total number of tier cache hits.",
		}),

		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_cache_misses_total",
			Help:      "Total number of tier cache misses.",
		}),

		staleCacheTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tier_cache_stale_hits_total",
			Help:      "Cache entries proven stale by a later invalidation.",
		}),

		storageOpsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_duration_seconds",
			Help:      "Latency of backing store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),

		storageOpsErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_errors_total",
			Help:      "Total number of backing store operation errors.",
		}, []string{"operation"}),

		guardOutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_guard_outcomes_total",
			Help:      "Storage routing guard decisions by location.",
		}, []string{"location", "failed_closed"}),
	}
}

func (m *Metrics) RecordEvaluation(featureID entitlements.FeatureID, plan entitlements.Plan, reason entitlements.Reason) {
	m.evaluationsTotal.WithLabelValues(string(featureID), string(plan), string(reason)).Inc()
}

func (m *Metrics) RecordConsumption(featureID entitlements.FeatureID, plan entitlements.Plan, delta int) {
	m.consumptionsTotal.WithLabelValues(string(featureID), string(plan)).Add(float64(delta))
}

func (m *Metrics) RecordCacheHit() {
	m.cacheHitsTotal.Inc()
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMissesTotal.Inc()
}

func (m *Metrics) RecordStaleCache() {
	m.staleCacheTotal.Inc()
}

func (m *Metrics) RecordStorageOperation(operation string, duration time.Duration, err error) {
	m.storageOpsDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.storageOpsErrors.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) RecordGuardOutcome(location entitlements.StorageLocation, failedClosed bool) {
	m.guardOutcomesTotal.WithLabelValues(string(location), strconv.FormatBool(failedClosed)).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default
// Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
