package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies a specific counter or histogram in the in-process
// metrics system.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful password logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts failed password logins.
	MetricLoginFailure
	// MetricLoginLocked counts logins rejected by an open lockout window.
	MetricLoginLocked
	// MetricLoginRateLimited counts logins rejected by the throttle.
	MetricLoginRateLimited
	// MetricRefreshSuccess counts successful refresh rotations.
	MetricRefreshSuccess
	// MetricRefreshFailure counts failed refresh attempts.
	MetricRefreshFailure
	// MetricRefreshReuseDetected counts rotated-token replays.
	MetricRefreshReuseDetected
	// MetricRefreshRateLimited counts throttled refresh attempts.
	MetricRefreshRateLimited
	// MetricLogout counts single-session revocations.
	MetricLogout
	// MetricLogoutAll counts revoke-all operations.
	MetricLogoutAll
	// MetricSignupSuccess counts created accounts.
	MetricSignupSuccess
	// MetricSignupDuplicate counts signups rejected for an existing email.
	MetricSignupDuplicate
	// MetricOAuthLoginSuccess counts provider-asserted logins.
	MetricOAuthLoginSuccess
	// MetricOAuthLoginFailure counts rejected provider assertions.
	MetricOAuthLoginFailure
	// MetricOAuthStateIssued counts issued CSRF state values.
	MetricOAuthStateIssued
	// MetricOAuthStateRejected counts invalid/expired/replayed state values.
	MetricOAuthStateRejected
	// MetricResetRequest counts password-reset token issuances.
	MetricResetRequest
	// MetricResetConfirmSuccess counts confirmed password resets.
	MetricResetConfirmSuccess
	// MetricResetConfirmFailure counts rejected reset confirmations.
	MetricResetConfirmFailure
	// MetricVerifyRequest counts email-verification token issuances.
	MetricVerifyRequest
	// MetricVerifySuccess counts confirmed verifications.
	MetricVerifySuccess
	// MetricVerifyFailure counts rejected verification confirmations.
	MetricVerifyFailure
	// MetricValidateLatency is the access-token validation latency histogram.
	MetricValidateLatency

	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters and an optional latency histogram. All
// operations are no-ops on a disabled or nil receiver.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time deep copy of all metrics.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates a [Metrics] instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records one validation latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricValidateLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot deep-copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricValidateLatency].buckets[i])
		}
		s.Histograms[MetricValidateLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
