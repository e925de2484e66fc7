package healauth

import "sync/atomic"

// MetricID defines a public type used by healauth APIs.
//
// MetricID instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricID uint16

const (
	// MetricLoginOTPRequested is an exported constant or variable used by the authentication engine.
	MetricLoginOTPRequested MetricID = iota
	// MetricLoginOTPRequestDenied is an exported constant or variable used by the authentication engine.
	MetricLoginOTPRequestDenied
	// MetricLoginOTPVerified is an exported constant or variable used by the authentication engine.
	MetricLoginOTPVerified
	// MetricLoginOTPInvalidCode is an exported constant or variable used by the authentication engine.
	MetricLoginOTPInvalidCode
	// MetricLoginOTPAttemptsExceeded is an exported constant or variable used by the authentication engine.
	MetricLoginOTPAttemptsExceeded
	// MetricResetRequested is an exported constant or variable used by the authentication engine.
	MetricResetRequested
	// MetricResetOTPVerified is an exported constant or variable used by the authentication engine.
	MetricResetOTPVerified
	// MetricResetOTPInvalidCode is an exported constant or variable used by the authentication engine.
	MetricResetOTPInvalidCode
	// MetricResetAttemptsExceeded is an exported constant or variable used by the authentication engine.
	MetricResetAttemptsExceeded
	// MetricResetConfirmSuccess is an exported constant or variable used by the authentication engine.
	MetricResetConfirmSuccess
	// MetricResetConfirmFailure is an exported constant or variable used by the authentication engine.
	MetricResetConfirmFailure
	// MetricTokensIssued is an exported constant or variable used by the authentication engine.
	MetricTokensIssued
	// MetricRefreshSuccess is an exported constant or variable used by the authentication engine.
	MetricRefreshSuccess
	// MetricRefreshFailure is an exported constant or variable used by the authentication engine.
	MetricRefreshFailure
	// MetricLogout is an exported constant or variable used by the authentication engine.
	MetricLogout
	// MetricTokenRevoked is an exported constant or variable used by the authentication engine.
	MetricTokenRevoked
	// MetricRateLimitHit is an exported constant or variable used by the authentication engine.
	MetricRateLimitHit
	// MetricNotifyFailure is an exported constant or variable used by the authentication engine.
	MetricNotifyFailure

	metricIDCount
)

// Metrics holds in-process atomic counters for engine activity.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters [metricIDCount]uint64
}

// NewMetrics creates a new [Metrics] instance configured by the given
// [MetricsConfig]. When Enabled is false, all operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc describes the inc operation and its observable behavior.
//
// Inc does not mutate shared global state beyond its own atomic counters and can be used concurrently.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get describes the get operation and its observable behavior.
//
// Get does not mutate shared global state and can be used concurrently.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	if m == nil {
		return snap
	}
	for i := range m.counters {
		snap.Counters[i] = m.counters[i].Load()
	}
	return snap
}
