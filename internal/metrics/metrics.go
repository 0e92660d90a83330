// Package metrics provides cheap in-process counters for the engine's
// security-relevant outcomes.
package metrics

import "sync/atomic"

// MetricID indexes one counter.
type MetricID uint8

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginThrottled
	MetricLockoutBypass
	MetricSessionCreated
	MetricSessionDestroyed
	MetricSessionHijack
	MetricCSRFRejected
	MetricCodeIssued
	MetricCodeVerified
	MetricCodeRejected
	MetricDeliveryFailure
	MetricActivationComplete
	MetricPasswordChanged
	MetricPasswordRejected
	MetricResetRequested
	MetricResetCompleted
	MetricResetRejected

	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:       "login_success",
	MetricLoginFailure:       "login_failure",
	MetricLoginLocked:        "login_locked",
	MetricLoginThrottled:     "login_throttled",
	MetricLockoutBypass:      "lockout_bypass",
	MetricSessionCreated:     "session_created",
	MetricSessionDestroyed:   "session_destroyed",
	MetricSessionHijack:      "session_hijack",
	MetricCSRFRejected:       "csrf_rejected",
	MetricCodeIssued:         "code_issued",
	MetricCodeVerified:       "code_verified",
	MetricCodeRejected:       "code_rejected",
	MetricDeliveryFailure:    "delivery_failure",
	MetricActivationComplete: "activation_complete",
	MetricPasswordChanged:    "password_changed",
	MetricPasswordRejected:   "password_rejected",
	MetricResetRequested:     "reset_requested",
	MetricResetCompleted:     "reset_completed",
	MetricResetRejected:      "reset_rejected",
}

// Config controls whether counting happens at all.
type Config struct {
	Enabled bool
}

// Snapshot is a point-in-time copy of all counters keyed by name.
type Snapshot map[string]uint64

// Metrics holds one atomic counter per MetricID. A disabled Metrics is a
// valid value whose Inc is a no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter. Unknown IDs are ignored.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Snapshot copies all counters. Returns nil when disabled.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil || !m.enabled {
		return nil
	}
	out := make(Snapshot, int(metricIDCount))
	for id := MetricID(0); id < metricIDCount; id++ {
		out[metricNames[id]] = m.counters[id].Load()
	}
	return out
}
