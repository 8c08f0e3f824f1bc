// Package monitor tracks the health of chunk dispatch.
package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinyfocus/pkg/clock"
)

// MaxConsecutiveFailures before dispatch is reported unhealthy
const MaxConsecutiveFailures = 3

// DispatchMonitor tracks analysis dispatch successes and failures.
type DispatchMonitor struct {
	clock clock.Clock

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	successes         int
	failures          int
	lastError         string
}

// NewDispatchMonitor creates a monitor on clk (system clock when nil)
func NewDispatchMonitor(clk clock.Clock) *DispatchMonitor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &DispatchMonitor{clock: clk}
}

// RecordSuccess records a chunk the analysis service accepted.
func (m *DispatchMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.consecutiveErrors = 0
	m.successes++
	m.lastError = ""
}

// RecordFailure records a failed dispatch.
func (m *DispatchMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.clock.Now()
	m.consecutiveErrors++
	m.failures++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy is false after more than MaxConsecutiveFailures failures in a row.
// A monitor that has seen no dispatch yet is healthy.
func (m *DispatchMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthy()
}

func (m *DispatchMonitor) healthy() bool {
	return m.consecutiveErrors <= MaxConsecutiveFailures
}

// DispatchStatus is the health-check view of the monitor.
type DispatchStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	Successes         int    `json:"successes"`
	Failures          int    `json:"failures"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current dispatch status for health checks.
func (m *DispatchMonitor) Status() DispatchStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := DispatchStatus{
		Healthy:   m.healthy(),
		Successes: m.successes,
		Failures:  m.failures,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = m.clock.Now().Sub(m.lastSuccess).String()
	}

	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}

	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}
