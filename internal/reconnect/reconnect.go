// Package reconnect implements the bounded exponential backoff scheduler
// shared by transports and the connection manager.
package reconnect

import (
	"math"
	"sync"
	"time"

	"funnel/internal/config"
)

// Manager schedules retries with exponentially growing delays. At most one
// timer is outstanding at a time; Cancel is idempotent, and Schedule after
// Cancel is a no-op until Reset re-enables the manager.
type Manager struct {
	mu sync.Mutex

	policy config.ReconnectConfig

	attempts  int
	cancelled bool
	timer     *time.Timer
}

// New creates a manager for the given policy. Zero fields fall back to the
// package defaults so a partially configured policy still behaves sanely.
func New(policy config.ReconnectConfig) *Manager {
	policy = policy.WithDefaults(config.ReconnectConfig{
		MaxAttempts:       config.DefaultMaxAttempts,
		InitialDelayMs:    config.DefaultInitialDelayMs,
		BackoffMultiplier: config.DefaultBackoffMultiplier,
		MaxDelayMs:        config.DefaultMaxDelayMs,
	})
	return &Manager{policy: policy}
}

// Schedule computes the next backoff delay and arms a timer that invokes
// retry when it fires. If the attempt budget is already exhausted,
// onExhausted is invoked synchronously and no timer is armed. Returns the
// scheduled delay, or zero when nothing was scheduled.
func (m *Manager) Schedule(retry func(), onExhausted func()) time.Duration {
	m.mu.Lock()

	if m.cancelled || m.timer != nil {
		// Disabled, or one timer already outstanding.
		m.mu.Unlock()
		return 0
	}
	if m.attempts >= m.policy.MaxAttempts {
		m.mu.Unlock()
		if onExhausted != nil {
			onExhausted()
		}
		return 0
	}

	m.attempts++
	delay := m.delayForAttempt(m.attempts)

	m.timer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.timer = nil
		cancelled := m.cancelled
		m.mu.Unlock()
		if !cancelled && retry != nil {
			retry()
		}
	})
	m.mu.Unlock()
	return delay
}

// delayForAttempt returns min(initial * multiplier^(attempt-1), max).
func (m *Manager) delayForAttempt(attempt int) time.Duration {
	initial := float64(m.policy.InitialDelayMs)
	max := float64(m.policy.MaxDelayMs)
	d := initial * math.Pow(m.policy.BackoffMultiplier, float64(attempt-1))
	if d > max {
		d = max
	}
	return time.Duration(d) * time.Millisecond
}

// Cancel stops any pending timer and disables further scheduling until
// Reset. Idempotent.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelled = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Reset zeroes the attempt counter and re-enables scheduling.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts = 0
	m.cancelled = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// AttemptCount returns the number of attempts since the last Reset.
func (m *Manager) AttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Exhausted reports whether the attempt budget has been used up.
func (m *Manager) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts >= m.policy.MaxAttempts
}
