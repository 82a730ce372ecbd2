package ai

import (
	"context"
	"sync"
	"time"

	"github.com/iago/treasury-bizcase-back/internal/audit"
)

type TimeoutMonitorConfig struct {
	// Threshold is the number of timeouts tolerated before alerting.
	Threshold int
	// Window is the inactivity period after which the counter resets.
	Window  time.Duration
	Audit   audit.Logger
	OnAlert func(count int)
	Now     func() time.Time
}

// TimeoutMonitor counts LLM timeouts and raises one alert per burst once
// the count passes the threshold.
type TimeoutMonitor struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	audit     audit.Logger
	onAlert   func(count int)
	now       func() time.Time

	count   int
	last    time.Time
	alerted bool
}

func NewTimeoutMonitor(config TimeoutMonitorConfig) *TimeoutMonitor {
	if config.Threshold <= 0 {
		config.Threshold = 3
	}
	if config.Window <= 0 {
		config.Window = 10 * time.Minute
	}
	if config.Audit == nil {
		config.Audit = audit.Nop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TimeoutMonitor{
		threshold: config.Threshold,
		window:    config.Window,
		audit:     config.Audit,
		onAlert:   config.OnAlert,
		now:       config.Now,
	}
}

// Record registers one timeout and reports whether it raised the alert.
func (m *TimeoutMonitor) Record(ctx context.Context) bool {
	m.mu.Lock()
	now := m.now()
	if !m.last.IsZero() && now.Sub(m.last) > m.window {
		m.count = 0
		m.alerted = false
	}
	m.count++
	m.last = now
	count := m.count
	fire := count > m.threshold && !m.alerted
	if fire {
		m.alerted = true
	}
	m.mu.Unlock()

	m.audit.Log(ctx, "llm_timeout", map[string]any{"count": count})
	if !fire {
		return false
	}

	m.audit.Log(ctx, "llm_timeout_alert", map[string]any{
		"count":          count,
		"threshold":      m.threshold,
		"window_seconds": int(m.window.Seconds()),
	})
	if m.onAlert != nil {
		m.onAlert(count)
	}
	return true
}

// Count returns the timeouts in the current window.
func (m *TimeoutMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.last.IsZero() && m.now().Sub(m.last) > m.window {
		return 0
	}
	return m.count
}
