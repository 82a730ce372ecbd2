package ai

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/treasury-bizcase-back/internal/audit"
)

func TestTimeoutMonitorAlertsOncePerBurst(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	recorder := audit.NewRecorder(50, nil)
	alerts := make([]int, 0)

	monitor := NewTimeoutMonitor(TimeoutMonitorConfig{
		Threshold: 3,
		Window:    10 * time.Minute,
		Audit:     recorder,
		OnAlert:   func(count int) { alerts = append(alerts, count) },
		Now:       func() time.Time { return now },
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		assert.False(t, monitor.Record(ctx))
		now = now.Add(time.Minute)
	}
	assert.True(t, monitor.Record(ctx))
	assert.False(t, monitor.Record(ctx))

	assert.Equal(t, []int{4}, alerts)
	assert.Equal(t, 5, monitor.Count())
	assert.Len(t, recorder.Named("llm_timeout"), 5)
	require.Len(t, recorder.Named("llm_timeout_alert"), 1)
	assert.Equal(t, 3, recorder.Named("llm_timeout_alert")[0].Fields["threshold"])
}

func TestTimeoutMonitorResetsAfterQuietWindow(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	monitor := NewTimeoutMonitor(TimeoutMonitorConfig{
		Threshold: 1,
		Window:    time.Minute,
		Now:       func() time.Time { return now },
	})

	ctx := context.Background()
	monitor.Record(ctx)
	assert.True(t, monitor.Record(ctx))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, monitor.Count())

	assert.False(t, monitor.Record(ctx))
	assert.True(t, monitor.Record(ctx), "a new burst alerts again")
}
