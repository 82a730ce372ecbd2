package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/jobs"
	"github.com/iago/treasury-bizcase-back/internal/queue"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

func TestProcessorRunsQueuedJobsToCompletion(t *testing.T) {
	localQueue := queue.NewLocalQueue(8, 1, nil)
	defer localQueue.Close()

	tracker := jobs.NewTracker(jobs.TrackerConfig{
		Store:    repository.NewMemoryStore(),
		Producer: localQueue,
		Runner: func(ctx context.Context, input json.RawMessage, progress jobs.ProgressFunc) (map[string]any, error) {
			progress(ctx, jobs.MilestoneEnrichment, map[string]any{"company_intelligence": map[string]any{"name": "Acme"}})
			return map[string]any{"executive_summary": "ok"}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewProcessor(ProcessorConfig{Consumer: localQueue, Jobs: tracker}).Start(ctx)

	jobID, err := tracker.Enqueue(ctx, json.RawMessage(`{"company_name":"Acme"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := tracker.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	status, err := tracker.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, "ok", status["executive_summary"])
	assert.Equal(t, 100, status["percent"])
}

func TestProcessorMarksRunnerFailuresAsError(t *testing.T) {
	localQueue := queue.NewLocalQueue(8, 1, nil)
	defer localQueue.Close()

	tracker := jobs.NewTracker(jobs.TrackerConfig{
		Store:    repository.NewMemoryStore(),
		Producer: localQueue,
		Runner: func(context.Context, json.RawMessage, jobs.ProgressFunc) (map[string]any, error) {
			return nil, errors.New("llm_missing_section: risk_analysis")
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewProcessor(ProcessorConfig{Consumer: localQueue, Jobs: tracker}).Start(ctx)

	jobID, err := tracker.Enqueue(ctx, json.RawMessage(`{"company_name":"Acme"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := tracker.Get(ctx, jobID)
		return err == nil && job.Status == domain.JobStatusError
	}, 2*time.Second, 10*time.Millisecond)

	job, err := tracker.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Contains(t, job.Message, "llm_missing_section")
	assert.Equal(t, 0, localQueue.DLQSize())
}

type countingJobs struct {
	mu       sync.Mutex
	cleanups int
}

func (c *countingJobs) Process(context.Context, string, json.RawMessage) error { return nil }

func (c *countingJobs) Cleanup(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups++
	return 1, nil
}

func (c *countingJobs) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanups
}

type blockingConsumer struct{}

func (blockingConsumer) Consume(ctx context.Context, _ func(context.Context, domain.QueueMessage) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestProcessorSweepsJobsPeriodically(t *testing.T) {
	counter := &countingJobs{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go NewProcessor(ProcessorConfig{
		Consumer:        blockingConsumer{},
		Jobs:            counter,
		CleanupInterval: 20 * time.Millisecond,
	}).Start(ctx)

	assert.Eventually(t, func() bool { return counter.count() >= 2 }, time.Second, 10*time.Millisecond)
}

type flakyConsumer struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyConsumer) Consume(ctx context.Context, _ func(context.Context, domain.QueueMessage) error) error {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if calls == 1 {
		return errors.New("redis unavailable")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *flakyConsumer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestProcessorRetriesConsumerAfterBackoff(t *testing.T) {
	consumer := &flakyConsumer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go NewProcessor(ProcessorConfig{
		Consumer:     consumer,
		Jobs:         &countingJobs{},
		RetryBackoff: 10 * time.Millisecond,
	}).Start(ctx)

	assert.Eventually(t, func() bool { return consumer.count() == 2 }, time.Second, 5*time.Millisecond)
}
