package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/queue"
)

const (
	defaultRetryBackoff    = 2 * time.Second
	defaultCleanupInterval = time.Minute
)

// JobProcessor drives a queued job to a terminal state.
type JobProcessor interface {
	Process(ctx context.Context, jobID string, input json.RawMessage) error
	Cleanup(ctx context.Context) (int, error)
}

type ProcessorConfig struct {
	Consumer        queue.Consumer
	Jobs            JobProcessor
	CleanupInterval time.Duration
	RetryBackoff    time.Duration
	Logger          *log.Logger
}

// Processor consumes queue messages and hands them to the job tracker. It
// also sweeps expired job records on a fixed interval.
type Processor struct {
	consumer        queue.Consumer
	jobs            JobProcessor
	cleanupInterval time.Duration
	retryBackoff    time.Duration
	logger          *log.Logger
}

func NewProcessor(config ProcessorConfig) *Processor {
	cleanupInterval := config.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	retryBackoff := config.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	return &Processor{
		consumer:        config.Consumer,
		jobs:            config.Jobs,
		cleanupInterval: cleanupInterval,
		retryBackoff:    retryBackoff,
		logger:          config.Logger,
	}
}

// Start blocks until ctx is done. Consumer failures are retried after a
// short backoff.
func (p *Processor) Start(ctx context.Context) {
	go p.cleanupLoop(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		err := p.consumer.Consume(ctx, p.processMessage)
		if err == nil || ctx.Err() != nil {
			return
		}
		p.logf("worker consume loop error: %v", err)

		timer := time.NewTimer(p.retryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *Processor) processMessage(ctx context.Context, message domain.QueueMessage) error {
	started := time.Now()
	if err := p.jobs.Process(ctx, message.JobID, message.Payload); err != nil {
		p.logf("job processing failed job_id=%s attempt=%d err=%v", message.JobID, message.Attempt, err)
		return err
	}
	p.logf("job processed job_id=%s attempt=%d duration=%s", message.JobID, message.Attempt, time.Since(started).Round(time.Millisecond))
	return nil
}

func (p *Processor) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.jobs.Cleanup(ctx)
			if err != nil && ctx.Err() == nil {
				p.logf("job cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				p.logf("job cleanup removed=%d", removed)
			}
		}
	}
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}
