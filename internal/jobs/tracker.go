// Package jobs tracks asynchronous business-case generations through their
// queued, processing, completed and error states.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/queue"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

const (
	KeyPrefix            = "bizcase_job:"
	idempotencyKeyPrefix = "bizcase_idem:"

	defaultTTL           = time.Hour
	defaultTerminalGrace = 5 * time.Minute
)

var (
	ErrNotFound            = errors.New("job not found")
	ErrInvalidTransition   = errors.New("invalid job status transition")
	// ErrIdempotencyConflict reports an idempotency key reused with another payload.
	ErrIdempotencyConflict = errors.New("idempotency key already used with a different payload")
)

// Milestone is a named progress point with a fixed percentage.
type Milestone struct {
	Step    string
	Percent int
}

var (
	MilestoneEnrichment        = Milestone{Step: "enrichment", Percent: 20}
	MilestoneROICalculation    = Milestone{Step: "roi_calculation", Percent: 40}
	MilestoneRecommendation    = Milestone{Step: "recommendation", Percent: 60}
	MilestoneRetrievalAnalysis = Milestone{Step: "retrieval_analysis", Percent: 80}
	MilestoneStructuring       = Milestone{Step: "structuring", Percent: 90}
)

// ProgressFunc reports a milestone; partial is merged into the job result.
type ProgressFunc func(ctx context.Context, milestone Milestone, partial map[string]any)

// Runner executes the long-running work for one job.
type Runner func(ctx context.Context, input json.RawMessage, progress ProgressFunc) (map[string]any, error)

// StatusObserver is told about every status a job enters.
type StatusObserver interface {
	ObserveJobStatus(status string)
}

type TrackerConfig struct {
	Store    repository.Store
	Producer queue.Producer
	Runner   Runner
	// TTL is the retention window of a job record, refreshed on every write.
	TTL time.Duration
	// TerminalGrace keeps finished jobs pollable for a while before Cleanup removes them.
	TerminalGrace time.Duration
	Audit         audit.Logger
	Observer      StatusObserver
	Logger        *log.Logger
	Now           func() time.Time
}

type Tracker struct {
	store         repository.Store
	producer      queue.Producer
	runner        Runner
	ttl           time.Duration
	terminalGrace time.Duration
	audit         audit.Logger
	observer      StatusObserver
	logger        *log.Logger
	now           func() time.Time

	// mu serializes read-modify-write cycles issued by this process.
	mu sync.Mutex
}

func NewTracker(config TrackerConfig) *Tracker {
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	if config.TerminalGrace < 0 {
		config.TerminalGrace = 0
	} else if config.TerminalGrace == 0 {
		config.TerminalGrace = defaultTerminalGrace
	}
	if config.Audit == nil {
		config.Audit = audit.Nop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Tracker{
		store:         config.Store,
		producer:      config.Producer,
		runner:        config.Runner,
		ttl:           config.TTL,
		terminalGrace: config.TerminalGrace,
		audit:         config.Audit,
		observer:      config.Observer,
		logger:        config.Logger,
		now:           config.Now,
	}
}

// Enqueue persists a queued job and schedules it immediately.
func (t *Tracker) Enqueue(ctx context.Context, input json.RawMessage) (string, error) {
	return t.EnqueueAfter(ctx, input, 0)
}

// EnqueueAfter persists a queued job and schedules it to run after delay.
func (t *Tracker) EnqueueAfter(ctx context.Context, input json.RawMessage, delay time.Duration) (string, error) {
	now := t.now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Status:    domain.JobStatusQueued,
		Result:    map[string]any{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := t.save(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	t.observe(job.Status)

	message := domain.QueueMessage{
		JobID:       job.ID,
		Payload:     append(json.RawMessage(nil), input...),
		RequestedAt: now,
	}
	if delay > 0 {
		message.NotBefore = now.Add(delay)
	}
	if t.producer == nil {
		return "", errors.New("job producer is not configured")
	}
	if err := t.producer.Enqueue(ctx, message); err != nil {
		_ = t.UpdateStatus(ctx, job.ID, domain.JobStatusError, map[string]any{
			"message": "could not schedule job: " + err.Error(),
			"percent": 100,
		})
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	t.audit.Log(ctx, "job_enqueued", map[string]any{"job_id": job.ID, "delay_ms": delay.Milliseconds()})
	return job.ID, nil
}

type idempotencyRecord struct {
	JobID       string `json:"job_id"`
	Fingerprint string `json:"fingerprint"`
}

// EnqueueIdempotent returns the job already started for key while it is
// still retained, otherwise enqueues a new one. Reusing a key with a
// different fingerprint fails with ErrIdempotencyConflict.
func (t *Tracker) EnqueueIdempotent(ctx context.Context, key, fingerprint string, input json.RawMessage) (string, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		jobID, err := t.Enqueue(ctx, input)
		return jobID, false, err
	}

	raw, err := t.store.Get(ctx, idempotencyKeyPrefix+key)
	switch {
	case err == nil:
		var record idempotencyRecord
		if decodeErr := json.Unmarshal(raw, &record); decodeErr == nil {
			if record.Fingerprint != fingerprint {
				return "", false, ErrIdempotencyConflict
			}
			if _, loadErr := t.Get(ctx, record.JobID); loadErr == nil {
				return record.JobID, true, nil
			}
		}
	case !errors.Is(err, repository.ErrNotFound):
		return "", false, fmt.Errorf("load idempotency key: %w", err)
	}

	jobID, err := t.Enqueue(ctx, input)
	if err != nil {
		return "", false, err
	}
	encoded, _ := json.Marshal(idempotencyRecord{JobID: jobID, Fingerprint: fingerprint})
	if err := t.store.Set(ctx, idempotencyKeyPrefix+key, encoded, t.ttl); err != nil {
		t.logf("store idempotency key failed job_id=%s err=%v", jobID, err)
	}
	return jobID, false, nil
}

// UpdateStatus moves a job to status and merges payload into it: step,
// message and percent overwrite the job fields, every other key is merged
// into the result.
func (t *Tracker) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, payload map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, err := t.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}

	if job.Result == nil {
		job.Result = map[string]any{}
	}
	for key, value := range payload {
		switch key {
		case "step":
			job.Step = fmt.Sprint(value)
		case "message":
			job.Message = fmt.Sprint(value)
		case "percent":
			if percent, ok := toPercent(value); ok {
				job.Percent = &percent
			}
		default:
			job.Result[key] = value
		}
	}

	changed := job.Status != status
	job.Status = status
	job.UpdatedAt = t.now().UTC()
	if err := t.save(ctx, job); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	if changed {
		t.observe(status)
	}
	return nil
}

// Process runs a queued job to a terminal state. Runner failures and panics
// end in the error state and are not returned; storage failures are.
func (t *Tracker) Process(ctx context.Context, jobID string, input json.RawMessage) error {
	job, err := t.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != domain.JobStatusQueued {
		t.logf("job skipped job_id=%s status=%s", jobID, job.Status)
		return nil
	}
	if err := t.UpdateStatus(ctx, jobID, domain.JobStatusProcessing, map[string]any{
		"step":    "started",
		"percent": 0,
		"message": "Generating business case",
	}); err != nil {
		return err
	}

	result, runErr := t.run(ctx, jobID, input)
	if runErr != nil {
		t.logf("job failed job_id=%s err=%v", jobID, runErr)
		t.audit.Log(ctx, "job_failed", map[string]any{"job_id": jobID, "error": runErr.Error()})
		return t.UpdateStatus(ctx, jobID, domain.JobStatusError, map[string]any{
			"step":    "error",
			"message": runErr.Error(),
			"percent": 100,
		})
	}
	return t.complete(ctx, jobID, result)
}

func (t *Tracker) run(ctx context.Context, jobID string, input json.RawMessage) (result map[string]any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("job panicked: %v", recovered)
		}
	}()
	if t.runner == nil {
		return nil, errors.New("job runner is not configured")
	}

	progress := func(ctx context.Context, milestone Milestone, partial map[string]any) {
		payload := make(map[string]any, len(partial)+2)
		for key, value := range partial {
			payload[key] = value
		}
		payload["step"] = milestone.Step
		payload["percent"] = milestone.Percent
		if updateErr := t.UpdateStatus(ctx, jobID, domain.JobStatusProcessing, payload); updateErr != nil {
			t.logf("job progress update failed job_id=%s step=%s err=%v", jobID, milestone.Step, updateErr)
		}
	}
	return t.runner(ctx, input, progress)
}

// complete replaces the accumulated result with the final one.
func (t *Tracker) complete(ctx context.Context, jobID string, result map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	job, err := t.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Status.CanTransitionTo(domain.JobStatusCompleted) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, domain.JobStatusCompleted)
	}

	percent := 100
	job.Status = domain.JobStatusCompleted
	job.Step = "completed"
	job.Percent = &percent
	job.Message = "Business case ready"
	job.Result = result
	if job.Result == nil {
		job.Result = map[string]any{}
	}
	job.UpdatedAt = t.now().UTC()
	if err := t.save(ctx, job); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}

	t.observe(job.Status)
	t.audit.Log(ctx, "job_completed", map[string]any{"job_id": jobID})
	return nil
}

// GetStatus returns the flattened view pollers receive.
func (t *Tracker) GetStatus(ctx context.Context, jobID string) (map[string]any, error) {
	job, err := t.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return job.Flatten(), nil
}

func (t *Tracker) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, ErrNotFound
	}
	raw, err := t.store.Get(ctx, KeyPrefix+jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}

	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// Cleanup deletes records that expired, cannot be decoded, or reached a
// terminal state more than the grace period ago.
func (t *Tracker) Cleanup(ctx context.Context) (int, error) {
	keys, err := t.store.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	removed := 0
	now := t.now()
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		job, err := t.Get(ctx, strings.TrimPrefix(key, KeyPrefix))
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			t.logf("job cleanup dropping unreadable record key=%s err=%v", key, err)
		case job.Status.Terminal() && now.Sub(job.UpdatedAt) >= t.terminalGrace:
		default:
			continue
		}

		if err := t.store.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("delete %s: %w", key, err)
		}
		removed++
	}

	if removed > 0 {
		t.audit.Log(ctx, "jobs_cleaned", map[string]any{"removed": removed, "scanned": len(keys)})
	}
	return removed, nil
}

func (t *Tracker) save(ctx context.Context, job *domain.Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return t.store.Set(ctx, KeyPrefix+job.ID, encoded, t.ttl)
}

func (t *Tracker) observe(status domain.JobStatus) {
	if t.observer != nil {
		t.observer.ObserveJobStatus(string(status))
	}
}

func (t *Tracker) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}

func toPercent(value any) (int, bool) {
	var percent float64
	switch typed := value.(type) {
	case int:
		percent = float64(typed)
	case int64:
		percent = float64(typed)
	case float64:
		percent = typed
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0, false
		}
		percent = parsed
	default:
		return 0, false
	}
	return int(math.Max(0, math.Min(100, math.Round(percent)))), true
}
