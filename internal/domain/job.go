package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

func (s JobStatus) rank() int {
	switch s {
	case JobStatusQueued:
		return 0
	case JobStatusProcessing:
		return 1
	case JobStatusCompleted, JobStatusError:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo enforces forward-only lifecycle moves. Repeating the
// processing state is allowed so milestones can be reported.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if next.rank() < 0 || s.rank() < 0 {
		return false
	}
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Job is the persisted record for one asynchronous business-case generation.
type Job struct {
	ID        string         `json:"job_id"`
	Status    JobStatus      `json:"status"`
	Step      string         `json:"step,omitempty"`
	Percent   *int           `json:"percent,omitempty"`
	Message   string         `json:"message,omitempty"`
	Result    map[string]any `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Flatten merges result fields with meta fields. Meta fields win on collision.
// The nested result is also exposed under "result" for pollers.
func (j *Job) Flatten() map[string]any {
	flat := make(map[string]any, len(j.Result)+7)
	for key, value := range j.Result {
		flat[key] = value
	}
	if len(j.Result) > 0 {
		flat["result"] = j.Result
	}
	flat["job_id"] = j.ID
	flat["status"] = string(j.Status)
	if j.Step != "" {
		flat["step"] = j.Step
	}
	if j.Percent != nil {
		flat["percent"] = *j.Percent
	}
	if j.Message != "" {
		flat["message"] = j.Message
	}
	flat["updated_at"] = j.UpdatedAt
	return flat
}

// QueueMessage is the transport format sent to queue backends.
type QueueMessage struct {
	JobID       string          `json:"job_id"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	RequestedAt time.Time       `json:"requested_at"`
	NotBefore   time.Time       `json:"not_before"`
}

// ResponseLogEntry is one persisted LLM response kept for integrity checks.
type ResponseLogEntry struct {
	ID        string    `json:"id"`
	Stored    string    `json:"stored"`
	Original  string    `json:"original"`
	Model     string    `json:"model,omitempty"`
	Contract  string    `json:"contract,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
