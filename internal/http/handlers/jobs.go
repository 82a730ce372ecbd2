package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/iago/treasury-bizcase-back/internal/jobs"
	"github.com/iago/treasury-bizcase-back/internal/service"
)

const maxIdempotencyKeyLength = 128

// Jobs starts an asynchronous generation and answers 202 with the job id.
func (api *API) Jobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "Idempotency-Key is too long")
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	masked, _, err := service.PrepareInput(body)
	if err != nil {
		writeGenerationError(w, r, err)
		return
	}

	jobID, reused, err := api.jobs.EnqueueIdempotent(r.Context(), idempotencyKey, hashPayload(masked), masked)
	if errors.Is(err, jobs.ErrIdempotencyConflict) {
		writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to enqueue business case job")
		return
	}

	statusURL := "/v1/jobs/" + jobID
	w.Header().Set("Location", statusURL)
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"status":     "queued",
		"status_url": statusURL,
		"reused":     reused,
	})
}

// JobStatus returns the flattened job record.
func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	jobID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/jobs/"))
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "job_id is required")
		return
	}

	status, err := api.jobs.GetStatus(r.Context(), jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"job_id": jobID, "status": "not_found"})
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
		return
	}

	if state, _ := status["status"].(string); state == "queued" || state == "processing" {
		w.Header().Set("Retry-After", "2")
	}
	writeJSON(w, http.StatusOK, status)
}
