package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strconv"

	"github.com/iago/treasury-bizcase-back/internal/ai"
	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/http/middleware"
	"github.com/iago/treasury-bizcase-back/internal/policy"
	"github.com/iago/treasury-bizcase-back/internal/quality"
	"github.com/iago/treasury-bizcase-back/internal/service"
)

const maxBodyBytes = 1 << 20

var errInvalidPayload = errors.New("invalid payload")

// Generator produces a business case synchronously.
type Generator interface {
	Generate(ctx context.Context, input domain.BusinessCaseInput) (map[string]any, error)
}

// JobTracker starts and reports asynchronous generations.
type JobTracker interface {
	EnqueueIdempotent(ctx context.Context, key, fingerprint string, input json.RawMessage) (string, bool, error)
	GetStatus(ctx context.Context, jobID string) (map[string]any, error)
}

// AuditSource exposes the recent audit trail.
type AuditSource interface {
	Events() []audit.Event
}

type API struct {
	generator Generator
	jobs      JobTracker
	audit     AuditSource
}

func NewAPI(generator Generator, jobs JobTracker, auditSource AuditSource) *API {
	return &API{
		generator: generator,
		jobs:      jobs,
		audit:     auditSource,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeGenerationError maps pipeline failures onto HTTP responses. Rejected
// LLM output keeps its error kind and detail so callers can tell a missing
// section from unparseable output.
func writeGenerationError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *policy.PolicyViolationError
	var validation *quality.ValidationError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &violation):
		message := "request blocked by policy"
		if len(violation.Violations) > 0 {
			message = violation.Violations[0].Message
		}
		writeError(w, r, http.StatusUnprocessableEntity, "policy_violation", message)
	case errors.As(err, &validation):
		statusCode := http.StatusBadGateway
		payload := errorPayload{
			ErrorKind: string(validation.Kind),
			Detail:    validation.Detail,
			RequestID: middleware.GetRequestID(r.Context()),
		}
		var transport *ai.TransportError
		if errors.As(err, &transport) {
			if transport.Timeout {
				statusCode = http.StatusGatewayTimeout
			}
			payload.Detail = transportDetail(transport)
		}
		payload.Error.Code = string(validation.Kind)
		payload.Error.Message = "the language model did not return a usable business case"
		if payload.Detail == "" {
			payload.Detail = validation.Error()
		}
		writeJSON(w, statusCode, payload)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "timeout", "generation did not finish in time")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to generate business case")
	}
}

// transportDetail describes a provider failure without echoing the
// provider's response body.
func transportDetail(err *ai.TransportError) string {
	switch {
	case err.Timeout:
		return "llm request timed out"
	case err.StatusCode > 0:
		return fmt.Sprintf("llm provider returned status %d", err.StatusCode)
	default:
		return "llm request failed"
	}
}

func readBody(w http.ResponseWriter, r *http.Request) (json.RawMessage, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, errInvalidPayload
	}
	if !json.Valid(body) {
		return nil, errInvalidPayload
	}
	return body, nil
}

func hashPayload(payload []byte) string {
	hasher := fnv.New64a()
	_, _ = hasher.Write(payload)
	return strconv.FormatUint(hasher.Sum64(), 16)
}
