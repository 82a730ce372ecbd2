package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iago/treasury-bizcase-back/internal/ai"
	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/policy"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

const (
	maxAttempts    = 2
	rawExcerptSize = 2000
)

// Completer is the LLM call the controller drives.
type Completer interface {
	Complete(ctx context.Context, request ai.CompletionRequest) (ai.ParsedResponse, error)
}

// ValidationObserver receives one observation per controller outcome:
// accepted, corrective_retry, rejected or transport_error.
type ValidationObserver interface {
	ObserveValidation(contract string, outcome string)
}

type ControllerConfig struct {
	Client      Completer
	ResponseLog repository.ResponseLog
	Audit       audit.Logger
	Observer    ValidationObserver
	Logger      *log.Logger
	Now         func() time.Time
}

// Controller validates LLM output against a contract, reissuing the request
// once with a corrective instruction when the first answer is unusable.
type Controller struct {
	client      Completer
	responseLog repository.ResponseLog
	audit       audit.Logger
	observer    ValidationObserver
	logger      *log.Logger
	now         func() time.Time
}

type Result struct {
	Payload   map[string]any
	Attempts  int
	Model     string
	Truncated bool
	Usage     ai.TokenUsage
}

func NewController(config ControllerConfig) *Controller {
	if config.Audit == nil {
		config.Audit = audit.Nop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Controller{
		client:      config.Client,
		responseLog: config.ResponseLog,
		audit:       config.Audit,
		observer:    config.Observer,
		logger:      config.Logger,
		now:         config.Now,
	}
}

// Run sends the exchange, validates the answer and retries at most once.
// Transport failures are returned immediately as KindTransport.
func (c *Controller) Run(ctx context.Context, messages []ai.Message, profile ai.ModelProfile, contract Contract) (Result, error) {
	if c.client == nil {
		return Result{}, &ValidationError{Kind: KindTransport, Err: ai.ErrClientUnavailable}
	}

	conversation := append([]ai.Message(nil), messages...)
	var lastErr *ValidationError

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, err := c.client.Complete(ctx, ai.CompletionRequest{
			Model:           profile.Model,
			Messages:        conversation,
			Temperature:     profile.Temperature,
			MaxOutputTokens: profile.MaxOutputTokens,
			JSONMode:        profile.JSONMode,
		})
		if err != nil && !errors.Is(err, ai.ErrParseFailed) {
			c.audit.Log(ctx, "llm_transport_failed", map[string]any{
				"contract": contract.Name,
				"attempt":  attempt,
				"error":    err.Error(),
			})
			c.observe(contract.Name, "transport_error")
			return Result{}, &ValidationError{Kind: KindTransport, Attempts: attempt, Err: err}
		}

		var payload map[string]any
		if err != nil {
			lastErr = parseFailure(err)
		} else {
			payload, lastErr = c.accept(response, contract)
		}
		if lastErr == nil {
			c.record(ctx, response, contract)
			c.audit.Log(ctx, "llm_response_validated", map[string]any{
				"contract":  contract.Name,
				"attempt":   attempt,
				"model":     response.Model,
				"truncated": response.Truncated,
			})
			c.observe(contract.Name, "accepted")
			return Result{
				Payload:   payload,
				Attempts:  attempt,
				Model:     response.Model,
				Truncated: response.Truncated,
				Usage:     response.Usage,
			}, nil
		}

		lastErr.Attempts = attempt
		c.audit.Log(ctx, "llm_response_invalid", map[string]any{
			"contract": contract.Name,
			"attempt":  attempt,
			"kind":     string(lastErr.Kind),
			"section":  lastErr.Section,
			"detail":   lastErr.Detail,
			"raw":      excerpt(policy.MaskPIIString(lastErr.Raw)),
		})
		c.logf("llm output rejected contract=%s attempt=%d kind=%s detail=%q", contract.Name, attempt, lastErr.Kind, lastErr.Detail)

		if attempt < maxAttempts {
			c.observe(contract.Name, "corrective_retry")
			conversation = append(conversation, ai.Message{
				Role:    ai.RoleUser,
				Content: correctiveInstruction(contract, lastErr),
			})
		}
	}

	c.observe(contract.Name, "rejected")
	return Result{}, lastErr
}

func (c *Controller) accept(response ai.ParsedResponse, contract Contract) (map[string]any, *ValidationError) {
	decoded := response.Structured
	if decoded == nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(response.OutputText)), &decoded); err != nil {
			return nil, &ValidationError{
				Kind:   KindInvalidJSON,
				Detail: "output is not valid JSON",
				Raw:    response.OutputText,
				Err:    err,
			}
		}
	}

	payload, err := contract.Validate(decoded)
	if err != nil {
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) {
			validationErr = &ValidationError{Kind: KindInvalidJSON, Detail: err.Error(), Err: err}
		}
		validationErr.Raw = response.OutputText
		if response.Truncated && validationErr.Kind == KindMissingSection {
			validationErr.Detail += " (output truncated)"
		}
		return nil, validationErr
	}
	return payload, nil
}

func (c *Controller) record(ctx context.Context, response ai.ParsedResponse, contract Contract) {
	if c.responseLog == nil {
		return
	}
	entry := domain.ResponseLogEntry{
		ID:        uuid.NewString(),
		Stored:    response.OutputText,
		Original:  response.OutputText,
		Model:     response.Model,
		Contract:  contract.Name,
		CreatedAt: c.now().UTC(),
	}
	if err := c.responseLog.Append(ctx, entry); err != nil {
		c.logf("response log append failed contract=%s err=%v", contract.Name, err)
	}
}

func parseFailure(err error) *ValidationError {
	failure := &ValidationError{Kind: KindInvalidJSON, Detail: "no usable output could be extracted", Err: err}
	var parseErr *ai.ParseError
	if errors.As(err, &parseErr) {
		failure.Raw = parseErr.Body
	}
	return failure
}

func correctiveInstruction(contract Contract, failure *ValidationError) string {
	reason := "it was not valid JSON"
	if failure.Kind == KindMissingSection && failure.Section != "" {
		reason = fmt.Sprintf("the %q section was missing or not an object", failure.Section)
	}
	return fmt.Sprintf(
		"Your previous output was invalid because %s. Return only valid JSON matching the schema, "+
			"as a single object containing these sections: %s. Do not add any text outside the JSON.",
		reason,
		strings.Join(contract.Required, ", "),
	)
}

func excerpt(value string) string {
	if len(value) <= rawExcerptSize {
		return value
	}
	return value[:rawExcerptSize] + "..."
}

func (c *Controller) observe(contract, outcome string) {
	if c.observer != nil {
		c.observer.ObserveValidation(contract, outcome)
	}
}

func (c *Controller) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
