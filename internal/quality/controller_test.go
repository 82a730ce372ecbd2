package quality

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/treasury-bizcase-back/internal/ai"
	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

type scriptedCompleter struct {
	responses []ai.ParsedResponse
	errs      []error
	requests  []ai.CompletionRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, request ai.CompletionRequest) (ai.ParsedResponse, error) {
	index := len(s.requests)
	s.requests = append(s.requests, request)
	var err error
	if index < len(s.errs) {
		err = s.errs[index]
	}
	if err != nil {
		return ai.ParsedResponse{}, err
	}
	return s.responses[index], nil
}

type outcomeRecorder struct {
	outcomes []string
}

func (o *outcomeRecorder) ObserveValidation(_ string, outcome string) {
	o.outcomes = append(o.outcomes, outcome)
}

func completeBusinessCase(skip string) map[string]any {
	payload := make(map[string]any, len(domain.BusinessCaseSections))
	for _, section := range domain.BusinessCaseSections {
		if section == skip {
			continue
		}
		payload[section] = map[string]any{"summary": "content for " + section}
	}
	return payload
}

func structuredResponse(t *testing.T, value any) ai.ParsedResponse {
	t.Helper()
	encoded, err := json.Marshal(value)
	require.NoError(t, err)
	return ai.ParsedResponse{OutputText: string(encoded), Structured: value, Model: "openai/gpt-4.1"}
}

var testMessages = []ai.Message{
	{Role: ai.RoleSystem, Content: "persona"},
	{Role: ai.RoleUser, Content: "## Company Intelligence\n{}"},
}

func TestControllerAcceptsCompletePayloadOnFirstAttempt(t *testing.T) {
	client := &scriptedCompleter{responses: []ai.ParsedResponse{structuredResponse(t, completeBusinessCase(""))}}
	responseLog := repository.NewMemoryResponseLog(10)
	recorder := audit.NewRecorder(20, nil)
	controller := NewController(ControllerConfig{Client: client, ResponseLog: responseLog, Audit: recorder})

	result, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, client.requests, 1)
	assert.Len(t, result.Payload, len(domain.BusinessCaseSections))

	entries, err := responseLog.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, entries[0].Stored, entries[0].Original)
	assert.Equal(t, "business_case", entries[0].Contract)
	assert.Len(t, recorder.Named("llm_response_validated"), 1)
}

func TestControllerRetriesOnceWithCorrectiveMessage(t *testing.T) {
	client := &scriptedCompleter{responses: []ai.ParsedResponse{
		structuredResponse(t, completeBusinessCase(domain.SectionRiskAnalysis)),
		structuredResponse(t, map[string]any{"analysis": completeBusinessCase("")}),
	}}
	observer := &outcomeRecorder{}
	controller := NewController(ControllerConfig{Client: client, Observer: observer})

	result, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempts)
	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[0].Messages, 2)
	retried := client.requests[1].Messages
	require.Len(t, retried, 3)
	assert.Equal(t, ai.RoleUser, retried[2].Role)
	assert.Contains(t, retried[2].Content, "previous output was invalid")
	assert.Contains(t, retried[2].Content, `"risk_analysis"`)
	assert.Len(t, testMessages, 2, "caller messages must not be mutated")
	assert.Equal(t, []string{"corrective_retry", "accepted"}, observer.outcomes)
}

func TestControllerReportsMissingSectionAfterRetry(t *testing.T) {
	incomplete := structuredResponse(t, completeBusinessCase(domain.SectionRiskAnalysis))
	client := &scriptedCompleter{responses: []ai.ParsedResponse{incomplete, incomplete}}
	recorder := audit.NewRecorder(20, nil)
	controller := NewController(ControllerConfig{Client: client, Audit: recorder})

	_, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, KindMissingSection, validationErr.Kind)
	assert.Equal(t, domain.SectionRiskAnalysis, validationErr.Section)
	assert.Equal(t, 2, validationErr.Attempts)
	assert.Contains(t, validationErr.Raw, "executive_summary")
	assert.Len(t, client.requests, 2)
	assert.Len(t, recorder.Named("llm_response_invalid"), 2)
}

func TestControllerReportsInvalidJSONAfterRetry(t *testing.T) {
	parseErr := &ai.ParseError{Body: `{"executive_summary": {"headline": "cut`}
	client := &scriptedCompleter{
		responses: make([]ai.ParsedResponse, 2),
		errs:      []error{parseErr, nil},
	}
	client.responses[1] = ai.ParsedResponse{OutputText: "The business case is not available right now, sorry."}
	controller := NewController(ControllerConfig{Client: client})

	_, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())

	assert.Equal(t, KindInvalidJSON, KindOf(err))
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Equal(t, "The business case is not available right now, sorry.", validationErr.Raw)
	assert.Contains(t, client.requests[1].Messages[2].Content, "not valid JSON")
}

func TestControllerSurfacesTransportErrorsWithoutRetry(t *testing.T) {
	client := &scriptedCompleter{errs: []error{&ai.TransportError{StatusCode: 503, Message: "unavailable"}}}
	controller := NewController(ControllerConfig{Client: client})

	_, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())

	assert.Equal(t, KindTransport, KindOf(err))
	var transportErr *ai.TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, 503, transportErr.StatusCode)
	assert.Len(t, client.requests, 1)
}

func TestControllerSanitizesAcceptedPayload(t *testing.T) {
	payload := completeBusinessCase("")
	payload[domain.SectionFinancialAnalysis] = map[string]any{
		"annual_benefit": "1250000",
		"note":           "<b>Strong</b> case<script>alert(1)</script>",
		"approved":       true,
		"owner":          nil,
	}
	client := &scriptedCompleter{responses: []ai.ParsedResponse{structuredResponse(t, map[string]any{"report_data": payload})}}
	controller := NewController(ControllerConfig{Client: client})

	result, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())
	require.NoError(t, err)

	financial := result.Payload[domain.SectionFinancialAnalysis].(map[string]any)
	assert.Equal(t, 1250000.0, financial["annual_benefit"])
	assert.Equal(t, "Strong case", financial["note"])
	assert.Equal(t, "true", financial["approved"])
	assert.Equal(t, "", financial["owner"])
}

func TestControllerDecodesOutputTextWhenStructuredIsMissing(t *testing.T) {
	encoded, err := json.Marshal(completeBusinessCase(""))
	require.NoError(t, err)
	client := &scriptedCompleter{responses: []ai.ParsedResponse{{OutputText: "  " + string(encoded) + "\n"}}}
	controller := NewController(ControllerConfig{Client: client})

	result, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
}

func TestControllerMasksPIIInAuditRaw(t *testing.T) {
	bad := ai.ParsedResponse{OutputText: "Contact treasurer@acme.example for the figures please."}
	client := &scriptedCompleter{responses: []ai.ParsedResponse{bad, bad}}
	recorder := audit.NewRecorder(20, nil)
	controller := NewController(ControllerConfig{Client: client, Audit: recorder})

	_, err := controller.Run(context.Background(), testMessages, ai.ModelProfile{Model: "openai/gpt-4.1"}, BusinessCaseContract())
	require.Error(t, err)

	for _, event := range recorder.Named("llm_response_invalid") {
		raw, _ := event.Fields["raw"].(string)
		assert.False(t, strings.Contains(raw, "treasurer@acme.example"), "raw content leaked: %s", raw)
	}
}
