package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorMessageLength = 700

// HTTPResponse is the minimal response view the parser needs.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
}

// Transport posts a request body and returns the provider response.
// Non-2xx responses are returned as responses, not errors.
type Transport interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (*HTTPResponse, error)
}

// TransportError covers network failures, timeouts and non-2xx statuses.
type TransportError struct {
	StatusCode int
	Message    string
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("llm transport timeout: %s", e.Message)
	case e.StatusCode > 0:
		return fmt.Sprintf("llm status %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("llm transport error: %s", e.Message)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a new attempt may succeed.
func (e *TransportError) Retryable() bool {
	if e.Timeout {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type HTTPTransport struct {
	client *http.Client
}

func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Post(
	ctx context.Context,
	url string,
	headers map[string]string,
	body []byte,
	timeout time.Duration,
) (*HTTPResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Message: "create request", Err: err}
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}

	response, err := t.client.Do(request)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	return &HTTPResponse{StatusCode: response.StatusCode, Body: payload}, nil
}

func classifyTransportError(ctx context.Context, err error) *TransportError {
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	var netTimeout interface{ Timeout() bool }
	if errors.As(err, &netTimeout) && netTimeout.Timeout() {
		timeout = true
	}
	return &TransportError{Message: err.Error(), Timeout: timeout, Err: err}
}

func truncateMessage(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > maxErrorMessageLength {
		return trimmed[:maxErrorMessageLength]
	}
	return trimmed
}
