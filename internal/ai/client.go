package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// APIStyle selects the provider endpoint and request shape.
type APIStyle string

const (
	StyleChatCompletions APIStyle = "chat_completions"
	StyleResponses       APIStyle = "responses"
)

// RequestObserver receives one observation per provider round trip.
type RequestObserver interface {
	ObserveLLMRequest(outcome string, duration time.Duration)
}

type ClientConfig struct {
	APIKey     string
	BaseURL    string
	Style      APIStyle
	Timeout    time.Duration
	MaxRetries int
	RetryBase  time.Duration
	Transport  Transport
	Parser     *Parser
	Timeouts   *TimeoutMonitor
	Observer   RequestObserver
	SiteURL    string
	AppName    string
	Logger     *log.Logger
}

type CompletionRequest struct {
	Model           string
	Messages        []Message
	Temperature     float64
	MaxOutputTokens int
	JSONMode        bool
}

// Client sends chat exchanges to an OpenAI-compatible provider and parses
// whatever body shape comes back.
type Client struct {
	apiKey     string
	baseURL    string
	style      APIStyle
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	transport  Transport
	parser     *Parser
	timeouts   *TimeoutMonitor
	observer   RequestObserver
	siteURL    string
	appName    string
	logger     *log.Logger
}

func NewClient(config ClientConfig) *Client {
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	if config.Style == "" {
		config.Style = StyleChatCompletions
	}
	if config.Timeout <= 0 {
		config.Timeout = 300 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 350 * time.Millisecond
	}
	if config.Transport == nil {
		config.Transport = NewHTTPTransport(nil)
	}
	if config.Parser == nil {
		config.Parser = NewParser(ParserConfig{})
	}

	return &Client{
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		style:      config.Style,
		timeout:    config.Timeout,
		maxRetries: config.MaxRetries,
		retryBase:  config.RetryBase,
		transport:  config.Transport,
		parser:     config.Parser,
		timeouts:   config.Timeouts,
		observer:   config.Observer,
		siteURL:    strings.TrimSpace(config.SiteURL),
		appName:    strings.TrimSpace(config.AppName),
		logger:     config.Logger,
	}
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

// Complete sends one exchange. Retryable transport failures (429, 5xx,
// timeouts) are retried within the configured budget; parse failures are not.
func (c *Client) Complete(ctx context.Context, request CompletionRequest) (ParsedResponse, error) {
	if !c.Available() {
		return ParsedResponse{}, ErrClientUnavailable
	}
	if strings.TrimSpace(request.Model) == "" {
		return ParsedResponse{}, errors.New("model is required")
	}
	if len(request.Messages) == 0 {
		return ParsedResponse{}, errors.New("messages are required")
	}

	url, payload, err := c.buildPayload(request)
	if err != nil {
		return ParsedResponse{}, err
	}

	backoff := retry.WithMaxRetries(uint64(c.maxRetries), retry.NewExponential(c.retryBase))

	var parsed ParsedResponse
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		started := time.Now()
		response, postErr := c.transport.Post(ctx, url, c.headers(), payload, c.timeout)
		result, parseErr := c.parser.ParseWithLimit(response, postErr, request.MaxOutputTokens)
		c.observe(parseErr, time.Since(started))
		if parseErr == nil {
			parsed = result
			return nil
		}

		var transportErr *TransportError
		if errors.As(parseErr, &transportErr) {
			if transportErr.Timeout && c.timeouts != nil {
				c.timeouts.Record(ctx)
			}
			if transportErr.Retryable() {
				c.logf("llm request failed attempt=%d model=%s err=%v", attempt, request.Model, transportErr)
				return retry.RetryableError(transportErr)
			}
		}
		return parseErr
	})
	if err != nil {
		return ParsedResponse{}, err
	}
	if parsed.Model == "" {
		parsed.Model = request.Model
	}
	return parsed, nil
}

func (c *Client) buildPayload(request CompletionRequest) (string, []byte, error) {
	var (
		url     string
		payload map[string]any
	)

	switch c.style {
	case StyleResponses:
		instructions := make([]string, 0, 1)
		input := make([]Message, 0, len(request.Messages))
		for _, message := range request.Messages {
			if message.Role == RoleSystem {
				instructions = append(instructions, message.Content)
				continue
			}
			input = append(input, message)
		}
		url = c.baseURL + "/responses"
		payload = map[string]any{
			"model":        request.Model,
			"instructions": strings.Join(instructions, "\n\n"),
			"input":        input,
			"temperature":  request.Temperature,
		}
		if request.MaxOutputTokens > 0 {
			payload["max_output_tokens"] = request.MaxOutputTokens
		}
		if request.JSONMode {
			payload["text"] = map[string]any{"format": map[string]string{"type": "json_object"}}
		}
	default:
		url = c.baseURL + "/chat/completions"
		payload = map[string]any{
			"model":       request.Model,
			"messages":    request.Messages,
			"temperature": request.Temperature,
		}
		if request.MaxOutputTokens > 0 {
			payload["max_tokens"] = request.MaxOutputTokens
		}
		if request.JSONMode {
			payload["response_format"] = map[string]string{"type": "json_object"}
		}
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal llm payload: %w", err)
	}
	return url, encoded, nil
}

func (c *Client) headers() map[string]string {
	headers := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	if c.siteURL != "" {
		headers["HTTP-Referer"] = c.siteURL
	}
	if c.appName != "" {
		headers["X-Title"] = c.appName
	}
	return headers
}

func (c *Client) observe(err error, duration time.Duration) {
	if c.observer == nil {
		return
	}
	outcome := "success"
	var transportErr *TransportError
	switch {
	case err == nil:
	case errors.As(err, &transportErr) && transportErr.Timeout:
		outcome = "timeout"
	case errors.As(err, &transportErr):
		outcome = "transport_error"
	case errors.Is(err, ErrParseFailed):
		outcome = "parse_failed"
	default:
		outcome = "error"
	}
	c.observer.ObserveLLMRequest(outcome, duration)
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}
