package ai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

var ErrParseFailed = errors.New("no extraction strategy produced usable output")

const defaultMinOutputLength = 20

// defaultTrivialPhrases are filler replies observed instead of real analysis.
var defaultTrivialPhrases = []string{
	"pong",
	"how can i help you today",
	"how can i assist you today",
	"i'm ready to help",
}

// ParseError carries the offending body for diagnostics.
type ParseError struct {
	Body string
}

func (e *ParseError) Error() string {
	return ErrParseFailed.Error()
}

func (e *ParseError) Unwrap() error {
	return ErrParseFailed
}

type ParserConfig struct {
	MaxOutputTokens int
	RetainRaw       bool
	MinOutputLength int
	TrivialPhrases  []string
}

// Parser normalizes provider response bodies into ParsedResponse values.
type Parser struct {
	maxOutputTokens int
	retainRaw       bool
	minOutputLength int
	trivialPhrases  []string
}

func NewParser(config ParserConfig) *Parser {
	if config.MinOutputLength <= 0 {
		config.MinOutputLength = defaultMinOutputLength
	}
	if config.TrivialPhrases == nil {
		config.TrivialPhrases = defaultTrivialPhrases
	}
	phrases := make([]string, 0, len(config.TrivialPhrases))
	for _, phrase := range config.TrivialPhrases {
		if normalized := strings.ToLower(strings.TrimSpace(phrase)); normalized != "" {
			phrases = append(phrases, normalized)
		}
	}
	return &Parser{
		maxOutputTokens: config.MaxOutputTokens,
		retainRaw:       config.RetainRaw,
		minOutputLength: config.MinOutputLength,
		trivialPhrases:  phrases,
	}
}

// Parse uses the configured max output tokens for truncation detection.
func (p *Parser) Parse(response *HTTPResponse, transportErr error) (ParsedResponse, error) {
	return p.ParseWithLimit(response, transportErr, p.maxOutputTokens)
}

// ParseWithLimit normalizes a provider response. Transport failures and
// non-2xx statuses come back as *TransportError; exhausted extraction
// strategies come back as *ParseError.
func (p *Parser) ParseWithLimit(response *HTTPResponse, transportErr error, maxOutputTokens int) (ParsedResponse, error) {
	if transportErr != nil {
		var typed *TransportError
		if errors.As(transportErr, &typed) {
			return ParsedResponse{}, typed
		}
		return ParsedResponse{}, &TransportError{Message: transportErr.Error(), Err: transportErr}
	}
	if response == nil {
		return ParsedResponse{}, &TransportError{Message: "empty response"}
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return ParsedResponse{}, &TransportError{
			StatusCode: response.StatusCode,
			Message:    truncateMessage(string(response.Body)),
		}
	}

	body := bytes.TrimSpace(response.Body)
	parsed, ok := p.parseBody(body)
	if !ok {
		return ParsedResponse{}, &ParseError{Body: truncateMessage(string(body))}
	}

	if maxOutputTokens > 0 && parsed.Usage.OutputTokens >= maxOutputTokens {
		parsed.Truncated = true
	}
	if p.retainRaw {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err == nil {
			parsed.Raw = decoded
		} else {
			parsed.Raw = string(body)
		}
	}
	return parsed, nil
}

func (p *Parser) parseBody(body []byte) (ParsedResponse, bool) {
	if len(body) == 0 {
		return ParsedResponse{}, false
	}
	if json.Valid(body) {
		return p.parseStrict(body)
	}

	text := string(body)
	for _, block := range fencedBlocks(text) {
		if json.Valid([]byte(block)) {
			if parsed, ok := p.parseStrict([]byte(block)); ok {
				return parsed, true
			}
		}
	}

	// Stream frames are themselves JSON objects, so a framed body is decided
	// by its stream text alone and never reaches the embedded-object search.
	if looksLikeStream(body) {
		parsed, ok := decodeLegacyStream(body)
		if !ok {
			return ParsedResponse{}, false
		}
		return p.acceptStream(parsed)
	}

	if candidate, ok := embeddedObject(text); ok {
		if parsed, ok := p.parseStrict([]byte(candidate)); ok {
			return parsed, true
		}
	}
	return ParsedResponse{}, false
}

// parseStrict handles a body that is valid JSON.
func (p *Parser) parseStrict(body []byte) (ParsedResponse, bool) {
	root := gjson.ParseBytes(body)
	switch {
	case root.IsObject():
		env := matchEnvelope(root)
		if !env.recognized {
			return p.acceptText(string(body))
		}
		return p.fromEnvelope(env)
	case root.IsArray():
		return p.acceptText(string(body))
	case root.Type == gjson.String:
		return p.acceptText(root.String())
	default:
		return ParsedResponse{}, false
	}
}

func (p *Parser) fromEnvelope(env envelope) (ParsedResponse, bool) {
	base := ParsedResponse{
		Reasoning:     env.reasoning,
		FunctionCalls: env.calls,
		Truncated:     env.truncated,
		Usage:         env.usage,
		Model:         env.model,
	}
	for _, candidate := range env.candidates {
		accepted, ok := p.acceptText(candidate.text)
		if !ok {
			continue
		}
		base.OutputText = accepted.OutputText
		base.Structured = accepted.Structured
		return base, true
	}
	if len(env.calls) > 0 {
		return base, true
	}
	return ParsedResponse{}, false
}

func (p *Parser) acceptStream(parsed ParsedResponse) (ParsedResponse, bool) {
	if parsed.OutputText == "" {
		return parsed, len(parsed.FunctionCalls) > 0
	}
	accepted, ok := p.acceptText(parsed.OutputText)
	if !ok {
		return ParsedResponse{}, false
	}
	parsed.OutputText = accepted.OutputText
	parsed.Structured = accepted.Structured
	return parsed, true
}

// acceptText applies the trivial-output gate and decodes JSON-looking text
// one level further. JSON-looking text that fails to decode is rejected.
func (p *Parser) acceptText(text string) (ParsedResponse, bool) {
	trimmed := strings.TrimSpace(text)
	if p.IsTrivial(trimmed) {
		return ParsedResponse{}, false
	}

	if looksLikeJSON(trimmed) {
		var decoded any
		if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
			return ParsedResponse{}, false
		}
		return ParsedResponse{OutputText: trimmed, Structured: decoded}, true
	}

	for _, block := range fencedBlocks(trimmed) {
		if decoded, ok := decodeJSON(block); ok {
			return ParsedResponse{OutputText: block, Structured: decoded}, true
		}
	}
	if candidate, ok := embeddedObject(trimmed); ok {
		if decoded, ok := decodeJSON(candidate); ok {
			return ParsedResponse{OutputText: candidate, Structured: decoded}, true
		}
	}
	return ParsedResponse{OutputText: trimmed}, true
}

// IsTrivial reports whether text is too short or a known filler reply.
func (p *Parser) IsTrivial(text string) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < p.minOutputLength {
		return true
	}
	lowered := strings.ToLower(trimmed)
	for _, phrase := range p.trivialPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

func decodeJSON(text string) (any, bool) {
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// DescribeParseFailure renders a short diagnostic for logs.
func DescribeParseFailure(err error) string {
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return fmt.Sprintf("parse failed body_len=%d", len(parseErr.Body))
	}
	return err.Error()
}
