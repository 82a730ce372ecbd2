package ai

import "errors"

var ErrClientUnavailable = errors.New("llm client unavailable")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// FunctionCall is a tool/function directive emitted by the model.
type FunctionCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ParsedResponse is the canonical decoded LLM output.
type ParsedResponse struct {
	// OutputText is the primary payload. It is never a JSON fragment that
	// failed to decode.
	OutputText string
	// Structured holds the decoded value when OutputText is a JSON object or array.
	Structured    any
	Reasoning     []string
	FunctionCalls []FunctionCall
	// Raw is the decoded response body, kept only when the parser retains raw payloads.
	Raw       any
	Truncated bool
	Usage     TokenUsage
	Model     string
}
