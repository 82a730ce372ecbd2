package ai

import (
	"strings"

	"github.com/tidwall/gjson"
)

// envelopeKind tags which provider response shape produced a text candidate.
type envelopeKind int

const (
	envelopeChat envelopeKind = iota + 1
	envelopeResponses
	envelopeOutputText
)

func (k envelopeKind) String() string {
	switch k {
	case envelopeChat:
		return "chat_completions"
	case envelopeResponses:
		return "responses_output"
	case envelopeOutputText:
		return "output_text"
	default:
		return "unknown"
	}
}

type textCandidate struct {
	kind envelopeKind
	text string
}

// envelope is what a provider mapping offers, in matcher priority order.
type envelope struct {
	recognized bool
	candidates []textCandidate
	reasoning  []string
	calls      []FunctionCall
	usage      TokenUsage
	model      string
	truncated  bool
}

// matchEnvelope probes the known provider variants: chat completion
// choices, Responses API output items, then a top-level output_text.
func matchEnvelope(root gjson.Result) envelope {
	var env envelope

	if choices := root.Get("choices"); choices.Exists() {
		env.recognized = true
		first := choices.Get("0")
		if text := contentText(first.Get("message.content")); text != "" {
			env.candidates = append(env.candidates, textCandidate{kind: envelopeChat, text: text})
		} else if text := first.Get("text"); text.Type == gjson.String {
			env.candidates = append(env.candidates, textCandidate{kind: envelopeChat, text: text.String()})
		}
		if reasoning := first.Get("message.reasoning"); reasoning.Type == gjson.String && reasoning.String() != "" {
			env.reasoning = append(env.reasoning, reasoning.String())
		}
		first.Get("message.tool_calls").ForEach(func(_, call gjson.Result) bool {
			env.calls = append(env.calls, FunctionCall{
				ID:        call.Get("id").String(),
				Name:      call.Get("function.name").String(),
				Arguments: call.Get("function.arguments").String(),
			})
			return true
		})
		if call := first.Get("message.function_call"); call.IsObject() {
			env.calls = append(env.calls, FunctionCall{
				Name:      call.Get("name").String(),
				Arguments: call.Get("arguments").String(),
			})
		}
		if first.Get("finish_reason").String() == "length" {
			env.truncated = true
		}
	}

	if output := root.Get("output"); output.IsArray() {
		env.recognized = true
		fragments := make([]string, 0)
		output.ForEach(func(_, item gjson.Result) bool {
			switch item.Get("type").String() {
			case "message":
				item.Get("content").ForEach(func(_, part gjson.Result) bool {
					if text := part.Get("text"); text.Type == gjson.String && strings.TrimSpace(text.String()) != "" {
						fragments = append(fragments, text.String())
					}
					return true
				})
			case "reasoning":
				item.Get("summary").ForEach(func(_, part gjson.Result) bool {
					if text := part.Get("text").String(); text != "" {
						env.reasoning = append(env.reasoning, text)
					}
					return true
				})
			case "function_call":
				env.calls = append(env.calls, FunctionCall{
					ID:        firstNonEmpty(item.Get("call_id").String(), item.Get("id").String()),
					Name:      item.Get("name").String(),
					Arguments: item.Get("arguments").String(),
				})
			}
			return true
		})
		if len(fragments) > 0 {
			env.candidates = append(env.candidates, textCandidate{
				kind: envelopeResponses,
				text: strings.Join(fragments, ""),
			})
		}
	}

	if outputText := root.Get("output_text"); outputText.Exists() {
		env.recognized = true
		if text := contentText(outputText); text != "" {
			env.candidates = append(env.candidates, textCandidate{kind: envelopeOutputText, text: text})
		}
	}

	if status := root.Get("status").String(); status == "incomplete" {
		env.truncated = true
	}
	if details := root.Get("incomplete_details"); details.Exists() && details.Type != gjson.Null {
		env.truncated = true
	}

	env.model = root.Get("model").String()
	env.usage = TokenUsage{
		InputTokens:  int(firstPresent(root, "usage.prompt_tokens", "usage.input_tokens").Int()),
		OutputTokens: int(firstPresent(root, "usage.completion_tokens", "usage.output_tokens").Int()),
		TotalTokens:  int(root.Get("usage.total_tokens").Int()),
	}
	return env
}

// contentText reads a string or an array of text parts.
func contentText(value gjson.Result) string {
	switch {
	case value.Type == gjson.String:
		return value.String()
	case value.IsArray():
		fragments := make([]string, 0)
		value.ForEach(func(_, part gjson.Result) bool {
			if part.Type == gjson.String {
				fragments = append(fragments, part.String())
				return true
			}
			if text := part.Get("text"); text.Type == gjson.String && strings.TrimSpace(text.String()) != "" {
				fragments = append(fragments, text.String())
			}
			return true
		})
		return strings.Join(fragments, "")
	default:
		return ""
	}
}

func firstPresent(root gjson.Result, paths ...string) gjson.Result {
	for _, path := range paths {
		if value := root.Get(path); value.Exists() {
			return value
		}
	}
	return gjson.Result{}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
