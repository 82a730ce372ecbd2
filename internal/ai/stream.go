package ai

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	streamGuard       = "for (;;);"
	streamDoneMarker  = "[DONE]"
	streamMaxLineSize = 1024 * 1024
)

// looksLikeStream reports whether body uses the legacy event framing:
// an optional for (;;); guard followed by data: or event: lines.
func looksLikeStream(body []byte) bool {
	scanner := newLineScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(stripGuard(scanner.Text()))
		if line == "" {
			continue
		}
		return strings.HasPrefix(line, "data:") || strings.HasPrefix(line, "event:")
	}
	return false
}

// streamAccumulator folds delta frames and remembers a consolidated final frame.
type streamAccumulator struct {
	text       strings.Builder
	doneText   string
	reasoning  map[string]*strings.Builder
	reasonKeys []string
	calls      map[string]*FunctionCall
	callKeys   []string
	final      *envelope
	recognized bool
	done       bool
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{
		reasoning: make(map[string]*strings.Builder),
		calls:     make(map[string]*FunctionCall),
	}
}

// decodeLegacyStream accumulates output text, reasoning and function calls
// from a framed stream body. A consolidated "done" frame wins over deltas.
func decodeLegacyStream(body []byte) (ParsedResponse, bool) {
	acc := newStreamAccumulator()

	var (
		eventName string
		dataLines []string
	)
	flush := func() {
		if len(dataLines) > 0 {
			acc.dispatch(eventName, dataLines)
		}
		eventName = ""
		dataLines = dataLines[:0]
	}

	scanner := newLineScanner(body)
	for scanner.Scan() && !acc.done {
		line := strings.TrimRight(stripGuard(scanner.Text()), "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "event:"):
			if len(dataLines) > 0 {
				flush()
			}
			eventName = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")))
		}
	}
	if !acc.done {
		flush()
	}

	return acc.result()
}

func (a *streamAccumulator) dispatch(eventName string, dataLines []string) {
	joined := strings.Join(dataLines, "\n")
	if joined == streamDoneMarker {
		a.done = true
		return
	}
	if json.Valid([]byte(joined)) {
		a.handleFrame(eventName, gjson.Parse(joined))
		return
	}
	// Frames without blank-line separators arrive as consecutive data lines.
	for _, line := range dataLines {
		if a.done {
			return
		}
		if line == streamDoneMarker {
			a.done = true
			return
		}
		if json.Valid([]byte(line)) {
			a.handleFrame(eventName, gjson.Parse(line))
		}
	}
}

func (a *streamAccumulator) handleFrame(eventName string, frame gjson.Result) {
	if !frame.IsObject() {
		return
	}
	frameType := frame.Get("type").String()
	if frameType == "" {
		frameType = eventName
	}

	switch {
	case frameType == "response.completed" || frameType == "response.done" || frameType == "response.incomplete":
		a.recognized = true
		target := frame.Get("response")
		if !target.Exists() {
			target = frame
		}
		final := matchEnvelope(target)
		if frameType == "response.incomplete" {
			final.truncated = true
		}
		a.final = &final
	case strings.HasSuffix(frameType, "output_text.delta"):
		a.recognized = true
		a.text.WriteString(frame.Get("delta").String())
	case strings.HasSuffix(frameType, "output_text.done"):
		a.recognized = true
		a.doneText = frame.Get("text").String()
	case strings.Contains(frameType, "reasoning") && strings.HasSuffix(frameType, ".delta"):
		a.recognized = true
		a.appendReasoning(frame.Get("item_id").String(), frame.Get("delta").String())
	case frameType == "response.function_call_arguments.delta":
		a.recognized = true
		a.callFor(frame.Get("item_id").String()).Arguments += frame.Get("delta").String()
	case frameType == "response.output_item.added" || frameType == "response.output_item.done":
		a.recognized = true
		item := frame.Get("item")
		if item.Get("type").String() != "function_call" {
			return
		}
		entry := a.callFor(item.Get("id").String())
		entry.ID = firstNonEmpty(item.Get("call_id").String(), entry.ID, item.Get("id").String())
		entry.Name = firstNonEmpty(item.Get("name").String(), entry.Name)
		if arguments := item.Get("arguments").String(); arguments != "" {
			entry.Arguments = arguments
		}
	case frame.Get("choices").Exists():
		a.recognized = true
		a.handleChatChunk(frame)
	case frameType == "" && frame.Get("delta").Type == gjson.String:
		a.recognized = true
		a.text.WriteString(frame.Get("delta").String())
	}
}

// handleChatChunk covers chat-completion style streaming chunks and a
// non-delta consolidated chat frame.
func (a *streamAccumulator) handleChatChunk(frame gjson.Result) {
	choice := frame.Get("choices.0")
	if choice.Get("message").Exists() {
		final := matchEnvelope(frame)
		a.final = &final
		return
	}

	delta := choice.Get("delta")
	if content := delta.Get("content"); content.Type == gjson.String {
		a.text.WriteString(content.String())
	}
	for _, key := range []string{"reasoning", "reasoning_content"} {
		if reasoning := delta.Get(key); reasoning.Type == gjson.String {
			a.appendReasoning("", reasoning.String())
		}
	}
	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		entry := a.callFor("tool-" + call.Get("index").String())
		entry.ID = firstNonEmpty(call.Get("id").String(), entry.ID)
		entry.Name = firstNonEmpty(call.Get("function.name").String(), entry.Name)
		entry.Arguments += call.Get("function.arguments").String()
		return true
	})
	if call := delta.Get("function_call"); call.IsObject() {
		entry := a.callFor("function_call")
		entry.Name = firstNonEmpty(call.Get("name").String(), entry.Name)
		entry.Arguments += call.Get("arguments").String()
	}
}

func (a *streamAccumulator) appendReasoning(key, delta string) {
	builder, ok := a.reasoning[key]
	if !ok {
		builder = &strings.Builder{}
		a.reasoning[key] = builder
		a.reasonKeys = append(a.reasonKeys, key)
	}
	builder.WriteString(delta)
}

func (a *streamAccumulator) callFor(key string) *FunctionCall {
	entry, ok := a.calls[key]
	if !ok {
		entry = &FunctionCall{}
		a.calls[key] = entry
		a.callKeys = append(a.callKeys, key)
	}
	return entry
}

func (a *streamAccumulator) result() (ParsedResponse, bool) {
	if !a.recognized {
		return ParsedResponse{}, false
	}

	response := ParsedResponse{OutputText: a.text.String()}
	if a.doneText != "" {
		response.OutputText = a.doneText
	}
	for _, key := range a.reasonKeys {
		if text := a.reasoning[key].String(); text != "" {
			response.Reasoning = append(response.Reasoning, text)
		}
	}
	for _, key := range a.callKeys {
		response.FunctionCalls = append(response.FunctionCalls, *a.calls[key])
	}

	if a.final != nil {
		if len(a.final.candidates) > 0 && a.final.candidates[0].text != "" {
			response.OutputText = a.final.candidates[0].text
		}
		if len(a.final.reasoning) > 0 {
			response.Reasoning = a.final.reasoning
		}
		if len(a.final.calls) > 0 {
			response.FunctionCalls = a.final.calls
		}
		response.Usage = a.final.usage
		response.Model = a.final.model
		response.Truncated = a.final.truncated
	}

	if response.OutputText == "" && len(response.FunctionCalls) == 0 {
		return ParsedResponse{}, false
	}
	return response, true
}

func stripGuard(line string) string {
	trimmed := strings.TrimLeft(line, " \t\ufeff")
	if strings.HasPrefix(trimmed, streamGuard) {
		return strings.TrimPrefix(trimmed, streamGuard)
	}
	return line
}

func newLineScanner(body []byte) *bufio.Scanner {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), streamMaxLineSize)
	return scanner
}
