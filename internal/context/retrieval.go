package contextbuilder

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

const (
	SourcePainPoint     = "pain_point"
	SourceObjective     = "objective"
	SourceCurrentSystem = "current_system"
	SourceNotes         = "notes"
	SourceExtra         = "extra"

	maxFragmentLength = 520
)

type RetrievalInput struct {
	Input         domain.BusinessCaseInput
	FragmentLimit int
}

type Chunk struct {
	ID     string
	Source string
	Text   string
	Score  float64
}

type Retriever interface {
	Retrieve(ctx context.Context, input RetrievalInput) ([]Chunk, error)
}

// InputRetriever derives research signals from the free text a caller
// submitted. It stands in until an external research source is wired.
type InputRetriever struct{}

func NewInputRetriever() *InputRetriever {
	return &InputRetriever{}
}

var sourceWeight = map[string]float64{
	SourcePainPoint:     100,
	SourceObjective:     90,
	SourceNotes:         80,
	SourceCurrentSystem: 70,
	SourceExtra:         60,
}

func (r *InputRetriever) Retrieve(_ context.Context, input RetrievalInput) ([]Chunk, error) {
	limit := input.FragmentLimit
	if limit <= 0 {
		limit = 40
	}

	type fragment struct {
		source string
		text   string
	}
	fragments := make([]fragment, 0, limit)
	add := func(source string, values ...string) {
		for _, value := range values {
			if len(fragments) >= limit {
				return
			}
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			if len(trimmed) > maxFragmentLength {
				trimmed = trimmed[:maxFragmentLength]
			}
			fragments = append(fragments, fragment{source: source, text: trimmed})
		}
	}

	add(SourcePainPoint, input.Input.PainPoints...)
	add(SourceObjective, input.Input.Objectives...)
	add(SourceNotes, splitSentences(input.Input.Notes)...)
	add(SourceCurrentSystem, input.Input.CurrentSystems...)

	extraKeys := make([]string, 0, len(input.Input.Extra))
	for key := range input.Input.Extra {
		extraKeys = append(extraKeys, key)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		if text, ok := input.Input.Extra[key].(string); ok {
			add(SourceExtra, text)
		}
	}

	chunks := make([]Chunk, 0, len(fragments))
	seen := make(map[string]struct{}, len(fragments))
	for index, item := range fragments {
		key := fragmentFingerprint(item.text)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		chunks = append(chunks, Chunk{
			ID:     fmt.Sprintf("signal-%d", index+1),
			Source: item.source,
			Text:   item.text,
			Score:  computeScore(item.source, index, item.text),
		})
	}
	return chunks, nil
}

var sentenceBoundary = regexp.MustCompile(`[.!?;\n]+\s*`)

func splitSentences(text string) []string {
	parts := sentenceBoundary.Split(text, -1)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Theme is a treasury concern recognised in free text.
type Theme struct {
	Name     string
	Keywords []string
}

var themes = []Theme{
	{Name: "cash_visibility", Keywords: []string{"cash position", "visibility", "balance", "liquidity"}},
	{Name: "forecasting", Keywords: []string{"forecast", "projection", "planning"}},
	{Name: "fx_exposure", Keywords: []string{"fx", "currency", "currencies", "hedg", "exchange rate"}},
	{Name: "payments", Keywords: []string{"payment", "payables", "fraud", "approval"}},
	{Name: "bank_connectivity", Keywords: []string{"bank portal", "swift", "ebics", "host-to-host", "bank statement", "api"}},
	{Name: "reconciliation", Keywords: []string{"reconcil", "matching", "month-end", "close"}},
	{Name: "manual_effort", Keywords: []string{"manual", "spreadsheet", "excel", "email"}},
}

func matchThemes(text string) []string {
	normalized := strings.ToLower(text)
	matched := make([]string, 0, 2)
	for _, theme := range themes {
		for _, keyword := range theme.Keywords {
			if strings.Contains(normalized, keyword) {
				matched = append(matched, theme.Name)
				break
			}
		}
	}
	return matched
}

func computeScore(source string, index int, fragment string) float64 {
	score := sourceWeight[source] - float64(index*2)
	score += float64(len(matchThemes(fragment))) * 6
	if strings.ContainsAny(fragment, "0123456789") {
		score += 4
	}
	if score < 1 {
		score = 1
	}
	return score
}

var repeatedSpacePattern = regexp.MustCompile(`\s+`)

func fragmentFingerprint(value string) string {
	lowered := strings.ToLower(strings.TrimSpace(value))
	return repeatedSpacePattern.ReplaceAllString(lowered, " ")
}
