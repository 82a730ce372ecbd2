// Package prompt assembles the two-message exchange sent to the LLM for a
// business-case generation.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/iago/treasury-bizcase-back/internal/ai"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Well-known payload sections, in the order they are rendered.
const (
	SectionCompanyIntelligence       = "company_intelligence"
	SectionFinancialAnalysis         = "financial_analysis"
	SectionTechnologyRecommendations = "technology_recommendations"
	SectionMarketResearchContext     = "market_research_context"
	SectionAnalysisRequirements      = "analysis_requirements"
)

var sectionOrder = []string{
	SectionCompanyIntelligence,
	SectionFinancialAnalysis,
	SectionTechnologyRecommendations,
	SectionMarketResearchContext,
	SectionAnalysisRequirements,
}

var sectionLabels = map[string]string{
	SectionCompanyIntelligence:       "Company Intelligence",
	SectionFinancialAnalysis:         "Financial Analysis",
	SectionTechnologyRecommendations: "Technology Recommendations",
	SectionMarketResearchContext:     "Market Research Context",
	SectionAnalysisRequirements:      "Analysis Requirements",
}

// Sections maps a section name to any JSON-serializable value.
type Sections map[string]any

type BuilderConfig struct {
	// SystemPrompt replaces the rendered default persona when set.
	SystemPrompt string
	Currency     string
}

// Builder renders the system persona once and the user message per call.
type Builder struct {
	system string
}

func NewBuilder(config BuilderConfig) (*Builder, error) {
	if strings.TrimSpace(config.Currency) == "" {
		config.Currency = "USD"
	}
	if system := strings.TrimSpace(config.SystemPrompt); system != "" {
		return &Builder{system: system}, nil
	}

	system, err := renderSystemPrompt(config.Currency)
	if err != nil {
		return nil, err
	}
	return &Builder{system: system}, nil
}

func (b *Builder) SystemPrompt() string {
	return b.system
}

// Build returns the system message followed by the user message.
func (b *Builder) Build(sections Sections) []ai.Message {
	return []ai.Message{
		{Role: ai.RoleSystem, Content: b.system},
		{Role: ai.RoleUser, Content: RenderUserMessage(sections)},
	}
}

// RenderUserMessage concatenates the non-empty sections as Markdown headings
// followed by indented JSON. Known sections keep their fixed order; any
// other section follows in lexical order.
func RenderUserMessage(sections Sections) string {
	known := make(map[string]struct{}, len(sectionOrder))
	keys := make([]string, 0, len(sections))
	for _, key := range sectionOrder {
		known[key] = struct{}{}
		keys = append(keys, key)
	}
	extra := make([]string, 0)
	for key := range sections {
		if _, ok := known[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	blocks := make([]string, 0, len(keys))
	for _, key := range keys {
		value, ok := sections[key]
		if !ok || isEmpty(value) {
			continue
		}

		var body string
		if key == SectionAnalysisRequirements {
			if items, ok := listItems(value); ok {
				body = bulletList(items)
			}
		}
		if body == "" {
			body = renderJSON(value)
		}
		blocks = append(blocks, "## "+label(key)+"\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

func label(key string) string {
	if known, ok := sectionLabels[key]; ok {
		return known
	}
	words := strings.ReplaceAll(strings.TrimSpace(key), "_", " ")
	return cases.Title(language.English).String(words)
}

// renderJSON pretty-prints without escaping HTML characters or slashes.
func renderJSON(value any) string {
	if text, ok := value.(string); ok {
		value = strings.TrimSpace(text)
	}

	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Sprintf("%v", value)
	}
	return strings.TrimRight(buffer.String(), "\n")
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			lines = append(lines, "- "+trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

// listItems flattens a slice value into display strings.
func listItems(value any) ([]string, bool) {
	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice && reflected.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]string, 0, reflected.Len())
	for index := 0; index < reflected.Len(); index++ {
		item := reflected.Index(index).Interface()
		switch typed := item.(type) {
		case string:
			items = append(items, typed)
		case fmt.Stringer:
			items = append(items, typed.String())
		default:
			encoded, err := json.Marshal(typed)
			if err != nil {
				items = append(items, fmt.Sprintf("%v", typed))
				continue
			}
			items = append(items, string(encoded))
		}
	}
	return items, true
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed) == ""
	case json.RawMessage:
		trimmed := strings.TrimSpace(string(typed))
		return trimmed == "" || trimmed == "null" || trimmed == "{}" || trimmed == "[]"
	}

	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return reflected.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return reflected.IsNil()
	default:
		return false
	}
}

type systemPromptData struct {
	Sections []schemaSection
	Currency string
}

func renderSystemPrompt(currency string) (string, error) {
	tmpl, err := template.New("system_business_case.tmpl").
		Funcs(template.FuncMap{"join": strings.Join}).
		ParseFS(templateFS, "templates/system_business_case.tmpl")
	if err != nil {
		return "", fmt.Errorf("parse system prompt template: %w", err)
	}

	buffer := bytes.NewBuffer(nil)
	if err := tmpl.Execute(buffer, systemPromptData{Sections: businessCaseSchema, Currency: currency}); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return strings.TrimSpace(buffer.String()), nil
}
