// Package integrity inspects persisted LLM responses for corruption and
// applies narrow, mechanical repairs.
package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

const (
	IssueInvalidJSON = "invalid_json"
	IssueMismatch    = "mismatch"
)

// Repair strategies, in the order they are attempted.
const (
	StrategyNone                = "none"
	StrategyOriginal            = "original"
	StrategyTrailingCommaObject = "trailing_comma_object"
	StrategyTrailingCommaArray  = "trailing_comma_array"
)

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

type Report struct {
	Corrupted bool     `json:"corrupted"`
	Issues    []string `json:"issues"`
}

// Handler receives each corrupted entry together with its repaired text.
type Handler func(ctx context.Context, entry domain.ResponseLogEntry, repaired string) error

type CheckerConfig struct {
	Audit audit.Logger
	Log   repository.ResponseLog
}

type Checker struct {
	audit audit.Logger
	log   repository.ResponseLog
}

func NewChecker(config CheckerConfig) *Checker {
	if config.Audit == nil {
		config.Audit = audit.Nop()
	}
	return &Checker{audit: config.Audit, log: config.Log}
}

// Validate reports whether text is well-formed JSON.
func (c *Checker) Validate(ctx context.Context, text string) bool {
	valid := json.Valid([]byte(text))
	c.audit.Log(ctx, "response_validated", map[string]any{
		"valid":  valid,
		"length": len(text),
	})
	return valid
}

// DetectCorruption compares a stored response with its original copy.
func (c *Checker) DetectCorruption(ctx context.Context, stored, original string) Report {
	report := Report{Issues: make([]string, 0, 2)}
	if !json.Valid([]byte(stored)) {
		report.Issues = append(report.Issues, IssueInvalidJSON)
	}
	if stored != original {
		report.Issues = append(report.Issues, IssueMismatch)
	}
	report.Corrupted = len(report.Issues) > 0

	c.audit.Log(ctx, "corruption_checked", map[string]any{
		"corrupted":       report.Corrupted,
		"issues":          report.Issues,
		"stored_length":   len(stored),
		"original_length": len(original),
	})
	return report
}

// Repair returns the first decodable variant of text in canonical form, or
// text unchanged when no variant decodes.
func (c *Checker) Repair(ctx context.Context, text string) string {
	repaired, strategy := repair(text)
	c.audit.Log(ctx, "response_repaired", map[string]any{
		"repaired": strategy != StrategyNone,
		"strategy": strategy,
		"length":   len(text),
	})
	return repaired
}

type variant struct {
	strategy string
	text     string
}

func repair(text string) (string, string) {
	withoutObjectCommas := trailingCommaObject.ReplaceAllString(text, "}")
	variants := []variant{
		{strategy: StrategyOriginal, text: text},
		{strategy: StrategyTrailingCommaObject, text: withoutObjectCommas},
		{strategy: StrategyTrailingCommaArray, text: trailingCommaArray.ReplaceAllString(withoutObjectCommas, "]")},
	}

	for _, candidate := range variants {
		if canonical, ok := canonicalize(candidate.text); ok {
			return canonical, candidate.strategy
		}
	}
	return text, StrategyNone
}

// canonicalize decodes text preserving number literals and re-encodes it
// with sorted keys and no HTML escaping.
func canonicalize(text string) (string, bool) {
	if !json.Valid([]byte(text)) {
		return "", false
	}
	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return "", false
	}

	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(decoded); err != nil {
		return "", false
	}
	return strings.TrimRight(buffer.String(), "\n"), true
}

// ReprocessHistorical scans up to limit of the most recent log entries and
// hands each corrupted one to handler. It returns how many were processed.
func (c *Checker) ReprocessHistorical(ctx context.Context, limit int, handler Handler) (int, error) {
	if c.log == nil {
		return 0, errors.New("response log is not configured")
	}
	if handler == nil {
		return 0, errors.New("handler is required")
	}

	entries, err := c.log.Recent(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("load response log: %w", err)
	}

	processed := 0
	failures := make([]error, 0)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			failures = append(failures, err)
			break
		}
		report := c.DetectCorruption(ctx, entry.Stored, entry.Original)
		if !report.Corrupted {
			continue
		}
		if err := handler(ctx, entry, c.Repair(ctx, entry.Stored)); err != nil {
			failures = append(failures, fmt.Errorf("entry %s: %w", entry.ID, err))
			continue
		}
		processed++
	}

	c.audit.Log(ctx, "historical_reprocessed", map[string]any{
		"scanned":   len(entries),
		"processed": processed,
		"failed":    len(failures),
		"limit":     limit,
	})
	return processed, errors.Join(failures...)
}
