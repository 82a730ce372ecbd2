package contextbuilder

import (
	"context"
	"strings"
	"testing"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

func TestBuilderDedupesAndRespectsChunkLimit(t *testing.T) {
	builder := NewBuilder(NewInputRetriever())

	input := domain.BusinessCaseInput{
		CompanyName: "Acme",
		PainPoints: []string{
			"Cash position is assembled manually in spreadsheets every morning.",
			"Cash position is assembled manually in   spreadsheets every morning.",
			"FX exposure across 6 currencies is not hedged consistently.",
			"Bank statement reconciliation takes 4 days at month-end.",
		},
		Objectives: []string{"Daily cash visibility", "Reduce manual effort"},
	}

	result, err := builder.Build(context.Background(), BuildInput{Input: input, MaxChunks: 3})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(result.Chunks) != 3 {
		t.Fatalf("expected chunk cap of 3, got %d chunks", len(result.Chunks))
	}

	seen := make(map[string]struct{}, len(result.Chunks))
	for _, chunk := range result.Chunks {
		key := fragmentFingerprint(chunk.Text)
		if _, exists := seen[key]; exists {
			t.Fatalf("expected deduped chunks, duplicate found: %q", chunk.Text)
		}
		seen[key] = struct{}{}
	}
	if len(result.Themes) == 0 {
		t.Fatalf("expected themes to be detected")
	}
}

func TestBuilderRespectsTokenBudget(t *testing.T) {
	builder := NewBuilder(NewInputRetriever())
	input := domain.BusinessCaseInput{
		PainPoints: []string{strings.Repeat("manual payments ", 30), "Short fx note"},
	}

	result, err := builder.Build(context.Background(), BuildInput{Input: input, MaxInputTokens: 20})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(result.Chunks) != 1 || result.Chunks[0].Text != "Short fx note" {
		t.Fatalf("expected only the short signal to fit, got %+v", result.Chunks)
	}
	if result.TokenCount > 20 {
		t.Fatalf("expected token count within budget, got %d", result.TokenCount)
	}
}

func TestBuilderReturnsStableOutputForRepeatedInputs(t *testing.T) {
	builder := NewBuilder(NewInputRetriever())
	input := BuildInput{Input: domain.BusinessCaseInput{
		Notes: "Treasury runs on Excel. Payments are approved by email.",
	}}

	first, err := builder.Build(context.Background(), input)
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	second, err := builder.Build(context.Background(), input)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}

	if len(first.Chunks) != len(second.Chunks) || first.TokenCount != second.TokenCount {
		t.Fatalf("expected stable output across repeated builds")
	}
	for index := range first.Chunks {
		if first.Chunks[index] != second.Chunks[index] {
			t.Fatalf("expected identical chunk %d, got %+v and %+v", index, first.Chunks[index], second.Chunks[index])
		}
	}
}

func TestSectionOmittedWithoutSignals(t *testing.T) {
	builder := NewBuilder(NewInputRetriever())
	result, err := builder.Build(context.Background(), BuildInput{Input: domain.BusinessCaseInput{CompanyName: "Acme"}})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if section := result.Section(); section != nil {
		t.Fatalf("expected nil section, got %v", section)
	}
}

func TestSectionListsSignalsAndThemes(t *testing.T) {
	output := BuildOutput{
		Chunks: []Chunk{{ID: "signal-1", Source: SourcePainPoint, Text: "Manual payment approvals"}},
		Themes: []string{"payments", "manual_effort"},
	}

	section := output.Section()
	signals, ok := section["signals"].([]map[string]any)
	if !ok || len(signals) != 1 {
		t.Fatalf("expected one signal, got %#v", section["signals"])
	}
	if signals[0]["source"] != SourcePainPoint || signals[0]["signal"] != "Manual payment approvals" {
		t.Fatalf("unexpected signal %#v", signals[0])
	}
	themes, _ := section["themes"].([]string)
	if strings.Join(themes, ",") != "payments,manual_effort" {
		t.Fatalf("unexpected themes %v", themes)
	}
}
