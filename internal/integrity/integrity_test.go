package integrity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/treasury-bizcase-back/internal/audit"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/repository"
)

func TestValidateEmitsAuditEvent(t *testing.T) {
	recorder := audit.NewRecorder(10, nil)
	checker := NewChecker(CheckerConfig{Audit: recorder})

	assert.True(t, checker.Validate(context.Background(), `{"a":1}`))
	assert.False(t, checker.Validate(context.Background(), `{"a":`))

	events := recorder.Named("response_validated")
	require.Len(t, events, 2)
	assert.Equal(t, true, events[0].Fields["valid"])
	assert.Equal(t, 7, events[0].Fields["length"])
	assert.Equal(t, false, events[1].Fields["valid"])
}

func TestDetectCorruption(t *testing.T) {
	checker := NewChecker(CheckerConfig{})
	ctx := context.Background()

	clean := checker.DetectCorruption(ctx, `{"a":1}`, `{"a":1}`)
	assert.False(t, clean.Corrupted)
	assert.Empty(t, clean.Issues)

	mismatch := checker.DetectCorruption(ctx, `{"a":2}`, `{"a":1}`)
	assert.True(t, mismatch.Corrupted)
	assert.Equal(t, []string{IssueMismatch}, mismatch.Issues)

	both := checker.DetectCorruption(ctx, `{"a":1,}`, `{"a":1}`)
	assert.Equal(t, []string{IssueInvalidJSON, IssueMismatch}, both.Issues)

	invalidOnly := checker.DetectCorruption(ctx, `{"a":`, `{"a":`)
	assert.Equal(t, []string{IssueInvalidJSON}, invalidOnly.Issues)
}

func TestRepair(t *testing.T) {
	recorder := audit.NewRecorder(10, nil)
	checker := NewChecker(CheckerConfig{Audit: recorder})
	ctx := context.Background()

	assert.JSONEq(t, `{"a":1}`, checker.Repair(ctx, `{"a":1,}`))
	assert.Equal(t, `{"a":1`, checker.Repair(ctx, `{"a":1`))
	assert.JSONEq(t, `{"items":[1,2],"b":true}`, checker.Repair(ctx, "{\"items\":[1,2,\n],\"b\":true,\n}"))
	assert.Equal(t, `{"a":1,"b":"<x>"}`, checker.Repair(ctx, `{ "b": "<x>", "a": 1 }`))
	assert.Equal(t, `{"amount":1250000.50}`, checker.Repair(ctx, `{"amount": 1250000.50,}`))

	events := recorder.Named("response_repaired")
	require.Len(t, events, 5)
	assert.Equal(t, StrategyTrailingCommaObject, events[0].Fields["strategy"])
	assert.Equal(t, StrategyNone, events[1].Fields["strategy"])
	assert.Equal(t, false, events[1].Fields["repaired"])
	assert.Equal(t, StrategyTrailingCommaArray, events[2].Fields["strategy"])
	assert.Equal(t, StrategyOriginal, events[3].Fields["strategy"])
}

func TestRepairNeverReconstructsContent(t *testing.T) {
	checker := NewChecker(CheckerConfig{})
	for _, input := range []string{`{"a":1`, `{"a":}`, `not json`, `{"a":1}}`} {
		assert.Equal(t, input, checker.Repair(context.Background(), input))
	}
}

func TestReprocessHistoricalHandsCorruptedEntriesToHandler(t *testing.T) {
	ctx := context.Background()
	log := repository.NewMemoryResponseLog(10)
	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, entry := range []domain.ResponseLogEntry{
		{ID: "ok", Stored: `{"a":1}`, Original: `{"a":1}`, CreatedAt: created},
		{ID: "comma", Stored: `{"a":1,}`, Original: `{"a":1}`, CreatedAt: created},
		{ID: "drift", Stored: `{"a":2}`, Original: `{"a":1}`, CreatedAt: created},
	} {
		require.NoError(t, log.Append(ctx, entry))
	}

	recorder := audit.NewRecorder(50, nil)
	checker := NewChecker(CheckerConfig{Audit: recorder, Log: log})

	repaired := make(map[string]string)
	count, err := checker.ReprocessHistorical(ctx, 10, func(_ context.Context, entry domain.ResponseLogEntry, text string) error {
		repaired[entry.ID] = text
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, map[string]string{"comma": `{"a":1}`, "drift": `{"a":2}`}, repaired)

	summary := recorder.Named("historical_reprocessed")
	require.Len(t, summary, 1)
	assert.Equal(t, 3, summary[0].Fields["scanned"])
	assert.Equal(t, 2, summary[0].Fields["processed"])
}

func TestReprocessHistoricalRespectsLimitAndHandlerErrors(t *testing.T) {
	ctx := context.Background()
	log := repository.NewMemoryResponseLog(10)
	require.NoError(t, log.Append(ctx, domain.ResponseLogEntry{ID: "old", Stored: `{"a":1,}`, Original: `{"a":1}`}))
	require.NoError(t, log.Append(ctx, domain.ResponseLogEntry{ID: "new", Stored: `{"b":1,}`, Original: `{"b":1}`}))

	checker := NewChecker(CheckerConfig{Log: log})
	handlerErr := errors.New("write failed")
	seen := make([]string, 0)

	count, err := checker.ReprocessHistorical(ctx, 1, func(_ context.Context, entry domain.ResponseLogEntry, _ string) error {
		seen = append(seen, entry.ID)
		return handlerErr
	})

	assert.Equal(t, 0, count)
	assert.ErrorIs(t, err, handlerErr)
	assert.Equal(t, []string{"new"}, seen)
}
