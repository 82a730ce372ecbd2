// Package contextbuilder assembles the market research context section from
// ranked research signals within a token budget.
package contextbuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

const (
	defaultMaxInputTokens = 1500
	defaultMaxChunks      = 12
)

type BuildInput struct {
	Input          domain.BusinessCaseInput
	MaxInputTokens int
	MaxChunks      int
}

type BuildOutput struct {
	Chunks     []Chunk
	Themes     []string
	TokenCount int
}

// Section renders the output as the market_research_context payload section.
// An output without signals renders as nil so the section is omitted.
func (o BuildOutput) Section() map[string]any {
	if len(o.Chunks) == 0 {
		return nil
	}
	signals := make([]map[string]any, 0, len(o.Chunks))
	for _, chunk := range o.Chunks {
		signals = append(signals, map[string]any{
			"source": chunk.Source,
			"signal": chunk.Text,
		})
	}
	section := map[string]any{"signals": signals}
	if len(o.Themes) > 0 {
		section["themes"] = append([]string(nil), o.Themes...)
	}
	return section
}

type cachedBuild struct {
	output    BuildOutput
	expiresAt time.Time
}

type Builder struct {
	retriever Retriever

	cacheMu    sync.RWMutex
	cache      map[uint64]cachedBuild
	cacheTTL   time.Duration
	cacheLimit int
}

func NewBuilder(retriever Retriever) *Builder {
	return &Builder{
		retriever:  retriever,
		cache:      make(map[uint64]cachedBuild),
		cacheTTL:   90 * time.Second,
		cacheLimit: 256,
	}
}

func (b *Builder) Build(ctx context.Context, input BuildInput) (BuildOutput, error) {
	if b.retriever == nil {
		return BuildOutput{}, fmt.Errorf("retriever is required")
	}
	input = normalizeBuildInput(input)

	cacheKey, cacheable := buildCacheKey(input)
	if cacheable {
		if cached, ok := b.cacheGet(cacheKey); ok {
			return cloneBuildOutput(cached), nil
		}
	}

	chunks, err := b.retriever.Retrieve(ctx, RetrievalInput{Input: input.Input, FragmentLimit: input.MaxChunks * 3})
	if err != nil {
		return BuildOutput{}, err
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score == chunks[j].Score {
			return chunks[i].ID < chunks[j].ID
		}
		return chunks[i].Score > chunks[j].Score
	})

	selected := make([]Chunk, 0, len(chunks))
	totalTokens := 0
	themeSeen := make(map[string]struct{})
	themesFound := make([]string, 0)
	for _, chunk := range chunks {
		estimatedTokens := estimateTokens(chunk.Text)
		if estimatedTokens <= 0 || totalTokens+estimatedTokens > input.MaxInputTokens {
			continue
		}
		selected = append(selected, chunk)
		totalTokens += estimatedTokens
		for _, theme := range matchThemes(chunk.Text) {
			if _, exists := themeSeen[theme]; !exists {
				themeSeen[theme] = struct{}{}
				themesFound = append(themesFound, theme)
			}
		}
		if len(selected) >= input.MaxChunks {
			break
		}
	}

	output := BuildOutput{Chunks: selected, Themes: themesFound, TokenCount: totalTokens}
	if cacheable {
		b.cachePut(cacheKey, output)
	}
	return cloneBuildOutput(output), nil
}

func normalizeBuildInput(input BuildInput) BuildInput {
	if input.MaxInputTokens <= 0 {
		input.MaxInputTokens = defaultMaxInputTokens
	}
	if input.MaxChunks <= 0 {
		input.MaxChunks = defaultMaxChunks
	}
	return input
}

func buildCacheKey(input BuildInput) (uint64, bool) {
	encoded, err := json.Marshal(input.Input)
	if err != nil {
		return 0, false
	}
	hash := fnv.New64a()
	_, _ = hash.Write([]byte(fmt.Sprintf("%d|%d", input.MaxInputTokens, input.MaxChunks)))
	_, _ = hash.Write([]byte{0})
	_, _ = hash.Write(encoded)
	return hash.Sum64(), true
}

func (b *Builder) cacheGet(key uint64) (BuildOutput, bool) {
	b.cacheMu.RLock()
	entry, exists := b.cache[key]
	b.cacheMu.RUnlock()
	if !exists {
		return BuildOutput{}, false
	}
	if time.Now().After(entry.expiresAt) {
		b.cacheMu.Lock()
		delete(b.cache, key)
		b.cacheMu.Unlock()
		return BuildOutput{}, false
	}
	return entry.output, true
}

func (b *Builder) cachePut(key uint64, output BuildOutput) {
	if b.cacheLimit <= 0 {
		return
	}

	now := time.Now()
	entry := cachedBuild{
		output:    cloneBuildOutput(output),
		expiresAt: now.Add(b.cacheTTL),
	}

	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	if len(b.cache) >= b.cacheLimit {
		for cacheKey, cacheEntry := range b.cache {
			if now.After(cacheEntry.expiresAt) {
				delete(b.cache, cacheKey)
			}
		}
	}
	if len(b.cache) >= b.cacheLimit {
		var (
			oldestKey uint64
			oldestTS  time.Time
			first     = true
		)
		for cacheKey, cacheEntry := range b.cache {
			if first || cacheEntry.expiresAt.Before(oldestTS) {
				first = false
				oldestKey = cacheKey
				oldestTS = cacheEntry.expiresAt
			}
		}
		if !first {
			delete(b.cache, oldestKey)
		}
	}
	b.cache[key] = entry
}

func cloneBuildOutput(value BuildOutput) BuildOutput {
	return BuildOutput{
		Chunks:     append([]Chunk(nil), value.Chunks...),
		Themes:     append([]string(nil), value.Themes...),
		TokenCount: value.TokenCount,
	}
}

func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	count := len([]rune(trimmed)) / 4
	if count < 1 {
		count = 1
	}
	return count
}
