package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iago/treasury-bizcase-back/internal/ai"
	"github.com/iago/treasury-bizcase-back/internal/cache"
	contextbuilder "github.com/iago/treasury-bizcase-back/internal/context"
	"github.com/iago/treasury-bizcase-back/internal/domain"
	"github.com/iago/treasury-bizcase-back/internal/jobs"
	"github.com/iago/treasury-bizcase-back/internal/prompt"
	"github.com/iago/treasury-bizcase-back/internal/quality"
)

const enrichmentInstruction = "You are a treasury research analyst. Given the company profile, return only a JSON object " +
	"with the keys industry_context and peer_practices, each an object of short factual statements."

// StructuredGenerator runs a validated LLM exchange.
type StructuredGenerator interface {
	Run(ctx context.Context, messages []ai.Message, profile ai.ModelProfile, contract quality.Contract) (quality.Result, error)
}

type BusinessCaseDependencies struct {
	Router      *ai.ModelRouter
	Prompt      *prompt.Builder
	Generator   StructuredGenerator
	Research    *contextbuilder.Builder
	Cache       *cache.ResultCache
	Scenarios   ScenarioCalculator
	Recommender Recommender
	// EnrichWithLLM asks the enrichment model for industry context before
	// the main generation. Failures there never fail the job.
	EnrichWithLLM bool
	Logger        *log.Logger
	Now           func() time.Time
}

type BusinessCaseService struct {
	router        *ai.ModelRouter
	prompt        *prompt.Builder
	generator     StructuredGenerator
	research      *contextbuilder.Builder
	cache         *cache.ResultCache
	scenarios     ScenarioCalculator
	recommender   Recommender
	enrichWithLLM bool
	logger        *log.Logger
	now           func() time.Time
}

func NewBusinessCaseService(deps BusinessCaseDependencies) (*BusinessCaseService, error) {
	if deps.Generator == nil {
		return nil, errors.New("structured generator is required")
	}
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if deps.Prompt == nil {
		builder, err := prompt.NewBuilder(prompt.BuilderConfig{})
		if err != nil {
			return nil, fmt.Errorf("build prompt: %w", err)
		}
		deps.Prompt = builder
	}
	if deps.Research == nil {
		deps.Research = contextbuilder.NewBuilder(contextbuilder.NewInputRetriever())
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewResultCache(cache.Config{})
	}
	if deps.Scenarios == nil {
		deps.Scenarios = FactSheet{}
	}
	if deps.Recommender == nil {
		deps.Recommender = FactSheet{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &BusinessCaseService{
		router:        deps.Router,
		prompt:        deps.Prompt,
		generator:     deps.Generator,
		research:      deps.Research,
		cache:         deps.Cache,
		scenarios:     deps.Scenarios,
		recommender:   deps.Recommender,
		enrichWithLLM: deps.EnrichWithLLM,
		logger:        deps.Logger,
		now:           deps.Now,
	}, nil
}

// Generate runs the whole pipeline synchronously.
func (s *BusinessCaseService) Generate(ctx context.Context, input domain.BusinessCaseInput) (map[string]any, error) {
	return s.Analyze(ctx, input, nil)
}

// Runner adapts the pipeline to the job tracker.
func (s *BusinessCaseService) Runner() jobs.Runner {
	return func(ctx context.Context, raw json.RawMessage, progress jobs.ProgressFunc) (map[string]any, error) {
		input, err := DecodeInput(raw)
		if err != nil {
			return nil, err
		}
		return s.Analyze(ctx, input, progress)
	}
}

// Analyze gathers the payload sections stage by stage, reporting each
// milestone, then asks the model for the validated business case.
func (s *BusinessCaseService) Analyze(ctx context.Context, input domain.BusinessCaseInput, progress jobs.ProgressFunc) (map[string]any, error) {
	if progress == nil {
		progress = func(context.Context, jobs.Milestone, map[string]any) {}
	}
	sections := prompt.Sections{}

	company := companyIntelligence(input)
	if s.enrichWithLLM {
		if enrichment := s.enrich(ctx, company); len(enrichment) > 0 {
			company["enrichment"] = enrichment
		}
	}
	sections[prompt.SectionCompanyIntelligence] = company
	progress(ctx, jobs.MilestoneEnrichment, map[string]any{prompt.SectionCompanyIntelligence: company})

	financial, err := s.scenarios.Calculate(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("calculate scenarios: %w", err)
	}
	sections[prompt.SectionFinancialAnalysis] = financial
	progress(ctx, jobs.MilestoneROICalculation, map[string]any{prompt.SectionFinancialAnalysis: financial})

	technology, err := s.recommender.Recommend(ctx, input, financial)
	if err != nil {
		return nil, fmt.Errorf("recommend technology: %w", err)
	}
	sections[prompt.SectionTechnologyRecommendations] = technology
	progress(ctx, jobs.MilestoneRecommendation, map[string]any{prompt.SectionTechnologyRecommendations: technology})

	var researchPartial map[string]any
	research, err := s.research.Build(ctx, contextbuilder.BuildInput{Input: input})
	if err != nil {
		s.logf("market research context failed company=%q err=%v", input.CompanyName, err)
	} else if section := research.Section(); section != nil {
		sections[prompt.SectionMarketResearchContext] = section
		researchPartial = map[string]any{prompt.SectionMarketResearchContext: section}
	}
	progress(ctx, jobs.MilestoneRetrievalAnalysis, researchPartial)

	if len(input.AnalysisRequirements) > 0 {
		sections[prompt.SectionAnalysisRequirements] = input.AnalysisRequirements
	}
	progress(ctx, jobs.MilestoneStructuring, nil)

	return s.structure(ctx, sections)
}

func (s *BusinessCaseService) structure(ctx context.Context, sections prompt.Sections) (map[string]any, error) {
	contract := quality.BusinessCaseContract()
	profile := s.router.Select(ai.TaskBusinessCase)
	messages := s.prompt.Build(sections)

	signature := cache.BuildSignature(contract.Name, profile.Model, messages[0].Content, messages[1].Content)
	if cached, ok := s.cache.Get(signature); ok {
		var payload map[string]any
		if err := json.Unmarshal(cached.Value, &payload); err == nil {
			payload["generation"] = map[string]any{
				"model":        cached.Model,
				"cache_hit":    true,
				"generated_at": cached.CreatedAt,
			}
			return payload, nil
		}
	}

	result, err := s.generator.Run(ctx, messages, profile, contract)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(result.Payload); err == nil {
		s.cache.Set(signature, cache.Entry{Value: encoded, Model: result.Model, Contract: contract.Name})
	}

	payload := result.Payload
	payload["generation"] = map[string]any{
		"model":         result.Model,
		"attempts":      result.Attempts,
		"truncated":     result.Truncated,
		"output_tokens": result.Usage.OutputTokens,
		"cache_hit":     false,
		"generated_at":  s.now().UTC(),
	}
	return payload, nil
}

func (s *BusinessCaseService) enrich(ctx context.Context, company map[string]any) map[string]any {
	profile, err := json.Marshal(company)
	if err != nil {
		return nil
	}
	result, err := s.generator.Run(ctx, []ai.Message{
		{Role: ai.RoleSystem, Content: enrichmentInstruction},
		{Role: ai.RoleUser, Content: string(profile)},
	}, s.router.Select(ai.TaskEnrichment), quality.Contract{Name: "company_enrichment", Sanitize: true})
	if err != nil {
		s.logf("company enrichment skipped err=%v", err)
		return nil
	}
	return result.Payload
}

func (s *BusinessCaseService) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
