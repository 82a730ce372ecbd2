package ai

import "strings"

type TaskKind string

const (
	TaskBusinessCase TaskKind = "business_case"
	TaskEnrichment   TaskKind = "enrichment"
)

// ModelProfile carries the per-task model parameters sent with a request.
type ModelProfile struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	JSONMode        bool
}

type ModelRouterConfig struct {
	BusinessCaseModel string
	EnrichmentModel   string
	Temperature       float64
	MaxOutputTokens   int
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.BusinessCaseModel) == "" {
		config.BusinessCaseModel = "openai/gpt-4.1"
	}
	if strings.TrimSpace(config.EnrichmentModel) == "" {
		config.EnrichmentModel = config.BusinessCaseModel
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.2
	}
	if config.MaxOutputTokens <= 0 {
		config.MaxOutputTokens = 8000
	}
	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskEnrichment:
		return ModelProfile{
			Model:           r.config.EnrichmentModel,
			Temperature:     r.config.Temperature,
			MaxOutputTokens: min(r.config.MaxOutputTokens, 2000),
			JSONMode:        true,
		}
	default:
		return ModelProfile{
			Model:           r.config.BusinessCaseModel,
			Temperature:     r.config.Temperature,
			MaxOutputTokens: r.config.MaxOutputTokens,
			JSONMode:        true,
		}
	}
}
