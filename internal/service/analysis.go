package service

import (
	"context"
	"strings"

	"github.com/iago/treasury-bizcase-back/internal/domain"
)

// ScenarioCalculator produces the financial_analysis section. ROI formulas
// live outside this service.
type ScenarioCalculator interface {
	Calculate(ctx context.Context, input domain.BusinessCaseInput) (map[string]any, error)
}

// Recommender produces the technology_recommendations section.
type Recommender interface {
	Recommend(ctx context.Context, input domain.BusinessCaseInput, financial map[string]any) (map[string]any, error)
}

// FactSheet is the fallback for both calculators: it hands the submitted
// figures to the model without deriving any scenario.
type FactSheet struct{}

func (FactSheet) Calculate(_ context.Context, input domain.BusinessCaseInput) (map[string]any, error) {
	return compact(map[string]any{
		"annual_revenue":     input.AnnualRevenue,
		"treasury_staff":     input.TreasuryStaff,
		"bank_accounts":      input.BankAccounts,
		"currencies":         input.Currencies,
		"scenarios_provided": false,
	}), nil
}

func (FactSheet) Recommend(_ context.Context, input domain.BusinessCaseInput, _ map[string]any) (map[string]any, error) {
	return compact(map[string]any{
		"current_systems": input.CurrentSystems,
		"objectives":      input.Objectives,
	}), nil
}

func companyIntelligence(input domain.BusinessCaseInput) map[string]any {
	profile := map[string]any{
		"company_name":    strings.TrimSpace(input.CompanyName),
		"industry":        strings.TrimSpace(input.Industry),
		"region":          strings.TrimSpace(input.Region),
		"annual_revenue":  input.AnnualRevenue,
		"revenue_band":    revenueBand(input.AnnualRevenue),
		"treasury_staff":  input.TreasuryStaff,
		"bank_accounts":   input.BankAccounts,
		"currencies":      input.Currencies,
		"currency_count":  len(input.Currencies),
		"pain_points":     input.PainPoints,
		"current_systems": input.CurrentSystems,
	}
	if len(input.Extra) > 0 {
		profile["additional_context"] = input.Extra
	}
	return compact(profile)
}

func revenueBand(revenue float64) string {
	switch {
	case revenue <= 0:
		return ""
	case revenue < 50_000_000:
		return "small"
	case revenue < 500_000_000:
		return "mid_market"
	case revenue < 5_000_000_000:
		return "large"
	default:
		return "enterprise"
	}
}

// compact drops zero values so the model never sees placeholder fields.
func compact(values map[string]any) map[string]any {
	for key, value := range values {
		switch typed := value.(type) {
		case string:
			if typed == "" {
				delete(values, key)
			}
		case int:
			if typed == 0 {
				delete(values, key)
			}
		case float64:
			if typed == 0 {
				delete(values, key)
			}
		case []string:
			if len(typed) == 0 {
				delete(values, key)
			}
		case map[string]any:
			if len(typed) == 0 {
				delete(values, key)
			}
		}
	}
	return values
}
