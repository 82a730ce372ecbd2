package prompt

import "github.com/iago/treasury-bizcase-back/internal/domain"

type schemaField struct {
	Name string
	Type string
	Enum []string
	Note string
}

type schemaSection struct {
	Key         string
	Description string
	Fields      []schemaField
}

// businessCaseSchema is the field-by-field contract rendered into the system prompt.
var businessCaseSchema = []schemaSection{
	{
		Key:         domain.SectionExecutiveSummary,
		Description: "decision summary for executives",
		Fields: []schemaField{
			{Name: "headline", Type: "string"},
			{Name: "recommendation", Type: "string", Enum: []string{"proceed", "proceed_with_conditions", "defer"}},
			{Name: "confidence_level", Type: "string", Enum: []string{"high", "medium", "low"}},
			{Name: "key_benefits", Type: "array of string"},
			{Name: "expected_roi_percent", Type: "number"},
			{Name: "payback_period_months", Type: "number"},
		},
	},
	{
		Key:         domain.SectionCompanyIntelligence,
		Description: "profile of the company and its treasury function",
		Fields: []schemaField{
			{Name: "company_name", Type: "string"},
			{Name: "industry", Type: "string"},
			{Name: "treasury_maturity", Type: "string", Enum: []string{"basic", "developing", "strategic", "optimized"}},
			{Name: "complexity_drivers", Type: "array of string"},
		},
	},
	{
		Key:         domain.SectionOperationalInsights,
		Description: "current-state operational findings",
		Fields: []schemaField{
			{Name: "current_state", Type: "string"},
			{Name: "manual_effort_hours_per_month", Type: "number"},
			{Name: "process_gaps", Type: "array of string"},
			{Name: "automation_opportunities", Type: "array of string"},
		},
	},
	{
		Key:         domain.SectionRiskAnalysis,
		Description: "risks of acting and of not acting",
		Fields: []schemaField{
			{Name: "overall_risk_level", Type: "string", Enum: []string{"low", "medium", "high"}},
			{Name: "implementation_risks", Type: "array of object", Note: "each with risk, likelihood, mitigation"},
			{Name: "cost_of_inaction", Type: "string"},
		},
	},
	{
		Key:         domain.SectionActionPlan,
		Description: "phased implementation plan",
		Fields: []schemaField{
			{Name: "phases", Type: "array of object", Note: "each with name, duration_weeks, activities"},
			{Name: "quick_wins", Type: "array of string"},
			{Name: "success_metrics", Type: "array of string"},
		},
	},
	{
		Key:         domain.SectionFinancialBenchmarks,
		Description: "peer and industry comparison",
		Fields: []schemaField{
			{Name: "industry_average_roi_percent", Type: "number"},
			{Name: "peer_comparison", Type: "string"},
			{Name: "cost_per_transaction", Type: "number"},
		},
	},
	{
		Key:         domain.SectionTechnologyStrategy,
		Description: "target technology category and vendor approach",
		Fields: []schemaField{
			{Name: "recommended_category", Type: "string", Enum: []string{"trms", "tms_lite", "cash_tools", "erp_module"}},
			{Name: "rationale", Type: "string"},
			{Name: "integration_requirements", Type: "array of string"},
			{Name: "vendor_considerations", Type: "array of string"},
		},
	},
	{
		Key:         domain.SectionFinancialAnalysis,
		Description: "ROI scenarios and investment",
		Fields: []schemaField{
			{Name: "annual_benefit", Type: "number"},
			{Name: "investment_required", Type: "number"},
			{Name: "scenarios", Type: "object", Note: "keys conservative, base, optimistic each with total_annual_benefit and roi_percent"},
			{Name: "npv_three_years", Type: "number"},
		},
	},
}
