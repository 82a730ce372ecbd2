package domain

// Top-level sections every generated business case must contain.
const (
	SectionExecutiveSummary    = "executive_summary"
	SectionCompanyIntelligence = "company_intelligence"
	SectionOperationalInsights = "operational_insights"
	SectionRiskAnalysis        = "risk_analysis"
	SectionActionPlan          = "action_plan"
	SectionFinancialBenchmarks = "financial_benchmarks"
	SectionTechnologyStrategy  = "technology_strategy"
	SectionFinancialAnalysis   = "financial_analysis"
)

// BusinessCaseSections lists the required sections in report order.
var BusinessCaseSections = []string{
	SectionExecutiveSummary,
	SectionCompanyIntelligence,
	SectionOperationalInsights,
	SectionRiskAnalysis,
	SectionActionPlan,
	SectionFinancialBenchmarks,
	SectionTechnologyStrategy,
	SectionFinancialAnalysis,
}

// BusinessCaseInput is what a caller submits to start a generation.
type BusinessCaseInput struct {
	CompanyName          string         `json:"company_name"`
	Industry             string         `json:"industry,omitempty"`
	Region               string         `json:"region,omitempty"`
	AnnualRevenue        float64        `json:"annual_revenue,omitempty"`
	TreasuryStaff        int            `json:"treasury_staff,omitempty"`
	BankAccounts         int            `json:"bank_accounts,omitempty"`
	Currencies           []string       `json:"currencies,omitempty"`
	PainPoints           []string       `json:"pain_points,omitempty"`
	CurrentSystems       []string       `json:"current_systems,omitempty"`
	Objectives           []string       `json:"objectives,omitempty"`
	Notes                string         `json:"notes,omitempty"`
	AnalysisRequirements []string       `json:"analysis_requirements,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}
