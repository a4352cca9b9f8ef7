package models

import (
	"strings"
	"time"
)

type EmploymentStatus string

type DepositFrequency string

type RiskProfile string

type SpendingHabits string

type LiquidityNeeds string

type SymbolType string

type ResultSource string

const (
	EmploymentFullTime     EmploymentStatus = "full-time"
	EmploymentPartTime     EmploymentStatus = "part-time"
	EmploymentSelfEmployed EmploymentStatus = "self-employed"
	EmploymentStudent      EmploymentStatus = "student"

	FrequencyWeekly  DepositFrequency = "weekly"
	FrequencyMonthly DepositFrequency = "monthly"
	FrequencyYearly  DepositFrequency = "yearly"
	FrequencyAdHoc   DepositFrequency = "ad-hoc"

	RiskConservative RiskProfile = "conservative"
	RiskModerate     RiskProfile = "moderate"
	RiskAggressive   RiskProfile = "aggressive"

	SpendingConsistent SpendingHabits = "consistent"
	SpendingVariable   SpendingHabits = "variable"

	LiquidityHigh   LiquidityNeeds = "high"
	LiquidityMedium LiquidityNeeds = "medium"
	LiquidityLow    LiquidityNeeds = "low"

	SymbolStock SymbolType = "stock"
	SymbolETF   SymbolType = "etf"
	SymbolBond  SymbolType = "bond"

	SourceAI       ResultSource = "ai"
	SourceFallback ResultSource = "fallback"
)

// UserProfile is the investor questionnaire submitted for one prediction.
type UserProfile struct {
	Age              int              `json:"age" validate:"required,gte=18,lte=120"`
	MonthlySalary    float64          `json:"monthlySalary" validate:"required,gt=0"`
	EmploymentStatus EmploymentStatus `json:"employmentStatus" validate:"required,oneof=full-time part-time self-employed student"`
	DepositAmount    float64          `json:"depositAmount" validate:"required,gt=0"`
	DepositFrequency DepositFrequency `json:"depositFrequency" validate:"required,oneof=weekly monthly yearly ad-hoc"`
	RiskProfile      RiskProfile      `json:"riskProfile" validate:"required,oneof=conservative moderate aggressive"`
	SpendingHabits   SpendingHabits   `json:"spendingHabits" validate:"required,oneof=consistent variable"`
	LiquidityNeeds   LiquidityNeeds   `json:"liquidityNeeds" validate:"required,oneof=high medium low"`
	EmergencyNeeds   *float64         `json:"emergencyNeeds,omitempty" validate:"omitempty,gte=0"`
}

// Normalize приводит перечисления к каноническому виду ("ad hoc" -> "ad-hoc").
func (p UserProfile) Normalize() UserProfile {
	p.EmploymentStatus = EmploymentStatus(normalizeEnum(string(p.EmploymentStatus)))
	p.DepositFrequency = DepositFrequency(normalizeEnum(string(p.DepositFrequency)))
	p.RiskProfile = RiskProfile(normalizeEnum(string(p.RiskProfile)))
	p.SpendingHabits = SpendingHabits(normalizeEnum(string(p.SpendingHabits)))
	p.LiquidityNeeds = LiquidityNeeds(normalizeEnum(string(p.LiquidityNeeds)))

	return p
}

// MonthlyInvestment пересчитывает взнос в месячный эквивалент.
func (p UserProfile) MonthlyInvestment() float64 {
	switch p.DepositFrequency {
	case FrequencyWeekly:
		return p.DepositAmount * 4.33
	case FrequencyYearly, FrequencyAdHoc:
		return p.DepositAmount / 12
	default:
		return p.DepositAmount
	}
}

func normalizeEnum(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.Join(strings.Fields(value), "-")
}

type ProjectedGrowth struct {
	OneYear  float64 `json:"1yr"`
	FiveYear float64 `json:"5yr"`
	TenYear  float64 `json:"10yr"`
}

type ExpectedReturn struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type RiskMetrics struct {
	VolatilityScore  float64 `json:"volatilityScore"`
	OriginalProfile  string  `json:"originalProfile"`
	AdjustedProfile  string  `json:"adjustedProfile"`
	AgeConsideration string  `json:"ageConsideration,omitempty"`
}

type GrowthModel struct {
	Description string   `json:"description"`
	Assumptions []string `json:"assumptions"`
	Factors     []string `json:"factors"`
	Methodology string   `json:"methodology"`
}

// ResultMeta describes how a result was produced.
type ResultMeta struct {
	RequestID   string       `json:"requestId"`
	Attempts    int          `json:"attempts"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Source      ResultSource `json:"source"`
	Model       string       `json:"model,omitempty"`
}

type PredictionResult struct {
	ProjectedGrowth ProjectedGrowth `json:"projectedGrowth"`
	ExpectedReturn  ExpectedReturn  `json:"expectedReturn"`
	RiskMetrics     RiskMetrics     `json:"riskMetrics"`
	Suggestions     []string        `json:"suggestions"`
	Warnings        []string        `json:"warnings"`
	Notes           string          `json:"notes"`
	Reasoning       string          `json:"reasoning"`
	GrowthModel     *GrowthModel    `json:"growthModel,omitempty"`
	IsDemo          bool            `json:"isDemo"`
	Meta            *ResultMeta     `json:"meta,omitempty"`
}

type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

type AdvisorReply struct {
	Message     string      `json:"message"`
	Suggestions []string    `json:"suggestions"`
	Resources   []Resource  `json:"resources,omitempty"`
	IsDemo      bool        `json:"isDemo"`
	Meta        *ResultMeta `json:"meta,omitempty"`
}

// Quote is one cached market quote.
type Quote struct {
	Symbol        string     `json:"symbol"`
	Type          SymbolType `json:"type"`
	Price         float64    `json:"price"`
	Change        float64    `json:"change"`
	ChangePercent float64    `json:"changePercent"`
	Volume        float64    `json:"volume"`
	High          float64    `json:"high"`
	Low           float64    `json:"low"`
	Open          float64    `json:"open"`
	PreviousClose float64    `json:"previousClose"`
	Timestamp     time.Time  `json:"timestamp"`
}
