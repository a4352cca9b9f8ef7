package ai

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"example.com/click/backend/internal/models"
)

const (
	expenseShare         = 0.70
	investmentShareLimit = 0.20
	minEmergencyMonths   = 3
	maxEmergencyMonths   = 6
)

type allocation struct {
	fund    string
	percent float64
}

type riskTable struct {
	growth      models.ProjectedGrowth
	returns     models.ExpectedReturn
	volatility  float64
	allocations []allocation
}

var riskTables = map[models.RiskProfile]riskTable{
	models.RiskConservative: {
		growth:     models.ProjectedGrowth{OneYear: 4.5, FiveYear: 18.2, TenYear: 35.7},
		returns:    models.ExpectedReturn{Min: 3.5, Max: 5.5},
		volatility: 0.3,
		allocations: []allocation{
			{fund: "VTI", percent: 45},
			{fund: "SCHD", percent: 25},
			{fund: "XLP", percent: 15},
			{fund: "VXUS", percent: 15},
		},
	},
	models.RiskModerate: {
		growth:     models.ProjectedGrowth{OneYear: 6.5, FiveYear: 28.4, TenYear: 62.3},
		returns:    models.ExpectedReturn{Min: 5.5, Max: 8.0},
		volatility: 0.5,
		allocations: []allocation{
			{fund: "VTI", percent: 55},
			{fund: "VYM", percent: 15},
			{fund: "VUG", percent: 15},
			{fund: "VXUS", percent: 15},
		},
	},
	models.RiskAggressive: {
		growth:     models.ProjectedGrowth{OneYear: 9.2, FiveYear: 42.6, TenYear: 95.4},
		returns:    models.ExpectedReturn{Min: 7.5, Max: 12.0},
		volatility: 0.8,
		allocations: []allocation{
			{fund: "VTI", percent: 50},
			{fund: "VUG", percent: 20},
			{fund: "XLK", percent: 15},
			{fund: "VWO", percent: 15},
		},
	},
}

var riskOrder = []models.RiskProfile{models.RiskConservative, models.RiskModerate, models.RiskAggressive}

// Fallback строит демонстрационный прогноз без обращения к сети. Функция не возвращает ошибок.
func Fallback(profile models.UserProfile, now time.Time) models.PredictionResult {
	profile = profile.Normalize()

	table, ok := riskTables[profile.RiskProfile]
	submitted := profile.RiskProfile
	if !ok {
		submitted = models.RiskModerate
		table = riskTables[submitted]
	}

	monthly := profile.MonthlyInvestment()
	ratio := 0.0
	if profile.MonthlySalary > 0 {
		ratio = monthly / profile.MonthlySalary
	}

	warnings := make([]string, 0)
	if ratio > investmentShareLimit {
		warnings = append(warnings, fmt.Sprintf(
			"Monthly investment of %s is %.1f%% of monthly salary, above the recommended 20%%.",
			formatMoney(monthly), ratio*100,
		))
	}

	expenses := profile.MonthlySalary * expenseShare
	emergency := analyzeEmergency(profile, expenses)
	warnings = append(warnings, emergency.warnings...)

	adjusted, adjustments := adjustRisk(submitted, profile, ratio, emergency)
	if adjusted != submitted {
		warnings = append(warnings, fmt.Sprintf("Risk profile adjusted from %s to %s: %s.", submitted, adjusted, strings.Join(adjustments, "; ")))
	}

	suggestions := make([]string, 0, len(table.allocations))
	for _, item := range table.allocations {
		suggestions = append(suggestions, fmt.Sprintf("%s to %s", formatMoney(monthly*item.percent/100), item.fund))
	}

	reasoning := []string{
		fmt.Sprintf("Monthly salary: %s.", formatMoney(profile.MonthlySalary)),
		fmt.Sprintf("Monthly expenses (70%% of salary): %s.", formatMoney(expenses)),
		fmt.Sprintf("Required emergency fund (3-6 months expenses): %s-%s.",
			formatMoney(expenses*minEmergencyMonths), formatMoney(expenses*maxEmergencyMonths)),
	}
	if profile.EmergencyNeeds != nil {
		reasoning = append(reasoning, fmt.Sprintf("Current emergency fund: %s.", formatMoney(*profile.EmergencyNeeds)))
	}
	reasoning = append(reasoning, fmt.Sprintf("Monthly investment amount: %s (%.1f%% of monthly salary).", formatMoney(monthly), ratio*100))
	if len(adjustments) > 0 {
		reasoning = append(reasoning, "Risk adjustments: "+strings.Join(adjustments, "; ")+".")
	} else {
		reasoning = append(reasoning, "No risk adjustments were required.")
	}

	return models.PredictionResult{
		ProjectedGrowth: table.growth,
		ExpectedReturn:  table.returns,
		RiskMetrics: models.RiskMetrics{
			VolatilityScore:  table.volatility,
			OriginalProfile:  string(submitted),
			AdjustedProfile:  string(adjusted),
			AgeConsideration: ageConsideration(profile.Age),
		},
		Suggestions: suggestions,
		Warnings:    warnings,
		Notes: fmt.Sprintf(
			"Click's AI prepared demo projections for a %s profile investing %s per month. Figures are illustrative and not live market advice.",
			submitted, formatMoney(monthly),
		),
		Reasoning:   strings.Join(reasoning, " "),
		GrowthModel: defaultGrowthModel(),
		IsDemo:      true,
		Meta: &models.ResultMeta{
			GeneratedAt: now.UTC(),
			Source:      models.SourceFallback,
		},
	}
}

type emergencyAnalysis struct {
	known    bool
	months   float64
	warnings []string
}

func analyzeEmergency(profile models.UserProfile, expenses float64) emergencyAnalysis {
	if profile.EmergencyNeeds == nil || expenses <= 0 {
		return emergencyAnalysis{}
	}

	fund := *profile.EmergencyNeeds
	analysis := emergencyAnalysis{known: true, months: fund / expenses}
	if analysis.months < minEmergencyMonths {
		analysis.warnings = append(analysis.warnings, fmt.Sprintf(
			"Emergency fund of %s covers %.1f months of expenses; Click recommends %s-%s.",
			formatMoney(fund), analysis.months,
			formatMoney(expenses*minEmergencyMonths), formatMoney(expenses*maxEmergencyMonths),
		))
	}

	return analysis
}

func adjustRisk(submitted models.RiskProfile, profile models.UserProfile, ratio float64, emergency emergencyAnalysis) (models.RiskProfile, []string) {
	level := riskLevel(submitted)
	reasons := make([]string, 0)

	if emergency.known && emergency.months < 1 {
		return models.RiskConservative, append(reasons, "emergency fund below one month of expenses")
	}

	if emergency.known && emergency.months < minEmergencyMonths {
		level--
		reasons = append(reasons, "emergency fund below three months of expenses")
	}

	if ratio > investmentShareLimit {
		level--
		reasons = append(reasons, "monthly investment above 20% of salary")
	}

	limited := profile.EmploymentStatus == models.EmploymentStudent || profile.EmploymentStatus == models.EmploymentPartTime
	if limited && profile.LiquidityNeeds == models.LiquidityHigh && level > riskLevel(models.RiskModerate) {
		level = riskLevel(models.RiskModerate)
		reasons = append(reasons, "high liquidity needs with limited income")
	}

	if level < 0 {
		level = 0
	}

	return riskOrder[level], reasons
}

func riskLevel(profile models.RiskProfile) int {
	for i, candidate := range riskOrder {
		if candidate == profile {
			return i
		}
	}

	return 1
}

func ageConsideration(age int) string {
	switch {
	case age <= 0:
		return ""
	case age < 35:
		return "Long investment horizon allows recovery from market downturns."
	case age < 55:
		return "Mid-career horizon balances growth with gradual risk reduction."
	default:
		return "Shorter horizon favors capital preservation and income."
	}
}

func defaultGrowthModel() *models.GrowthModel {
	return &models.GrowthModel{
		Description: "Investment growth model based on the risk profile and historical market conditions.",
		Assumptions: []string{
			"Market conditions remain relatively stable",
			"Regular investment contributions as planned",
			"Risk profile remains consistent",
		},
		Factors: []string{
			"Current market trends",
			"Historical volatility",
			"Economic indicators",
		},
		Methodology: "Calculations factor in compound interest, market volatility, and risk adjustments.",
	}
}

// formatMoney форматирует сумму как $1,234.56.
func formatMoney(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}

	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}

	fixed := strconv.FormatFloat(math.Round(value*100)/100, 'f', 2, 64)
	whole, fraction, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}

	return sign + "$" + grouped.String() + "." + fraction
}
