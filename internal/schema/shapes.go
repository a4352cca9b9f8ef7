package schema

// Parents must be listed before their children.
var PredictionSchema = Schema{
	Name: "prediction",
	Fields: []Field{
		{Path: "projectedGrowth", Kind: KindObject},
		{Path: "projectedGrowth.1yr", Kind: KindNumber},
		{Path: "projectedGrowth.5yr", Kind: KindNumber},
		{Path: "projectedGrowth.10yr", Kind: KindNumber},
		{Path: "expectedReturn", Kind: KindObject},
		{Path: "expectedReturn.min", Kind: KindNumber},
		{Path: "expectedReturn.max", Kind: KindNumber},
		{Path: "riskMetrics", Kind: KindObject},
		{Path: "riskMetrics.volatilityScore", Kind: KindNumber},
		{Path: "riskMetrics.originalProfile", Kind: KindString},
		{Path: "riskMetrics.adjustedProfile", Kind: KindString},
		{Path: "riskMetrics.ageConsideration", Kind: KindString, Optional: true},
		{Path: "suggestions", Kind: KindArray, Elem: KindString},
		{Path: "warnings", Kind: KindArray, Elem: KindString},
		{Path: "notes", Kind: KindString},
		{Path: "reasoning", Kind: KindString},
		{Path: "growthModel", Kind: KindObject, Optional: true},
		{Path: "growthModel.description", Kind: KindString},
		{Path: "growthModel.assumptions", Kind: KindArray, Elem: KindString},
		{Path: "growthModel.factors", Kind: KindArray, Elem: KindString},
		{Path: "growthModel.methodology", Kind: KindString},
	},
}

var AdvisorSchema = Schema{
	Name: "advisor",
	Fields: []Field{
		{Path: "message", Kind: KindString},
		{Path: "suggestions", Kind: KindArray, Elem: KindString},
		{Path: "resources", Kind: KindArray, Optional: true},
	},
}
