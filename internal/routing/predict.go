package routing

import "github.com/fyrsmithlabs/brokerd/internal/domain"

// complexityMultiplier scales predictions by lead complexity (0..10).
// A complexity-5 lead is neutral.
func complexityMultiplier(complexity float64) float64 {
	return 0.5 + complexity/10
}

// predictPerformance scales the broker's historical metrics by the lead's
// urgency and complexity. Urgent leads are expected to convert better
// (they get prioritized handling); complex leads take proportionally
// longer and are worth proportionally more.
func predictPerformance(m *domain.BrokerMetrics, lead *domain.Lead) domain.PredictedPerformance {
	if m == nil {
		return domain.PredictedPerformance{}
	}

	u := lead.Urgency.Multiplier()
	c := complexityMultiplier(lead.Complexity)

	conv := m.ConversionRate * u
	if conv > 100 {
		conv = 100
	}

	return domain.PredictedPerformance{
		ConversionRate:    conv,
		ProcessingMinutes: m.AvgProcessingMinutes * c,
		Revenue:           m.AvgLeadValue * u * c,
	}
}
