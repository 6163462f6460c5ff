package routing

import "github.com/fyrsmithlabs/brokerd/internal/domain"

// DefaultStrategyName is used when no experiment context applies.
const DefaultStrategyName = "balanced"

// builtinStrategies are the five predefined weight profiles. Weights
// conceptually sum to 1.0; this is not enforced.
var builtinStrategies = map[string]domain.Strategy{
	"balanced": {
		Name: "balanced",
		Weights: domain.StrategyWeights{
			Specialty: 0.35, Performance: 0.30, Capacity: 0.20, Proximity: 0.10, Experiment: 0.05,
		},
	},
	"performance": {
		Name: "performance",
		Weights: domain.StrategyWeights{
			Specialty: 0.15, Performance: 0.60, Capacity: 0.15, Proximity: 0.05, Experiment: 0.05,
		},
	},
	"specialty": {
		Name: "specialty",
		Weights: domain.StrategyWeights{
			Specialty: 0.60, Performance: 0.15, Capacity: 0.15, Proximity: 0.05, Experiment: 0.05,
		},
	},
	"capacity": {
		Name: "capacity",
		Weights: domain.StrategyWeights{
			Specialty: 0.15, Performance: 0.15, Capacity: 0.55, Proximity: 0.10, Experiment: 0.05,
		},
	},
	"experiment": {
		Name: "experiment",
		Weights: domain.StrategyWeights{
			Specialty: 0.25, Performance: 0.25, Capacity: 0.20, Proximity: 0.10, Experiment: 0.20,
		},
	},
}

// StrategyByName returns a predefined strategy profile.
func StrategyByName(name string) (domain.Strategy, bool) {
	s, ok := builtinStrategies[name]
	return s, ok
}

// DefaultStrategy returns the balanced profile.
func DefaultStrategy() domain.Strategy {
	return builtinStrategies[DefaultStrategyName]
}

// resolveStrategy picks the weight profile for a decision. A lead inside
// an experiment uses its arm's strategy; everything else uses balanced.
// Experiments that carry an empty strategy definition fall back to
// balanced as well.
func resolveStrategy(exp *domain.Experiment, arm domain.Arm) domain.Strategy {
	if exp == nil {
		return DefaultStrategy()
	}

	var s domain.Strategy
	switch arm {
	case domain.ArmTreatment:
		s = exp.Treatment
	case domain.ArmControl:
		s = exp.Control
	default:
		return DefaultStrategy()
	}

	if s.Weights == (domain.StrategyWeights{}) {
		if named, ok := StrategyByName(s.Name); ok {
			return named
		}
		return DefaultStrategy()
	}
	return s
}
