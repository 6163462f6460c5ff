package domain

import "time"

// ExperimentStatus is the lifecycle state of a routing experiment.
//
// Transitions: draft -> active -> {paused <-> active, completed, rolled_back}.
// completed and rolled_back are terminal.
type ExperimentStatus string

const (
	ExperimentDraft      ExperimentStatus = "draft"
	ExperimentActive     ExperimentStatus = "active"
	ExperimentPaused     ExperimentStatus = "paused"
	ExperimentCompleted  ExperimentStatus = "completed"
	ExperimentRolledBack ExperimentStatus = "rolled_back"
)

// Terminal reports whether no further transitions are allowed.
func (s ExperimentStatus) Terminal() bool {
	return s == ExperimentCompleted || s == ExperimentRolledBack
}

// Arm identifies the experiment group a lead was assigned to.
type Arm string

const (
	ArmControl   Arm = "control"
	ArmTreatment Arm = "treatment"
)

// WinnerInconclusive is reported when analysis cannot declare a winner.
const WinnerInconclusive = "inconclusive"

// StrategyWeights is the weight vector a routing strategy applies to the
// five scoring factors. Weights conceptually sum to 1.0 but this is not
// enforced.
type StrategyWeights struct {
	Specialty   float64 `json:"specialty"`
	Performance float64 `json:"performance"`
	Capacity    float64 `json:"capacity"`
	Proximity   float64 `json:"proximity"`
	Experiment  float64 `json:"experiment"`
}

// Strategy is a named weight profile used to score candidate brokers.
type Strategy struct {
	Name    string          `json:"name"`
	Weights StrategyWeights `json:"weights"`
}

// SegmentRules restrict which leads are eligible for an experiment.
// An empty field means no constraint on that attribute.
type SegmentRules struct {
	InsuranceTypes []string  `json:"insurance_types,omitempty"`
	Urgencies      []Urgency `json:"urgencies,omitempty"`
	States         []string  `json:"states,omitempty"`
}

// Matches reports whether the lead satisfies every configured rule.
func (r SegmentRules) Matches(lead *Lead) bool {
	if len(r.InsuranceTypes) > 0 && !intersects(r.InsuranceTypes, lead.InsuranceTypes) {
		return false
	}
	if len(r.Urgencies) > 0 {
		found := false
		for _, u := range r.Urgencies {
			if u == lead.Urgency {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.States) > 0 {
		found := false
		for _, s := range r.States {
			if s == lead.State {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// Experiment is an A/B test of routing strategies. Created once; mutated
// only by sample-size increments and status transitions. Immutable once
// completed except for the analysis fields.
type Experiment struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	Status            ExperimentStatus `json:"status"`
	Control           Strategy         `json:"control"`
	Treatment         Strategy         `json:"treatment"`
	Segment           SegmentRules     `json:"segment"`
	TrafficAllocation float64          `json:"traffic_allocation"` // fraction of eligible leads sent to treatment
	ConfidenceLevel   float64          `json:"confidence_level"`   // e.g. 0.99
	TargetSampleSize  int              `json:"target_sample_size"`
	SampleSize        int              `json:"sample_size"`
	Winner            string           `json:"winner,omitempty"`
	ImprovementPct    float64          `json:"improvement_pct,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
}

// ExperimentAssignment records which arm a lead landed in. The first
// persisted assignment for a (experiment, lead) pair is authoritative.
type ExperimentAssignment struct {
	ExperimentID string    `json:"experiment_id"`
	LeadID       string    `json:"lead_id"`
	Arm          Arm       `json:"arm"`
	Converted    bool      `json:"converted"`
	AssignedAt   time.Time `json:"assigned_at"`
}
