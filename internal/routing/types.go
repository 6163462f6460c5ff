package routing

import "github.com/fyrsmithlabs/brokerd/internal/domain"

// Request is the transient input of a single routing decision. Not
// persisted; the audit trail lives in domain.RoutingDecision.
type Request struct {
	Lead               *domain.Lead `json:"lead"`
	ExcludeBrokers     []string     `json:"exclude_brokers,omitempty"`
	RequireSpecialties []string     `json:"require_specialties,omitempty"`
	ExperimentID       string       `json:"experiment_id,omitempty"`
}

// Alternative is a ranked runner-up broker.
type Alternative struct {
	BrokerID string  `json:"broker_id"`
	Score    float64 `json:"score"`
}

// Response is the outcome of one routing decision.
type Response struct {
	DecisionID     string                      `json:"decision_id"`
	LeadID         string                      `json:"lead_id"`
	BrokerID       string                      `json:"broker_id"`
	Score          float64                     `json:"score"`
	Confidence     float64                     `json:"confidence"`
	Method         domain.RoutingMethod        `json:"method"`
	Strategy       string                      `json:"strategy"`
	Reasoning      []string                    `json:"reasoning"`
	Alternatives   []Alternative               `json:"alternatives"`
	Predicted      domain.PredictedPerformance `json:"predicted"`
	ExperimentID   string                      `json:"experiment_id,omitempty"`
	ExperimentArm  domain.Arm                  `json:"experiment_arm,omitempty"`
	FallbackReason string                      `json:"fallback_reason,omitempty"`
}
