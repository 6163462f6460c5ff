// Package domain defines the core entities of the broker routing system.
//
// Entities here are shared across the scoring, capacity, experiment, and
// persistence layers. They carry no behavior beyond derived-field helpers;
// all mutation goes through the owning service.
package domain

import "time"

// SLAThresholdMinutes is the service-level window for completing an
// assignment. Assignments finished within it count toward SLA compliance.
const SLAThresholdMinutes = 240

// Urgency classifies how quickly a lead must be handled.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Multiplier returns the scaling factor applied to predicted performance
// for leads of this urgency. Unknown urgencies scale neutrally.
func (u Urgency) Multiplier() float64 {
	switch u {
	case UrgencyLow:
		return 0.8
	case UrgencyHigh:
		return 1.2
	case UrgencyCritical:
		return 1.5
	default:
		return 1.0
	}
}

// Broker is an agent to which leads are routed. Brokers are managed by
// external agent-management flows and are read-only to this subsystem.
type Broker struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Specialties []string `json:"specialties"`
	State       string   `json:"state"`
}

// Lead is an inbound prospective customer record to be matched to a broker.
type Lead struct {
	ID             string   `json:"id"`
	InsuranceTypes []string `json:"insurance_types"`
	Urgency        Urgency  `json:"urgency"`
	State          string   `json:"state"`
	Complexity     float64  `json:"complexity"` // 0..10
	EstimatedValue float64  `json:"estimated_value"`
}

// BrokerMetrics is a periodically recomputed snapshot of a broker's
// performance over the trailing 30-day assignment window. Staleness is
// tolerated; routing reads the snapshot, never raw history.
type BrokerMetrics struct {
	BrokerID             string    `json:"broker_id"`
	ConversionRate       float64   `json:"conversion_rate"` // percent, 0..100
	AvgLeadValue         float64   `json:"avg_lead_value"`
	AvgProcessingMinutes float64   `json:"avg_processing_minutes"`
	SLAComplianceRate    float64   `json:"sla_compliance_rate"` // percent, 0..100
	TotalAssigned        int       `json:"total_assigned"`
	TotalConverted       int       `json:"total_converted"`
	RevenueGenerated     float64   `json:"revenue_generated"`
	AvgResponseMinutes   float64   `json:"avg_response_minutes"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// CapacityStatus classifies a broker's current load band.
type CapacityStatus string

const (
	StatusOverloaded    CapacityStatus = "overloaded"
	StatusUnderutilized CapacityStatus = "underutilized"
	StatusOptimal       CapacityStatus = "optimal"
)

// Load band thresholds, in percent.
const (
	OverloadThreshold      = 85.0
	UnderutilizedThreshold = 50.0
	// RoutingLoadCutoff excludes brokers at or above this load from routing.
	RoutingLoadCutoff = 90.0
)

// BrokerCapacity tracks a broker's active-lead count and derived load.
// Created lazily on first assignment, never deleted.
type BrokerCapacity struct {
	BrokerID             string    `json:"broker_id"`
	ActiveLeads          int       `json:"active_leads"`
	MaxCapacity          int       `json:"max_capacity"`
	LoadPercent          float64   `json:"load_percent"`
	AvgProcessingMinutes float64   `json:"avg_processing_minutes"`
	SLAComplianceRate    float64   `json:"sla_compliance_rate"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Recompute refreshes the derived load percentage. Must be called after
// every mutation of ActiveLeads or MaxCapacity.
func (c *BrokerCapacity) Recompute() {
	if c.MaxCapacity <= 0 {
		c.LoadPercent = 0
		return
	}
	c.LoadPercent = float64(c.ActiveLeads) / float64(c.MaxCapacity) * 100
}

// Status returns the load band for the current load percentage.
func (c *BrokerCapacity) Status() CapacityStatus {
	switch {
	case c.LoadPercent > OverloadThreshold:
		return StatusOverloaded
	case c.LoadPercent < UnderutilizedThreshold:
		return StatusUnderutilized
	default:
		return StatusOptimal
	}
}

// Outcome is the terminal state of a lead assignment.
type Outcome string

const (
	OutcomeConverted Outcome = "converted"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExpired   Outcome = "expired"
)

// AssignmentStatus is the lifecycle state of a LeadAssignment.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentConverted AssignmentStatus = "converted"
	AssignmentRejected  AssignmentStatus = "rejected"
	AssignmentExpired   AssignmentStatus = "expired"
)

// LeadAssignment is one historical lead-to-broker assignment. Metrics
// recomputation and load rebalancing read these records.
type LeadAssignment struct {
	ID                string           `json:"id"`
	LeadID            string           `json:"lead_id"`
	BrokerID          string           `json:"broker_id"`
	Status            AssignmentStatus `json:"status"`
	LeadValue         float64          `json:"lead_value"`
	AssignedAt        time.Time        `json:"assigned_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty"`
	ProcessingMinutes float64          `json:"processing_minutes"`
	ResponseMinutes   float64          `json:"response_minutes"`
}

// PredictedPerformance is the expected outcome for a routed lead, scaled
// from the chosen broker's historical metrics.
type PredictedPerformance struct {
	ConversionRate    float64 `json:"conversion_rate"`
	ProcessingMinutes float64 `json:"processing_minutes"`
	Revenue           float64 `json:"revenue"`
}

// RoutingMethod distinguishes a scored decision from the degraded path.
type RoutingMethod string

const (
	MethodScoreBased RoutingMethod = "score_based"
	MethodFallback   RoutingMethod = "fallback"
)

// RoutingDecision is the append-only audit record of one routing outcome.
// Write-once; never updated after creation.
type RoutingDecision struct {
	ID             string               `json:"id"`
	LeadID         string               `json:"lead_id"`
	BrokerID       string               `json:"broker_id"`
	TotalScore     float64              `json:"total_score"`
	Confidence     float64              `json:"confidence"`
	Method         RoutingMethod        `json:"method"`
	Strategy       string               `json:"strategy"`
	Alternatives   []string             `json:"alternatives"`
	Predicted      PredictedPerformance `json:"predicted"`
	ExperimentID   string               `json:"experiment_id,omitempty"`
	ExperimentArm  Arm                  `json:"experiment_arm,omitempty"`
	FallbackReason string               `json:"fallback_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}
