// Package experiment manages routing-strategy A/B tests: lifecycle
// transitions, lead eligibility, arm assignment, and statistical analysis
// of arm outcomes.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/events"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// MinSampleSize is the per-arm floor below which analysis is forced to
// inconclusive regardless of p-value.
const MinSampleSize = 100

// Package errors.
var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrInvalidTransition  = errors.New("invalid experiment status transition")
	ErrInvalidConfig      = errors.New("invalid experiment configuration")
)

// Sampler supplies the uniform draws behind arm assignment and the
// eligibility probe. Injected so tests can pin outcomes.
type Sampler interface {
	Float64() float64
}

// randSampler draws from math/rand/v2's shared generator.
type randSampler struct{}

func (randSampler) Float64() float64 { return rand.Float64() }

// NewRandomSampler returns the production sampler.
func NewRandomSampler() Sampler { return randSampler{} }

// Engine coordinates experiment state and assignments.
type Engine struct {
	store     store.ExperimentStore
	sampler   Sampler
	publisher events.Publisher
	logger    *zap.Logger
}

// EngineOption customizes the experiment engine.
type EngineOption func(*Engine)

// WithPublisher sets the event publisher notified on every status
// transition. Defaults to a no-op.
func WithPublisher(p events.Publisher) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// NewEngine creates an experiment engine. sampler may be nil to use the
// default random source.
func NewEngine(st store.ExperimentStore, sampler Sampler, logger *zap.Logger, opts ...EngineOption) *Engine {
	if sampler == nil {
		sampler = NewRandomSampler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{store: st, sampler: sampler, publisher: events.NopPublisher{}, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create validates and persists a new experiment in draft status.
func (e *Engine) Create(ctx context.Context, exp *domain.Experiment) error {
	if exp.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if exp.TrafficAllocation < 0 || exp.TrafficAllocation > 1 {
		return fmt.Errorf("%w: traffic allocation must be in [0,1], got %g",
			ErrInvalidConfig, exp.TrafficAllocation)
	}
	if exp.ConfidenceLevel <= 0 || exp.ConfidenceLevel >= 1 {
		return fmt.Errorf("%w: confidence level must be in (0,1), got %g",
			ErrInvalidConfig, exp.ConfidenceLevel)
	}

	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	exp.Status = domain.ExperimentDraft
	exp.CreatedAt = time.Now()

	if err := e.store.Create(ctx, exp); err != nil {
		return fmt.Errorf("creating experiment: %w", err)
	}
	e.logger.Info("experiment created",
		zap.String("experiment_id", exp.ID),
		zap.String("name", exp.Name))
	return nil
}

// Get returns the experiment or ErrExperimentNotFound.
func (e *Engine) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	exp, err := e.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrExperimentNotFound, id)
	}
	return exp, err
}

// ListActive returns all experiments currently accepting assignments.
func (e *Engine) ListActive(ctx context.Context) ([]*domain.Experiment, error) {
	return e.store.ListByStatus(ctx, domain.ExperimentActive)
}

// validTransitions is the experiment lifecycle state machine.
var validTransitions = map[domain.ExperimentStatus][]domain.ExperimentStatus{
	domain.ExperimentDraft:  {domain.ExperimentActive},
	domain.ExperimentActive: {domain.ExperimentPaused, domain.ExperimentCompleted, domain.ExperimentRolledBack},
	domain.ExperimentPaused: {domain.ExperimentActive, domain.ExperimentCompleted, domain.ExperimentRolledBack},
}

// Transition moves the experiment to the given status: draft -> active ->
// {paused <-> active, completed, rolled_back}. Terminal states reject all
// further transitions.
func (e *Engine) Transition(ctx context.Context, id string, to domain.ExperimentStatus) (*domain.Experiment, error) {
	exp, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, s := range validTransitions[exp.Status] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, exp.Status, to)
	}

	exp.Status = to
	if to.Terminal() {
		now := time.Now()
		exp.CompletedAt = &now
	}
	if err := e.store.Update(ctx, exp); err != nil {
		return nil, fmt.Errorf("updating experiment: %w", err)
	}

	e.logger.Info("experiment transitioned",
		zap.String("experiment_id", id),
		zap.String("status", string(to)))
	if err := e.publisher.PublishExperiment(ctx, exp); err != nil {
		e.logger.Warn("experiment event not published",
			zap.String("experiment_id", id),
			zap.Error(err))
	}
	return exp, nil
}

// Eligible reports whether the lead qualifies for the experiment: active
// status, every segment rule satisfied, and no prior assignment recorded.
func (e *Engine) Eligible(ctx context.Context, exp *domain.Experiment, lead *domain.Lead) (bool, error) {
	if exp.Status != domain.ExperimentActive {
		return false, nil
	}
	if !exp.Segment.Matches(lead) {
		return false, nil
	}

	_, err := e.store.GetAssignment(ctx, exp.ID, lead.ID)
	if err == nil {
		return false, nil // already assigned
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("checking prior assignment: %w", err)
	}
	return true, nil
}

// AssignArm returns the lead's arm for the experiment. An existing
// persisted assignment always wins; otherwise one Bernoulli draw against
// the traffic allocation decides (below the threshold lands in treatment)
// and the result is persisted. The draw is per-call randomness; only the
// first persisted record is authoritative.
func (e *Engine) AssignArm(ctx context.Context, exp *domain.Experiment, lead *domain.Lead) (*domain.ExperimentAssignment, error) {
	existing, err := e.store.GetAssignment(ctx, exp.ID, lead.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking prior assignment: %w", err)
	}

	arm := domain.ArmControl
	if e.sampler.Float64() < exp.TrafficAllocation {
		arm = domain.ArmTreatment
	}

	assignment := &domain.ExperimentAssignment{
		ExperimentID: exp.ID,
		LeadID:       lead.ID,
		Arm:          arm,
		AssignedAt:   time.Now(),
	}
	err = e.store.CreateAssignment(ctx, assignment)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Lost a race; the persisted record wins.
		return e.store.GetAssignment(ctx, exp.ID, lead.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("recording assignment: %w", err)
	}

	exp.SampleSize++
	if err := e.store.Update(ctx, exp); err != nil {
		e.logger.Warn("failed to bump sample size",
			zap.String("experiment_id", exp.ID),
			zap.Error(err))
	}
	return assignment, nil
}

// RecordConversion flags the lead's assignment as converted for analysis.
func (e *Engine) RecordConversion(ctx context.Context, experimentID, leadID string) error {
	err := e.store.MarkConverted(ctx, experimentID, leadID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: no assignment for lead %s", ErrExperimentNotFound, leadID)
	}
	return err
}

// ArmStats summarizes one experiment arm.
type ArmStats struct {
	Size           int     `json:"size"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"` // percent
}

// AnalysisResult is the outcome of a statistical analysis pass.
type AnalysisResult struct {
	ExperimentID   string     `json:"experiment_id"`
	Control        ArmStats   `json:"control"`
	Treatment      ArmStats   `json:"treatment"`
	Test           TestResult `json:"test"`
	Winner         string     `json:"winner"`
	ImprovementPct float64    `json:"improvement_pct"`
	AutoCompleted  bool       `json:"auto_completed"`
}

// armStats aggregates the experiment's assignments into per-arm counts
// and runs the z-test when both arms meet the sample floor.
func (e *Engine) armStats(ctx context.Context, exp *domain.Experiment) (*AnalysisResult, error) {
	assignments, err := e.store.ListAssignments(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}

	result := &AnalysisResult{ExperimentID: exp.ID, Winner: domain.WinnerInconclusive}
	for _, a := range assignments {
		arm := &result.Control
		if a.Arm == domain.ArmTreatment {
			arm = &result.Treatment
		}
		arm.Size++
		if a.Converted {
			arm.Conversions++
		}
	}
	if result.Control.Size > 0 {
		result.Control.ConversionRate = float64(result.Control.Conversions) / float64(result.Control.Size) * 100
	}
	if result.Treatment.Size > 0 {
		result.Treatment.ConversionRate = float64(result.Treatment.Conversions) / float64(result.Treatment.Size) * 100
	}

	if result.Control.Size >= MinSampleSize && result.Treatment.Size >= MinSampleSize {
		result.Test = TwoProportionZTest(
			result.Control.Conversions, result.Control.Size,
			result.Treatment.Conversions, result.Treatment.Size,
			1-exp.ConfidenceLevel)
	}
	return result, nil
}

// Results summarizes the experiment's arms without mutating anything.
// Winner and improvement reflect the last recorded analysis.
func (e *Engine) Results(ctx context.Context, id string) (*AnalysisResult, error) {
	exp, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := e.armStats(ctx, exp)
	if err != nil {
		return nil, err
	}
	if exp.Winner != "" {
		result.Winner = exp.Winner
		result.ImprovementPct = exp.ImprovementPct
	}
	return result, nil
}

// Analyze runs the two-proportion z-test on the experiment's arms.
//
// Below MinSampleSize in either arm the result is forced inconclusive.
// When significance is reached with both arms at or above the floor, the
// winner and improvement are recorded and the experiment auto-completes.
func (e *Engine) Analyze(ctx context.Context, id string) (*AnalysisResult, error) {
	exp, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := e.armStats(ctx, exp)
	if err != nil {
		return nil, err
	}

	if result.Control.Size < MinSampleSize || result.Treatment.Size < MinSampleSize {
		// Not enough data in one of the arms; p-value is irrelevant.
		return result, nil
	}

	if !result.Test.Significant {
		return result, nil
	}

	if result.Treatment.ConversionRate > result.Control.ConversionRate {
		result.Winner = string(domain.ArmTreatment)
	} else {
		result.Winner = string(domain.ArmControl)
	}
	if result.Control.ConversionRate > 0 {
		result.ImprovementPct = (result.Treatment.ConversionRate - result.Control.ConversionRate) /
			result.Control.ConversionRate * 100
	}

	exp.Winner = result.Winner
	exp.ImprovementPct = result.ImprovementPct
	if !exp.Status.Terminal() {
		exp.Status = domain.ExperimentCompleted
		now := time.Now()
		exp.CompletedAt = &now
		result.AutoCompleted = true
	}
	if err := e.store.Update(ctx, exp); err != nil {
		return nil, fmt.Errorf("recording analysis: %w", err)
	}

	e.logger.Info("experiment analyzed",
		zap.String("experiment_id", id),
		zap.String("winner", result.Winner),
		zap.Float64("p_value", result.Test.PValue),
		zap.Bool("auto_completed", result.AutoCompleted))
	if result.AutoCompleted {
		if err := e.publisher.PublishExperiment(ctx, exp); err != nil {
			e.logger.Warn("experiment event not published",
				zap.String("experiment_id", id),
				zap.Error(err))
		}
	}
	return result, nil
}
