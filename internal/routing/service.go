package routing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/events"
	"github.com/fyrsmithlabs/brokerd/internal/experiment"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// maxAlternatives bounds how many runner-up brokers a response carries.
const maxAlternatives = 3

// Fallback decisions carry fixed low score and confidence so they are
// easy to spot in the audit trail.
const (
	fallbackScore      = 50.0
	fallbackConfidence = 30.0
)

// batchRateLimit caps batch routing throughput to protect the store.
const batchRateLimit = rate.Limit(50)

// Service makes routing decisions. It is the top-level entry point of the
// subsystem; everything else hangs off it.
//
// Dependencies are injected at construction and held by reference; the
// service itself carries no per-request state and is safe for concurrent
// use.
type Service struct {
	brokers     store.BrokerStore
	decisions   store.DecisionStore
	metricStore store.MetricsStore
	scorer      *Scorer
	tracker     *capacity.Tracker
	experiments *experiment.Engine
	probe       experiment.Probe
	publisher   events.Publisher
	metrics     *Metrics
	logger      *zap.Logger
	limiter     *rate.Limiter

	defaultStrategy domain.Strategy
}

// ServiceOption customizes the routing service.
type ServiceOption func(*Service)

// WithBatchRateLimit overrides the batch routing throughput ceiling,
// in decisions per second.
func WithBatchRateLimit(perSecond float64) ServiceOption {
	return func(s *Service) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithDefaultStrategy sets the named weight profile used for leads
// outside any experiment. Unknown names are ignored.
func WithDefaultStrategy(name string) ServiceOption {
	return func(s *Service) {
		if strategy, ok := StrategyByName(name); ok {
			s.defaultStrategy = strategy
		}
	}
}

// NewService wires the routing decision service.
func NewService(
	stores *store.Stores,
	scorer *Scorer,
	tracker *capacity.Tracker,
	experiments *experiment.Engine,
	probe experiment.Probe,
	publisher events.Publisher,
	metrics *Metrics,
	logger *zap.Logger,
	opts ...ServiceOption,
) *Service {
	if probe == nil {
		probe = experiment.NewRatioProbe(0.1, nil)
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		brokers:     stores.Brokers,
		decisions:   stores.Decisions,
		metricStore: stores.Metrics,
		scorer:      scorer,
		tracker:     tracker,
		experiments: experiments,
		probe:       probe,
		publisher:   publisher,
		metrics:     metrics,
		logger:      logger,
		limiter:     rate.NewLimiter(batchRateLimit, 1),

		defaultStrategy: DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Decide routes one lead. It returns an error only when the candidate
// pool is empty; every other failure degrades to the fallback path so
// routing always produces an assignment.
func (s *Service) Decide(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	candidates, err := s.brokers.List(ctx, req.ExcludeBrokers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingFailure, err)
	}
	if len(candidates) == 0 {
		return nil, ErrNoAvailableBrokers
	}

	resp, err := s.decide(ctx, req, candidates)
	if err != nil {
		s.logger.Warn("routing degraded to fallback",
			zap.String("lead_id", req.Lead.ID),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.RecordFallback(ctx, fallbackReason(err))
		}
		resp = s.fallback(ctx, req, candidates, err)
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(ctx, resp.Method, resp.Strategy, resp.Score, time.Since(start))
	}
	return resp, nil
}

// decide is the scored path: steps 2-9 of the decision flow.
func (s *Service) decide(ctx context.Context, req *Request, candidates []*domain.Broker) (*Response, error) {
	lead := req.Lead
	if len(req.RequireSpecialties) > 0 {
		// Required specialties join the lead's own types for matching.
		merged := *lead
		merged.InsuranceTypes = append(append([]string{}, lead.InsuranceTypes...), req.RequireSpecialties...)
		lead = &merged
	}

	exp, arm, err := s.resolveExperiment(ctx, req)
	if err != nil {
		return nil, err
	}

	strategy := s.defaultStrategy
	if exp != nil {
		strategy = resolveStrategy(exp, arm)
	}

	scores, err := s.scorer.ScoreAll(ctx, lead, candidates, strategy, arm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingFailure, err)
	}

	eligible := scores[:0:0]
	for _, bs := range scores {
		if bs.LoadPercent >= domain.RoutingLoadCutoff {
			continue
		}
		eligible = append(eligible, bs)
	}
	if len(eligible) == 0 {
		return nil, ErrNoCapacityAvailable
	}

	winner := eligible[0]

	m, err := s.metricStore.Get(ctx, winner.Broker.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: loading winner metrics: %v", ErrRoutingFailure, err)
	}
	predicted := predictPerformance(m, req.Lead)

	decision := &domain.RoutingDecision{
		ID:           uuid.NewString(),
		LeadID:       req.Lead.ID,
		BrokerID:     winner.Broker.ID,
		TotalScore:   winner.Total,
		Confidence:   winner.Confidence,
		Method:       domain.MethodScoreBased,
		Strategy:     strategy.Name,
		Alternatives: alternativeIDs(eligible),
		Predicted:    predicted,
		CreatedAt:    time.Now(),
	}
	if exp != nil {
		decision.ExperimentID = exp.ID
		decision.ExperimentArm = arm
	}

	if err := s.decisions.Create(ctx, decision); err != nil {
		return nil, fmt.Errorf("%w: persisting decision: %v", ErrRoutingFailure, err)
	}

	if err := s.tracker.Assign(ctx, winner.Broker.ID, req.Lead.ID, req.Lead.EstimatedValue); err != nil {
		return nil, fmt.Errorf("%w: assigning capacity: %v", ErrRoutingFailure, err)
	}

	if err := s.publisher.PublishDecision(ctx, decision); err != nil {
		s.logger.Warn("decision event publish failed",
			zap.String("decision_id", decision.ID),
			zap.Error(err))
	}

	resp := &Response{
		DecisionID:   decision.ID,
		LeadID:       req.Lead.ID,
		BrokerID:     winner.Broker.ID,
		Score:        winner.Total,
		Confidence:   winner.Confidence,
		Method:       domain.MethodScoreBased,
		Strategy:     strategy.Name,
		Reasoning:    reasoning(winner, strategy),
		Alternatives: alternatives(eligible),
		Predicted:    predicted,
	}
	if exp != nil {
		resp.ExperimentID = exp.ID
		resp.ExperimentArm = arm
	}
	return resp, nil
}

// resolveExperiment finds the experiment context for a request. An
// explicit experiment id takes precedence; otherwise active experiments
// are probed for eligibility through the configured probe strategy.
func (s *Service) resolveExperiment(ctx context.Context, req *Request) (*domain.Experiment, domain.Arm, error) {
	if req.ExperimentID != "" {
		exp, err := s.experiments.Get(ctx, req.ExperimentID)
		if err != nil {
			return nil, "", err
		}
		if exp.Status != domain.ExperimentActive {
			return nil, "", nil
		}
		assignment, err := s.experiments.AssignArm(ctx, exp, req.Lead)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrRoutingFailure, err)
		}
		return exp, assignment.Arm, nil
	}

	active, err := s.experiments.ListActive(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("%w: listing experiments: %v", ErrRoutingFailure, err)
	}
	for _, exp := range active {
		if !s.probe.ShouldProbe(ctx, exp, req.Lead) {
			continue
		}
		ok, err := s.experiments.Eligible(ctx, exp, req.Lead)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrRoutingFailure, err)
		}
		if !ok {
			continue
		}
		assignment, err := s.experiments.AssignArm(ctx, exp, req.Lead)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrRoutingFailure, err)
		}
		return exp, assignment.Arm, nil
	}
	return nil, "", nil
}

// fallback is the availability backstop: uniform-random selection among
// the candidates with fixed low score and confidence. It never fails;
// persistence and capacity assignment are best-effort here.
func (s *Service) fallback(ctx context.Context, req *Request, candidates []*domain.Broker, cause error) *Response {
	// Prefer brokers under the load cutoff; when none qualify (or load is
	// unknown) fall back to the full pool so an assignment still happens.
	pool := []*domain.Broker{}
	for _, b := range candidates {
		c, err := s.tracker.Get(ctx, b.ID)
		if err == nil && c != nil && c.LoadPercent >= domain.RoutingLoadCutoff {
			continue
		}
		pool = append(pool, b)
	}
	if len(pool) == 0 {
		pool = candidates
	}
	chosen := pool[rand.IntN(len(pool))]

	decision := &domain.RoutingDecision{
		ID:             uuid.NewString(),
		LeadID:         req.Lead.ID,
		BrokerID:       chosen.ID,
		TotalScore:     fallbackScore,
		Confidence:     fallbackConfidence,
		Method:         domain.MethodFallback,
		Strategy:       s.defaultStrategy.Name,
		Alternatives:   []string{},
		FallbackReason: fallbackReason(cause),
		CreatedAt:      time.Now(),
	}
	if err := s.decisions.Create(ctx, decision); err != nil {
		s.logger.Warn("failed to persist fallback decision",
			zap.String("lead_id", req.Lead.ID),
			zap.Error(err))
	}
	if err := s.tracker.Assign(ctx, chosen.ID, req.Lead.ID, req.Lead.EstimatedValue); err != nil {
		s.logger.Warn("failed to assign capacity on fallback",
			zap.String("broker_id", chosen.ID),
			zap.Error(err))
	}
	if err := s.publisher.PublishDecision(ctx, decision); err != nil {
		s.logger.Warn("fallback decision event publish failed", zap.Error(err))
	}

	return &Response{
		DecisionID:     decision.ID,
		LeadID:         req.Lead.ID,
		BrokerID:       chosen.ID,
		Score:          fallbackScore,
		Confidence:     fallbackConfidence,
		Method:         domain.MethodFallback,
		Strategy:       s.defaultStrategy.Name,
		Reasoning:      []string{"fallback routing: " + fallbackReason(cause)},
		Alternatives:   []Alternative{},
		FallbackReason: fallbackReason(cause),
	}
}

// BatchDecide routes a batch sequentially. Per-item failures are logged
// and skipped; partial results are returned. A rate limiter paces the
// batch so it cannot starve interactive traffic.
func (s *Service) BatchDecide(ctx context.Context, reqs []*Request) []*Response {
	out := make([]*Response, 0, len(reqs))
	for _, req := range reqs {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Warn("batch routing aborted", zap.Error(err))
			break
		}
		resp, err := s.Decide(ctx, req)
		if err != nil {
			s.logger.Warn("batch item failed",
				zap.String("lead_id", req.Lead.ID),
				zap.Error(err))
			continue
		}
		out = append(out, resp)
	}
	return out
}

// reasoning renders the top contributing factors as human-readable lines.
func reasoning(bs BrokerScore, strategy domain.Strategy) []string {
	type contribution struct {
		name  string
		value float64
	}
	w := strategy.Weights
	contribs := []contribution{
		{"specialty match", bs.Factors.Specialty * w.Specialty},
		{"historical performance", bs.Factors.Performance * w.Performance},
		{"available capacity", bs.Factors.Capacity * w.Capacity},
		{"geographic proximity", bs.Factors.Proximity * w.Proximity},
		{"experiment treatment", bs.Factors.Experiment * w.Experiment},
	}
	// Stable selection of the top three contributors.
	for i := 1; i < len(contribs); i++ {
		for j := i; j > 0 && contribs[j].value > contribs[j-1].value; j-- {
			contribs[j], contribs[j-1] = contribs[j-1], contribs[j]
		}
	}

	lines := make([]string, 0, 3)
	for _, c := range contribs[:3] {
		if c.value <= 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s contributed %.1f points", c.name, c.value))
	}
	if len(lines) == 0 {
		lines = append(lines, "no factor contributed meaningfully; selection by ordering")
	}
	return lines
}

func alternatives(scores []BrokerScore) []Alternative {
	out := []Alternative{}
	for _, bs := range scores[1:] {
		if len(out) == maxAlternatives {
			break
		}
		out = append(out, Alternative{BrokerID: bs.Broker.ID, Score: bs.Total})
	}
	return out
}

func alternativeIDs(scores []BrokerScore) []string {
	out := []string{}
	for _, a := range alternatives(scores) {
		out = append(out, a.BrokerID)
	}
	return out
}

// fallbackReason maps an error onto a short stable label for metrics and
// the audit record.
func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrNoCapacityAvailable):
		return "no_capacity"
	case errors.Is(err, experiment.ErrExperimentNotFound):
		return "experiment_not_found"
	default:
		return "internal_error"
	}
}
