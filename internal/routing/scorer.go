// Package routing scores candidate brokers for a lead and orchestrates
// the full routing decision: experiment resolution, scoring, capacity
// filtering, selection, prediction, persistence, and capacity assignment.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/performance"
	"github.com/fyrsmithlabs/brokerd/internal/specialty"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// Capacity sub-score blend: free capacity vs processing speed.
const (
	freeCapacityWeight = 0.7
	speedWeight        = 0.3
)

// Confidence bounds. Confidence is a heuristic proxy for decision
// robustness derived from score variance, not a statistical interval.
const (
	minConfidence = 50.0
	maxConfidence = 100.0
)

// FactorScores are the raw per-factor scores, each in [0,100].
type FactorScores struct {
	Specialty   float64 `json:"specialty"`
	Performance float64 `json:"performance"`
	Capacity    float64 `json:"capacity"`
	Proximity   float64 `json:"proximity"`
	Experiment  float64 `json:"experiment"`
}

// BrokerScore is one candidate's full scoring result.
type BrokerScore struct {
	Broker      *domain.Broker `json:"broker"`
	Factors     FactorScores   `json:"factors"`
	Total       float64        `json:"total"`
	Confidence  float64        `json:"confidence"`
	LoadPercent float64        `json:"load_percent"`
}

// Scorer computes weighted broker scores for a lead under a strategy.
type Scorer struct {
	matcher *specialty.Matcher
	metrics store.MetricsStore
	tracker *capacity.Tracker
	logger  *zap.Logger
}

// NewScorer wires a scorer over its factor providers.
func NewScorer(matcher *specialty.Matcher, metrics store.MetricsStore, tracker *capacity.Tracker, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{
		matcher: matcher,
		metrics: metrics,
		tracker: tracker,
		logger:  logger,
	}
}

// ScoreAll scores every candidate broker for the lead. arm is the lead's
// experiment arm, or empty when no experiment applies. The result is
// sorted by total score descending; equal scores keep input order.
func (s *Scorer) ScoreAll(ctx context.Context, lead *domain.Lead, brokers []*domain.Broker, strategy domain.Strategy, arm domain.Arm) ([]BrokerScore, error) {
	scores := make([]BrokerScore, 0, len(brokers))
	for _, b := range brokers {
		bs, err := s.scoreOne(ctx, lead, b, strategy, arm)
		if err != nil {
			return nil, fmt.Errorf("scoring broker %s: %w", b.ID, err)
		}
		scores = append(scores, bs)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Total > scores[j].Total
	})
	return scores, nil
}

func (s *Scorer) scoreOne(ctx context.Context, lead *domain.Lead, broker *domain.Broker, strategy domain.Strategy, arm domain.Arm) (BrokerScore, error) {
	f := FactorScores{
		Specialty:  s.matcher.Score(ctx, lead, broker),
		Proximity:  proximityScore(lead, broker),
		Experiment: experimentScore(arm),
	}

	m, err := s.metrics.Get(ctx, broker.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return BrokerScore{}, fmt.Errorf("loading metrics: %w", err)
	}
	f.Performance = performance.Score(m) // nil metrics scores 0

	bc, err := s.tracker.Get(ctx, broker.ID)
	if err != nil {
		return BrokerScore{}, fmt.Errorf("loading capacity: %w", err)
	}
	f.Capacity = capacityScore(bc)

	w := strategy.Weights
	contributions := [5]float64{
		f.Specialty * w.Specialty,
		f.Performance * w.Performance,
		f.Capacity * w.Capacity,
		f.Proximity * w.Proximity,
		f.Experiment * w.Experiment,
	}

	var total float64
	for _, c := range contributions {
		total += c
	}

	bs := BrokerScore{
		Broker:     broker,
		Factors:    f,
		Total:      total,
		Confidence: confidence(contributions),
	}
	if bc != nil {
		bs.LoadPercent = bc.LoadPercent
	}
	return bs, nil
}

// capacityScore blends free headroom with processing speed. A broker with
// no capacity record has full headroom and unknown (treated as instant)
// processing time.
func capacityScore(c *domain.BrokerCapacity) float64 {
	if c == nil {
		return 100
	}

	free := 100 - c.LoadPercent
	if free < 0 {
		free = 0
	}

	speed := 100 - c.AvgProcessingMinutes/10
	if speed < 0 {
		speed = 0
	}

	return free*freeCapacityWeight + speed*speedWeight
}

// proximityScore is a coarse state-equality heuristic, not geo-distance:
// 100 on match, 0 on mismatch, 50 when either side is unknown.
func proximityScore(lead *domain.Lead, broker *domain.Broker) float64 {
	if lead.State == "" || broker.State == "" {
		return 50
	}
	if lead.State == broker.State {
		return 100
	}
	return 0
}

// experimentScore rewards treatment-arm membership.
func experimentScore(arm domain.Arm) float64 {
	if arm == domain.ArmTreatment {
		return 100
	}
	return 0
}

// confidence maps the spread of the weighted contributions onto
// [minConfidence, maxConfidence]: the more evenly the factors contribute,
// the higher the confidence.
func confidence(contributions [5]float64) float64 {
	var mean float64
	for _, c := range contributions {
		mean += c
	}
	mean /= float64(len(contributions))

	var variance float64
	for _, c := range contributions {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(contributions))

	conf := maxConfidence - math.Sqrt(variance)
	if conf < minConfidence {
		conf = minConfidence
	}
	if conf > maxConfidence {
		conf = maxConfidence
	}
	return conf
}
