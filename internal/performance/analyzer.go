// Package performance computes broker performance scores and the
// aggregates behind the routing analytics endpoints.
//
// Scores are pure functions of the materialized BrokerMetrics snapshot;
// raw assignment history is only touched by the periodic recompute job,
// never on the routing path.
package performance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// MetricsWindow is the trailing window of assignment history the
// recompute job aggregates over.
const MetricsWindow = 30 * 24 * time.Hour

// Score weights for the performance blend.
const (
	conversionWeight = 0.5
	slaWeight        = 0.3
	revenueWeight    = 0.2
)

// Score returns the blended performance score in [0,100]:
// 50% capped conversion rate, 30% SLA compliance, 20% revenue normalized
// by 1000 and capped at 100.
func Score(m *domain.BrokerMetrics) float64 {
	if m == nil {
		return 0
	}
	conv := m.ConversionRate
	if conv > 100 {
		conv = 100
	}
	rev := m.RevenueGenerated / 1000
	if rev > 100 {
		rev = 100
	}
	return conv*conversionWeight + m.SLAComplianceRate*slaWeight + rev*revenueWeight
}

// Analyzer recomputes broker metrics from assignment history and serves
// the analytics aggregates.
type Analyzer struct {
	brokers     store.BrokerStore
	metrics     store.MetricsStore
	capacity    store.CapacityStore
	assignments store.AssignmentStore
	decisions   store.DecisionStore
	logger      *zap.Logger
}

// NewAnalyzer creates an analyzer over the given stores.
func NewAnalyzer(stores *store.Stores, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		brokers:     stores.Brokers,
		metrics:     stores.Metrics,
		capacity:    stores.Capacity,
		assignments: stores.Assignments,
		decisions:   stores.Decisions,
		logger:      logger,
	}
}

// BrokerScore returns the performance score for one broker. Brokers with
// no metrics snapshot score 0.
func (a *Analyzer) BrokerScore(ctx context.Context, brokerID string) (float64, error) {
	m, err := a.metrics.Get(ctx, brokerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return Score(m), nil
}

// RecomputeBrokerMetrics rebuilds one broker's metrics snapshot from the
// trailing 30-day assignment window and stores it.
func (a *Analyzer) RecomputeBrokerMetrics(ctx context.Context, brokerID string) (*domain.BrokerMetrics, error) {
	since := time.Now().Add(-MetricsWindow)
	history, err := a.assignments.ListByBroker(ctx, brokerID, since)
	if err != nil {
		return nil, fmt.Errorf("loading assignment history: %w", err)
	}

	m := aggregate(brokerID, history)
	if err := a.metrics.Put(ctx, m); err != nil {
		return nil, fmt.Errorf("storing metrics: %w", err)
	}
	return m, nil
}

// BulkUpdateAllBrokerMetrics recomputes metrics for every broker. Failures
// for individual brokers are logged and skipped; the first error is
// returned after the full pass so the scheduler can surface it.
func (a *Analyzer) BulkUpdateAllBrokerMetrics(ctx context.Context) error {
	brokers, err := a.brokers.List(ctx, nil)
	if err != nil {
		return fmt.Errorf("listing brokers: %w", err)
	}

	var firstErr error
	for _, b := range brokers {
		if _, err := a.RecomputeBrokerMetrics(ctx, b.ID); err != nil {
			a.logger.Warn("metrics recompute failed",
				zap.String("broker_id", b.ID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// aggregate folds assignment history into a metrics snapshot.
func aggregate(brokerID string, history []*domain.LeadAssignment) *domain.BrokerMetrics {
	m := &domain.BrokerMetrics{
		BrokerID:  brokerID,
		UpdatedAt: time.Now(),
	}

	var (
		completed     int
		responded     int
		withinSLA     int
		totalValue    float64
		totalProcMins float64
		totalRespMins float64
	)

	for _, a := range history {
		m.TotalAssigned++
		totalValue += a.LeadValue
		if a.ResponseMinutes > 0 {
			responded++
			totalRespMins += a.ResponseMinutes
		}

		if a.Status == domain.AssignmentConverted {
			m.TotalConverted++
			m.RevenueGenerated += a.LeadValue
		}
		if a.Status != domain.AssignmentPending {
			completed++
			totalProcMins += a.ProcessingMinutes
			if a.ProcessingMinutes <= domain.SLAThresholdMinutes {
				withinSLA++
			}
		}
	}

	if m.TotalAssigned > 0 {
		m.ConversionRate = float64(m.TotalConverted) / float64(m.TotalAssigned) * 100
		m.AvgLeadValue = totalValue / float64(m.TotalAssigned)
	}
	if responded > 0 {
		m.AvgResponseMinutes = totalRespMins / float64(responded)
	}
	if completed > 0 {
		m.AvgProcessingMinutes = totalProcMins / float64(completed)
		m.SLAComplianceRate = float64(withinSLA) / float64(completed) * 100
	}
	return m
}

// LeaderboardEntry is one row of the broker leaderboard.
type LeaderboardEntry struct {
	BrokerID       string  `json:"broker_id"`
	Score          float64 `json:"score"`
	ConversionRate float64 `json:"conversion_rate"`
	SLACompliance  float64 `json:"sla_compliance"`
	Revenue        float64 `json:"revenue"`
}

// Leaderboard returns the top brokers by performance score, descending.
func (a *Analyzer) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	all, err := a.metrics.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(all))
	for _, m := range all {
		entries = append(entries, LeaderboardEntry{
			BrokerID:       m.BrokerID,
			Score:          Score(m),
			ConversionRate: m.ConversionRate,
			SLACompliance:  m.SLAComplianceRate,
			Revenue:        m.RevenueGenerated,
		})
	}
	// Insertion sort keeps equal scores in broker-id order from List.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Score > entries[j-1].Score; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// CapacityTrends summarizes the load distribution across all brokers.
type CapacityTrends struct {
	Brokers        int     `json:"brokers"`
	Overloaded     int     `json:"overloaded"`
	Underutilized  int     `json:"underutilized"`
	Optimal        int     `json:"optimal"`
	AvgLoadPercent float64 `json:"avg_load_percent"`
	TotalActive    int     `json:"total_active"`
	TotalCapacity  int     `json:"total_capacity"`
}

// CapacityTrendReport builds the load-band distribution report.
func (a *Analyzer) CapacityTrendReport(ctx context.Context) (*CapacityTrends, error) {
	all, err := a.capacity.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing capacity: %w", err)
	}

	t := &CapacityTrends{Brokers: len(all)}
	var totalLoad float64
	for _, c := range all {
		totalLoad += c.LoadPercent
		t.TotalActive += c.ActiveLeads
		t.TotalCapacity += c.MaxCapacity
		switch c.Status() {
		case domain.StatusOverloaded:
			t.Overloaded++
		case domain.StatusUnderutilized:
			t.Underutilized++
		default:
			t.Optimal++
		}
	}
	if len(all) > 0 {
		t.AvgLoadPercent = totalLoad / float64(len(all))
	}
	return t, nil
}

// EfficiencyReport summarizes routing quality over a trailing window.
type EfficiencyReport struct {
	Window        string  `json:"window"`
	Decisions     int     `json:"decisions"`
	ScoreBased    int     `json:"score_based"`
	Fallbacks     int     `json:"fallbacks"`
	FallbackRate  float64 `json:"fallback_rate"` // percent
	AvgScore      float64 `json:"avg_score"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Efficiency reports the decision/fallback split and score averages for
// decisions made within the window.
func (a *Analyzer) Efficiency(ctx context.Context, window time.Duration) (*EfficiencyReport, error) {
	decisions, err := a.decisions.ListSince(ctx, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("listing decisions: %w", err)
	}

	r := &EfficiencyReport{
		Window:    window.String(),
		Decisions: len(decisions),
	}
	var totalScore, totalConf float64
	for _, d := range decisions {
		totalScore += d.TotalScore
		totalConf += d.Confidence
		if d.Method == domain.MethodFallback {
			r.Fallbacks++
		} else {
			r.ScoreBased++
		}
	}
	if len(decisions) > 0 {
		r.FallbackRate = float64(r.Fallbacks) / float64(len(decisions)) * 100
		r.AvgScore = totalScore / float64(len(decisions))
		r.AvgConfidence = totalConf / float64(len(decisions))
	}
	return r, nil
}
