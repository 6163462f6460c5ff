package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/specialty"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

func newTestScorer(t *testing.T) (*Scorer, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	tracker := capacity.NewTracker(stores.Capacity, stores.Assignments, zap.NewNop())
	matcher := specialty.NewMatcher(nil, zap.NewNop())
	return NewScorer(matcher, stores.Metrics, tracker, zap.NewNop()), stores
}

func TestScoreAll(t *testing.T) {
	ctx := context.Background()

	t.Run("balanced weights compose the documented total", func(t *testing.T) {
		scorer, stores := newTestScorer(t)

		// Factor targets: specialty 90, performance 40, capacity 80,
		// proximity 50, experiment 0.
		lead := &domain.Lead{
			ID: "l1",
			InsuranceTypes: []string{
				"auto", "home", "life", "health", "commercial",
				"marine", "travel", "pet", "cyber", "flood",
			},
		}
		broker := &domain.Broker{
			ID: "b1",
			Specialties: []string{
				"auto", "home", "life", "health", "commercial",
				"marine", "travel", "pet", "cyber",
			},
		}
		require.NoError(t, stores.Metrics.Put(ctx, &domain.BrokerMetrics{
			BrokerID:       "b1",
			ConversionRate: 80,
		}))
		bc := &domain.BrokerCapacity{
			BrokerID:             "b1",
			ActiveLeads:          2,
			MaxCapacity:          10,
			AvgProcessingMinutes: 200,
		}
		bc.Recompute()
		require.NoError(t, stores.Capacity.Put(ctx, bc))

		strategy, ok := StrategyByName("balanced")
		require.True(t, ok)

		scores, err := scorer.ScoreAll(ctx, lead, []*domain.Broker{broker}, strategy, "")
		require.NoError(t, err)
		require.Len(t, scores, 1)

		bs := scores[0]
		assert.InDelta(t, 90.0, bs.Factors.Specialty, 0.001)
		assert.InDelta(t, 40.0, bs.Factors.Performance, 0.001)
		assert.InDelta(t, 80.0, bs.Factors.Capacity, 0.001)
		assert.InDelta(t, 50.0, bs.Factors.Proximity, 0.001)
		assert.Zero(t, bs.Factors.Experiment)

		// 90*0.35 + 40*0.30 + 80*0.20 + 50*0.10 + 0*0.05
		assert.InDelta(t, 64.5, bs.Total, 0.001)
		assert.InDelta(t, 20.0, bs.LoadPercent, 0.001)
	})

	t.Run("sorts descending and keeps input order on ties", func(t *testing.T) {
		scorer, stores := newTestScorer(t)

		lead := &domain.Lead{ID: "l1"}
		brokers := []*domain.Broker{
			{ID: "low"}, {ID: "tie-a"}, {ID: "high"}, {ID: "tie-b"},
		}
		for id, conv := range map[string]float64{"low": 10, "tie-a": 50, "high": 90, "tie-b": 50} {
			require.NoError(t, stores.Metrics.Put(ctx, &domain.BrokerMetrics{
				BrokerID:       id,
				ConversionRate: conv,
			}))
		}

		scores, err := scorer.ScoreAll(ctx, lead, brokers, DefaultStrategy(), "")
		require.NoError(t, err)
		require.Len(t, scores, 4)
		assert.Equal(t, "high", scores[0].Broker.ID)
		assert.Equal(t, "tie-a", scores[1].Broker.ID)
		assert.Equal(t, "tie-b", scores[2].Broker.ID)
		assert.Equal(t, "low", scores[3].Broker.ID)
	})

	t.Run("missing metrics and capacity use neutral defaults", func(t *testing.T) {
		scorer, _ := newTestScorer(t)

		lead := &domain.Lead{ID: "l1"}
		scores, err := scorer.ScoreAll(ctx, lead, []*domain.Broker{{ID: "fresh"}}, DefaultStrategy(), "")
		require.NoError(t, err)
		require.Len(t, scores, 1)

		bs := scores[0]
		assert.InDelta(t, specialty.NeutralScore, bs.Factors.Specialty, 0.001)
		assert.Zero(t, bs.Factors.Performance)
		assert.InDelta(t, 100.0, bs.Factors.Capacity, 0.001) // no record: full headroom
		assert.Zero(t, bs.LoadPercent)
	})

	t.Run("treatment arm earns the experiment factor", func(t *testing.T) {
		scorer, _ := newTestScorer(t)

		lead := &domain.Lead{ID: "l1"}
		broker := []*domain.Broker{{ID: "b1"}}

		control, err := scorer.ScoreAll(ctx, lead, broker, DefaultStrategy(), domain.ArmControl)
		require.NoError(t, err)
		treatment, err := scorer.ScoreAll(ctx, lead, broker, DefaultStrategy(), domain.ArmTreatment)
		require.NoError(t, err)

		assert.Zero(t, control[0].Factors.Experiment)
		assert.InDelta(t, 100.0, treatment[0].Factors.Experiment, 0.001)
		assert.Greater(t, treatment[0].Total, control[0].Total)
	})
}

func TestProximityScore(t *testing.T) {
	tests := []struct {
		name        string
		leadState   string
		brokerState string
		want        float64
	}{
		{"same state", "CA", "CA", 100},
		{"different state", "CA", "NY", 0},
		{"lead state unknown", "", "CA", 50},
		{"broker state unknown", "CA", "", 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lead := &domain.Lead{State: tt.leadState}
			broker := &domain.Broker{State: tt.brokerState}
			assert.Equal(t, tt.want, proximityScore(lead, broker))
		})
	}
}

func TestCapacityScore(t *testing.T) {
	t.Run("nil record scores full headroom", func(t *testing.T) {
		assert.InDelta(t, 100.0, capacityScore(nil), 0.001)
	})

	t.Run("blends headroom and speed", func(t *testing.T) {
		c := &domain.BrokerCapacity{ActiveLeads: 5, MaxCapacity: 10, AvgProcessingMinutes: 500}
		c.Recompute()
		// 50*0.7 + 50*0.3 = 50
		assert.InDelta(t, 50.0, capacityScore(c), 0.001)
	})

	t.Run("floors negative speed at zero", func(t *testing.T) {
		c := &domain.BrokerCapacity{ActiveLeads: 0, MaxCapacity: 10, AvgProcessingMinutes: 2000}
		c.Recompute()
		assert.InDelta(t, 70.0, capacityScore(c), 0.001)
	})
}

func TestConfidence(t *testing.T) {
	t.Run("even contributions approach max", func(t *testing.T) {
		assert.InDelta(t, maxConfidence, confidence([5]float64{20, 20, 20, 20, 20}), 0.001)
	})

	t.Run("uneven contributions lose confidence", func(t *testing.T) {
		even := confidence([5]float64{20, 20, 20, 20, 20})
		uneven := confidence([5]float64{90, 5, 2, 2, 1})
		assert.Less(t, uneven, even)
	})

	t.Run("never drops below the floor", func(t *testing.T) {
		got := confidence([5]float64{500, 0, 0, 0, 0})
		assert.GreaterOrEqual(t, got, minConfidence)
	})
}
