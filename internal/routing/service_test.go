package routing

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/capacity"
	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/events"
	"github.com/fyrsmithlabs/brokerd/internal/experiment"
	"github.com/fyrsmithlabs/brokerd/internal/specialty"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

// capturePublisher records published decisions for assertions.
type capturePublisher struct {
	mu        sync.Mutex
	decisions []*domain.RoutingDecision
}

func (p *capturePublisher) PublishDecision(ctx context.Context, d *domain.RoutingDecision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, d)
	return nil
}

func (p *capturePublisher) PublishExperiment(ctx context.Context, e *domain.Experiment) error {
	return nil
}

var _ events.Publisher = (*capturePublisher)(nil)

type serviceFixture struct {
	service   *Service
	stores    *store.Stores
	tracker   *capacity.Tracker
	engine    *experiment.Engine
	publisher *capturePublisher
}

// fixedSampler pins experiment arm draws.
type fixedSampler struct{ value float64 }

func (s fixedSampler) Float64() float64 { return s.value }

func newServiceFixture(t *testing.T, probe experiment.Probe) *serviceFixture {
	t.Helper()
	stores := store.NewMemoryStores()
	tracker := capacity.NewTracker(stores.Capacity, stores.Assignments, zap.NewNop())
	scorer := newScorerOver(stores, tracker)
	engine := experiment.NewEngine(stores.Experiments, fixedSampler{value: 0.1}, zap.NewNop())
	publisher := &capturePublisher{}

	svc := NewService(stores, scorer, tracker, engine, probe, publisher, nil, zap.NewNop())
	return &serviceFixture{
		service:   svc,
		stores:    stores,
		tracker:   tracker,
		engine:    engine,
		publisher: publisher,
	}
}

func seedBroker(t *testing.T, f *serviceFixture, id string, conversionRate float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.stores.Brokers.Upsert(ctx, &domain.Broker{ID: id, Name: id}))
	require.NoError(t, f.stores.Metrics.Put(ctx, &domain.BrokerMetrics{
		BrokerID:       id,
		ConversionRate: conversionRate,
	}))
}

func setLoad(t *testing.T, f *serviceFixture, id string, active, max int) {
	t.Helper()
	c := &domain.BrokerCapacity{BrokerID: id, ActiveLeads: active, MaxCapacity: max}
	c.Recompute()
	require.NoError(t, f.stores.Capacity.Put(context.Background(), c))
}

func TestDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("routes to the top-scored broker", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "strong", 90)
		seedBroker(t, f, "weak", 10)

		resp, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}})
		require.NoError(t, err)
		assert.Equal(t, "strong", resp.BrokerID)
		assert.Equal(t, domain.MethodScoreBased, resp.Method)
		assert.Equal(t, "balanced", resp.Strategy)
		assert.NotEmpty(t, resp.DecisionID)
		assert.NotEmpty(t, resp.Reasoning)
		require.Len(t, resp.Alternatives, 1)
		assert.Equal(t, "weak", resp.Alternatives[0].BrokerID)
	})

	t.Run("persists a round-trippable decision and assigns capacity", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)

		resp, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1", EstimatedValue: 1200}})
		require.NoError(t, err)

		stored, err := f.stores.Decisions.Get(ctx, resp.DecisionID)
		require.NoError(t, err)
		assert.Equal(t, resp.BrokerID, stored.BrokerID)
		assert.Equal(t, resp.Score, stored.TotalScore)
		assert.Equal(t, resp.ExperimentID, stored.ExperimentID)

		c, err := f.tracker.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 1, c.ActiveLeads)

		require.Len(t, f.publisher.decisions, 1)
		assert.Equal(t, resp.DecisionID, f.publisher.decisions[0].ID)
	})

	t.Run("empty candidate pool is the only hard error", func(t *testing.T) {
		f := newServiceFixture(t, nil)

		_, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}})
		assert.ErrorIs(t, err, ErrNoAvailableBrokers)
	})

	t.Run("excluded brokers never win", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "strong", 90)
		seedBroker(t, f, "weak", 10)

		resp, err := f.service.Decide(ctx, &Request{
			Lead:           &domain.Lead{ID: "l1"},
			ExcludeBrokers: []string{"strong"},
		})
		require.NoError(t, err)
		assert.Equal(t, "weak", resp.BrokerID)
	})

	t.Run("never selects a broker at or above the load cutoff", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "busy", 90)
		seedBroker(t, f, "free", 10)
		setLoad(t, f, "busy", 9, 10) // 90%
		setLoad(t, f, "free", 1, 10)

		resp, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}})
		require.NoError(t, err)
		assert.Equal(t, "free", resp.BrokerID)
		assert.Equal(t, domain.MethodScoreBased, resp.Method)
	})

	t.Run("all brokers over cutoff degrades to fallback", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)
		seedBroker(t, f, "b2", 50)
		setLoad(t, f, "b1", 10, 10)
		setLoad(t, f, "b2", 9, 10)

		resp, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}})
		require.NoError(t, err)
		assert.Equal(t, domain.MethodFallback, resp.Method)
		assert.Equal(t, "no_capacity", resp.FallbackReason)
		assert.Equal(t, fallbackScore, resp.Score)
		assert.Equal(t, fallbackConfidence, resp.Confidence)
	})

	t.Run("unknown explicit experiment degrades to fallback", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)

		resp, err := f.service.Decide(ctx, &Request{
			Lead:         &domain.Lead{ID: "l1"},
			ExperimentID: "missing",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.MethodFallback, resp.Method)
		assert.Equal(t, "experiment_not_found", resp.FallbackReason)
		assert.Equal(t, "b1", resp.BrokerID)
	})
}

func TestDecideWithExperiment(t *testing.T) {
	ctx := context.Background()

	activeExperiment := func(t *testing.T, f *serviceFixture) *domain.Experiment {
		t.Helper()
		exp := &domain.Experiment{
			Name:              "perf-vs-balanced",
			Control:           domain.Strategy{Name: "balanced"},
			Treatment:         domain.Strategy{Name: "performance"},
			TrafficAllocation: 0.5,
			ConfidenceLevel:   0.95,
		}
		require.NoError(t, f.engine.Create(ctx, exp))
		_, err := f.engine.Transition(ctx, exp.ID, domain.ExperimentActive)
		require.NoError(t, err)
		return exp
	}

	t.Run("explicit experiment id assigns an arm and its strategy", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)
		exp := activeExperiment(t, f)

		// Sampler draw 0.1 < allocation 0.5: treatment arm.
		resp, err := f.service.Decide(ctx, &Request{
			Lead:         &domain.Lead{ID: "l1"},
			ExperimentID: exp.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, exp.ID, resp.ExperimentID)
		assert.Equal(t, domain.ArmTreatment, resp.ExperimentArm)
		assert.Equal(t, "performance", resp.Strategy)
	})

	t.Run("same lead keeps its arm on repeat decisions", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)
		exp := activeExperiment(t, f)

		first, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}, ExperimentID: exp.ID})
		require.NoError(t, err)
		second, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}, ExperimentID: exp.ID})
		require.NoError(t, err)
		assert.Equal(t, first.ExperimentArm, second.ExperimentArm)

		got, err := f.engine.Get(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.SampleSize)
	})

	t.Run("probe admits leads into active experiments", func(t *testing.T) {
		f := newServiceFixture(t, experiment.AlwaysProbe{})
		seedBroker(t, f, "b1", 50)
		exp := activeExperiment(t, f)

		resp, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}})
		require.NoError(t, err)
		assert.Equal(t, exp.ID, resp.ExperimentID)
		assert.NotEmpty(t, resp.ExperimentArm)
	})

	t.Run("draft experiment is ignored by probing", func(t *testing.T) {
		f := newServiceFixture(t, experiment.AlwaysProbe{})
		seedBroker(t, f, "b1", 50)

		exp := &domain.Experiment{
			Name:              "draft-only",
			TrafficAllocation: 0.5,
			ConfidenceLevel:   0.95,
		}
		require.NoError(t, f.engine.Create(ctx, exp))

		resp, err := f.service.Decide(ctx, &Request{Lead: &domain.Lead{ID: "l1"}})
		require.NoError(t, err)
		assert.Empty(t, resp.ExperimentID)
	})
}

func TestBatchDecide(t *testing.T) {
	ctx := context.Background()

	t.Run("routes every request", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)
		seedBroker(t, f, "b2", 60)

		reqs := []*Request{
			{Lead: &domain.Lead{ID: "l1"}},
			{Lead: &domain.Lead{ID: "l2"}},
			{Lead: &domain.Lead{ID: "l3"}},
		}
		resps := f.service.BatchDecide(ctx, reqs)
		require.Len(t, resps, 3)
		for i, resp := range resps {
			assert.Equal(t, reqs[i].Lead.ID, resp.LeadID)
		}
	})

	t.Run("per-item failures are skipped", func(t *testing.T) {
		f := newServiceFixture(t, nil)
		seedBroker(t, f, "b1", 50)

		reqs := []*Request{
			{Lead: &domain.Lead{ID: "l1"}},
			// Excluding the only broker empties this item's pool.
			{Lead: &domain.Lead{ID: "l2"}, ExcludeBrokers: []string{"b1"}},
			{Lead: &domain.Lead{ID: "l3"}},
		}
		resps := f.service.BatchDecide(ctx, reqs)
		require.Len(t, resps, 2)
		assert.Equal(t, "l1", resps[0].LeadID)
		assert.Equal(t, "l3", resps[1].LeadID)
	})
}

// newScorerOver builds a scorer sharing the fixture's stores and tracker.
func newScorerOver(stores *store.Stores, tracker *capacity.Tracker) *Scorer {
	matcher := specialty.NewMatcher(nil, zap.NewNop())
	return NewScorer(matcher, stores.Metrics, tracker, zap.NewNop())
}
