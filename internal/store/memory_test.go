package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

func TestMemoryBrokerStore(t *testing.T) {
	ctx := context.Background()

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		s := NewMemoryStores()
		_, err := s.Brokers.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("upsert then get round-trips", func(t *testing.T) {
		s := NewMemoryStores()
		b := &domain.Broker{ID: "b1", Name: "Broker One", Specialties: []string{"auto"}}
		require.NoError(t, s.Brokers.Upsert(ctx, b))

		got, err := s.Brokers.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, b.Name, got.Name)
		assert.Equal(t, b.Specialties, got.Specialties)
	})

	t.Run("list honors exclusions and sorts by id", func(t *testing.T) {
		s := NewMemoryStores()
		for _, id := range []string{"c", "a", "b"} {
			require.NoError(t, s.Brokers.Upsert(ctx, &domain.Broker{ID: id}))
		}

		all, err := s.Brokers.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "a", all[0].ID)
		assert.Equal(t, "c", all[2].ID)

		filtered, err := s.Brokers.List(ctx, []string{"b"})
		require.NoError(t, err)
		require.Len(t, filtered, 2)
		for _, b := range filtered {
			assert.NotEqual(t, "b", b.ID)
		}
	})

	t.Run("stored values are isolated from caller mutation", func(t *testing.T) {
		s := NewMemoryStores()
		b := &domain.Broker{ID: "b1", Name: "original"}
		require.NoError(t, s.Brokers.Upsert(ctx, b))

		b.Name = "mutated"
		got, err := s.Brokers.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, "original", got.Name)
	})
}

func TestMemoryDecisionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trips broker id, total score, and experiment id", func(t *testing.T) {
		s := NewMemoryStores()
		d := &domain.RoutingDecision{
			ID:           "d1",
			LeadID:       "l1",
			BrokerID:     "b1",
			TotalScore:   64.5,
			Method:       domain.MethodScoreBased,
			ExperimentID: "e1",
			CreatedAt:    time.Now(),
		}
		require.NoError(t, s.Decisions.Create(ctx, d))

		got, err := s.Decisions.Get(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, d.BrokerID, got.BrokerID)
		assert.Equal(t, d.TotalScore, got.TotalScore)
		assert.Equal(t, d.ExperimentID, got.ExperimentID)
	})

	t.Run("create is write-once", func(t *testing.T) {
		s := NewMemoryStores()
		d := &domain.RoutingDecision{ID: "d1", CreatedAt: time.Now()}
		require.NoError(t, s.Decisions.Create(ctx, d))
		assert.ErrorIs(t, s.Decisions.Create(ctx, d), ErrAlreadyExists)
	})

	t.Run("list since filters by creation time", func(t *testing.T) {
		s := NewMemoryStores()
		old := &domain.RoutingDecision{ID: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
		recent := &domain.RoutingDecision{ID: "recent", CreatedAt: time.Now()}
		require.NoError(t, s.Decisions.Create(ctx, old))
		require.NoError(t, s.Decisions.Create(ctx, recent))

		got, err := s.Decisions.ListSince(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "recent", got[0].ID)
	})
}

func TestMemoryExperimentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate assignment returns ErrAlreadyExists", func(t *testing.T) {
		s := NewMemoryStores()
		a := &domain.ExperimentAssignment{ExperimentID: "e1", LeadID: "l1", Arm: domain.ArmControl}
		require.NoError(t, s.Experiments.CreateAssignment(ctx, a))

		dup := &domain.ExperimentAssignment{ExperimentID: "e1", LeadID: "l1", Arm: domain.ArmTreatment}
		assert.ErrorIs(t, s.Experiments.CreateAssignment(ctx, dup), ErrAlreadyExists)

		got, err := s.Experiments.GetAssignment(ctx, "e1", "l1")
		require.NoError(t, err)
		assert.Equal(t, domain.ArmControl, got.Arm)
	})

	t.Run("same lead in different experiments is allowed", func(t *testing.T) {
		s := NewMemoryStores()
		require.NoError(t, s.Experiments.CreateAssignment(ctx, &domain.ExperimentAssignment{ExperimentID: "e1", LeadID: "l1"}))
		require.NoError(t, s.Experiments.CreateAssignment(ctx, &domain.ExperimentAssignment{ExperimentID: "e2", LeadID: "l1"}))
	})

	t.Run("mark converted flips the flag", func(t *testing.T) {
		s := NewMemoryStores()
		require.NoError(t, s.Experiments.CreateAssignment(ctx, &domain.ExperimentAssignment{ExperimentID: "e1", LeadID: "l1"}))
		require.NoError(t, s.Experiments.MarkConverted(ctx, "e1", "l1"))

		got, err := s.Experiments.GetAssignment(ctx, "e1", "l1")
		require.NoError(t, err)
		assert.True(t, got.Converted)
	})

	t.Run("mark converted on missing assignment errors", func(t *testing.T) {
		s := NewMemoryStores()
		assert.ErrorIs(t, s.Experiments.MarkConverted(ctx, "e1", "l1"), ErrNotFound)
	})

	t.Run("list by status", func(t *testing.T) {
		s := NewMemoryStores()
		require.NoError(t, s.Experiments.Create(ctx, &domain.Experiment{ID: "e1", Status: domain.ExperimentActive}))
		require.NoError(t, s.Experiments.Create(ctx, &domain.Experiment{ID: "e2", Status: domain.ExperimentDraft}))

		active, err := s.Experiments.ListByStatus(ctx, domain.ExperimentActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "e1", active[0].ID)
	})
}

func TestMemoryAssignmentStore(t *testing.T) {
	ctx := context.Background()

	t.Run("list pending returns only pending, oldest first", func(t *testing.T) {
		s := NewMemoryStores()
		now := time.Now()
		for _, a := range []*domain.LeadAssignment{
			{ID: "a2", BrokerID: "b1", LeadID: "l2", Status: domain.AssignmentPending, AssignedAt: now},
			{ID: "a1", BrokerID: "b1", LeadID: "l1", Status: domain.AssignmentPending, AssignedAt: now.Add(-time.Hour)},
			{ID: "a3", BrokerID: "b1", LeadID: "l3", Status: domain.AssignmentConverted, AssignedAt: now.Add(-2 * time.Hour)},
			{ID: "a4", BrokerID: "b2", LeadID: "l4", Status: domain.AssignmentPending, AssignedAt: now},
		} {
			require.NoError(t, s.Assignments.Create(ctx, a))
		}

		pending, err := s.Assignments.ListPending(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "a1", pending[0].ID)
		assert.Equal(t, "a2", pending[1].ID)
	})

	t.Run("list by broker filters on assignment time", func(t *testing.T) {
		s := NewMemoryStores()
		require.NoError(t, s.Assignments.Create(ctx, &domain.LeadAssignment{
			ID: "old", BrokerID: "b1", AssignedAt: time.Now().Add(-40 * 24 * time.Hour),
		}))
		require.NoError(t, s.Assignments.Create(ctx, &domain.LeadAssignment{
			ID: "recent", BrokerID: "b1", AssignedAt: time.Now().Add(-time.Hour),
		}))

		got, err := s.Assignments.ListByBroker(ctx, "b1", time.Now().Add(-30*24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "recent", got[0].ID)
	})

	t.Run("update replaces the stored record", func(t *testing.T) {
		s := NewMemoryStores()
		a := &domain.LeadAssignment{ID: "a1", BrokerID: "b1", Status: domain.AssignmentPending}
		require.NoError(t, s.Assignments.Create(ctx, a))

		a.Status = domain.AssignmentConverted
		require.NoError(t, s.Assignments.Update(ctx, a))

		pending, err := s.Assignments.ListPending(ctx, "b1")
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}
