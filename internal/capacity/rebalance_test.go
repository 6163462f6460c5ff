package capacity

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

func TestRebalanceLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects target outside range", func(t *testing.T) {
		tracker, _ := newTestTracker(t)

		for _, target := range []float64{0, -10, 101} {
			_, err := tracker.RebalanceLoad(ctx, target)
			assert.Error(t, err)
		}
	})

	t.Run("no-op when nothing is overloaded", func(t *testing.T) {
		tracker, _ := newTestTracker(t)

		require.NoError(t, tracker.Assign(ctx, "b1", "lead-1", 0))

		report, err := tracker.RebalanceLoad(ctx, 70)
		require.NoError(t, err)
		assert.Empty(t, report.Moves)
		assert.Zero(t, report.Failed)
	})

	t.Run("moves pending leads from overloaded to underutilized", func(t *testing.T) {
		tracker, _ := newTestTracker(t)

		// b1 at 90% of a max of 10, b2 idle.
		for i := 0; i < 9; i++ {
			require.NoError(t, tracker.Assign(ctx, "b1", "lead", 0))
		}
		require.NoError(t, tracker.Assign(ctx, "b2", "other", 0))
		require.NoError(t, tracker.Release(ctx, "b2", "other", domain.OutcomeRejected))

		report, err := tracker.RebalanceLoad(ctx, 70)
		require.NoError(t, err)
		require.NotEmpty(t, report.Moves)
		for _, m := range report.Moves {
			assert.Equal(t, "b1", m.FromBroker)
			assert.Equal(t, "b2", m.ToBroker)
		}

		src, err := tracker.Get(ctx, "b1")
		require.NoError(t, err)
		assert.LessOrEqual(t, src.LoadPercent, 70.0)

		dst, err := tracker.Get(ctx, "b2")
		require.NoError(t, err)
		assert.Equal(t, len(report.Moves), dst.ActiveLeads)
	})

	t.Run("skips filled targets without losing assignments", func(t *testing.T) {
		tracker, _ := newTestTracker(t)

		// s1 fully loaded; t1 can absorb only one lead before hitting
		// the utilization threshold, t2 has plenty of headroom.
		for i := 0; i < 10; i++ {
			require.NoError(t, tracker.Assign(ctx, "s1", fmt.Sprintf("lead-%d", i), 0))
		}
		require.NoError(t, tracker.SetMaxCapacity(ctx, "t1", 2))
		require.NoError(t, tracker.SetMaxCapacity(ctx, "t2", 100))

		report, err := tracker.RebalanceLoad(ctx, 50)
		require.NoError(t, err)
		require.Len(t, report.Moves, 5)
		assert.Zero(t, report.Failed)

		src, err := tracker.Get(ctx, "s1")
		require.NoError(t, err)
		assert.LessOrEqual(t, src.LoadPercent, 50.0)

		// One move fills t1 to 50%; every later move must land on t2.
		byTarget := map[string]int{}
		for _, m := range report.Moves {
			byTarget[m.ToBroker]++
		}
		assert.Equal(t, 1, byTarget["t1"])
		assert.Equal(t, 4, byTarget["t2"])
	})

	t.Run("stops once every target has filled up", func(t *testing.T) {
		tracker, _ := newTestTracker(t)

		for i := 0; i < 10; i++ {
			require.NoError(t, tracker.Assign(ctx, "s1", fmt.Sprintf("lead-%d", i), 0))
		}
		require.NoError(t, tracker.SetMaxCapacity(ctx, "t1", 2))

		report, err := tracker.RebalanceLoad(ctx, 50)
		require.NoError(t, err)
		assert.Len(t, report.Moves, 1)
		assert.Zero(t, report.Failed)

		dst, err := tracker.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 1, dst.ActiveLeads)
	})
}
