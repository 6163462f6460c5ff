package performance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

func TestNewRecomputeScheduler(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	t.Run("requires analyzer", func(t *testing.T) {
		_, err := NewRecomputeScheduler(nil, zap.NewNop())
		assert.Error(t, err)
	})

	t.Run("rejects non-positive interval", func(t *testing.T) {
		_, err := NewRecomputeScheduler(analyzer, zap.NewNop(), WithInterval(0))
		assert.Error(t, err)
	})

	t.Run("defaults to one hour", func(t *testing.T) {
		s, err := NewRecomputeScheduler(analyzer, zap.NewNop())
		require.NoError(t, err)
		assert.Equal(t, time.Hour, s.interval)
	})
}

func TestSchedulerStartStop(t *testing.T) {
	analyzer, _ := newTestAnalyzer(t)

	t.Run("double start errors", func(t *testing.T) {
		s, err := NewRecomputeScheduler(analyzer, zap.NewNop(), WithInterval(time.Hour))
		require.NoError(t, err)

		require.NoError(t, s.Start(context.Background()))
		assert.Error(t, s.Start(context.Background()))
		s.Stop()
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		s, err := NewRecomputeScheduler(analyzer, zap.NewNop(), WithInterval(time.Hour))
		require.NoError(t, err)

		require.NoError(t, s.Start(context.Background()))
		s.Stop()
		s.Stop()
	})

	t.Run("ticks recompute metrics", func(t *testing.T) {
		ctx := context.Background()
		analyzer, stores := newTestAnalyzer(t)
		require.NoError(t, stores.Brokers.Upsert(ctx, &domain.Broker{ID: "b1", Name: "Broker One"}))

		s, err := NewRecomputeScheduler(analyzer, zap.NewNop(), WithInterval(10*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.Start(ctx))
		defer s.Stop()

		require.Eventually(t, func() bool {
			_, err := stores.Metrics.Get(ctx, "b1")
			return err == nil
		}, time.Second, 10*time.Millisecond)
	})
}
