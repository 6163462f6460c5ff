package specialty

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

func TestScore(t *testing.T) {
	ctx := context.Background()
	m := NewMatcher(nil, zap.NewNop())

	t.Run("neutral when lead declares no types", func(t *testing.T) {
		lead := &domain.Lead{ID: "l1"}
		broker := &domain.Broker{ID: "b1", Specialties: []string{"auto", "home"}}
		assert.Equal(t, NeutralScore, m.Score(ctx, lead, broker))
	})

	t.Run("neutral when broker declares no specialties", func(t *testing.T) {
		lead := &domain.Lead{ID: "l1", InsuranceTypes: []string{"auto"}}
		broker := &domain.Broker{ID: "b1"}
		assert.Equal(t, NeutralScore, m.Score(ctx, lead, broker))
	})

	t.Run("full overlap scores 100", func(t *testing.T) {
		lead := &domain.Lead{ID: "l1", InsuranceTypes: []string{"auto", "home"}}
		broker := &domain.Broker{ID: "b1", Specialties: []string{"auto", "home", "life"}}
		assert.InDelta(t, 100.0, m.Score(ctx, lead, broker), 0.001)
	})

	t.Run("partial overlap scales to 100", func(t *testing.T) {
		lead := &domain.Lead{ID: "l1", InsuranceTypes: []string{"auto", "home", "life", "commercial"}}
		broker := &domain.Broker{ID: "b1", Specialties: []string{"auto"}}
		assert.InDelta(t, 25.0, m.Score(ctx, lead, broker), 0.001)
	})

	t.Run("no overlap scores zero", func(t *testing.T) {
		lead := &domain.Lead{ID: "l1", InsuranceTypes: []string{"life"}}
		broker := &domain.Broker{ID: "b1", Specialties: []string{"auto"}}
		assert.Zero(t, m.Score(ctx, lead, broker))
	})
}

func TestOverlapScore(t *testing.T) {
	t.Run("comparison is case-insensitive", func(t *testing.T) {
		got := OverlapScore([]string{"Auto", "HOME"}, []string{"auto", "home"})
		assert.InDelta(t, 100.0, got, 0.001)
	})

	t.Run("whitespace is trimmed", func(t *testing.T) {
		got := OverlapScore([]string{" auto "}, []string{"auto"})
		assert.InDelta(t, 100.0, got, 0.001)
	})

	t.Run("duplicate required types count separately", func(t *testing.T) {
		got := OverlapScore([]string{"auto", "auto", "life", "life"}, []string{"auto"})
		assert.InDelta(t, 50.0, got, 0.001)
	})
}
