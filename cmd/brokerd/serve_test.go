package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/config"
	"github.com/fyrsmithlabs/brokerd/internal/domain"
	"github.com/fyrsmithlabs/brokerd/internal/store"
)

func TestNewMatcher(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	// The broker's profile shares no exact type with the lead, so only
	// the semantic path can score it above zero.
	stores := store.NewMemoryStores()
	require.NoError(t, stores.Brokers.Upsert(ctx, &domain.Broker{
		ID:          "b1",
		Specialties: []string{"automobile coverage"},
	}))
	lead := &domain.Lead{ID: "l1", InsuranceTypes: []string{"auto"}}

	t.Run("no embedding service means overlap-only matching", func(t *testing.T) {
		cfg := config.Load()
		matcher, err := newMatcher(ctx, cfg, stores, logger)
		require.NoError(t, err)

		broker, err := stores.Brokers.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, 0.0, matcher.Score(ctx, lead, broker))
	})

	t.Run("embedding service enables semantic matching over the roster", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Inputs string `json:"inputs"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			count := float32(strings.Count(strings.ToLower(req.Inputs), "auto"))
			require.NoError(t, json.NewEncoder(w).Encode([][]float32{{count, 1}}))
		}))
		defer srv.Close()

		cfg := config.Load()
		cfg.Specialty.EmbeddingURL = srv.URL
		matcher, err := newMatcher(ctx, cfg, stores, logger)
		require.NoError(t, err)

		broker, err := stores.Brokers.Get(ctx, "b1")
		require.NoError(t, err)
		assert.Greater(t, matcher.Score(ctx, lead, broker), 50.0)
	})

	t.Run("unreachable embedding service fails startup", func(t *testing.T) {
		cfg := config.Load()
		cfg.Specialty.EmbeddingURL = "http://127.0.0.1:1"

		down := store.NewMemoryStores()
		require.NoError(t, down.Brokers.Upsert(ctx, &domain.Broker{
			ID:          "b1",
			Specialties: []string{"auto"},
		}))
		_, err := newMatcher(ctx, cfg, down, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "indexing broker specialties")
	})
}
