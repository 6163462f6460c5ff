package specialty

import (
	"context"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brokerd/internal/domain"
)

const specialtyCollection = "broker-specialties"

// Embedder converts text into an embedding vector. Implementations wrap
// whatever similarity service is deployed alongside the daemon.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SemanticIndex holds broker specialty profiles in an in-process chromem
// vector store and answers similarity queries against them.
//
// chromem-go keeps everything in memory; the index is rebuilt from the
// broker roster at startup and on roster changes via IndexBroker.
type SemanticIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	logger     *zap.Logger
}

// NewSemanticIndex creates an empty index using the given embedder.
func NewSemanticIndex(embedder Embedder, logger *zap.Logger) (*SemanticIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db := chromem.NewDB()
	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(specialtyCollection, nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("creating specialty collection: %w", err)
	}

	return &SemanticIndex{
		db:         db,
		collection: collection,
		embedder:   embedder,
		logger:     logger,
	}, nil
}

// IndexBroker adds or replaces the broker's specialty profile document.
func (s *SemanticIndex) IndexBroker(ctx context.Context, broker *domain.Broker) error {
	if len(broker.Specialties) == 0 {
		return nil
	}

	doc := chromem.Document{
		ID:       broker.ID,
		Content:  strings.Join(broker.Specialties, ", "),
		Metadata: map[string]string{"broker_id": broker.ID},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("indexing broker %s: %w", broker.ID, err)
	}
	return nil
}

// IndexRoster indexes the whole broker list. Brokers without specialties
// are skipped.
func (s *SemanticIndex) IndexRoster(ctx context.Context, brokers []*domain.Broker) error {
	for _, b := range brokers {
		if err := s.IndexBroker(ctx, b); err != nil {
			return err
		}
	}
	s.logger.Info("specialty roster indexed", zap.Int("brokers", len(brokers)))
	return nil
}

// Similarity returns the semantic affinity in [0,100] between the lead's
// required types and one broker's indexed profile. Returns an error when
// the broker has no profile, letting the caller fall back to overlap.
func (s *SemanticIndex) Similarity(ctx context.Context, leadTypes []string, brokerID string) (float64, error) {
	query := strings.Join(leadTypes, ", ")
	results, err := s.collection.Query(ctx, query, 1,
		map[string]string{"broker_id": brokerID}, nil)
	if err != nil {
		return 0, fmt.Errorf("querying specialty index: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("broker %s has no specialty profile", brokerID)
	}

	sim := float64(results[0].Similarity)
	if sim < 0 {
		sim = 0
	}
	if sim > 1 {
		sim = 1
	}
	return sim * 100, nil
}
