package retrieval

import (
	"context"
	"fmt"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

const defaultTopN = 20

// DefaultStrategy asks the vector store for a fixed top-N nearest-neighbor
// set with no score threshold.
type DefaultStrategy struct {
	store ports.VectorStore
	topN  int
}

func NewDefaultStrategy(store ports.VectorStore, topN int) *DefaultStrategy {
	if topN <= 0 {
		topN = defaultTopN
	}
	return &DefaultStrategy{store: store, topN: topN}
}

func (s *DefaultStrategy) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	docs, err := s.store.SimilaritySearch(ctx, domain.RetrievalRequest{
		Query:  req.Query,
		K:      s.topN,
		Filter: req.Filter,
		UserID: req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("default retrieve: %w", err)
	}
	return docs, nil
}

// SemanticStrategy performs similarity search and discards any result whose
// score falls below the threshold. This is a hard cutoff, not a soft rerank;
// callers needing graceful degradation must lower the threshold explicitly.
type SemanticStrategy struct {
	store     ports.VectorStore
	k         int
	threshold float64
}

func NewSemanticStrategy(store ports.VectorStore, k int, threshold float64) *SemanticStrategy {
	if k <= 0 {
		k = 5
	}
	return &SemanticStrategy{store: store, k: k, threshold: threshold}
}

func (s *SemanticStrategy) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	// Per-call overrides apply to this call only; instance defaults are
	// never mutated.
	k := s.k
	if req.K > 0 {
		k = req.K
	}
	threshold := s.threshold
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	docs, err := s.store.SimilaritySearch(ctx, domain.RetrievalRequest{
		Query:          req.Query,
		K:              k,
		ScoreThreshold: &threshold,
		Filter:         req.Filter,
		UserID:         req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic retrieve: %w", err)
	}

	out := make([]domain.ScoredDocument, 0, len(docs))
	for _, doc := range docs {
		if doc.Score < threshold {
			continue
		}
		out = append(out, doc)
	}
	return out, nil
}
