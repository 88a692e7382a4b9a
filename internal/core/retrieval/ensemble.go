package retrieval

import (
	"context"
	"fmt"
	"sort"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

const defaultRRFK = 60

// EnsembleStrategy combines sub-retrievers via weighted reciprocal-rank
// fusion. Weights that do not sum to 1 are silently renormalized.
type EnsembleStrategy struct {
	retrievers []Strategy
	weights    []float64
	k          int
	rrfK       int
}

func NewEnsembleStrategy(retrievers []Strategy, weights []float64, k, rrfK int) (*EnsembleStrategy, error) {
	if len(retrievers) == 0 {
		return nil, fmt.Errorf("ensemble requires at least one sub-retriever")
	}
	if len(weights) != len(retrievers) {
		return nil, fmt.Errorf("ensemble weights/retrievers mismatch: %d vs %d", len(weights), len(retrievers))
	}
	if k <= 0 {
		k = 5
	}
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}
	return &EnsembleStrategy{
		retrievers: retrievers,
		weights:    NormalizeWeights(weights),
		k:          k,
		rrfK:       rrfK,
	}, nil
}

// NormalizeWeights rescales a positive weight vector so it sums to 1.
// Non-positive sums fall back to uniform weights.
func NormalizeWeights(weights []float64) []float64 {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	out := make([]float64, len(weights))
	if sum <= 0 {
		for i := range out {
			out[i] = 1.0 / float64(len(weights))
		}
		return out
	}
	for i, w := range weights {
		out[i] = w / sum
	}
	return out
}

func (s *EnsembleStrategy) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	k := s.k
	if req.K > 0 {
		k = req.K
	}

	candidateReq := req
	candidateReq.K = 2 * k

	lists := make([][]domain.ScoredDocument, len(s.retrievers))
	for i, retriever := range s.retrievers {
		docs, err := retriever.Retrieve(ctx, candidateReq)
		if err != nil {
			return nil, fmt.Errorf("ensemble sub-retriever %d: %w", i, err)
		}
		lists[i] = docs
	}

	fused := fuseWeightedRRF(lists, s.weights, s.rrfK)
	if len(fused) > k {
		fused = fused[:k]
	}
	return fused, nil
}

type fusedCandidate struct {
	doc   domain.Document
	score float64
	order int
}

func fuseWeightedRRF(lists [][]domain.ScoredDocument, weights []float64, rrfK int) []domain.ScoredDocument {
	acc := make(map[uint64]*fusedCandidate)
	order := 0
	for listIdx, list := range lists {
		weight := weights[listIdx]
		for rank, doc := range list {
			key := contentPrefixHash(doc.Document.Content)
			candidate, ok := acc[key]
			if !ok {
				candidate = &fusedCandidate{doc: doc.Document, order: order}
				order++
				acc[key] = candidate
			}
			candidate.score += weight / float64(rrfK+rank+1)
		}
	}

	out := make([]domain.ScoredDocument, 0, len(acc))
	ordered := make([]*fusedCandidate, 0, len(acc))
	for _, c := range acc {
		ordered = append(ordered, c)
	}
	// Tie-break on first-seen order to keep fusion deterministic.
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		return ordered[i].order < ordered[j].order
	})
	for _, c := range ordered {
		out = append(out, domain.ScoredDocument{Document: c.doc, Score: c.score})
	}
	return out
}
