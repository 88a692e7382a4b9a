package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

// prefixHashLen bounds the content prefix used as the dedupe identity key.
// Distinct documents sharing a long common prefix collapse into one; that is
// a deliberate similarity approximation.
const prefixHashLen = 100

// HybridStrategy merges semantic and default results. One list is primary,
// the other secondary; documents are appended primary-then-secondary and the
// merge stops as soon as k unique documents are collected.
type HybridStrategy struct {
	semantic           Strategy
	fallback           Strategy
	k                  int
	prioritizeSemantic bool
}

func NewHybridStrategy(semantic, fallback Strategy, k int, prioritizeSemantic bool) *HybridStrategy {
	if k <= 0 {
		k = 5
	}
	return &HybridStrategy{
		semantic:           semantic,
		fallback:           fallback,
		k:                  k,
		prioritizeSemantic: prioritizeSemantic,
	}
}

func (s *HybridStrategy) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	k := s.k
	if req.K > 0 {
		k = req.K
	}

	// Each side is asked for 2k candidates so the merge has slack after
	// deduplication.
	candidateReq := req
	candidateReq.K = 2 * k

	semanticDocs, err := s.semantic.Retrieve(ctx, candidateReq)
	if err != nil {
		return nil, fmt.Errorf("hybrid semantic leg: %w", err)
	}
	defaultDocs, err := s.fallback.Retrieve(ctx, candidateReq)
	if err != nil {
		return nil, fmt.Errorf("hybrid default leg: %w", err)
	}

	primary, secondary := semanticDocs, defaultDocs
	if !s.prioritizeSemantic {
		primary, secondary = defaultDocs, semanticDocs
	}

	seen := make(map[uint64]struct{}, 2*k)
	out := make([]domain.ScoredDocument, 0, k)
	for _, doc := range append(primary, secondary...) {
		key := contentPrefixHash(doc.Document.Content)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func contentPrefixHash(content string) uint64 {
	runes := []rune(content)
	if len(runes) > prefixHashLen {
		runes = runes[:prefixHashLen]
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(runes)))
	return h.Sum64()
}
