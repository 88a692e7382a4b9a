package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

type vectorStoreFake struct {
	docs     []domain.ScoredDocument
	err      error
	requests []domain.RetrievalRequest
}

func (f *vectorStoreFake) SimilaritySearch(_ context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	out := f.docs
	if req.K > 0 && len(out) > req.K {
		out = out[:req.K]
	}
	return out, nil
}

func scoredDoc(content, source string, score float64) domain.ScoredDocument {
	return domain.ScoredDocument{
		Document: domain.Document{
			Content:  content,
			Metadata: map[string]any{"source": source},
		},
		Score: score,
	}
}

func TestSemanticStrategyDropsBelowThreshold(t *testing.T) {
	store := &vectorStoreFake{docs: []domain.ScoredDocument{
		scoredDoc("refunds are issued within 14 days", "policy.md", 0.9),
		scoredDoc("contact support for refund status", "faq.md", 0.6),
		scoredDoc("office opening hours", "hours.md", 0.3),
	}}
	strategy := NewSemanticStrategy(store, 5, 0.5)

	docs, err := strategy.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:  "What is the refund policy?",
		UserID: "tenant-a",
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 docs above threshold, got %d", len(docs))
	}
	if docs[0].Score != 0.9 || docs[1].Score != 0.6 {
		t.Fatalf("expected descending scores [0.9 0.6], got [%v %v]", docs[0].Score, docs[1].Score)
	}
	for _, doc := range docs {
		if doc.Score < 0.5 {
			t.Fatalf("below-threshold leakage: score %v", doc.Score)
		}
	}
}

func TestSemanticStrategyPerCallOverridesDoNotStick(t *testing.T) {
	store := &vectorStoreFake{docs: []domain.ScoredDocument{
		scoredDoc("a", "a.md", 0.4),
	}}
	strategy := NewSemanticStrategy(store, 5, 0.5)

	low := 0.1
	docs, err := strategy.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:          "q",
		K:              3,
		ScoreThreshold: &low,
	})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected override threshold to admit doc, got %d docs", len(docs))
	}

	docs, err = strategy.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("instance default threshold was mutated: got %d docs", len(docs))
	}
	if got := store.requests[1].K; got != 5 {
		t.Fatalf("instance default k was mutated: got %d", got)
	}
}

func TestDefaultStrategyUsesFixedTopNAndNoThreshold(t *testing.T) {
	store := &vectorStoreFake{}
	strategy := NewDefaultStrategy(store, 20)

	if _, err := strategy.Retrieve(context.Background(), domain.RetrievalRequest{
		Query:  "q",
		K:      3, // caller-supplied k is ignored
		UserID: "tenant-a",
	}); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	req := store.requests[0]
	if req.K != 20 {
		t.Fatalf("expected fixed top-20, got k=%d", req.K)
	}
	if req.ScoreThreshold != nil {
		t.Fatalf("default strategy must not apply a score threshold")
	}
	if req.UserID != "tenant-a" {
		t.Fatalf("expected tenant scoping, got %q", req.UserID)
	}
}

type strategyStub struct {
	docs []domain.ScoredDocument
	reqs []domain.RetrievalRequest
}

func (s *strategyStub) Retrieve(_ context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	s.reqs = append(s.reqs, req)
	return s.docs, nil
}

func TestHybridStrategyMergesPrimaryFirstAndDeduplicates(t *testing.T) {
	semantic := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc("semantic one", "s1", 0.9),
		scoredDoc("shared doc", "shared", 0.8),
	}}
	fallback := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc("shared doc", "shared", 0.7),
		scoredDoc("fallback one", "f1", 0.6),
	}}

	strategy := NewHybridStrategy(semantic, fallback, 5, true)
	docs, err := strategy.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	if len(docs) != 3 {
		t.Fatalf("expected 3 unique docs, got %d", len(docs))
	}
	if docs[0].Document.Content != "semantic one" {
		t.Fatalf("expected semantic leg first, got %q", docs[0].Document.Content)
	}
	if got := semantic.reqs[0].K; got != 10 {
		t.Fatalf("expected 2k candidates from each leg, got %d", got)
	}

	seen := map[uint64]struct{}{}
	for _, doc := range docs {
		key := contentPrefixHash(doc.Document.Content)
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate first-100-char hash in output")
		}
		seen[key] = struct{}{}
	}
}

func TestHybridStrategyStopsAtK(t *testing.T) {
	semantic := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc("a", "a", 0.9), scoredDoc("b", "b", 0.8), scoredDoc("c", "c", 0.7),
	}}
	fallback := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc("d", "d", 0.6), scoredDoc("e", "e", 0.5),
	}}

	strategy := NewHybridStrategy(semantic, fallback, 2, true)
	docs, err := strategy.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected output capped at k=2, got %d", len(docs))
	}
}

func TestHybridStrategyCollapsesSharedLongPrefix(t *testing.T) {
	// Two distinct documents sharing a 100+ char prefix collapse into one.
	// That is the documented trade-off of hashing only the prefix.
	prefix := strings.Repeat("x", 120)
	semantic := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc(prefix+" tail one", "s1", 0.9),
	}}
	fallback := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc(prefix+" tail two", "f1", 0.8),
	}}

	strategy := NewHybridStrategy(semantic, fallback, 5, true)
	docs, err := strategy.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected prefix collision to collapse docs, got %d", len(docs))
	}
}

func TestNormalizeWeights(t *testing.T) {
	cases := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"already normalized", []float64{0.5, 0.5}, []float64{0.5, 0.5}},
		{"renormalized", []float64{2, 2}, []float64{0.5, 0.5}},
		{"uneven", []float64{3, 1}, []float64{0.75, 0.25}},
		{"zero sum falls back to uniform", []float64{0, 0}, []float64{0.5, 0.5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeWeights(tc.in)
			sum := 0.0
			for i, w := range got {
				sum += w
				if w != tc.want[i] {
					t.Fatalf("weight[%d] = %v, want %v", i, w, tc.want[i])
				}
			}
			if sum != 1.0 {
				t.Fatalf("normalized weights sum to %v, want 1", sum)
			}
		})
	}
}

func TestEnsembleStrategyFusesAndTruncates(t *testing.T) {
	first := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc("alpha", "a", 0.9),
		scoredDoc("beta", "b", 0.8),
		scoredDoc("gamma", "c", 0.7),
	}}
	second := &strategyStub{docs: []domain.ScoredDocument{
		scoredDoc("beta", "b", 0.95),
		scoredDoc("delta", "d", 0.5),
	}}

	ensemble, err := NewEnsembleStrategy([]Strategy{first, second}, []float64{2, 2}, 3, 60)
	if err != nil {
		t.Fatalf("NewEnsembleStrategy() error = %v", err)
	}

	docs, err := ensemble.Retrieve(context.Background(), domain.RetrievalRequest{Query: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected fused list truncated to k=3, got %d", len(docs))
	}
	// beta appears in both lists, so it must fuse to the top.
	if docs[0].Document.Content != "beta" {
		t.Fatalf("expected doc present in both lists to rank first, got %q", docs[0].Document.Content)
	}
	if got := first.reqs[0].K; got != 6 {
		t.Fatalf("expected 2k candidates per sub-retriever, got %d", got)
	}
}
