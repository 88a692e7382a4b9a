package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// KeywordStrategy serves queries from an in-memory BM25 index built over the
// current full document set of one tenant. The index is keyed by the tenant
// it was built for and rebuilt whenever a call arrives for a different
// tenant; serving a stale index would silently return wrong-tenant results.
type KeywordStrategy struct {
	corpus ports.CorpusReader
	k      int

	mu          sync.Mutex
	indexUserID string
	indexBuilt  bool
	index       *bm25Index
}

func NewKeywordStrategy(corpus ports.CorpusReader, k int) *KeywordStrategy {
	if k <= 0 {
		k = 5
	}
	return &KeywordStrategy{corpus: corpus, k: k}
}

func (s *KeywordStrategy) Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	k := s.k
	if req.K > 0 {
		k = req.K
	}

	index, err := s.indexFor(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("keyword retrieve: %w", err)
	}
	return index.search(req.Query, k), nil
}

func (s *KeywordStrategy) indexFor(ctx context.Context, userID string) (*bm25Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexBuilt && s.indexUserID == userID {
		return s.index, nil
	}

	docs, err := s.corpus.GetDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load corpus for %q: %w", userID, err)
	}
	s.index = buildBM25Index(docs)
	s.indexUserID = userID
	s.indexBuilt = true
	return s.index, nil
}

type bm25Index struct {
	docs      []domain.Document
	docTokens []map[string]int
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

func buildBM25Index(docs []domain.Document) *bm25Index {
	idx := &bm25Index{
		docs:      docs,
		docTokens: make([]map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}

	totalLen := 0
	for i, doc := range docs {
		tokens := tokenizeAlphaNum(doc.Content)
		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		idx.docTokens[i] = tf
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for token := range tf {
			idx.docFreq[token]++
		}
	}
	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	}
	return idx
}

func (idx *bm25Index) search(query string, k int) []domain.ScoredDocument {
	if len(idx.docs) == 0 || k <= 0 {
		return []domain.ScoredDocument{}
	}

	queryTokens := tokenizeAlphaNum(query)
	scored := make([]domain.ScoredDocument, 0, len(idx.docs))
	for i, doc := range idx.docs {
		score := idx.score(queryTokens, i)
		if score <= 0 {
			continue
		}
		scored = append(scored, domain.ScoredDocument{Document: doc, Score: score})
	}

	sort.SliceStable(scored, func(a, b int) bool { return scored[a].Score > scored[b].Score })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (idx *bm25Index) score(queryTokens []string, docIdx int) float64 {
	tf := idx.docTokens[docIdx]
	docLen := float64(idx.docLens[docIdx])
	n := float64(len(idx.docs))

	score := 0.0
	for _, token := range queryTokens {
		freq := float64(tf[token])
		if freq == 0 {
			continue
		}
		df := float64(idx.docFreq[token])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		norm := 1 - bm25B + bm25B*(docLen/idx.avgDocLen)
		score += idf * (freq * (bm25K1 + 1)) / (freq + bm25K1*norm)
	}
	return score
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
