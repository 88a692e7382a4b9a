// Package rerank re-orders retrieval candidates with a cheap lexical
// cross-check. It needs no model call, which keeps the rerank step fast and
// always available.
package rerank

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

const (
	positionWeight = 0.60
	overlapWeight  = 0.30
	sourceWeight   = 0.10
)

type LexicalReranker struct{}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank scores each candidate by its retrieval position, token overlap with
// the query and a source-name hit, then returns the best topK in descending
// order.
func (r *LexicalReranker) Rerank(_ context.Context, query string, documents []domain.Document, topK int) ([]domain.Document, error) {
	if len(documents) == 0 {
		return []domain.Document{}, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	queryTokens := toTokenSet(query)

	type scoredCandidate struct {
		doc   domain.Document
		score float64
	}
	candidates := make([]scoredCandidate, len(documents))
	for i, doc := range documents {
		position := 1.0
		if len(documents) > 1 {
			position = 1.0 - float64(i)/float64(len(documents)-1)
		}
		overlap := tokenOverlap(queryTokens, toTokenSet(doc.Content))
		sourceBoost := sourceTokenHit(queryTokens, doc.Source())
		candidates[i] = scoredCandidate{
			doc:   doc,
			score: positionWeight*position + overlapWeight*overlap + sourceWeight*sourceBoost,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	out := make([]domain.Document, 0, topK)
	for _, candidate := range candidates[:topK] {
		out = append(out, candidate.doc)
	}
	return out, nil
}

func tokenOverlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sourceTokenHit(query map[string]struct{}, source string) float64 {
	if len(query) == 0 || source == "" {
		return 0
	}
	source = strings.ToLower(source)
	for token := range query {
		if token == "" {
			continue
		}
		if strings.Contains(source, token) {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
