package retrieval

import (
	"context"
	"strings"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

// Method identifies one retrieval strategy.
type Method string

const (
	MethodDefault  Method = "default"
	MethodSemantic Method = "semantic"
	MethodKeyword  Method = "keyword"
	MethodHybrid   Method = "hybrid"
	MethodEnsemble Method = "ensemble"
)

// Strategy turns a text query into a ranked document list. Strategies trust
// the identity they are handed; resolving it is the facade's job.
type Strategy interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error)
}

// ParseMethod maps a free-text strategy name to a Method. ok is false for
// unrecognized names; the factory falls back to Default in that case.
func ParseMethod(name string) (Method, bool) {
	switch Method(strings.ToLower(strings.TrimSpace(name))) {
	case MethodDefault, "":
		return MethodDefault, true
	case MethodSemantic:
		return MethodSemantic, true
	case MethodKeyword:
		return MethodKeyword, true
	case MethodHybrid:
		return MethodHybrid, true
	case MethodEnsemble:
		return MethodEnsemble, true
	default:
		return MethodDefault, false
	}
}

// Strategies lists the known methods with human-readable descriptions.
func Strategies() []domain.StrategyInfo {
	return []domain.StrategyInfo{
		{Name: string(MethodDefault), Description: "Fixed top-20 nearest-neighbor search scoped to the acting user, no score cutoff."},
		{Name: string(MethodSemantic), Description: "Similarity search with a hard score threshold; below-threshold results are discarded."},
		{Name: string(MethodKeyword), Description: "BM25 term-frequency search over an in-memory index of the user's documents."},
		{Name: string(MethodHybrid), Description: "Primary/secondary merge of semantic and default results, deduplicated by content prefix."},
		{Name: string(MethodEnsemble), Description: "Weighted reciprocal-rank fusion across multiple sub-retrievers."},
	}
}
