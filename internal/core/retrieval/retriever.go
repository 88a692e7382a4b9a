package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

// Retriever is the single retrieval entry point used by callers. It is the
// only place identity resolution happens for retrieval purposes; strategies
// trust whatever identity they are handed.
type Retriever struct {
	factory       *Factory
	identity      ports.IdentityResolver
	defaultMethod Method
	logger        *slog.Logger
}

func NewRetriever(factory *Factory, identity ports.IdentityResolver, defaultMethod string, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	method, ok := ParseMethod(defaultMethod)
	if !ok {
		logger.Warn("unknown default retrieval strategy, using default", "configured", defaultMethod)
	}
	return &Retriever{
		factory:       factory,
		identity:      identity,
		defaultMethod: method,
		logger:        logger,
	}
}

// Retrieve resolves the acting identity from the call context, injects it
// into the request, and delegates to the named strategy (or the configured
// default when method is empty). A missing identity is a security warning,
// not a failure: the call proceeds unscoped.
func (r *Retriever) Retrieve(ctx context.Context, query, method string, req domain.RetrievalRequest) ([]domain.ScoredDocument, error) {
	userID, ok := r.identity.Resolve(ctx)
	if !ok || userID == "" {
		r.logger.Warn("retrieval without resolved user identity",
			"reason", "no_user_identity",
			"method", method,
		)
	}
	req.Query = query
	req.UserID = userID

	name := method
	if name == "" {
		name = string(r.defaultMethod)
	}
	docs, err := r.factory.Get(name).Retrieve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("retrieve via %s: %w", name, err)
	}
	return docs, nil
}

// ListStrategies returns the known strategy names and descriptions.
func (r *Retriever) ListStrategies() []domain.StrategyInfo {
	return Strategies()
}
