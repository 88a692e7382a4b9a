package ports

import (
	"context"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

// ChatService is the inbound contract for one question-and-answer turn.
type ChatService interface {
	Ask(ctx context.Context, conversationID, question string) (*domain.TurnResult, error)
	AskStream(ctx context.Context, conversationID, question string) (<-chan domain.StreamChunk, error)
}

// DocumentRetriever is the inbound contract for direct document retrieval.
type DocumentRetriever interface {
	Retrieve(ctx context.Context, query, method string, opts domain.RetrievalRequest) ([]domain.ScoredDocument, error)
	ListStrategies() []domain.StrategyInfo
}

// Summarizer is the inbound contract for asynchronous summary generation.
type Summarizer interface {
	SummarizeIfDue(ctx context.Context, userID, conversationID string, currentTurn int) (bool, error)
}
