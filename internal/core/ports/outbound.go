package ports

import (
	"context"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

// VectorStore performs tenant-scoped nearest-neighbor search over the
// document index. A nil scoreThreshold disables the similarity cutoff.
type VectorStore interface {
	SimilaritySearch(ctx context.Context, req domain.RetrievalRequest) ([]domain.ScoredDocument, error)
}

// CorpusReader lists the current full document set for one tenant. It backs
// the keyword strategy's in-memory index.
type CorpusReader interface {
	GetDocuments(ctx context.Context, userID string) ([]domain.Document, error)
}

// Reranker re-orders candidates by relevance to the query, cross-encoder
// style, returning at most topK documents.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []domain.Document, topK int) ([]domain.Document, error)
}

// Compressor selects the passages that become final generation context.
type Compressor interface {
	Compress(ctx context.Context, query string, documents []domain.Document, numPassages int) ([]domain.Document, error)
}

// Classifier is a single-shot, stateless judgment call: routing labels and
// binary yes/no grades.
type Classifier interface {
	ClassifyRoute(ctx context.Context, question string, summaries []string) (string, error)
	ClassifyBinary(ctx context.Context, prompt string) (bool, error)
}

// Fragment is one incremental piece of generated text.
type Fragment struct {
	Text string
	Err  error
}

// TextGenerator produces answer text, optionally fragment by fragment. The
// stream channel is closed when generation finishes or ctx is cancelled.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateStream(ctx context.Context, prompt string) (<-chan Fragment, error)
}

// Embedder builds vectors for summary indexing and memory search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// IdentityResolver supplies the acting user for the current call context.
// ok is false when no identity could be resolved.
type IdentityResolver interface {
	Resolve(ctx context.Context) (userID string, ok bool)
}

// ConversationStore persists chat history across turns. The graph itself
// holds no cross-turn state; it reads history here at turn start.
type ConversationStore interface {
	EnsureConversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)
	NextUserTurn(ctx context.Context, userID, conversationID string) (int, error)
	AppendMessage(ctx context.Context, message domain.Message) error
	ListRecentMessages(ctx context.Context, userID, conversationID string, limit int) ([]domain.Message, error)
	ListMessagesByTurnRange(ctx context.Context, userID, conversationID string, turnFrom, turnTo int) ([]domain.Message, error)
	UpdateLastSummaryEndTurn(ctx context.Context, userID, conversationID string, turn int) error
}

// SummaryStore persists conversation summaries.
type SummaryStore interface {
	CreateSummary(ctx context.Context, summary *domain.ConversationSummary) error
	ListSummaries(ctx context.Context, userID, conversationID string, limit int) ([]domain.ConversationSummary, error)
	GetLastSummaryEndTurn(ctx context.Context, userID, conversationID string) (int, error)
}

// SummaryIndex stores summary vectors for long-term memory search.
type SummaryIndex interface {
	IndexSummary(ctx context.Context, summary domain.ConversationSummary, vector []float32) error
}

// TurnEventPublisher hands completed turns to background processing.
type TurnEventPublisher interface {
	PublishTurnCompleted(ctx context.Context, userID, conversationID string, userTurn int) error
}

// TurnEventSubscriber consumes completed-turn events in the worker.
type TurnEventSubscriber interface {
	SubscribeTurnCompleted(ctx context.Context, handler func(ctx context.Context, userID, conversationID string, userTurn int) error) error
}
