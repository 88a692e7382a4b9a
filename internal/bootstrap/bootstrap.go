package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	httpadapter "github.com/vmelnikau/docqa/internal/adapters/http"
	"github.com/vmelnikau/docqa/internal/config"
	"github.com/vmelnikau/docqa/internal/core/ports"
	"github.com/vmelnikau/docqa/internal/core/retrieval"
	"github.com/vmelnikau/docqa/internal/core/usecase"
	"github.com/vmelnikau/docqa/internal/infrastructure/llm/ollama"
	"github.com/vmelnikau/docqa/internal/infrastructure/queue/nats"
	"github.com/vmelnikau/docqa/internal/infrastructure/repository/postgres"
	"github.com/vmelnikau/docqa/internal/infrastructure/rerank"
	"github.com/vmelnikau/docqa/internal/infrastructure/resilience"
	"github.com/vmelnikau/docqa/internal/infrastructure/vector/qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue     *nats.Queue
	Retriever ports.DocumentRetriever
	ChatUC    ports.ChatService
	SummaryUC ports.Summarizer

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	conversations := postgres.NewConversationRepository(db)
	summaries := postgres.NewSummaryRepository(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig(), logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, executor)
	generator := ollama.NewGenerator(ollamaClient)
	classifier := ollama.NewClassifier(ollamaClient)
	compressor := ollama.NewCompressor(ollamaClient)
	embedder := ollama.NewEmbedder(ollamaClient)

	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, embedder)
	summaryIndex := qdrant.NewSummaryClient(cfg.QdrantURL, cfg.QdrantSummaryCollection)

	factory := retrieval.NewFactory(vectorDB, vectorDB, retrieval.Config{
		DefaultTopN:        cfg.RetrievalTopN,
		K:                  cfg.RetrievalK,
		ScoreThreshold:     cfg.RetrievalScoreThreshold,
		PrioritizeSemantic: cfg.RetrievalPrioritizeSemantic,
		EnsembleWeights:    cfg.RetrievalEnsembleWeights,
		RRFK:               cfg.RetrievalRRFK,
	}, logger)
	retriever := retrieval.NewRetriever(factory, httpadapter.ContextIdentityResolver{}, cfg.RetrievalDefaultMethod, logger)

	chatUC := usecase.NewChatTurnUseCase(
		retriever,
		rerank.NewLexicalReranker(),
		compressor,
		classifier,
		generator,
		conversations,
		summaries,
		httpadapter.ContextIdentityResolver{},
		queue,
		usecase.TurnLimits{
			ShortMemoryMessages: cfg.ChatShortMemoryMessages,
			SummaryLimit:        cfg.ChatSummaryLimit,
			RerankTopK:          cfg.ChatRerankTopK,
			CompressPassages:    cfg.ChatCompressPassages,
			ExpandQuery:         cfg.ChatExpandQuery,
			GenerateTimeout:     time.Duration(cfg.ChatGenerateTimeoutSeconds) * time.Second,
		},
		logger,
	)

	summaryUC := usecase.NewSummarizeUseCase(
		conversations,
		summaries,
		summaryIndex,
		generator,
		embedder,
		cfg.SummaryEveryTurns,
		logger,
	)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Queue:     queue,
		Retriever: retriever,
		ChatUC:    chatUC,
		SummaryUC: summaryUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
