package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmelnikau/docqa/internal/core/domain"
	"github.com/vmelnikau/docqa/internal/core/ports"
)

const (
	RouteRetrieve = "retrieve"
	RouteSummary  = "summary"
	RouteFallback = "fallback"
)

const fallbackAnswer = "I can only answer questions about the documents in your workspace. Please ask about their contents."

// TurnLimits bounds one conversation turn. Zero values fall back to the
// defaults applied by NewChatTurnUseCase.
type TurnLimits struct {
	ShortMemoryMessages int
	SummaryLimit        int
	RerankTopK          int
	CompressPassages    int
	ExpandQuery         bool
	GenerateTimeout     time.Duration
}

type ChatTurnUseCase struct {
	retriever     ports.DocumentRetriever
	reranker      ports.Reranker
	compressor    ports.Compressor
	classifier    ports.Classifier
	generator     ports.TextGenerator
	conversations ports.ConversationStore
	summaries     ports.SummaryStore
	identity      ports.IdentityResolver
	events        ports.TurnEventPublisher
	limits        TurnLimits
	logger        *slog.Logger
}

func NewChatTurnUseCase(
	retriever ports.DocumentRetriever,
	reranker ports.Reranker,
	compressor ports.Compressor,
	classifier ports.Classifier,
	generator ports.TextGenerator,
	conversations ports.ConversationStore,
	summaries ports.SummaryStore,
	identity ports.IdentityResolver,
	events ports.TurnEventPublisher,
	limits TurnLimits,
	logger *slog.Logger,
) *ChatTurnUseCase {
	if limits.ShortMemoryMessages <= 0 {
		limits.ShortMemoryMessages = 12
	}
	if limits.SummaryLimit <= 0 {
		limits.SummaryLimit = 4
	}
	if limits.RerankTopK <= 0 {
		limits.RerankTopK = 20
	}
	if limits.CompressPassages <= 0 {
		limits.CompressPassages = 5
	}
	if limits.GenerateTimeout <= 0 {
		limits.GenerateTimeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ChatTurnUseCase{
		retriever:     retriever,
		reranker:      reranker,
		compressor:    compressor,
		classifier:    classifier,
		generator:     generator,
		conversations: conversations,
		summaries:     summaries,
		identity:      identity,
		events:        events,
		limits:        limits,
		logger:        logger,
	}
}

// turnContext carries everything a single turn accumulates before generation.
type turnContext struct {
	userID         string
	conversationID string
	userTurn       int
	route          string
	state          domain.ConversationState
}

// Ask runs one full question-and-answer turn and blocks until the answer and
// its verdict are ready.
func (uc *ChatTurnUseCase) Ask(ctx context.Context, conversationID, question string) (*domain.TurnResult, error) {
	turn, err := uc.beginTurn(ctx, conversationID, question)
	if err != nil {
		return nil, err
	}

	if turn.route == RouteFallback {
		return uc.finishTurn(ctx, turn, fallbackAnswer, domain.TurnVerdict{})
	}

	if err := uc.gatherContext(ctx, turn); err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, uc.limits.GenerateTimeout)
	defer cancel()
	answer, err := uc.generator.Generate(genCtx, buildAnswerPrompt(turn.state))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)

	generation := answer
	turn.state = turn.state.Apply(domain.StateDelta{Generation: &generation})

	verdict, err := uc.judgeAnswer(ctx, turn.state)
	if err != nil {
		return nil, err
	}

	return uc.finishTurn(ctx, turn, answer, verdict)
}

// AskStream runs the same turn but emits the answer incrementally. The
// returned channel is closed when generation completes or ctx is cancelled.
func (uc *ChatTurnUseCase) AskStream(ctx context.Context, conversationID, question string) (<-chan domain.StreamChunk, error) {
	turn, err := uc.beginTurn(ctx, conversationID, question)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamChunk)

	if turn.route == RouteFallback {
		go func() {
			defer close(out)
			select {
			case <-ctx.Done():
				return
			case out <- domain.StreamChunk{Content: fallbackAnswer, State: turn.state.View()}:
			}
			if _, err := uc.finishTurn(ctx, turn, fallbackAnswer, domain.TurnVerdict{}); err != nil {
				uc.logger.Error("finish fallback turn", "error", err)
			}
		}()
		return out, nil
	}

	if err := uc.gatherContext(ctx, turn); err != nil {
		close(out)
		return nil, err
	}

	fragments, err := uc.generator.GenerateStream(ctx, buildAnswerPrompt(turn.state))
	if err != nil {
		close(out)
		return nil, fmt.Errorf("start generation stream: %w", err)
	}

	go func() {
		defer close(out)
		assembler := newStreamAssembler(out, turn.state.View)
		answer, err := assembler.consume(ctx, fragments)
		if err != nil {
			// Client gone or upstream failed mid-stream; nothing to persist.
			uc.logger.Warn("generation stream aborted", "error", err)
			return
		}
		answer = strings.TrimSpace(answer)

		generation := answer
		turn.state = turn.state.Apply(domain.StateDelta{Generation: &generation})

		verdict, err := uc.judgeAnswer(ctx, turn.state)
		if err != nil {
			uc.logger.Warn("judge streamed answer", "error", err)
			verdict = domain.TurnVerdict{}
		}
		if _, err := uc.finishTurn(ctx, turn, answer, verdict); err != nil {
			uc.logger.Error("finish streamed turn", "error", err)
		}
	}()
	return out, nil
}

// beginTurn validates input, loads memory, records the user message and
// routes the question. Later steps never run for the fallback route.
func (uc *ChatTurnUseCase) beginTurn(ctx context.Context, conversationID, question string) (*turnContext, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat turn", fmt.Errorf("question is required"))
	}

	userID, ok := uc.identity.Resolve(ctx)
	if !ok {
		uc.logger.Warn("chat turn without resolved identity",
			"reason", "no_user_identity",
		)
	}

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	if _, err := uc.conversations.EnsureConversation(ctx, userID, conversationID); err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}

	history, err := uc.conversations.ListRecentMessages(ctx, userID, conversationID, uc.limits.ShortMemoryMessages)
	if err != nil {
		return nil, fmt.Errorf("load short memory: %w", err)
	}

	summaryTexts := []string{}
	storedSummaries, err := uc.summaries.ListSummaries(ctx, userID, conversationID, uc.limits.SummaryLimit)
	if err != nil {
		// Long-term memory is an enrichment; a turn must not fail on it.
		uc.logger.Warn("load summaries", "error", err)
	} else {
		for _, s := range storedSummaries {
			if text := strings.TrimSpace(s.Summary); text != "" {
				summaryTexts = append(summaryTexts, text)
			}
		}
	}

	userTurn, err := uc.conversations.NextUserTurn(ctx, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("next user turn: %w", err)
	}

	userMessage := domain.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           domain.RoleUser,
		Content:        question,
		UserTurn:       userTurn,
		CreatedAt:      time.Now().UTC(),
	}
	if err := uc.conversations.AppendMessage(ctx, userMessage); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	state := domain.NewConversationState(question, history, summaryTexts)
	state = state.Apply(domain.StateDelta{Messages: []domain.Message{userMessage}})

	route, err := uc.classifier.ClassifyRoute(ctx, question, summaryTexts)
	if err != nil {
		return nil, fmt.Errorf("route question: %w", err)
	}
	route = strings.ToLower(strings.TrimSpace(route))
	switch route {
	case RouteRetrieve, RouteSummary, RouteFallback:
	default:
		uc.logger.Warn("unknown route, treating as retrieve", "route", route)
		route = RouteRetrieve
	}

	if route == RouteSummary {
		enough := true
		state = state.Apply(domain.StateDelta{IsSummaryEnough: &enough})
	}

	uc.logger.Info("turn routed",
		"conversation_id", conversationID,
		"route", route,
		"user_turn", userTurn,
	)

	return &turnContext{
		userID:         userID,
		conversationID: conversationID,
		userTurn:       userTurn,
		route:          route,
		state:          state,
	}, nil
}

// gatherContext runs the document steps for the retrieve route. The summary
// route answers from long-term memory and skips them entirely.
func (uc *ChatTurnUseCase) gatherContext(ctx context.Context, turn *turnContext) error {
	if turn.state.IsSummaryEnough {
		return nil
	}

	for _, step := range []func(context.Context, domain.ConversationState) (domain.StateDelta, error){
		uc.stepRetrieve,
		uc.stepRerank,
		uc.stepCompress,
		uc.stepGrade,
	} {
		delta, err := step(ctx, turn.state)
		if err != nil {
			return err
		}
		turn.state = turn.state.Apply(delta)
	}
	return nil
}

// finishTurn persists the assistant message, publishes the turn-completed
// event and builds the caller-facing result.
func (uc *ChatTurnUseCase) finishTurn(ctx context.Context, turn *turnContext, answer string, verdict domain.TurnVerdict) (*domain.TurnResult, error) {
	assistantMessage := domain.Message{
		ID:             uuid.NewString(),
		UserID:         turn.userID,
		ConversationID: turn.conversationID,
		Role:           domain.RoleAssistant,
		Content:        answer,
		UserTurn:       turn.userTurn,
		CreatedAt:      time.Now().UTC(),
	}
	if err := uc.conversations.AppendMessage(ctx, assistantMessage); err != nil {
		return nil, fmt.Errorf("append assistant message: %w", err)
	}
	turn.state = turn.state.Apply(domain.StateDelta{Messages: []domain.Message{assistantMessage}})

	if uc.events != nil {
		if err := uc.events.PublishTurnCompleted(ctx, turn.userID, turn.conversationID, turn.userTurn); err != nil {
			// Summaries catch up on the next event; the answer is already final.
			uc.logger.Warn("publish turn completed", "error", err)
		}
	}

	// The result reports only sources the generation context actually used;
	// documents dropped by compression or grading never appear here.
	return &domain.TurnResult{
		ConversationID: turn.conversationID,
		Answer:         answer,
		Route:          turn.route,
		Sources:        domain.SourcesOf(turn.state.CompressedDocuments),
		Verdict:        verdict,
	}, nil
}

// judgeAnswer runs the two post-generation checks: grounding in the retrieved
// context and usefulness against the question. The verdict is advisory and
// never triggers a retry.
func (uc *ChatTurnUseCase) judgeAnswer(ctx context.Context, state domain.ConversationState) (domain.TurnVerdict, error) {
	verdict := domain.TurnVerdict{Grounded: "yes", AnswersQuestion: "yes"}

	if len(state.CompressedDocuments) > 0 {
		grounded, err := uc.classifier.ClassifyBinary(ctx, buildGroundingPrompt(state))
		if err != nil {
			return verdict, fmt.Errorf("grounding check: %w", err)
		}
		if !grounded {
			verdict.Grounded = "no"
		}
	}

	answers, err := uc.classifier.ClassifyBinary(ctx, buildUsefulnessPrompt(state))
	if err != nil {
		return verdict, fmt.Errorf("usefulness check: %w", err)
	}
	if !answers {
		verdict.AnswersQuestion = "no"
	}
	return verdict, nil
}
