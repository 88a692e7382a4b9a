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

// SummarizeUseCase condenses completed turns into long-term memory. It runs
// in the worker, triggered by turn-completed events, and writes a summary
// once enough unsummarized turns have accumulated.
type SummarizeUseCase struct {
	conversations ports.ConversationStore
	summaries     ports.SummaryStore
	index         ports.SummaryIndex
	generator     ports.TextGenerator
	embedder      ports.Embedder
	everyTurns    int
	logger        *slog.Logger
}

func NewSummarizeUseCase(
	conversations ports.ConversationStore,
	summaries ports.SummaryStore,
	index ports.SummaryIndex,
	generator ports.TextGenerator,
	embedder ports.Embedder,
	everyTurns int,
	logger *slog.Logger,
) *SummarizeUseCase {
	if everyTurns <= 0 {
		everyTurns = 6
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummarizeUseCase{
		conversations: conversations,
		summaries:     summaries,
		index:         index,
		generator:     generator,
		embedder:      embedder,
		everyTurns:    everyTurns,
		logger:        logger,
	}
}

// SummarizeIfDue creates a summary covering the turns since the last one, if
// the configured interval has elapsed. It reports whether a summary was
// written.
func (uc *SummarizeUseCase) SummarizeIfDue(ctx context.Context, userID, conversationID string, currentTurn int) (bool, error) {
	lastTurn, err := uc.summaries.GetLastSummaryEndTurn(ctx, userID, conversationID)
	if err != nil {
		return false, fmt.Errorf("get last summary turn: %w", err)
	}
	if currentTurn <= lastTurn {
		return false, nil
	}
	if currentTurn-lastTurn < uc.everyTurns {
		return false, nil
	}

	messages, err := uc.conversations.ListMessagesByTurnRange(ctx, userID, conversationID, lastTurn+1, currentTurn)
	if err != nil {
		return false, fmt.Errorf("load messages for summary: %w", err)
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", msg.Role, content))
	}
	if len(lines) == 0 {
		return false, nil
	}

	summaryText, err := uc.generator.Generate(ctx, buildSummaryPrompt(lines))
	if err != nil {
		return false, fmt.Errorf("generate summary: %w", err)
	}
	summaryText = strings.TrimSpace(summaryText)
	if summaryText == "" {
		return false, nil
	}

	summary := &domain.ConversationSummary{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		TurnFrom:       lastTurn + 1,
		TurnTo:         currentTurn,
		Summary:        summaryText,
		CreatedAt:      time.Now().UTC(),
	}
	if err := uc.summaries.CreateSummary(ctx, summary); err != nil {
		return false, fmt.Errorf("create summary: %w", err)
	}

	if uc.index != nil && uc.embedder != nil {
		vector, err := uc.embedder.EmbedQuery(ctx, summaryText)
		if err != nil || len(vector) == 0 {
			uc.logger.Warn("embed summary", "error", err)
		} else if err := uc.index.IndexSummary(ctx, *summary, vector); err != nil {
			return false, fmt.Errorf("index summary: %w", err)
		}
	}

	if err := uc.conversations.UpdateLastSummaryEndTurn(ctx, userID, conversationID, currentTurn); err != nil {
		return false, fmt.Errorf("update last summary end turn: %w", err)
	}

	uc.logger.Info("conversation summary created",
		"conversation_id", conversationID,
		"turn_from", summary.TurnFrom,
		"turn_to", summary.TurnTo,
	)
	return true, nil
}

func buildSummaryPrompt(lines []string) string {
	return fmt.Sprintf(`Summarize the following conversation turns in concise factual form.
Include user goals, key facts and decisions.
Return plain text.

%s`, strings.Join(lines, "\n"))
}
