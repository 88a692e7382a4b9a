package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

type SummaryRepository struct {
	db *sql.DB
}

func NewSummaryRepository(db *sql.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

func (r *SummaryRepository) CreateSummary(ctx context.Context, summary *domain.ConversationSummary) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO conversation_summaries (id, user_id, conversation_id, turn_from, turn_to, summary, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, summary.ID, summary.UserID, summary.ConversationID, summary.TurnFrom, summary.TurnTo, summary.Summary, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("create conversation summary: %w", err)
	}
	return nil
}

// ListSummaries returns the most recent summaries in chronological order.
func (r *SummaryRepository) ListSummaries(ctx context.Context, userID, conversationID string, limit int) ([]domain.ConversationSummary, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_id, conversation_id, turn_from, turn_to, summary, created_at
FROM conversation_summaries
WHERE user_id = $1 AND conversation_id = $2
ORDER BY turn_to DESC
LIMIT $3
`, userID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConversationSummary, 0, limit)
	for rows.Next() {
		var summary domain.ConversationSummary
		if err := rows.Scan(
			&summary.ID,
			&summary.UserID,
			&summary.ConversationID,
			&summary.TurnFrom,
			&summary.TurnTo,
			&summary.Summary,
			&summary.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *SummaryRepository) GetLastSummaryEndTurn(ctx context.Context, userID, conversationID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(turn_to), 0)
FROM conversation_summaries
WHERE user_id = $1 AND conversation_id = $2
`, userID, conversationID)

	var turn int
	if err := row.Scan(&turn); err != nil {
		return 0, fmt.Errorf("get last summary end turn: %w", err)
	}
	return turn, nil
}
