package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vmelnikau/docqa/internal/core/domain"
)

func TestListRecentMessagesReturnsChronologicalOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConversationRepository(db)
	rows := sqlmock.NewRows([]string{"id", "user_id", "conversation_id", "role", "content", "user_turn", "created_at"}).
		AddRow("m-2", "u-1", "c-1", domain.RoleAssistant, "second", 1, time.Now()).
		AddRow("m-1", "u-1", "c-1", domain.RoleUser, "first", 1, time.Now().Add(-time.Minute))

	mock.ExpectQuery("FROM conversation_messages").
		WithArgs("u-1", "c-1", 12).
		WillReturnRows(rows)

	messages, err := repo.ListRecentMessages(context.Background(), "u-1", "c-1", 12)
	if err != nil {
		t.Fatalf("ListRecentMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	// SQL returns newest first; callers see chronological order.
	if messages[0].Content != "first" || messages[1].Content != "second" {
		t.Fatalf("expected chronological order, got %+v", messages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNextUserTurnEnsuresMissingConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConversationRepository(db)

	mock.ExpectQuery("UPDATE conversations").
		WithArgs("u-1", "c-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"current_user_turn"}))
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("u-1", "c-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM conversations").
		WithArgs("u-1", "c-1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "conversation_id", "current_user_turn", "last_summary_end_turn", "created_at", "updated_at"}).
			AddRow("u-1", "c-1", 0, 0, time.Now(), time.Now()))
	mock.ExpectQuery("UPDATE conversations").
		WithArgs("u-1", "c-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"current_user_turn"}).AddRow(1))

	turn, err := repo.NextUserTurn(context.Background(), "u-1", "c-1")
	if err != nil {
		t.Fatalf("NextUserTurn() error = %v", err)
	}
	if turn != 1 {
		t.Fatalf("expected first turn, got %d", turn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessagePersistsTurnNumber(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewConversationRepository(db)
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs("m-1", "u-1", "c-1", domain.RoleUser, "question", 3, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.AppendMessage(context.Background(), domain.Message{
		ID:             "m-1",
		UserID:         "u-1",
		ConversationID: "c-1",
		Role:           domain.RoleUser,
		Content:        "question",
		UserTurn:       3,
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
