package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestListSummariesReversesToChronologicalOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewSummaryRepository(db)
	rows := sqlmock.NewRows([]string{"id", "user_id", "conversation_id", "turn_from", "turn_to", "summary", "created_at"}).
		AddRow("s-2", "u-1", "c-1", 7, 12, "later summary", time.Now()).
		AddRow("s-1", "u-1", "c-1", 1, 6, "earlier summary", time.Now().Add(-time.Hour))

	mock.ExpectQuery("FROM conversation_summaries").
		WithArgs("u-1", "c-1", 4).
		WillReturnRows(rows)

	summaries, err := repo.ListSummaries(context.Background(), "u-1", "c-1", 4)
	if err != nil {
		t.Fatalf("ListSummaries() error = %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].Summary != "earlier summary" || summaries[1].Summary != "later summary" {
		t.Fatalf("expected chronological order, got %+v", summaries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetLastSummaryEndTurnDefaultsToZero(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewSummaryRepository(db)
	mock.ExpectQuery("FROM conversation_summaries").
		WithArgs("u-1", "c-1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

	turn, err := repo.GetLastSummaryEndTurn(context.Background(), "u-1", "c-1")
	if err != nil {
		t.Fatalf("GetLastSummaryEndTurn() error = %v", err)
	}
	if turn != 0 {
		t.Fatalf("expected 0 for no summaries, got %d", turn)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
