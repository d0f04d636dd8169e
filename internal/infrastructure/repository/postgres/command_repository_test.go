package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/command-router/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*CommandRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewCommandRepository(db), mock, func() { _ = db.Close() }
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WithArgs(schemaLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS command_journal").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordInsertsRow(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	received := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO command_journal").
		WithArgs("rec-1", "10.0.0.2", "run", "git status", "tool_operation", 200, false, 12.5, received).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), domain.CommandRecord{
		ID:         "rec-1",
		ClientID:   "10.0.0.2",
		Route:      "run",
		Text:       "git status",
		Kind:       domain.KindToolOperation,
		Code:       200,
		Duration:   12500 * time.Microsecond,
		ReceivedAt: received,
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRecordWrapsDriverError(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO command_journal").WillReturnError(errors.New("connection reset"))
	if err := repo.Record(context.Background(), domain.CommandRecord{Text: "hi"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListRecentScansRows(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows([]string{"id", "client_id", "route", "command_text", "kind", "code", "cache_hit", "duration_ms", "received_at"}).
		AddRow("rec-2", "c", "run", "what is raft", "retrieval_query", 200, true, 3.0, time.Now())
	mock.ExpectQuery("FROM command_journal").WithArgs(5).WillReturnRows(rows)

	recs, err := repo.ListRecent(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Kind != domain.KindRetrievalQuery || !recs[0].CacheHit || recs[0].Duration != 3*time.Millisecond {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
