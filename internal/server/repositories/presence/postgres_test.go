package presence

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cseek11/VeroSuite-sub002/internal/common"
	"github.com/cseek11/VeroSuite-sub002/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestUpsert_OnConflictUpdates(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+region_presence.*ON\s+CONFLICT\s+\(region_id,\s*user_id,\s*session_id\)\s+DO\s+UPDATE`
	mock.ExpectExec(q).WithArgs("r-1", "u-1", "s-1", "t-1", true, now).WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), &models.Presence{
		RegionID: "r-1", UserID: "u-1", SessionID: "s-1", TenantID: "t-1", IsEditing: true, LastSeen: now,
	})
	if err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+region_presence`).WillReturnError(errors.New("conn reset"))

	err := repo.Upsert(context.Background(), &models.Presence{})
	if err == nil || !regexp.MustCompile(`db error: .*conn reset`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestDeleteSession_ReturnsRegions(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+region_presence.*RETURNING\s+region_id$`).
		WithArgs("t-1", "u-1", "s-1").
		WillReturnRows(sqlmock.NewRows([]string{"region_id"}).AddRow("r-1").AddRow("r-2"))

	got, err := repo.DeleteSession(context.Background(), "t-1", "u-1", "s-1")
	if err != nil {
		t.Fatalf("DeleteSession error: %v", err)
	}
	if len(got) != 2 || got[0] != "r-1" {
		t.Fatalf("unexpected regions: %v", got)
	}
}

func TestFindEditor_NoneIsNotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	since := now.Add(-5 * time.Minute)
	mock.ExpectQuery(`(?s)^SELECT\s+region_id,.*user_id\s*<>\s*\$3\s+AND\s+is_editing\s+AND\s+last_seen\s*>=\s*\$4`).
		WithArgs("t-1", "r-1", "u-2", since).WillReturnError(sql.ErrNoRows)

	_, err := repo.FindEditor(context.Background(), "t-1", "r-1", "u-2", since)
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("expected ErrorNotFound, got %v", err)
	}
}

func TestFindEditor_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	since := now.Add(-5 * time.Minute)
	rows := sqlmock.NewRows([]string{"region_id", "user_id", "session_id", "tenant_id", "is_editing", "last_seen"}).
		AddRow("r-1", "u-1", "s-1", "t-1", true, now)
	mock.ExpectQuery(`(?s)^SELECT\s+region_id,`).WithArgs("t-1", "r-1", "u-2", since).WillReturnRows(rows)

	p, err := repo.FindEditor(context.Background(), "t-1", "r-1", "u-2", since)
	if err != nil {
		t.Fatalf("FindEditor error: %v", err)
	}
	if p.UserID != "u-1" || !p.IsEditing {
		t.Fatalf("unexpected presence: %+v", p)
	}
}

func TestDeleteStale(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^DELETE\s+FROM\s+region_presence\s+WHERE\s+last_seen\s*<\s*\$1`).
		WithArgs(now, "").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteStale(context.Background(), "", now)
	if err != nil || n != 3 {
		t.Fatalf("DeleteStale = %d, %v", n, err)
	}
}

func TestTouch(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^UPDATE\s+region_presence\s+SET\s+last_seen\s*=\s*\$4`).
		WithArgs("t-1", "u-1", "s-1", now).WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.Touch(context.Background(), "t-1", "u-1", "s-1", now)
	if err != nil || n != 2 {
		t.Fatalf("Touch = %d, %v", n, err)
	}
}
