package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/smilemakc/dagrun/pkg/models"
)

func mockStore(t *testing.T) (*BunStore, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New(sqlmock.WithQueryMatcher(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	db := bun.NewDB(sqldb, pgdialect.New())
	return NewBunStore(db), mock
}

func TestBunStore_SaveRun(t *testing.T) {
	t.Parallel()
	store, mock := mockStore(t)

	mock.ExpectExec(`INSERT INTO "workflow_runs"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.SaveRun(context.Background(), sampleRun("r1", "wf"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_GetRun(t *testing.T) {
	t.Parallel()
	store, mock := mockStore(t)

	steps, err := json.Marshal(map[string]*models.StepResult{
		"http": {Status: models.StepSuccess, Attempts: 1},
	})
	require.NoError(t, err)

	columns := []string{"run_id", "workflow_id", "status", "duration_ms", "steps", "error", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM "workflow_runs"`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r1", "wf", "completed", int64(42), steps, "", time.Now()))

	got, err := store.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, models.RunCompleted, got.Status)
	assert.Equal(t, int64(42), got.DurationMs)
	require.Contains(t, got.Steps, "http")
	assert.Equal(t, models.StepSuccess, got.Steps["http"].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBunStore_GetRun_NotFound(t *testing.T) {
	t.Parallel()
	store, mock := mockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM "workflow_runs"`).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestBunStore_ListRuns(t *testing.T) {
	t.Parallel()
	store, mock := mockStore(t)

	columns := []string{"run_id", "workflow_id", "status", "duration_ms", "steps", "error", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM "workflow_runs".+ORDER BY "created_at" DESC`).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("r2", "wf", "failed", int64(5), []byte(`{}`), "boom", time.Now()).
			AddRow("r1", "wf", "completed", int64(9), []byte(`{}`), "", time.Now()))

	runs, err := store.ListRuns(context.Background(), "wf", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, models.RunFailed, runs[0].Status)
	assert.Equal(t, "boom", runs[0].Error)
}

func TestRunModelRoundTrip(t *testing.T) {
	t.Parallel()
	original := sampleRun("r9", "wf")
	row, err := toRow(original)
	require.NoError(t, err)
	back, err := fromRow(row)
	require.NoError(t, err)
	assert.Equal(t, original.RunID, back.RunID)
	assert.Equal(t, original.Status, back.Status)
	assert.Equal(t, original.Steps["http"].Status, back.Steps["http"].Status)
}
