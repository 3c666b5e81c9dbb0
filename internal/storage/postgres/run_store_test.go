package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

var columnNames = []string{
	"id", "message_id", "query", "language", "job_limit", "source", "status",
	"fetched", "duplicates", "new_articles", "stored", "processing_time_ms",
	"message", "error", "started_at", "finished_at",
}

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1770000000, 0).UTC()
	run := ingest.RunRecord{
		ID:        "run-1",
		MessageID: "msg-1",
		Job:       ingest.Job{Query: "bitcoin", Limit: 10, Language: "en", Source: "api"},
		Result: ingest.ProcessingResult{
			Status: "success", Query: "bitcoin", Fetched: 5, Duplicates: 2, NewArticles: 3, Stored: 2, ProcessingTimeMs: 420,
		},
		StartedAt:  started,
		FinishedAt: started.Add(420 * time.Millisecond),
	}

	mock.ExpectExec("INSERT INTO ingestion_runs").
		WithArgs(
			"run-1", "msg-1", "bitcoin", "en", 10, "api", "success",
			5, 2, 3, 2, int64(420), "", "",
			run.StartedAt, run.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunFailedStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs")
	require.NoError(t, err)

	run := ingest.RunRecord{ID: "run-2", MessageID: "msg-2", Error: "fetch failed"}
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(
			"run-2", "msg-2", "", "", 0, "", "failed",
			0, 0, 0, 0, int64(0), "", "fetch failed",
			time.Time{}, time.Time{},
		).
		WillReturnError(errors.New("connection reset"))

	err = store.RecordRun(context.Background(), run)
	require.ErrorContains(t, err, "insert run")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.RecordRun(context.Background(), ingest.RunRecord{}))
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1770000000, 0).UTC()
	mock.ExpectQuery("SELECT .+ FROM ingestion_runs WHERE id = \\$1").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(columnNames).AddRow(
			"run-1", "msg-1", "bitcoin", "en", 10, "api", "success",
			5, 2, 3, 2, int64(420), "", "", started, started.Add(time.Second),
		))

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "bitcoin", run.Job.Query)
	require.Equal(t, "success", run.Result.Status)
	require.Equal(t, "bitcoin", run.Result.Query)
	require.Equal(t, 2, run.Result.Stored)
	require.Equal(t, int64(420), run.Result.ProcessingTimeMs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM ingestion_runs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetRun(context.Background(), "missing")
	require.True(t, errors.Is(err, ingest.ErrRunNotFound), "got %v", err)
}

func TestListRuns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1770000000, 0).UTC()
	mock.ExpectQuery("ORDER BY started_at DESC LIMIT \\$1").
		WithArgs(50).
		WillReturnRows(pgxmock.NewRows(columnNames).
			AddRow("b", "m2", "ai", "en", 5, "scheduler", "failed", 0, 0, 0, 0, int64(10), "", "upstream", started.Add(time.Minute), started.Add(time.Minute)).
			AddRow("a", "m1", "ai", "en", 5, "api", "success", 3, 0, 3, 3, int64(90), "", "", started, started))

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].ID)
	require.Equal(t, "failed", runs[0].Status())
	require.Empty(t, runs[0].Result.Status)
	require.Equal(t, "success", runs[1].Status())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "ingestion_runs")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ingestion_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)
	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	require.Error(t, err)
}
