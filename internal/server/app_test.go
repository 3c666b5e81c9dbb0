package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/clock"
	"github.com/JakeFAU/realtime-news-ingestor/internal/config"
	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/scheduler"
)

const providerBody = `{"status":"ok","totalResults":3,"articles":[
 {"source":{"id":"bbc-news","name":"BBC News"},"title":"One","url":"https://bbc.co.uk/1","publishedAt":"2026-02-06T10:00:00Z","description":"<p>first</p>"},
 {"source":{"id":null,"name":"Reuters"},"title":"Two","url":"https://reuters.com/2","publishedAt":"2026-02-06T11:00:00Z"},
 {"source":{"id":null,"name":"Reuters"},"title":"[Removed]","url":"https://removed.com","publishedAt":"2026-02-06T11:00:00Z"}
]}`

func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"status":"error","code":"apiKeyInvalid","message":"bad key"}`))
			return
		}
		_, _ = w.Write([]byte(providerBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, providerURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Fetcher.BaseURL = providerURL
	cfg.Fetcher.APIKey = "test-key"
	cfg.Fetcher.RequestsPerSecond = 0
	cfg.Queue.Consumers = 1
	return cfg
}

func TestBuildAndIngest(t *testing.T) {
	t.Parallel()

	provider := newProvider(t)
	at := time.Date(2026, 2, 6, 14, 30, 52, 0, time.UTC)
	app, err := Build(context.Background(), testConfig(t, provider.URL), Options{
		Clock:  clock.NewFixed(at),
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	result, err := app.Ingest(context.Background(), ingest.Job{Query: "markets", Limit: 10, Source: "test"})
	require.NoError(t, err)
	require.Equal(t, ingest.ResultStatusSuccess, result.Status)
	require.Equal(t, 3, result.Fetched)
	require.Equal(t, 3, result.NewArticles)
	require.Equal(t, 2, result.Stored)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Runs []ingest.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Runs, 1)
	require.Equal(t, "markets", payload.Runs[0].Job.Query)
	require.Equal(t, 2, payload.Runs[0].Result.Stored)
}

func TestIngestSurfacesUpstreamFailure(t *testing.T) {
	t.Parallel()

	provider := newProvider(t)
	cfg := testConfig(t, provider.URL)
	cfg.Fetcher.APIKey = "wrong"
	app, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	_, err = app.Ingest(context.Background(), ingest.Job{Query: "markets"})
	require.ErrorIs(t, err, ingest.ErrUpstreamFetch)
	require.Contains(t, err.Error(), "bad key")
}

func TestIngestHonoursQuota(t *testing.T) {
	t.Parallel()

	provider := newProvider(t)
	cfg := testConfig(t, provider.URL)
	cfg.Quota.DailyLimit = 1
	app, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	_, err = app.Ingest(context.Background(), ingest.Job{Query: "one"})
	require.NoError(t, err)
	_, err = app.Ingest(context.Background(), ingest.Job{Query: "two"})
	require.ErrorIs(t, err, ingest.ErrQuotaExhausted)

	_, err = app.Ingest(context.Background(), ingest.Job{Query: ""})
	require.ErrorIs(t, err, ingest.ErrInvalidJob)
}

func TestRunWorkerConsumesQueuedJobs(t *testing.T) {
	t.Parallel()

	provider := newProvider(t)
	app, err := Build(context.Background(), testConfig(t, provider.URL), Options{Logger: zap.NewNop()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.RunWorker(ctx) }()

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(`{"query":"queued"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		runs, err := app.runs.ListRuns(context.Background(), 10)
		return err == nil && len(runs) == 1 && runs[0].Error == ""
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestBuildRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Schedule = []scheduler.Entry{{Spec: "every minute", Query: "ai"}}
	_, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop()})
	require.Error(t, err)
}
