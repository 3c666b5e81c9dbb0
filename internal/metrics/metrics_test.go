package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveArticlesIgnoresNonPositive(t *testing.T) {
	before := testutil.ToFloat64(ingestArticlesTotal.WithLabelValues("rejected"))
	ObserveArticles("rejected", 0)
	ObserveArticles("rejected", -3)
	require.InDelta(t, before, testutil.ToFloat64(ingestArticlesTotal.WithLabelValues("rejected")), 0)

	ObserveArticles("rejected", 2)
	require.InDelta(t, before+2, testutil.ToFloat64(ingestArticlesTotal.WithLabelValues("rejected")), 0)
}

func TestObserveStorageWrite(t *testing.T) {
	beforeWrites := testutil.ToFloat64(storageWritesTotal.WithLabelValues("raw", "ok"))
	beforeBytes := testutil.ToFloat64(storageBytesTotal.WithLabelValues("raw"))

	ObserveStorageWrite("raw", "ok", 128)

	require.InDelta(t, beforeWrites+1, testutil.ToFloat64(storageWritesTotal.WithLabelValues("raw", "ok")), 0)
	require.InDelta(t, beforeBytes+128, testutil.ToFloat64(storageBytesTotal.WithLabelValues("raw")), 0)
}

func TestObserveJob(t *testing.T) {
	before := testutil.ToFloat64(ingestJobsTotal.WithLabelValues("success"))
	ObserveJob("success", 250*time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(ingestJobsTotal.WithLabelValues("success")), 0)
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before200 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200"))
	before404 := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404"))

	for _, path := range []string{"/ping", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, before200+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, before404+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}
