package ingest

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseJobAppliesDefaults(t *testing.T) {
	t.Parallel()

	job, err := ParseJob([]byte(`{"query":"  bitcoin ","language":"EN"}`))
	require.NoError(t, err)
	require.Equal(t, "bitcoin", job.Query)
	require.Equal(t, DefaultJobLimit, job.Limit)
	require.Equal(t, "en", job.Language)
	require.Equal(t, DefaultSource, job.Source)
}

func TestParseJobRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad json":      `{"query":`,
		"empty query":   `{"query":"   "}`,
		"limit too big": `{"query":"ai","limit":101}`,
		"negative":      `{"query":"ai","limit":-1}`,
		"language":      `{"query":"ai","language":"eng"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseJob([]byte(body))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidJob), "expected ErrInvalidJob, got %v", err)
		})
	}
}

func TestParseRawRecordKeepsOriginalBytes(t *testing.T) {
	t.Parallel()

	in := `{"source":{"id":null,"name":"CNN"},"title":"Hello","url":"https://example.com/a","publishedAt":"2026-02-01T14:30:00Z","extra":42}`
	rec := ParseRawRecord([]byte(in))
	require.NoError(t, rec.DecodeErr)
	require.Equal(t, "CNN", rec.Source.Name)
	require.Equal(t, "Hello", rec.Title)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, in, string(out))
}

func TestParseRawRecordFlagsMalformedRecord(t *testing.T) {
	t.Parallel()

	rec := ParseRawRecord([]byte(`{"title":123,"url":"https://example.com"}`))
	require.Error(t, rec.DecodeErr)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":123,"url":"https://example.com"}`, string(out))
}

func TestPartitionKeyPath(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 2, 6, 14, 30, 52, 0, time.UTC)
	key := NewPartitionKey(ts, "NewsAPI")
	require.Equal(t, "year=2026/month=02/day=06/source=newsapi", key.Path())
}

func TestSanitizeKeyPart(t *testing.T) {
	t.Parallel()

	require.Equal(t, "climate_change__2026", SanitizeKeyPart("Climate Change: 2026"))
	require.Equal(t, "bbc_news", SanitizeKeyPart("bbc-news"))
}

func TestBatchResponseFailedIDs(t *testing.T) {
	t.Parallel()

	resp := BatchResponse{BatchItemFailures: []BatchItemFailure{{ItemIdentifier: "a"}, {ItemIdentifier: "b"}}}
	require.Equal(t, []string{"a", "b"}, resp.FailedIDs())

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"batchItemFailures":[{"itemIdentifier":"a"},{"itemIdentifier":"b"}]}`, string(data))
}
