package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

type fakeProcessor struct {
	mu     sync.Mutex
	failOn map[string]error
	delay  time.Duration
	jobs   []ingest.Job
}

func (p *fakeProcessor) Process(_ context.Context, job ingest.Job) (ingest.ProcessingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if err := p.failOn[job.Query]; err != nil {
		return ingest.ProcessingResult{}, err
	}
	return ingest.ProcessingResult{Status: ingest.ResultStatusSuccess, Query: job.Query, Fetched: 1, NewArticles: 1, Stored: 1}, nil
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs []ingest.RunRecord
	err  error
}

func (s *fakeRunStore) RecordRun(_ context.Context, run ingest.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return s.err
}

func (s *fakeRunStore) Close() {}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.payloads = append(p.payloads, payload)
	return "pub-1", nil
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return "run-" + string(rune('0'+f.n)), nil
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func msg(id, body string) ingest.Message {
	return ingest.Message{ID: id, Body: []byte(body)}
}

func TestHandleBatchReportsOnlyFailures(t *testing.T) {
	t.Parallel()

	processor := &fakeProcessor{failOn: map[string]error{"broken": ingest.ErrUpstreamFetch}}
	runs := &fakeRunStore{}
	pub := &fakePublisher{}
	w := New(processor, runs, pub, &fakeIDs{}, &fakeClock{now: time.Unix(100, 0).UTC()}, zap.NewNop())

	resp := w.HandleBatch(context.Background(), []ingest.Message{
		msg("m1", `{"query":"ai"}`),
		msg("m2", `{"query":"broken"}`),
		msg("m3", `not json`),
		msg("m4", `{"query":"climate","limit":5}`),
	})

	require.Equal(t, []string{"m2", "m3"}, resp.FailedIDs())
	require.Len(t, processor.jobs, 3)
	require.Equal(t, 5, processor.jobs[2].Limit)
	require.Len(t, pub.payloads, 2)
	require.Len(t, runs.runs, 4)

	byMessage := map[string]ingest.RunRecord{}
	for _, r := range runs.runs {
		byMessage[r.MessageID] = r
	}
	require.Equal(t, "success", byMessage["m1"].Status())
	require.Equal(t, "failed", byMessage["m2"].Status())
	require.Contains(t, byMessage["m3"].Error, "invalid ingestion job")
	require.Equal(t, 1, byMessage["m4"].Result.Stored)
}

func TestHandleBatchEmptyReportsEmptyList(t *testing.T) {
	t.Parallel()

	w := New(&fakeProcessor{}, nil, nil, nil, &fakeClock{}, nil)
	resp := w.HandleBatch(context.Background(), nil)
	require.NotNil(t, resp.BatchItemFailures)
	require.Empty(t, resp.BatchItemFailures)
}

func TestSideChannelFailuresDoNotFailMessage(t *testing.T) {
	t.Parallel()

	runs := &fakeRunStore{err: errors.New("db down")}
	pub := &fakePublisher{err: errors.New("topic missing")}
	w := New(&fakeProcessor{}, runs, pub, &fakeIDs{}, &fakeClock{}, zap.NewNop())

	resp := w.HandleBatch(context.Background(), []ingest.Message{msg("m1", `{"query":"ai"}`)})
	require.Empty(t, resp.FailedIDs())
	require.Len(t, runs.runs, 1)
}

func TestHandleMessagePublishesNotification(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	w := New(&fakeProcessor{}, nil, pub, &fakeIDs{}, &fakeClock{}, zap.NewNop())

	result, err := w.HandleMessage(context.Background(), msg("m9", `{"query":"ai","source":"scheduler"}`))
	require.NoError(t, err)
	require.Equal(t, "ai", result.Query)

	require.Len(t, pub.payloads, 1)
	note, ok := pub.payloads[0].(RunNotification)
	require.True(t, ok)
	require.Equal(t, "m9", note.MessageID)
	require.Equal(t, "run-1", note.RunID)
	require.Equal(t, "scheduler", note.Source)
}

func TestRunIDFallsBackToMessageID(t *testing.T) {
	t.Parallel()

	runs := &fakeRunStore{}
	w := New(&fakeProcessor{}, runs, nil, nil, &fakeClock{}, zap.NewNop())
	_, err := w.HandleMessage(context.Background(), msg("m1", `{"query":"ai"}`))
	require.NoError(t, err)
	require.Equal(t, "m1", runs.runs[0].ID)
}

func TestRunRecordSpansWallTimeUnderFixedClock(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 6, 0, 0, 0, 0, time.UTC)
	runs := &fakeRunStore{}
	w := New(&fakeProcessor{delay: 60 * time.Millisecond}, runs, nil, nil, &fakeClock{now: at}, zap.NewNop())
	_, err := w.HandleMessage(context.Background(), msg("m1", `{"query":"ai"}`))
	require.NoError(t, err)

	require.Len(t, runs.runs, 1)
	run := runs.runs[0]
	require.Equal(t, at, run.StartedAt)
	require.True(t, run.FinishedAt.After(run.StartedAt))
	require.GreaterOrEqual(t, run.FinishedAt.Sub(run.StartedAt), 50*time.Millisecond)
}
