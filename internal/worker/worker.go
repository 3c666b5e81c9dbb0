// Package worker applies the pipeline to queue batches with per-message failure reporting.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

// Worker processes batches of job messages. Messages within a batch are
// independent: one failure never affects the others.
type Worker struct {
	processor ingest.Processor
	runs      ingest.RunStore
	publisher ingest.Publisher
	ids       ingest.IDGenerator
	clock     ingest.Clock
	logger    *zap.Logger
}

// New constructs a Worker. runs and publisher are optional side channels.
func New(
	processor ingest.Processor,
	runs ingest.RunStore,
	publisher ingest.Publisher,
	ids ingest.IDGenerator,
	clock ingest.Clock,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		processor: processor,
		runs:      runs,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// RunNotification is published after every successful run.
type RunNotification struct {
	RunID     string                  `json:"run_id"`
	MessageID string                  `json:"message_id"`
	Source    string                  `json:"source"`
	Result    ingest.ProcessingResult `json:"result"`
}

// HandleBatch processes every message and reports only the failed IDs.
func (w *Worker) HandleBatch(ctx context.Context, msgs []ingest.Message) ingest.BatchResponse {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	resp := ingest.BatchResponse{BatchItemFailures: []ingest.BatchItemFailure{}}
	for _, msg := range msgs {
		if _, err := w.HandleMessage(ctx, msg); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, ingest.BatchItemFailure{ItemIdentifier: msg.ID})
		}
	}
	w.logger.Info("batch processed",
		zap.Int("messages", len(msgs)),
		zap.Int("failed", len(resp.BatchItemFailures)),
	)
	return resp
}

// HandleMessage decodes and processes one message.
func (w *Worker) HandleMessage(ctx context.Context, msg ingest.Message) (ingest.ProcessingResult, error) {
	started := runSpan{at: w.clock.Now(), began: time.Now()}
	logger := w.logger.With(zap.String("message_id", msg.ID), zap.Int("attempt", msg.Attempt))

	job, err := ingest.ParseJob(msg.Body)
	if err != nil {
		metrics.ObserveQueueMessage("invalid")
		logger.Error("invalid job message", zap.Error(err))
		w.recordRun(ctx, msg, ingest.Job{}, ingest.ProcessingResult{}, err, started)
		return ingest.ProcessingResult{}, err
	}

	result, err := w.processor.Process(ctx, job)
	if err != nil {
		metrics.ObserveQueueMessage("failed")
		logger.Error("job failed", zap.String("query", job.Query), zap.Error(err))
		w.recordRun(ctx, msg, job, ingest.ProcessingResult{}, err, started)
		return ingest.ProcessingResult{}, err
	}

	metrics.ObserveQueueMessage("succeeded")
	runID := w.recordRun(ctx, msg, job, result, nil, started)
	w.publishResult(ctx, logger, RunNotification{RunID: runID, MessageID: msg.ID, Source: job.Source, Result: result})
	return result, nil
}

// recordRun writes the ledger entry. Ledger failures are logged only.
func (w *Worker) recordRun(
	ctx context.Context,
	msg ingest.Message,
	job ingest.Job,
	result ingest.ProcessingResult,
	runErr error,
	started runSpan,
) string {
	runID, err := w.newRunID(msg)
	if err != nil {
		w.logger.Warn("generate run id failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	if w.runs == nil {
		return runID
	}
	run := ingest.RunRecord{
		ID:         runID,
		MessageID:  msg.ID,
		Job:        job,
		Result:     result,
		StartedAt:  started.at,
		FinishedAt: started.finish(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := w.runs.RecordRun(ctx, run); err != nil {
		w.logger.Warn("record run failed", zap.String("run_id", runID), zap.Error(err))
	}
	return runID
}

// runSpan anchors a run on the injected clock and measures its length on the
// monotonic clock, so a fixed backfill clock still yields a real duration.
type runSpan struct {
	at    time.Time
	began time.Time
}

func (s runSpan) finish() time.Time {
	return s.at.Add(time.Since(s.began))
}

func (w *Worker) newRunID(msg ingest.Message) (string, error) {
	if w.ids == nil {
		return msg.ID, nil
	}
	id, err := w.ids.NewID()
	if err != nil {
		return fmt.Sprintf("%s-%d", msg.ID, w.clock.Now().UnixNano()), err
	}
	return id, nil
}

func (w *Worker) publishResult(ctx context.Context, logger *zap.Logger, note RunNotification) {
	if w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, note)
	if err != nil {
		logger.Warn("publish result failed", zap.Error(err))
		return
	}
	logger.Debug("published result", zap.String("publish_id", id))
}
