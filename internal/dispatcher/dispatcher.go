// Package dispatcher runs consumer loops that feed queue batches to the worker.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

// Source is a batch-oriented queue with redelivery.
type Source interface {
	Enqueue(ctx context.Context, msg ingest.Message) error
	DequeueBatch(ctx context.Context, maxItems int) ([]ingest.Message, error)
	Retry(ctx context.Context, msg ingest.Message) (bool, error)
}

// BatchHandler processes one batch and reports the failed messages.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msgs []ingest.Message) ingest.BatchResponse
}

// Config controls the consumer pool.
type Config struct {
	Consumers int
	BatchSize int
}

// Dispatcher fans queue batches out to a pool of consumer loops.
type Dispatcher struct {
	source  Source
	handler BatchHandler
	cfg     Config
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(source Source, handler BatchHandler, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Consumers <= 0 {
		cfg.Consumers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{source: source, handler: handler, cfg: cfg, logger: logger}
}

// Run starts all consumers and blocks until the context finishes or the
// source is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Consumers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.consume(ctx, d.logger.With(zap.Int("consumer", id)))
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) consume(ctx context.Context, logger *zap.Logger) {
	for {
		batch, err := d.source.DequeueBatch(ctx, d.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ingest.ErrQueueClosed) {
				return
			}
			logger.Error("dequeue batch failed", zap.Error(err))
			continue
		}
		d.dispatch(ctx, logger, batch)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, logger *zap.Logger, batch []ingest.Message) {
	resp := d.handler.HandleBatch(ctx, batch)
	if len(resp.BatchItemFailures) == 0 {
		return
	}
	byID := make(map[string]ingest.Message, len(batch))
	for _, m := range batch {
		byID[m.ID] = m
	}
	for _, id := range resp.FailedIDs() {
		msg, ok := byID[id]
		if !ok {
			logger.Warn("handler reported unknown message", zap.String("message_id", id))
			continue
		}
		dead, err := d.source.Retry(ctx, msg)
		switch {
		case err != nil:
			logger.Error("requeue failed", zap.String("message_id", id), zap.Error(err))
		case dead:
			metrics.ObserveQueueMessage("dead_lettered")
			logger.Warn("message dead-lettered", zap.String("message_id", id), zap.Int("attempt", msg.Attempt))
		default:
			metrics.ObserveQueueMessage("retried")
			logger.Info("message scheduled for retry", zap.String("message_id", id), zap.Int("attempt", msg.Attempt+1))
		}
	}
}

// Enqueue proxies to the underlying source.
func (d *Dispatcher) Enqueue(ctx context.Context, msg ingest.Message) error {
	if err := d.source.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
