// Package scheduler enqueues recurring ingestion jobs on cron schedules.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

// JobSource tags jobs created by the scheduler.
const JobSource = "scheduler"

// Entry is one recurring search.
type Entry struct {
	Spec     string `mapstructure:"spec"`
	Query    string `mapstructure:"query"`
	Limit    int    `mapstructure:"limit"`
	Language string `mapstructure:"language"`
}

// QuotaGuard admits or rejects a request against the daily allowance.
type QuotaGuard interface {
	Allow() bool
	Release()
}

// Scheduler turns cron entries into queued job messages.
type Scheduler struct {
	cron    *cron.Cron
	entries []Entry
	queue   ingest.JobQueue
	ids     ingest.IDGenerator
	clock   ingest.Clock
	quota   QuotaGuard
	logger  *zap.Logger

	startOnce sync.Once
}

// New validates every entry and registers it. quota may be nil.
func New(entries []Entry, queue ingest.JobQueue, ids ingest.IDGenerator, clock ingest.Clock, quota QuotaGuard, logger *zap.Logger) (*Scheduler, error) {
	if queue == nil || ids == nil || clock == nil {
		return nil, errors.New("queue, id generator and clock are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(clockLocation(clock))),
		queue:  queue,
		ids:    ids,
		clock:  clock,
		quota:  quota,
		logger: logger,
	}
	for _, e := range entries {
		job := e.job()
		if err := job.Validate(); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.Spec, err)
		}
		entry := e
		if _, err := s.cron.AddFunc(e.Spec, func() {
			if err := s.enqueue(context.Background(), entry); err != nil {
				s.logger.Error("scheduled enqueue failed", zap.String("query", entry.Query), zap.Error(err))
			}
		}); err != nil {
			return nil, fmt.Errorf("parse schedule %q: %w", e.Spec, err)
		}
		s.entries = append(s.entries, e)
	}
	return s, nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.cron.Start()
		s.logger.Info("scheduler started", zap.Int("entries", len(s.entries)))
	})
}

// Stop halts scheduling and waits for running enqueues to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
}

// EnqueueAll enqueues every entry once, returning the first error.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	enqueued := 0
	for _, e := range s.entries {
		if err := s.enqueue(ctx, e); err != nil {
			return enqueued, err
		}
		enqueued++
	}
	return enqueued, nil
}

func (s *Scheduler) enqueue(ctx context.Context, e Entry) error {
	if s.quota != nil && !s.quota.Allow() {
		s.logger.Warn("skipping scheduled job, quota exhausted", zap.String("query", e.Query))
		return ingest.ErrQuotaExhausted
	}
	if err := s.send(ctx, e); err != nil {
		if s.quota != nil {
			s.quota.Release()
		}
		return err
	}
	return nil
}

func (s *Scheduler) send(ctx context.Context, e Entry) error {
	job := e.job()
	job.SubmittedAt = s.clock.Now()
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("message id: %w", err)
	}
	if err := s.queue.Enqueue(ctx, ingest.Message{ID: id, Body: body}); err != nil {
		return fmt.Errorf("enqueue %q: %w", e.Query, err)
	}
	s.logger.Info("scheduled job enqueued", zap.String("message_id", id), zap.String("query", job.Query))
	return nil
}

func (e Entry) job() ingest.Job {
	return ingest.Job{Query: e.Query, Limit: e.Limit, Language: e.Language, Source: JobSource}.WithDefaults()
}

func clockLocation(c ingest.Clock) *time.Location {
	return c.Now().Location()
}
