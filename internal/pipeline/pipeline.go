// Package pipeline composes fetch, dedup, normalization and storage into one job run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

const tracerName = "github.com/JakeFAU/realtime-news-ingestor/internal/pipeline"

// DefaultDedupTTL is how long stored hashes stay in the cache.
const DefaultDedupTTL = 14 * 24 * time.Hour

// Config controls Orchestrator behavior.
type Config struct {
	DedupTTL time.Duration
}

// Orchestrator runs jobs through fetch, hash, dedup, normalize, store and mark.
type Orchestrator struct {
	fetcher    ingest.Fetcher
	hasher     ingest.Hasher
	dedup      ingest.Deduplicator
	normalizer ingest.Normalizer
	archive    ingest.Archive
	clock      ingest.Clock
	cfg        Config
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New constructs an Orchestrator. dedup may be nil, in which case every
// fetched record is treated as new and the cache is never touched.
func New(
	fetcher ingest.Fetcher,
	hasher ingest.Hasher,
	dedup ingest.Deduplicator,
	normalizer ingest.Normalizer,
	archive ingest.Archive,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || hasher == nil || normalizer == nil || archive == nil || clock == nil {
		return nil, errors.New("fetcher, hasher, normalizer, archive and clock are required")
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:    fetcher,
		hasher:     hasher,
		dedup:      dedup,
		normalizer: normalizer,
		archive:    archive,
		clock:      clock,
		cfg:        cfg,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
	}, nil
}

// Process runs one job. On failure the returned error is a *StageError
// wrapping one of the ingest sentinels and no result is reported.
func (o *Orchestrator) Process(ctx context.Context, job ingest.Job) (ingest.ProcessingResult, error) {
	ts := o.clock.Now()
	began := time.Now()
	ctx, span := o.tracer.Start(ctx, "pipeline.Process",
		trace.WithAttributes(
			attribute.String("ingest.query", job.Query),
			attribute.Int("ingest.limit", job.Limit),
			attribute.String("ingest.source", job.Source),
		),
	)
	defer span.End()

	result, err := o.run(ctx, job, ts)
	elapsed := time.Since(began)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.ObserveJob("failed", elapsed)
		o.logger.Error("ingestion job failed", zap.String("query", job.Query), zap.Duration("elapsed", elapsed), zap.Error(err))
		return ingest.ProcessingResult{}, err
	}

	result.ProcessingTimeMs = elapsed.Milliseconds()
	span.SetAttributes(
		attribute.Int("ingest.fetched", result.Fetched),
		attribute.Int("ingest.duplicates", result.Duplicates),
		attribute.Int("ingest.stored", result.Stored),
	)
	metrics.ObserveJob("success", elapsed)
	o.logger.Info("ingestion job complete",
		zap.String("query", result.Query),
		zap.Int("fetched", result.Fetched),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("new_articles", result.NewArticles),
		zap.Int("stored", result.Stored),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs),
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, job ingest.Job, ts time.Time) (ingest.ProcessingResult, error) {
	job = job.WithDefaults()
	if err := job.Validate(); err != nil {
		return ingest.ProcessingResult{}, stageErr(StageValidate, job.Query, err)
	}
	result := ingest.ProcessingResult{Status: ingest.ResultStatusSuccess, Query: job.Query}
	span := trace.SpanFromContext(ctx)

	span.AddEvent(string(StageFetch))
	records, err := o.fetcher.Fetch(ctx, job.Query, job.Limit, job.Language)
	if err != nil {
		return ingest.ProcessingResult{}, stageErr(StageFetch, job.Query, ensureKind(err, ingest.ErrUpstreamFetch))
	}
	result.Fetched = len(records)
	metrics.ObserveArticles("fetched", len(records))
	if len(records) == 0 {
		result.Message = "No articles found"
		return result, nil
	}

	hashes := make([]ingest.ContentHash, len(records))
	for i, rec := range records {
		hashes[i] = o.hasher.Hash(rec.Title, rec.URL)
	}

	span.AddEvent(string(StageDedupCheck))
	exists, err := o.checkExists(ctx, hashes)
	if err != nil {
		return ingest.ProcessingResult{}, stageErr(StageDedupCheck, job.Query, ensureKind(err, ingest.ErrDedupCache))
	}
	fresh := make([]ingest.RawRecord, 0, len(records))
	for i, rec := range records {
		if exists[i] {
			result.Duplicates++
			continue
		}
		fresh = append(fresh, rec)
	}
	result.NewArticles = len(fresh)
	metrics.ObserveArticles("duplicate", result.Duplicates)
	if len(fresh) == 0 {
		result.Message = "All articles were duplicates"
		return result, nil
	}

	span.AddEvent(string(StageNormalize))
	articles, rejected := o.normalizer.NormalizeBatch(fresh, job.Query)
	metrics.ObserveArticles("rejected", rejected)
	if len(articles) == 0 {
		return ingest.ProcessingResult{}, stageErr(StageNormalize, job.Query,
			fmt.Errorf("%w: %d of %d records rejected", ingest.ErrAllRecordsRejected, rejected, len(fresh)))
	}

	span.AddEvent(string(StageStoreRaw))
	if _, err := o.archive.StoreRaw(ctx, records, job.Query, ts); err != nil {
		return ingest.ProcessingResult{}, stageErr(StageStoreRaw, job.Query, ensureKind(err, ingest.ErrStorageWrite))
	}

	span.AddEvent(string(StageStoreNormalized))
	written, err := o.archive.StoreNormalized(ctx, articles, ts)
	if err != nil {
		return ingest.ProcessingResult{}, stageErr(StageStoreNormalized, job.Query, ensureKind(err, ingest.ErrStorageWrite))
	}
	result.Stored = written.TotalArticles
	metrics.ObserveArticles("stored", result.Stored)

	span.AddEvent(string(StageMark))
	o.markProcessed(ctx, articles, job.Query)
	return result, nil
}

func (o *Orchestrator) checkExists(ctx context.Context, hashes []ingest.ContentHash) ([]bool, error) {
	if o.dedup == nil {
		return make([]bool, len(hashes)), nil
	}
	exists, err := o.dedup.BatchCheckExists(ctx, hashes)
	if err != nil {
		return nil, err
	}
	if len(exists) != len(hashes) {
		return nil, fmt.Errorf("%w: check returned %d results for %d hashes", ingest.ErrDedupCache, len(exists), len(hashes))
	}
	return exists, nil
}

// markProcessed records the stored hashes. Failures never fail the job.
func (o *Orchestrator) markProcessed(ctx context.Context, articles []ingest.Article, query string) {
	if o.dedup == nil {
		return
	}
	hashes := make([]ingest.ContentHash, len(articles))
	for i, a := range articles {
		hashes[i] = a.ArticleHash
	}
	marked, err := o.dedup.BatchMarkProcessed(ctx, hashes, o.cfg.DedupTTL)
	if err != nil {
		metrics.ObserveDedupError("mark")
		o.logger.Warn("mark processed failed", zap.String("query", query), zap.Error(stageErr(StageMark, query, err)))
		return
	}
	o.logger.Debug("marked hashes", zap.String("query", query), zap.Int("requested", len(hashes)), zap.Int("marked", marked))
}

// ensureKind attaches the taxonomy sentinel when a collaborator returned a bare error.
func ensureKind(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}
