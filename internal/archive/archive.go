// Package archive writes the raw audit tier and the partitioned Parquet tier.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

// Key layout constants.
const (
	RawPrefix         = "raw"
	NormalizedPrefix  = "normalized"
	MaxQueryKeyLength = 50

	jsonContentType    = "application/json"
	parquetContentType = "application/octet-stream"
)

// Writer implements ingest.Archive over two blob stores, one per retention tier.
type Writer struct {
	raw        ingest.BlobStore
	normalized ingest.BlobStore
	logger     *zap.Logger
}

// New builds a Writer. The same store may back both tiers.
func New(raw, normalized ingest.BlobStore, logger *zap.Logger) (*Writer, error) {
	if raw == nil || normalized == nil {
		return nil, errors.New("raw and normalized blob stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{raw: raw, normalized: normalized, logger: logger}, nil
}

type rawPayload struct {
	Query        string             `json:"query"`
	FetchedAt    string             `json:"fetched_at"`
	ArticleCount int                `json:"article_count"`
	Articles     []ingest.RawRecord `json:"articles"`
}

// StoreRaw writes every fetched record, verbatim, as one JSON document.
func (w *Writer) StoreRaw(ctx context.Context, records []ingest.RawRecord, query string, ts time.Time) (ingest.RawWrite, error) {
	ts = ts.UTC()
	if records == nil {
		records = []ingest.RawRecord{}
	}
	body, err := json.MarshalIndent(rawPayload{
		Query:        query,
		FetchedAt:    ts.Format(time.RFC3339Nano),
		ArticleCount: len(records),
		Articles:     records,
	}, "", "  ")
	if err != nil {
		return ingest.RawWrite{}, fmt.Errorf("%w: encode raw payload: %v", ingest.ErrStorageWrite, err)
	}

	key := RawKey(query, ts)
	metadata := map[string]string{
		"query":         query,
		"article_count": strconv.Itoa(len(records)),
		"fetched_at":    ts.Format(time.RFC3339),
	}
	uri, err := w.raw.PutObject(ctx, key, jsonContentType, metadata, bytes.NewReader(body))
	if err != nil {
		metrics.ObserveStorageWrite("raw", "error", 0)
		return ingest.RawWrite{}, fmt.Errorf("%w: raw %s: %v", ingest.ErrStorageWrite, key, err)
	}
	metrics.ObserveStorageWrite("raw", "ok", len(body))
	w.logger.Info("stored raw articles", zap.String("key", key), zap.Int("count", len(records)), zap.Int("size_bytes", len(body)))
	return ingest.RawWrite{Key: key, URI: uri, SizeBytes: len(body), Count: len(records)}, nil
}

// StoreNormalized writes one Snappy-compressed Parquet object per source.
// Objects already written stay in place if a later source fails.
func (w *Writer) StoreNormalized(ctx context.Context, articles []ingest.Article, ts time.Time) (ingest.NormalizedWrite, error) {
	result := ingest.NormalizedWrite{Sources: map[string]ingest.SourceWrite{}}
	if len(articles) == 0 {
		return result, nil
	}
	ts = ts.UTC()

	groups := map[string][]ingest.Article{}
	for _, a := range articles {
		groups[a.Source] = append(groups[a.Source], a)
	}
	sources := make([]string, 0, len(groups))
	for s := range groups {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for _, source := range sources {
		group := groups[source]
		body, err := EncodeParquet(group, ts)
		if err != nil {
			return result, fmt.Errorf("%w: encode parquet for %s: %v", ingest.ErrStorageWrite, source, err)
		}
		key := NormalizedKey(source, ts)
		metadata := map[string]string{
			"source":        source,
			"article_count": strconv.Itoa(len(group)),
			"ingested_at":   ts.Format(time.RFC3339),
		}
		uri, err := w.normalized.PutObject(ctx, key, parquetContentType, metadata, bytes.NewReader(body))
		if err != nil {
			metrics.ObserveStorageWrite("normalized", "error", 0)
			return result, fmt.Errorf("%w: normalized %s: %v", ingest.ErrStorageWrite, key, err)
		}
		metrics.ObserveStorageWrite("normalized", "ok", len(body))

		result.Sources[source] = ingest.SourceWrite{Key: key, URI: uri, Count: len(group), SizeBytes: len(body)}
		result.FilesWritten++
		result.TotalArticles += len(group)
		result.TotalSizeBytes += len(body)
		w.logger.Info("stored normalized articles", zap.String("key", key), zap.String("source", source), zap.Int("count", len(group)))
	}
	return result, nil
}

// RawKey renders raw/YYYY/MM/DD/HH/{query}_{YYYYMMDD_HHMMSS}.json.
func RawKey(query string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s/%s/%s_%s.json", RawPrefix, ts.Format("2006/01/02/15"), QueryKey(query), ts.Format("20060102_150405"))
}

// NormalizedKey renders normalized/{partition}/articles_{HHMMSS}.parquet.
func NormalizedKey(source string, ts time.Time) string {
	if source == "" {
		source = ingest.DefaultSource
	}
	partition := ingest.NewPartitionKey(ts, source)
	return fmt.Sprintf("%s/%s/articles_%s.parquet", NormalizedPrefix, partition.Path(), ts.UTC().Format("150405"))
}

// QueryKey sanitizes a query for use in an object key.
func QueryKey(query string) string {
	key := []rune(ingest.SanitizeKeyPart(query))
	if len(key) > MaxQueryKeyLength {
		key = key[:MaxQueryKeyLength]
	}
	if len(key) == 0 {
		return "query"
	}
	return string(key)
}
