package ingest

import (
	"context"
	"io"
	"time"
	"unicode"
)

// Fetcher searches the external content API.
type Fetcher interface {
	Fetch(ctx context.Context, query string, limit int, language string) ([]RawRecord, error)
}

// Hasher derives the content hash of a (title, url) pair.
type Hasher interface {
	Hash(title, url string) ContentHash
}

// Deduplicator batch-checks and batch-marks content hashes in the shared cache.
type Deduplicator interface {
	BatchCheckExists(ctx context.Context, hashes []ContentHash) ([]bool, error)
	BatchMarkProcessed(ctx context.Context, hashes []ContentHash, ttl time.Duration) (int, error)
}

// Normalizer maps raw records onto the canonical Article schema.
type Normalizer interface {
	NormalizeBatch(raws []RawRecord, topic string) ([]Article, int)
}

// Archive persists the raw audit copy and the partitioned analytical copy.
type Archive interface {
	StoreRaw(ctx context.Context, records []RawRecord, query string, ts time.Time) (RawWrite, error)
	StoreNormalized(ctx context.Context, articles []Article, ts time.Time) (NormalizedWrite, error)
}

// BlobStore writes objects and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, metadata map[string]string, r io.Reader) (string, error)
}

// Processor runs one job through the pipeline.
type Processor interface {
	Process(ctx context.Context, job Job) (ProcessingResult, error)
}

// JobQueue accepts job messages from producers.
type JobQueue interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Publisher pushes run summaries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// RunStore records the outcome of each processed message.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
	Close()
}

// RunReader exposes recorded runs to the HTTP surface.
type RunReader interface {
	GetRun(ctx context.Context, id string) (RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces message and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// RawWrite describes the stored raw audit object.
type RawWrite struct {
	Key       string `json:"key"`
	URI       string `json:"uri"`
	SizeBytes int    `json:"size_bytes"`
	Count     int    `json:"article_count"`
}

// SourceWrite describes one per-source analytical object.
type SourceWrite struct {
	Key       string `json:"key"`
	URI       string `json:"uri"`
	Count     int    `json:"count"`
	SizeBytes int    `json:"size_bytes"`
}

// NormalizedWrite summarises the analytical objects written for one run.
type NormalizedWrite struct {
	FilesWritten   int                    `json:"files_written"`
	TotalArticles  int                    `json:"total_articles"`
	TotalSizeBytes int                    `json:"total_size_bytes"`
	Sources        map[string]SourceWrite `json:"sources"`
}

// RunRecord is the ledger entry for one processed message.
type RunRecord struct {
	ID         string           `json:"id"`
	MessageID  string           `json:"message_id"`
	Job        Job              `json:"job"`
	Result     ProcessingResult `json:"result"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Status reports whether the run succeeded.
func (r RunRecord) Status() string {
	if r.Error != "" {
		return "failed"
	}
	return ResultStatusSuccess
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
