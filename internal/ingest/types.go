// Package ingest defines core types shared across the ingestion subsystems.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Job bounds enforced at the queue boundary.
const (
	MinJobLimit     = 1
	MaxJobLimit     = 100
	MaxQueryLength  = 500
	DefaultJobLimit = 100
	DefaultLanguage = "en"
	DefaultSource   = "unknown"
)

// ResultStatusSuccess is the only status a ProcessingResult ever carries.
const ResultStatusSuccess = "success"

// ContentHash is the short hex digest used as the deduplication key.
type ContentHash string

// String returns the hash as a plain string.
func (h ContentHash) String() string {
	return string(h)
}

// RawSource is the provider's nested source object.
type RawSource struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RawRecord is a search result as returned by the provider. Every field is
// optional; the original bytes are retained so audit copies stay verbatim.
type RawRecord struct {
	Source      RawSource `json:"source"`
	Author      string    `json:"author,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	URLToImage  string    `json:"urlToImage,omitempty"`
	PublishedAt string    `json:"publishedAt"`
	Content     string    `json:"content,omitempty"`

	// DecodeErr is set when the provider payload did not match the expected shape.
	DecodeErr error `json:"-"`

	raw json.RawMessage
}

// ParseRawRecord decodes one provider record. It never fails: a record that
// cannot be decoded is returned with DecodeErr set so callers can count it.
func ParseRawRecord(data []byte) RawRecord {
	var rec RawRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		rec.DecodeErr = err
		rec.raw = append(json.RawMessage(nil), data...)
	}
	return rec
}

// UnmarshalJSON decodes the typed fields and keeps a copy of the input bytes.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	type alias RawRecord
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("decode raw record: %w", err)
	}
	*r = RawRecord(a)
	r.raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the provider bytes when known, otherwise the typed fields.
func (r RawRecord) MarshalJSON() ([]byte, error) {
	if len(r.raw) > 0 && json.Valid(r.raw) {
		return r.raw, nil
	}
	type alias RawRecord
	data, err := json.Marshal(alias(r))
	if err != nil {
		return nil, fmt.Errorf("encode raw record: %w", err)
	}
	return data, nil
}

// Article is the canonical, validated representation of one news item.
type Article struct {
	Source      string      `json:"source"`
	SourceName  string      `json:"source_name"`
	Title       string      `json:"title"`
	Description *string     `json:"description"`
	URL         string      `json:"url"`
	PublishedAt time.Time   `json:"published_at"`
	Topic       *string     `json:"topic"`
	ArticleHash ContentHash `json:"article_hash"`
}

// Job is one unit of ingestion work consumed by the orchestrator.
type Job struct {
	Query       string    `json:"query"`
	Limit       int       `json:"limit"`
	Language    string    `json:"language"`
	Source      string    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ParseJob decodes a queue message body, applies defaults and validates it.
func ParseJob(body []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return Job{}, fmt.Errorf("%w: decode job: %v", ErrInvalidJob, err)
	}
	job = job.WithDefaults()
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	return job, nil
}

// WithDefaults fills unset optional fields and canonicalises casing.
func (j Job) WithDefaults() Job {
	j.Query = strings.TrimSpace(j.Query)
	if j.Limit == 0 {
		j.Limit = DefaultJobLimit
	}
	j.Language = strings.ToLower(strings.TrimSpace(j.Language))
	if j.Language == "" {
		j.Language = DefaultLanguage
	}
	if strings.TrimSpace(j.Source) == "" {
		j.Source = DefaultSource
	}
	return j
}

// Validate enforces the job bounds.
func (j Job) Validate() error {
	if j.Query == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidJob)
	}
	if utf8.RuneCountInString(j.Query) > MaxQueryLength {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidJob, MaxQueryLength)
	}
	if j.Limit < MinJobLimit || j.Limit > MaxJobLimit {
		return fmt.Errorf("%w: limit must be between %d and %d", ErrInvalidJob, MinJobLimit, MaxJobLimit)
	}
	if len(j.Language) != 2 || !isLowerASCII(j.Language) {
		return fmt.Errorf("%w: language must be a 2-letter code", ErrInvalidJob)
	}
	return nil
}

func isLowerASCII(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// ProcessingResult summarises one successful pipeline run.
type ProcessingResult struct {
	Status           string `json:"status"`
	Query            string `json:"query"`
	Fetched          int    `json:"fetched"`
	Duplicates       int    `json:"duplicates"`
	NewArticles      int    `json:"new_articles"`
	Stored           int    `json:"stored"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Message          string `json:"message,omitempty"`
}

// PartitionKey locates a batch of normalized articles in analytical storage.
type PartitionKey struct {
	Year   int
	Month  int
	Day    int
	Source string
}

// NewPartitionKey derives the partition for an article source at a processing time.
func NewPartitionKey(ts time.Time, source string) PartitionKey {
	ts = ts.UTC()
	return PartitionKey{
		Year:   ts.Year(),
		Month:  int(ts.Month()),
		Day:    ts.Day(),
		Source: SanitizeKeyPart(source),
	}
}

// Path renders the Hive-style partition path.
func (p PartitionKey) Path() string {
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d/source=%s", p.Year, p.Month, p.Day, p.Source)
}

// SanitizeKeyPart lower-cases s and replaces every non-alphanumeric rune with '_'.
func SanitizeKeyPart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if isAlnum(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Message is one queue delivery carrying a serialized Job.
type Message struct {
	ID      string `json:"id"`
	Body    []byte `json:"body"`
	Attempt int    `json:"attempt"`
}

// BatchItemFailure identifies a message that must be redelivered.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchResponse is reported to the invoking queue after a batch.
type BatchResponse struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// FailedIDs lists the identifiers of failed messages.
func (b BatchResponse) FailedIDs() []string {
	ids := make([]string, 0, len(b.BatchItemFailures))
	for _, f := range b.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}
