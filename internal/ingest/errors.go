package ingest

import "errors"

// Error taxonomy shared by the pipeline stages.
var (
	ErrInvalidJob         = errors.New("invalid ingestion job")
	ErrUpstreamFetch      = errors.New("upstream fetch failed")
	ErrDedupCache         = errors.New("dedup cache unavailable")
	ErrStorageWrite       = errors.New("storage write failed")
	ErrAllRecordsRejected = errors.New("all fetched records failed normalization")
	ErrRunNotFound        = errors.New("run not found")
	ErrQueueClosed        = errors.New("queue closed")
	ErrQuotaExhausted     = errors.New("daily request quota exhausted")
)

// RejectReason explains why a raw record was dropped by the normalizer.
type RejectReason string

// Rejection reasons, in evaluation order.
const (
	RejectMalformed          RejectReason = "malformed_record"
	RejectMissingTitle       RejectReason = "missing_title"
	RejectTitleTooLong       RejectReason = "title_too_long"
	RejectMissingURL         RejectReason = "missing_url"
	RejectInvalidURL         RejectReason = "invalid_url"
	RejectMissingPublishedAt RejectReason = "missing_published_at"
	RejectInvalidPublishedAt RejectReason = "invalid_published_at"
)

// Rejection is the structured outcome of a record that failed validation.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) String() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}
