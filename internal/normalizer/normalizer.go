// Package normalizer validates provider records and maps them onto ingest.Article.
package normalizer

import (
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

// Field limits for normalized articles.
const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 2000
	DefaultProvider      = "newsapi"
	unknownSourceName    = "unknown"
	removedSentinel      = "[removed]"
)

// timestampLayouts are the ISO-8601 shapes accepted for published_at.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts RawRecords into Articles.
type Normalizer struct {
	provider string
	hasher   ingest.Hasher
	logger   *zap.Logger
}

// New builds a Normalizer tagging every article with provider.
func New(provider string, hasher ingest.Hasher, logger *zap.Logger) *Normalizer {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = DefaultProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{provider: provider, hasher: hasher, logger: logger}
}

// Normalize validates one record. A nil Rejection means the Article is usable.
func (n *Normalizer) Normalize(raw ingest.RawRecord, topic string) (ingest.Article, *ingest.Rejection) {
	if raw.DecodeErr != nil {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectMalformed, Detail: raw.DecodeErr.Error()}
	}

	title := strings.TrimSpace(raw.Title)
	if title == "" || strings.EqualFold(title, removedSentinel) {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectMissingTitle}
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectTitleTooLong}
	}

	rawURL := strings.TrimSpace(raw.URL)
	if rawURL == "" {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectMissingURL}
	}
	if !isAbsoluteHTTPURL(rawURL) {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectInvalidURL, Detail: rawURL}
	}

	if strings.TrimSpace(raw.PublishedAt) == "" {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectMissingPublishedAt}
	}
	published, ok := ParseTimestamp(raw.PublishedAt)
	if !ok {
		return ingest.Article{}, &ingest.Rejection{Reason: ingest.RejectInvalidPublishedAt, Detail: raw.PublishedAt}
	}

	article := ingest.Article{
		Source:      n.provider,
		SourceName:  sourceName(raw.Source),
		Title:       title,
		Description: cleanDescription(raw.Description),
		URL:         rawURL,
		PublishedAt: published,
		// Hashed from the provider fields so it matches the pre-check hash.
		ArticleHash: n.hasher.Hash(raw.Title, raw.URL),
	}
	if t := strings.TrimSpace(topic); t != "" {
		article.Topic = &t
	}
	return article, nil
}

// NormalizeBatch normalizes each record independently and returns the valid
// articles in input order plus the number of rejections.
func (n *Normalizer) NormalizeBatch(raws []ingest.RawRecord, topic string) ([]ingest.Article, int) {
	articles := make([]ingest.Article, 0, len(raws))
	reasons := map[ingest.RejectReason]int{}
	for i, raw := range raws {
		article, rejection := n.Normalize(raw, topic)
		if rejection != nil {
			reasons[rejection.Reason]++
			n.logger.Debug("record rejected", zap.Int("index", i), zap.String("reason", rejection.String()))
			continue
		}
		articles = append(articles, article)
	}

	rejected := len(raws) - len(articles)
	fields := []zap.Field{
		zap.Int("input", len(raws)),
		zap.Int("valid", len(articles)),
		zap.Int("rejected", rejected),
	}
	if rejected > 0 {
		keys := make([]string, 0, len(reasons))
		for r := range reasons {
			keys = append(keys, string(r))
		}
		sort.Strings(keys)
		for _, k := range keys {
			fields = append(fields, zap.Int("rejected_"+k, reasons[ingest.RejectReason(k)]))
		}
	}
	n.logger.Info("normalized batch", fields...)
	return articles, rejected
}

// ParseTimestamp accepts common ISO-8601 forms. Values without a zone are UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func isAbsoluteHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func sourceName(src ingest.RawSource) string {
	if name := strings.TrimSpace(src.Name); name != "" {
		return name
	}
	if id := strings.TrimSpace(src.ID); id != "" {
		return id
	}
	return unknownSourceName
}

func cleanDescription(desc string) *string {
	text := strings.TrimSpace(desc)
	if strings.ContainsAny(text, "<&") {
		text = stripMarkup(text)
	}
	if text == "" || strings.EqualFold(text, removedSentinel) {
		return nil
	}
	if utf8.RuneCountInString(text) > MaxDescriptionLength {
		text = string([]rune(text)[:MaxDescriptionLength])
	}
	return &text
}

func stripMarkup(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script,style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}
