package archive

import (
	"bytes"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

// Row is the analytical schema of one normalized article.
type Row struct {
	Source      string    `parquet:"source"`
	SourceName  string    `parquet:"source_name"`
	Title       string    `parquet:"title"`
	Description *string   `parquet:"description,optional"`
	URL         string    `parquet:"url"`
	PublishedAt time.Time `parquet:"published_at,timestamp(microsecond)"`
	Topic       *string   `parquet:"topic,optional"`
	ArticleHash string    `parquet:"article_hash"`
	IngestedAt  time.Time `parquet:"ingested_at,timestamp(microsecond)"`
}

// NewRow maps an article to its Parquet row.
func NewRow(a ingest.Article, ingestedAt time.Time) Row {
	return Row{
		Source:      a.Source,
		SourceName:  a.SourceName,
		Title:       a.Title,
		Description: a.Description,
		URL:         a.URL,
		PublishedAt: a.PublishedAt.UTC(),
		Topic:       a.Topic,
		ArticleHash: string(a.ArticleHash),
		IngestedAt:  ingestedAt.UTC(),
	}
}

// EncodeParquet serializes articles into a Snappy-compressed Parquet file.
func EncodeParquet(articles []ingest.Article, ingestedAt time.Time) ([]byte, error) {
	rows := make([]Row, len(articles))
	for i, a := range articles {
		rows[i] = NewRow(a, ingestedAt)
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[Row](&buf, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close writer: %w", err)
	}
	return buf.Bytes(), nil
}
