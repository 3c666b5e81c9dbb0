// Package newsapi implements ingest.Fetcher against the NewsAPI "everything" search.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

// MaxPageSize is the largest page the provider will return.
const MaxPageSize = 100

const maxResponseBytes = 10 << 20

// Config controls provider access.
type Config struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
}

// Fetcher implements ingest.Fetcher using a pooled HTTP client.
type Fetcher struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a Fetcher. A nil client gets a pooled default transport.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("fetcher base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse fetcher base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newHTTPTransport(),
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Fetcher{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}, nil
}

type searchResponse struct {
	Status       string            `json:"status"`
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	TotalResults int               `json:"totalResults"`
	Articles     []json.RawMessage `json:"articles"`
}

// Fetch performs one search request. It never retries.
func (f *Fetcher) Fetch(ctx context.Context, query string, limit int, language string) ([]ingest.RawRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ingest.ErrUpstreamFetch, err)
	}

	req, err := f.buildRequest(ctx, query, limit, language)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	f.logger.Info("fetching articles", zap.String("query", query), zap.Int("limit", limit))
	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveFetch("error", time.Since(start))
		f.logger.Error("network error", zap.String("query", query), zap.Error(err))
		return nil, fmt.Errorf("%w: network error: %v", ingest.ErrUpstreamFetch, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body failed", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveFetch("error", time.Since(start))
		return nil, fmt.Errorf("%w: read body: %v", ingest.ErrUpstreamFetch, err)
	}

	var payload searchResponse
	decodeErr := json.Unmarshal(body, &payload)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveFetch("error", time.Since(start))
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && payload.Message != "" {
			msg = payload.Message
		}
		f.logger.Error("http status error",
			zap.String("query", query),
			zap.Int("status_code", resp.StatusCode),
			zap.String("message", msg),
		)
		return nil, fmt.Errorf("%w: HTTP %d: %s", ingest.ErrUpstreamFetch, resp.StatusCode, msg)
	}
	if decodeErr != nil {
		metrics.ObserveFetch("error", time.Since(start))
		return nil, fmt.Errorf("%w: decode response: %v", ingest.ErrUpstreamFetch, decodeErr)
	}
	if payload.Status != "ok" {
		metrics.ObserveFetch("error", time.Since(start))
		msg := payload.Message
		if msg == "" {
			msg = "unknown error"
		}
		f.logger.Error("provider error", zap.String("query", query), zap.String("code", payload.Code), zap.String("message", msg))
		return nil, fmt.Errorf("%w: provider error: %s", ingest.ErrUpstreamFetch, msg)
	}

	records := make([]ingest.RawRecord, 0, len(payload.Articles))
	for _, item := range payload.Articles {
		records = append(records, ingest.ParseRawRecord(item))
	}
	metrics.ObserveFetch("ok", time.Since(start))
	f.logger.Info("fetched articles",
		zap.String("query", query),
		zap.Int("count", len(records)),
		zap.Int("total_results", payload.TotalResults),
	)
	return records, nil
}

func (f *Fetcher) buildRequest(ctx context.Context, query string, limit int, language string) (*http.Request, error) {
	endpoint := strings.TrimRight(f.cfg.BaseURL, "/") + "/everything"
	params := url.Values{}
	params.Set("q", query)
	params.Set("pageSize", strconv.Itoa(PageSize(limit)))
	params.Set("language", language)
	params.Set("sortBy", "publishedAt")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ingest.ErrUpstreamFetch, err)
	}
	if f.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", f.cfg.APIKey)
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// PageSize caps the requested limit at the provider's page size.
func PageSize(limit int) int {
	switch {
	case limit <= 0:
		return 1
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
