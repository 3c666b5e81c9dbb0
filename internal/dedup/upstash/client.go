// Package upstash implements ingest.Deduplicator over the Upstash Redis REST pipeline endpoint.
package upstash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
	"github.com/JakeFAU/realtime-news-ingestor/internal/metrics"
)

// DefaultTTL is how long a processed hash is remembered.
const DefaultTTL = 14 * 24 * time.Hour

// Config controls cache access.
type Config struct {
	URL      string
	Token    string
	Timeout  time.Duration
	FailOpen bool
}

// Enabled reports whether both endpoint and credential are configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Token) != ""
}

// Client batches EXISTS and SETEX commands into single pipeline requests.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Client. A nil http client gets one bounded by cfg.Timeout.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("dedup cache url and token are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, client: client, logger: logger}, nil
}

type pipelineResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// BatchCheckExists reports, position by position, which hashes are already known.
// With fail-open enabled a cache failure yields all-false and a nil error.
func (c *Client) BatchCheckExists(ctx context.Context, hashes []ingest.ContentHash) ([]bool, error) {
	if len(hashes) == 0 {
		return []bool{}, nil
	}
	commands := make([][]string, len(hashes))
	for i, h := range hashes {
		commands[i] = []string{"EXISTS", string(h)}
	}

	results, err := c.pipeline(ctx, commands)
	if err != nil {
		metrics.ObserveDedupError("check")
		if c.cfg.FailOpen {
			c.logger.Warn("dedup check failed, treating batch as new",
				zap.Int("hashes", len(hashes)), zap.Error(err))
			return make([]bool, len(hashes)), nil
		}
		return nil, fmt.Errorf("%w: check: %v", ingest.ErrDedupCache, err)
	}

	exists := make([]bool, len(hashes))
	for i, r := range results {
		if r.Error != "" {
			c.logger.Warn("dedup check command failed", zap.String("hash", string(hashes[i])), zap.String("error", r.Error))
			continue
		}
		exists[i] = resultInt(r.Result) == 1
	}
	c.logger.Debug("dedup check complete", zap.Int("checked", len(hashes)), zap.Int("existing", countTrue(exists)))
	return exists, nil
}

// BatchMarkProcessed stores every hash with the given ttl and returns how many
// the cache acknowledged. Failures are logged and counted, never returned.
func (c *Client) BatchMarkProcessed(ctx context.Context, hashes []ingest.ContentHash, ttl time.Duration) (int, error) {
	if len(hashes) == 0 {
		return 0, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	// SETEX rejects a zero expiry.
	ttl = max(ttl, time.Second)
	seconds := strconv.FormatInt(int64(ttl/time.Second), 10)
	commands := make([][]string, len(hashes))
	for i, h := range hashes {
		commands[i] = []string{"SETEX", string(h), seconds, "1"}
	}

	results, err := c.pipeline(ctx, commands)
	if err != nil {
		metrics.ObserveDedupError("mark")
		c.logger.Error("dedup mark failed", zap.Int("hashes", len(hashes)), zap.Error(err))
		return 0, nil
	}

	marked := 0
	for _, r := range results {
		if r.Error == "" && resultString(r.Result) == "OK" {
			marked++
		}
	}
	if marked != len(hashes) {
		c.logger.Warn("dedup mark partially applied", zap.Int("requested", len(hashes)), zap.Int("marked", marked))
	}
	return marked, nil
}

func (c *Client) pipeline(ctx context.Context, commands [][]string) ([]pipelineResult, error) {
	body, err := json.Marshal(commands)
	if err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/pipeline"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build pipeline request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close pipeline body failed", zap.Error(cerr))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read pipeline response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pipeline HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var results []pipelineResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode pipeline response: %w", err)
	}
	if len(results) != len(commands) {
		return nil, fmt.Errorf("pipeline returned %d results for %d commands", len(results), len(commands))
	}
	return results, nil
}

func resultInt(raw json.RawMessage) int64 {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, perr := strconv.ParseInt(s, 10, 64); perr == nil {
			return v
		}
	}
	return 0
}

func resultString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func countTrue(values []bool) int {
	n := 0
	for _, v := range values {
		if v {
			n++
		}
	}
	return n
}
