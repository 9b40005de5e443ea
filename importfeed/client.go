// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package importfeed reads the list of items to rank from an external JSON
// feed and turns feed ranks into initial ledger ranks.
package importfeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultCacheTTL   = 24 * time.Hour
	DefaultMaxTries   = 3
	DefaultRetryDelay = 10 * time.Second

	cacheFilePrefix = "autoranker_cache_json_"

	// maxResponseBytes limits feed responses to 10 MiB
	maxResponseBytes = 10 << 20
)

var (
	ErrNoFeedURL       = errors.New("import feed URL is not set")
	ErrTooManyRequests = errors.New("import feed rate limited the request")
)

// Entry is one item in the feed
type Entry struct {
	ID   uint64      `json:"id"`
	Name string      `json:"name"`
	Rank json.Number `json:"rank"`
}

// Client fetches the import feed
type Client struct {
	feedURL    string
	httpClient *http.Client
	logger     *slog.Logger
	cacheDir   string
	cacheTTL   time.Duration
	maxTries   int
	retryDelay time.Duration
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
}

// ClientOption is a functional option for configuring a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheDir sets the directory holding cached responses. An empty
// directory disables the cache.
func WithCacheDir(dir string) ClientOption {
	return func(c *Client) {
		c.cacheDir = dir
	}
}

// WithCacheTTL sets how long a cached response is reused. A TTL of 0
// always refetches but still refreshes the cache file.
func WithCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

func WithMaxTries(tries int) ClientOption {
	return func(c *Client) {
		if tries > 0 {
			c.maxTries = tries
		}
	}
}

// WithRetryDelay sets the back-off applied after a 429 response
func WithRetryDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = delay
	}
}

// WithSleep replaces the function used to wait between tries
func WithSleep(sleep func(context.Context, time.Duration) error) ClientOption {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithNow replaces the clock used to age cache files
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a feed client for feedURL
func NewClient(feedURL string, opts ...ClientOption) *Client {
	c := &Client{
		feedURL: strings.TrimSpace(feedURL),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
		cacheDir:   os.TempDir(),
		cacheTTL:   DefaultCacheTTL,
		maxTries:   DefaultMaxTries,
		retryDelay: DefaultRetryDelay,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "importfeed")
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CachePath returns the cache file used for the feed URL
func (c *Client) CachePath() string {
	if c.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.feedURL))
	return filepath.Join(c.cacheDir, cacheFilePrefix+hex.EncodeToString(sum[:]))
}

// Fetch returns the feed entries, from the cache when it is fresh enough
func (c *Client) Fetch(ctx context.Context) ([]Entry, error) {
	if c.feedURL == "" {
		return nil, ErrNoFeedURL
	}
	if entries, ok := c.readCache(); ok {
		return entries, nil
	}
	var lastErr error
	for try := 1; try <= c.maxTries; try++ {
		body, err := c.doGet(ctx)
		if err == nil {
			var entries []Entry
			if err := json.Unmarshal(body, &entries); err != nil {
				return nil, fmt.Errorf("decoding import feed: %w", err)
			}
			c.writeCache(body)
			return entries, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, ErrTooManyRequests) {
			c.logger.Debug(
				"import feed rate limited, backing off",
				"url", c.feedURL,
				"try", try,
				"delay", c.retryDelay.String(),
			)
			if try < c.maxTries {
				if err := c.sleep(ctx, c.retryDelay); err != nil {
					return nil, err
				}
			}
			continue
		}
		c.logger.Warn(
			"cannot fetch import feed",
			"url", c.feedURL,
			"try", try,
			"error", err,
		)
	}
	return nil, fmt.Errorf(
		"fetching import feed after %d tries: %w",
		c.maxTries,
		lastErr,
	)
}

func (c *Client) readCache() ([]Entry, bool) {
	path := c.CachePath()
	if path == "" || c.cacheTTL <= 0 {
		return nil, false
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if c.now().Sub(st.ModTime()) >= c.cacheTTL {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn(
			"ignoring corrupt import feed cache",
			"path", path,
			"error", err,
		)
		return nil, false
	}
	c.logger.Debug("using cached import feed", "path", path)
	return entries, true
}

func (c *Client) writeCache(body []byte) {
	path := c.CachePath()
	if path == "" {
		return
	}
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		c.logger.Warn("cannot create import feed cache dir", "error", err)
		return
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, body, 0o600); err != nil {
		c.logger.Warn("cannot write import feed cache", "error", err)
		return
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		c.logger.Warn("cannot write import feed cache", "error", err)
	}
}

func (c *Client) doGet(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.feedURL,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL comes from operator configuration
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrTooManyRequests
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf(
			"unexpected status %d: %s",
			resp.StatusCode,
			string(bodyBytes),
		)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return body, nil
}
