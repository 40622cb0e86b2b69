// Package noaa downloads raw GHCN-Daily files from the NOAA archive.
package noaa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
)

// ErrNotFound is returned when the archive has no file at the requested path.
var ErrNotFound = errors.New("remote file not found")

// Client fetches files below a base URL such as
// https://www.ncei.noaa.gov/pub/data/ghcn/daily.
type Client struct {
	baseURL         string
	httpClient      *http.Client
	retries         int
	initialInterval time.Duration
	logger          *slog.Logger
	metrics         *observability.Metrics
}

// NewClient creates a NOAA archive client. Transient failures are retried up
// to retries times with exponential backoff.
func NewClient(baseURL string, timeout time.Duration, retries int, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retries:         retries,
		initialInterval: 500 * time.Millisecond,
		logger:          logger,
		metrics:         metrics,
	}
}

// Download copies remotePath to dest. The file appears at dest only once it
// is complete. kind labels metrics and logs.
func (c *Client) Download(ctx context.Context, kind, remotePath, dest string) error {
	url := c.baseURL + "/" + strings.TrimLeft(remotePath, "/")
	start := time.Now()

	operation := func() error {
		return c.fetchOnce(ctx, url, dest)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.retries)), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("download failed, retrying", "kind", kind, "url", url, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		c.metrics.FetchRequests.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("download %s: %w", url, err)
	}

	c.metrics.FetchRequests.WithLabelValues(kind, "downloaded").Inc()
	c.metrics.FetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	c.logger.Info("downloaded", "kind", kind, "path", dest)
	return nil
}

func (c *Client) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	return writeFile(dest, resp.Body)
}

func writeFile(dest string, body io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return backoff.Permanent(fmt.Errorf("create %s: %w", dir, err))
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".part-*")
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create temp: %w", err))
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("read body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return backoff.Permanent(fmt.Errorf("close temp: %w", err))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return backoff.Permanent(fmt.Errorf("rename: %w", err))
	}
	return nil
}
