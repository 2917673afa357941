// Package fetch retrieves published trip-record snapshots over HTTP and
// lands them in the staging area.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mfreitas/tlc_ingest/internal/corpus"
	"github.com/mfreitas/tlc_ingest/internal/fetch/progress"
	"github.com/mfreitas/tlc_ingest/internal/ingest"
	"github.com/mfreitas/tlc_ingest/internal/logctx"
	"github.com/mfreitas/tlc_ingest/internal/retry"
	"github.com/mfreitas/tlc_ingest/internal/staging"
)

// DefaultUserAgent identifies the tool to the publisher's CDN.
const DefaultUserAgent = "tlc-ingest/1.0"

// Config carries the knobs for a Client.
type Config struct {
	// BaseURL is the prefix the snapshot file names are appended to.
	BaseURL string

	// AttemptTimeout bounds a single attempt end to end, headers and body
	// both. Zero means no per-attempt deadline.
	AttemptTimeout time.Duration

	UserAgent string

	// ProgressInterval is how many bytes pass between progress log lines.
	ProgressInterval int64

	Retry retry.Policy
}

// Client fetches snapshots. One terminal call per descriptor: retries
// happen inside Fetch, and a returned error is already classified.
type Client struct {
	base           string
	hc             *http.Client
	attemptTimeout time.Duration
	userAgent      string
	interval       int64
	policy         retry.Policy
	area           *staging.Area
}

var _ ingest.Fetcher = (*Client)(nil)

// New builds a Client writing into area. The underlying transport is
// instrumented, so outbound requests show up in traces and metrics.
func New(cfg Config, area *staging.Area) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	policy := cfg.Retry
	if policy.Retryable == nil {
		policy.Retryable = ingest.Retryable
	}

	return &Client{
		base: cfg.BaseURL,
		hc: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		attemptTimeout: cfg.AttemptTimeout,
		userAgent:      userAgent,
		interval:       cfg.ProgressInterval,
		policy:         policy,
		area:           area,
	}
}

// Fetch retrieves one snapshot into the staging area, retrying transient
// failures under the client's policy. On error the attempt count in the
// returned info still reflects the work done.
func (c *Client) Fetch(ctx context.Context, d corpus.Descriptor) (ingest.FetchInfo, error) {
	url := d.RemoteURL(c.base)

	attempts := 0
	written, err := retry.Do(ctx, c.policy, func(ctx context.Context) (int64, error) {
		attempts++

		n, err := c.attempt(ctx, d, url, attempts)
		if err != nil && ingest.Retryable(err) {
			logctx.LoggerFromContext(ctx).Warn("fetch attempt failed",
				"url", url, "attempt", attempts, "err", err)
		}

		return n, err
	})

	return ingest.FetchInfo{Bytes: written, Attempts: attempts}, err
}

func (c *Client) attempt(ctx context.Context, d corpus.Descriptor, url string, attempt int) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)

		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request for %s: %w", url, err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	logger.Debug("fetching snapshot", "url", url, "attempt", attempt)

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, c.transportError(url, err)
	}

	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusForbidden:
		// The CDN answers 403 for keys that do not exist, so both statuses
		// mean the month was never published.
		return 0, &ingest.NotFoundError{URL: url, StatusCode: resp.StatusCode}
	default:
		// 408, 429 and the 5xx family land here; all are worth another try.
		return 0, &ingest.TransientNetworkError{URL: url, StatusCode: resp.StatusCode}
	}

	return c.stage(ctx, d, url, resp)
}

// stage streams the response body into a pending staging file and publishes
// it. Publication only happens when the body arrived whole.
func (c *Client) stage(ctx context.Context, d corpus.Descriptor, url string, resp *http.Response) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	if resp.ContentLength > 0 {
		logger.Info("downloading snapshot", "url", url, "size", humanize.Bytes(uint64(resp.ContentLength)))
	} else {
		logger.Info("downloading snapshot", "url", url)
	}

	pf, err := c.area.Start(d)
	if err != nil {
		return 0, &ingest.FilesystemError{Op: "write", Path: c.area.PathFor(d), Err: err}
	}

	// No-op once the commit below succeeds.
	defer pf.Discard()

	pr := progress.New(resp.Body, resp.ContentLength, c.interval, func(read, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"url", url,
				"downloaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "url", url, "downloaded", humanize.Bytes(uint64(read)))
		}
	})

	sink := &taggedWriter{w: pf}

	written, err := io.Copy(sink, pr)
	if err != nil {
		if sink.err != nil {
			return 0, &ingest.FilesystemError{Op: "write", Path: c.area.PathFor(d), Err: sink.err}
		}

		return 0, c.transportError(url, err)
	}

	if resp.ContentLength > 0 && written != resp.ContentLength {
		return 0, &ingest.TransientNetworkError{
			URL: url,
			Err: fmt.Errorf("short body: got %d of %d bytes", written, resp.ContentLength),
		}
	}

	if err := pf.Commit(); err != nil {
		return 0, &ingest.FilesystemError{Op: "publish", Path: c.area.PathFor(d), Err: err}
	}

	logger.Debug("snapshot staged", "target", c.area.PathFor(d), "size", humanize.Bytes(uint64(written)))

	return written, nil
}

// transportError classifies a failure from the HTTP layer. Cancellation
// surfaces untouched so an interrupted run is not mistaken for a network
// fault.
func (c *Client) transportError(url string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &ingest.TimeoutError{URL: url, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ingest.TimeoutError{URL: url, Err: err}
	}

	return &ingest.TransientNetworkError{URL: url, Err: err}
}

// taggedWriter remembers the first write error so a failed copy can be
// blamed on the disk rather than the network.
type taggedWriter struct {
	w   io.Writer
	err error
}

func (t *taggedWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil && t.err == nil {
		t.err = err
	}

	return n, err
}
