// Package upstream is the HTTP boundary to LeetCode and its public API
// mirrors. Every request goes through one retry policy, and loosely typed
// responses are decoded into contest types before they leave the package.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/papapumpkin/contestguard/internal/retry"
)

// ErrUnknownIdentity is returned by profile lookups when upstream reports
// that the identity does not exist.
var ErrUnknownIdentity = errors.New("unknown identity")

// ErrNoMirrors is returned when a mirror endpoint is requested but none is
// configured.
var ErrNoMirrors = errors.New("no API mirrors configured")

// Options configures a Client.
type Options struct {
	// ContestAPI is the base URL of the contest info endpoint; the contest
	// slug is appended as a path segment.
	ContestAPI string `mapstructure:"contest_api"`
	// Mirrors are equivalent base URLs of the public profile API, used in
	// round-robin order.
	Mirrors []string `mapstructure:"mirrors"`
	// Timeout bounds each individual HTTP request.
	Timeout time.Duration `mapstructure:"timeout"`
	// UserAgent is sent with every request.
	UserAgent string `mapstructure:"user_agent"`
}

// Client performs single bounded, retried requests against upstream.
// The mirror rotation counter belongs to the client instance.
type Client struct {
	opts     Options
	policy   retry.Policy
	http     *http.Client
	logger   *slog.Logger
	rotation atomic.Uint64
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The replacement's Timeout
// is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for retry and parse warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(opts Options, policy retry.Policy, options ...Option) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	c := &Client{
		opts:   opts,
		policy: policy,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: slog.Default(),
	}
	for _, o := range options {
		o(c)
	}
	c.logger = c.logger.With("component", "upstream")
	return c
}

// nextMirror returns the next mirror in round-robin order.
func (c *Client) nextMirror() (string, error) {
	if len(c.opts.Mirrors) == 0 {
		return "", ErrNoMirrors
	}
	i := c.rotation.Add(1) - 1
	return strings.TrimRight(c.opts.Mirrors[i%uint64(len(c.opts.Mirrors))], "/"), nil
}

// statusError is a non-success HTTP status.
type statusError struct {
	Code int
	URL  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// fetch performs one GET and classifies the outcome for the retry policy:
// 404 is permanent and reported as notFound, 429 carries the server's
// Retry-After hint, every other failure is retryable.
func (c *Client) fetch(ctx context.Context, rawURL string, notFound error) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(notFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &retry.HintError{
			After: retryAfter(resp.Header.Get("Retry-After")),
			Err:   &statusError{Code: resp.StatusCode, URL: rawURL},
		}
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{Code: resp.StatusCode, URL: rawURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return body, nil
}

// get runs fetch then decode under the retry policy. A decode failure is
// retryable: anti-bot interstitials arrive as 200 responses with HTML bodies.
func get[T any](ctx context.Context, c *Client, target func() (string, error), notFound error, decode func([]byte) (T, error)) (T, error) {
	return retry.Value(ctx, c.policy, func(ctx context.Context) (T, error) {
		var zero T
		u, err := target()
		if err != nil {
			return zero, retry.Permanent(err)
		}
		body, err := c.fetch(ctx, u, notFound)
		if err != nil {
			return zero, err
		}
		return decode(body)
	}, func(err error, wait time.Duration) {
		c.logger.Warn("upstream request failed, retrying", "error", err, "wait", wait)
	})
}

// retryAfter parses a Retry-After header given in seconds. Unknown or
// missing values fall back to thirty seconds.
func retryAfter(h string) time.Duration {
	if s, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && s >= 0 {
		return time.Duration(s) * time.Second
	}
	return 30 * time.Second
}

// join appends escaped path segments to base.
func join(base string, segments ...string) string {
	parts := []string{strings.TrimRight(base, "/")}
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	return strings.Join(parts, "/")
}
