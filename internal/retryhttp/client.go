package retryhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Observer is invoked before each retry wait, for logging or metrics. A
// panicking observer does not abort the retry loop.
type Observer interface {
	OnAttempt(attempt int, delay time.Duration, err error)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(attempt int, delay time.Duration, err error)

func (f ObserverFunc) OnAttempt(attempt int, delay time.Duration, err error) {
	f(attempt, delay, err)
}

// StatusError is a retryable HTTP status (429 or 5xx) observed on one attempt.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// PermanentError is a non-retryable client failure (4xx other than 429).
// Callers must not treat it as transient.
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: status %d", e.StatusCode)
}

// RateLimitError is returned when the retry budget was spent on 429 responses.
// Callers should back off the whole sweep rather than hammer the quota.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited after retries (retry after %s): %v", e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// RetryExhaustedError is returned when the retry budget was spent on transient
// failures other than rate limiting. Err is the last underlying error.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err carries a RateLimitError anywhere in its chain.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// Request describes one outbound call. Body bytes are replayed on every attempt.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Client executes external calls with bounded exponential backoff and full
// jitter. Transient failures (network errors, timeouts, 5xx, 429) are retried
// up to maxRetries; a Retry-After header on a 429 overrides the computed
// delay, still capped at maxDelay. The backoff wait holds no shared lock, so
// concurrent callers back off independently.
type Client struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	observer   Observer

	jitter func(time.Duration) time.Duration
	sleep  func(time.Duration)
}

// New creates a Client. timeout bounds each individual attempt.
func New(maxRetries int, baseDelay, maxDelay, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		jitter:     fullJitter,
		sleep:      time.Sleep,
	}
}

// OnRetry installs an observer called before each retry wait.
func (c *Client) OnRetry(obs Observer) {
	c.observer = obs
}

// Do performs the call, retrying transient failures. The returned response
// body is the caller's to close. On a non-retryable 4xx the body is consumed
// into the PermanentError for diagnostics.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	var (
		lastErr     error
		rateLimited bool
		retryAfter  time.Duration
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		resp, err := c.attempt(ctx, req)
		switch {
		case err != nil:
			// Network error or timeout: transient.
			lastErr = err
			rateLimited = false
			retryAfter = 0

		case resp.StatusCode < http.StatusBadRequest:
			return resp, nil

		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			discard(resp)
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			rateLimited = true

		case resp.StatusCode >= http.StatusInternalServerError:
			discard(resp)
			lastErr = &StatusError{StatusCode: resp.StatusCode}
			rateLimited = false
			retryAfter = 0

		default:
			// 4xx other than 429: fail immediately, no retry.
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			resp.Body.Close()
			return nil, &PermanentError{StatusCode: resp.StatusCode, Body: string(body)}
		}

		if attempt == c.maxRetries {
			break
		}

		delay := c.delayFor(attempt, retryAfter)
		c.notify(attempt, delay, lastErr)
		c.sleep(delay)
	}

	if rateLimited {
		return nil, &RateLimitError{RetryAfter: retryAfter, Err: lastErr}
	}
	return nil, &RetryExhaustedError{Attempts: c.maxRetries + 1, Err: lastErr}
}

// Get is a convenience wrapper for GET requests.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Header: header})
}

// Post is a convenience wrapper for POST requests.
func (c *Client) Post(ctx context.Context, url string, header http.Header, body []byte) (*http.Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, URL: url, Header: header, Body: body})
}

func (c *Client) attempt(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return c.httpClient.Do(httpReq)
}

// delayFor computes the wait before the next attempt. A Retry-After value
// takes precedence over the exponential backoff and is not jittered; both
// paths are capped at maxDelay.
func (c *Client) delayFor(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	return c.jitter(c.backoff(attempt))
}

// backoff returns min(maxDelay, baseDelay * 2^attempt) before jitter.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt >= 62 {
		return c.maxDelay
	}
	d := c.baseDelay << uint(attempt)
	if d <= 0 || d > c.maxDelay {
		return c.maxDelay
	}
	return d
}

func (c *Client) notify(attempt int, delay time.Duration, err error) {
	if c.observer == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	c.observer.OnAttempt(attempt, delay, err)
}

// fullJitter picks a uniform random delay in [0, d].
func fullJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// parseRetryAfter handles the delay-seconds form of the header. The HTTP-date
// form is rare on the APIs this service talks to and falls back to backoff.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
}
