package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

const maxBodyBytes = 16 << 20

// StatusError is a non-2xx answer that survived every retry.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d url=%s", e.Code, e.URL)
}

func (e *StatusError) Unwrap() error {
	switch e.Code {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return nil
	}
}

// retryPolicy decides how often and how long a request is retried.
type retryPolicy struct {
	Attempts int
	// Backoff returns the wait before the next attempt. retryAfter is the
	// server hint, zero when absent.
	Backoff func(attempt int, status int, retryAfter time.Duration) time.Duration
	// Retryable reports whether a status should be retried at all.
	Retryable func(status int) bool
	// Limiter, when set, is acquired before every attempt.
	Limiter *RateLimiter
}

func exponentialBackoff(base time.Duration) func(int, int, time.Duration) time.Duration {
	return func(attempt int, _ int, retryAfter time.Duration) time.Duration {
		if retryAfter > 0 {
			return retryAfter
		}
		return base * time.Duration(1<<attempt)
	}
}

func retryThrottledAndServerErrors(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

type requestSpec struct {
	Method  string
	URL     string
	Body    []byte
	Headers map[string]string
}

// doWithRetry sends the request until it gets a 2xx, a non-retryable status
// or runs out of attempts. Transport errors are always retried.
func doWithRetry(ctx context.Context, client *http.Client, spec requestSpec, policy retryPolicy, log logrus.FieldLogger) ([]byte, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = exponentialBackoff(300 * time.Millisecond)
	}
	if policy.Retryable == nil {
		policy.Retryable = retryThrottledAndServerErrors
	}
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := policy.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		var body io.Reader
		if spec.Body != nil {
			body = bytes.NewReader(spec.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, spec.URL, body)
		if err != nil {
			return nil, err
		}
		for k, v := range spec.Headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < attempts-1 {
				wait := policy.Backoff(attempt, 0, 0)
				log.WithFields(logrus.Fields{"url": spec.URL, "attempt": attempt + 1, "wait": wait, "error": err}).Warn("http request failed")
				if err := sleepCtx(ctx, wait); err != nil {
					return nil, err
				}
			}
			continue
		}

		b, readErr := readAllLimit(resp.Body, maxBodyBytes)
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return b, nil
		}

		lastErr = &StatusError{Code: resp.StatusCode, URL: spec.URL}
		if !policy.Retryable(resp.StatusCode) {
			return nil, lastErr
		}
		if attempt < attempts-1 {
			wait := policy.Backoff(attempt, resp.StatusCode, parseRetryAfter(resp.Header))
			log.WithFields(logrus.Fields{"url": spec.URL, "status": resp.StatusCode, "attempt": attempt + 1, "wait": wait}).Warn("http retry")
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func readAllLimit(r io.Reader, max int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: max + 1}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("response too large")
	}
	return b, nil
}
