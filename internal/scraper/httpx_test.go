package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

func TestDoWithRetry_HonoursRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	var hinted time.Duration
	body, err := doWithRetry(context.Background(), srv.Client(), requestSpec{URL: srv.URL}, retryPolicy{
		Attempts: 3,
		Backoff: func(attempt, status int, retryAfter time.Duration) time.Duration {
			hinted = retryAfter
			return time.Millisecond
		},
	}, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
	if hinted != 7*time.Second {
		t.Fatalf("expected Retry-After hint of 7s, got %s", hinted)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDoWithRetry_NotFoundIsTerminal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	_, err := doWithRetry(context.Background(), srv.Client(), requestSpec{URL: srv.URL}, retryPolicy{Attempts: 5}, log)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("404 must not be retried, got %d calls", calls)
	}
}

func TestDoWithRetry_ExhaustsAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	_, err := doWithRetry(context.Background(), srv.Client(), requestSpec{URL: srv.URL}, retryPolicy{
		Attempts: 3,
		Backoff:  func(int, int, time.Duration) time.Duration { return time.Millisecond },
	}, log)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	if got := parseRetryAfter(h); got != 0 {
		t.Fatalf("missing header should be 0, got %s", got)
	}
	h.Set("Retry-After", "30")
	if got := parseRetryAfter(h); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
	h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	if got := parseRetryAfter(h); got < 59*time.Minute || got > time.Hour {
		t.Fatalf("expected about an hour, got %s", got)
	}
	h.Set("Retry-After", "garbage")
	if got := parseRetryAfter(h); got != 0 {
		t.Fatalf("garbage should be 0, got %s", got)
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	cases := map[string]string{
		"1600000000":                "2020-09-13 12:26:40",
		"1600000000000":             "2020-09-13 12:26:40",
		"2024-03-01T10:00:00Z":      "2024-03-01 10:00:00",
		"2024-03-01T12:00:00+02:00": "2024-03-01 10:00:00",
		"2024-03-01 10:00:00":       "2024-03-01 10:00:00",
		"2024-03-01":                "2024-03-01 00:00:00",
	}
	for in, want := range cases {
		got, err := NormalizeTimestamp(in)
		if err != nil {
			t.Fatalf("%q: %v", in, err)
		}
		if got != want {
			t.Fatalf("%q: expected %q, got %q", in, want, got)
		}
	}
	if _, err := NormalizeTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for unparseable timestamp")
	}
	if _, err := NormalizeUnix(-1); err == nil {
		t.Fatalf("expected error for negative timestamp")
	}
}
