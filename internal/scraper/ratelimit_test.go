package scraper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRateLimiter_PacesAcquires(t *testing.T) {
	lim := NewRateLimiter(2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := lim.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	if elapsed < 4500*time.Millisecond || elapsed > 6*time.Second {
		t.Fatalf("expected ~5s for 10 acquires at 2/s, got %s", elapsed)
	}
}

func TestRateLimiter_UnlimitedAndNil(t *testing.T) {
	var nilLim *RateLimiter
	if err := nilLim.Acquire(context.Background()); err != nil {
		t.Fatalf("nil limiter: %v", err)
	}
	lim := NewRateLimiter(0)
	start := time.Now()
	for i := 0; i < 1000; i++ {
		_ = lim.Acquire(context.Background())
	}
	if time.Since(start) > time.Second {
		t.Fatalf("unlimited limiter should not wait")
	}
	if lim.Limit() != 0 {
		t.Fatalf("expected zero limit, got %v", lim.Limit())
	}
}

func TestRateLimiter_AcquireHonoursContext(t *testing.T) {
	lim := NewRateLimiter(0.1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := lim.Acquire(ctx); err == nil {
		t.Fatalf("expected error when wait exceeds deadline")
	}
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	const workers = 3
	var (
		running int32
		peak    int32
		done    int32
		mu      sync.Mutex
	)
	tasks := make([]Task, 0, 20)
	for i := 0; i < 20; i++ {
		tasks = append(tasks, func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			atomic.AddInt32(&done, 1)
			return nil
		})
	}

	errs := NewWorkerPool(workers, workers).RunAll(context.Background(), tasks)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if done != 20 {
		t.Fatalf("expected 20 tasks run, got %d", done)
	}
	if peak > workers {
		t.Fatalf("expected at most %d concurrent tasks, saw %d", workers, peak)
	}
}

func TestWorkerPool_CollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	}
	errs := NewWorkerPool(2, 2).RunAll(context.Background(), tasks)
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("expected one boom error, got %v", errs)
	}
}

func TestWorkerPool_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran int32
	tasks := make([]Task, 0, 50)
	for i := 0; i < 50; i++ {
		tasks = append(tasks, func(ctx context.Context) error {
			if atomic.AddInt32(&ran, 1) == 2 {
				cancel()
			}
			return nil
		})
	}
	NewWorkerPool(1, 0).RunAll(ctx, tasks)
	if ran >= 50 {
		t.Fatalf("expected cancellation to stop the pool early, ran %d", ran)
	}
}
