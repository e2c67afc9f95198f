package scraper

import (
	"context"
	"sync"
)

type Task func(ctx context.Context) error

type Result struct {
	Err error
}

// WorkerPool runs submitted tasks on a fixed number of goroutines. When a
// limiter is set every task acquires a token before it starts.
type WorkerPool struct {
	workers int
	tasks   chan Task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	limiter *RateLimiter
	once    sync.Once
}

func NewWorkerPool(workers, buffer int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	return &WorkerPool{
		workers: workers,
		tasks:   make(chan Task, buffer),
	}
}

func (p *WorkerPool) SetLimiter(l *RateLimiter) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.limiter = l
	p.mu.Unlock()
}

// Submit queues t. It returns false when ctx ends before a worker has room,
// so producers never block on a pool whose workers already quit.
func (p *WorkerPool) Submit(ctx context.Context, t Task) bool {
	if p == nil || t == nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case p.tasks <- t:
		return true
	}
}

func (p *WorkerPool) Close() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.tasks) })
}

func (p *WorkerPool) Run(ctx context.Context) <-chan Result {
	if p == nil {
		out := make(chan Result)
		close(out)
		return out
	}
	out := make(chan Result, p.workers)

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-p.tasks:
					if !ok {
						return
					}
					if t == nil {
						continue
					}
					p.mu.RLock()
					lim := p.limiter
					p.mu.RUnlock()
					if err := lim.Acquire(ctx); err != nil {
						return
					}
					err := t(ctx)
					select {
					case <-ctx.Done():
						return
					case out <- Result{Err: err}:
					}
				}
			}
		}()
	}

	go func() {
		p.wg.Wait()
		close(out)
	}()

	return out
}

// RunAll submits tasks from a separate goroutine, closes the pool and returns
// every task error in completion order.
func (p *WorkerPool) RunAll(ctx context.Context, tasks []Task) []error {
	results := p.Run(ctx)
	go func() {
		defer p.Close()
		for _, t := range tasks {
			if !p.Submit(ctx, t) {
				return
			}
		}
	}()

	var errs []error
	for res := range results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errs
}
