package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pipeline"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

var (
	ErrAlreadyRunning = errors.New("job already running")
	ErrNotRunning     = errors.New("job not running")
	ErrInvalidFile    = errors.New("invalid id file")
	ErrUnknownSource  = item.ErrUnknownSource
	ErrNoErrors       = errors.New("no items in error state")
	ErrShuttingDown   = errors.New("control plane shutting down")
)

// JobControl is the control-plane surface the HTTP layer drives.
type JobControl interface {
	Start(ctx context.Context, source, file string) (JobRun, error)
	Stop(ctx context.Context, source string) (JobRun, error)
	Status(ctx context.Context, source string) (JobStatus, error)
	RetryErrors(ctx context.Context, source string) (JobRun, error)
	Errors(ctx context.Context, source string, limit int) ([]item.ErrorEntry, error)
}

// Runner executes one run to completion or cancellation.
type Runner interface {
	Run(ctx context.Context, plan pipeline.Plan, ids []int64) (pipeline.RunSummary, error)
}

// PlanFunc builds the fetchers for one run of src. release, when non-nil, is
// called after the run ends.
type PlanFunc func(ctx context.Context, src item.Source) (plan pipeline.Plan, release func(), err error)

type jobStore interface {
	Stats(ctx context.Context, src item.Source) (item.Stats, error)
	RetryErrors(ctx context.Context, src item.Source) ([]int64, error)
	RecentErrors(ctx context.Context, src item.Source, limit int) ([]item.ErrorEntry, error)
}

// JobRun is the control-plane view of one started run.
type JobRun struct {
	RunID      string               `json:"run_id"`
	Source     item.Source          `json:"source"`
	File       string               `json:"file,omitempty"`
	Items      int                  `json:"items"`
	Retry      bool                 `json:"retry"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Summary    *pipeline.RunSummary `json:"summary,omitempty"`
	Error      string               `json:"error,omitempty"`
}

type JobStatus struct {
	Source          item.Source        `json:"source"`
	Running         bool               `json:"running"`
	Counts          map[item.State]int `json:"counts"`
	Total           int                `json:"total"`
	Completed       int                `json:"completed"`
	Pending         int                `json:"pending"`
	Processing      int                `json:"processing"`
	Errors          int                `json:"errors"`
	CCURecords      int64              `json:"ccu_records"`
	PriceRecords    int64              `json:"price_records"`
	ProgressPercent float64            `json:"progress_percent"`
	Run             *JobRun            `json:"run,omitempty"`
}

type JobUsecaseConfig struct {
	DefaultFile string
	StatusTTL   time.Duration
}

type job struct {
	run    JobRun
	cancel context.CancelFunc
	done   chan struct{}
}

// JobUsecase runs at most one job per source. Jobs outlive the request that
// started them and end on Stop, on completion, or on Shutdown.
type JobUsecase struct {
	runner      Runner
	plans       PlanFunc
	store       jobStore
	cache       StatusCache
	ttl         time.Duration
	defaultFile string
	log         logrus.FieldLogger
	now         func() time.Time

	base     context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu   sync.Mutex
	jobs map[item.Source]*job
	last map[item.Source]JobRun
}

func NewJobUsecase(runner Runner, plans PlanFunc, store jobStore, cache StatusCache, cfg JobUsecaseConfig, log logrus.FieldLogger) *JobUsecase {
	if cache == nil {
		cache = noopCache{}
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 5 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &JobUsecase{
		runner:      runner,
		plans:       plans,
		store:       store,
		cache:       cache,
		ttl:         cfg.StatusTTL,
		defaultFile: cfg.DefaultFile,
		log:         logging.OrStandard(log).WithField("component", "jobs"),
		now:         time.Now,
		base:        base,
		shutdown:    cancel,
		jobs:        make(map[item.Source]*job),
		last:        make(map[item.Source]JobRun),
	}
}

// Start loads ids from file (the configured default when empty) and runs
// them in the background.
func (u *JobUsecase) Start(ctx context.Context, source, file string) (JobRun, error) {
	src, err := item.ParseSource(source)
	if err != nil {
		return JobRun{}, err
	}
	if strings.TrimSpace(file) == "" {
		file = u.defaultFile
	}
	if u.Running(src) {
		return JobRun{}, ErrAlreadyRunning
	}

	ids, err := pipeline.LoadIDs(file)
	if err != nil {
		return JobRun{}, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return u.launch(src, file, ids, false)
}

// Stop cancels the running job for source. It returns before the job has
// drained; use Wait to block until it has.
func (u *JobUsecase) Stop(ctx context.Context, source string) (JobRun, error) {
	src, err := item.ParseSource(source)
	if err != nil {
		return JobRun{}, err
	}
	u.mu.Lock()
	j, ok := u.jobs[src]
	var run JobRun
	if ok {
		run = j.run
	}
	u.mu.Unlock()
	if !ok {
		return JobRun{}, ErrNotRunning
	}
	j.cancel()
	u.log.WithFields(logrus.Fields{"source": src, "run_id": run.RunID}).Info("stop requested")
	return run, nil
}

// Wait blocks until the job for source has finished or ctx ends. It returns
// at once when nothing is running.
func (u *JobUsecase) Wait(ctx context.Context, source string) error {
	src, err := item.ParseSource(source)
	if err != nil {
		return err
	}
	u.mu.Lock()
	j, ok := u.jobs[src]
	u.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *JobUsecase) Status(ctx context.Context, source string) (JobStatus, error) {
	src, err := item.ParseSource(source)
	if err != nil {
		return JobStatus{}, err
	}

	key := StatusCacheKey(src)
	var stats item.Stats
	hit, err := u.cache.GetJSON(ctx, key, &stats)
	if err != nil {
		u.log.WithFields(logrus.Fields{"source": src, "error": err}).Debug("status cache read failed")
	}
	if !hit {
		stats, err = u.store.Stats(ctx, src)
		if err != nil {
			return JobStatus{}, fmt.Errorf("stats: %w", err)
		}
		if err := u.cache.SetJSON(ctx, key, stats, u.ttl); err != nil {
			u.log.WithFields(logrus.Fields{"source": src, "error": err}).Debug("status cache write failed")
		}
	}

	out := JobStatus{
		Source:       src,
		Counts:       stats.Counts,
		Total:        stats.Total,
		Completed:    stats.Completed,
		Pending:      stats.Pending,
		Processing:   stats.Processing,
		Errors:       stats.Errors,
		CCURecords:   stats.CCURecords,
		PriceRecords: stats.PriceRecords,
	}
	if out.Counts == nil {
		out.Counts = map[item.State]int{}
	}
	if stats.Total > 0 {
		out.ProgressPercent = float64(stats.Completed+stats.Errors) / float64(stats.Total) * 100
	}

	u.mu.Lock()
	if j, ok := u.jobs[src]; ok {
		out.Running = true
		run := j.run
		out.Run = &run
	} else if run, ok := u.last[src]; ok {
		out.Run = &run
	}
	u.mu.Unlock()
	return out, nil
}

// RetryErrors moves every error-state item of source back to pending and
// starts a job over exactly those ids.
func (u *JobUsecase) RetryErrors(ctx context.Context, source string) (JobRun, error) {
	src, err := item.ParseSource(source)
	if err != nil {
		return JobRun{}, err
	}
	if u.Running(src) {
		return JobRun{}, ErrAlreadyRunning
	}

	ids, err := u.store.RetryErrors(ctx, src)
	if err != nil {
		return JobRun{}, fmt.Errorf("retry errors: %w", err)
	}
	if len(ids) == 0 {
		return JobRun{}, ErrNoErrors
	}
	u.invalidate(src)
	u.log.WithFields(logrus.Fields{"source": src, "items": len(ids)}).Info("error items reset to pending")
	return u.launch(src, "", ids, true)
}

func (u *JobUsecase) Errors(ctx context.Context, source string, limit int) ([]item.ErrorEntry, error) {
	src, err := item.ParseSource(source)
	if err != nil {
		return nil, err
	}
	return u.store.RecentErrors(ctx, src, limit)
}

func (u *JobUsecase) Running(src item.Source) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.jobs[src]
	return ok
}

// Shutdown cancels every job and waits for them to drain.
func (u *JobUsecase) Shutdown(ctx context.Context) error {
	u.shutdown()
	done := make(chan struct{})
	go func() {
		u.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *JobUsecase) launch(src item.Source, file string, ids []int64, retry bool) (JobRun, error) {
	u.mu.Lock()
	if u.base.Err() != nil {
		u.mu.Unlock()
		return JobRun{}, ErrShuttingDown
	}
	if _, ok := u.jobs[src]; ok {
		u.mu.Unlock()
		return JobRun{}, ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(u.base)
	j := &job{
		run: JobRun{
			RunID:     uuid.NewString(),
			Source:    src,
			File:      file,
			Items:     len(ids),
			Retry:     retry,
			StartedAt: u.now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	u.jobs[src] = j
	u.wg.Add(1)
	started := j.run
	u.mu.Unlock()

	u.log.WithFields(logrus.Fields{
		"source": src,
		"run_id": started.RunID,
		"items":  len(ids),
		"retry":  retry,
	}).Info("job started")

	go u.run(ctx, j, ids)
	return started, nil
}

func (u *JobUsecase) run(ctx context.Context, j *job, ids []int64) {
	defer u.wg.Done()
	defer close(j.done)
	defer j.cancel()

	log := u.log.WithFields(logrus.Fields{"source": j.run.Source, "run_id": j.run.RunID})
	summary, err := u.execute(ctx, j, ids)
	if err != nil {
		log.WithError(err).Error("job failed")
	} else {
		log.WithFields(logrus.Fields{
			"processed": summary.Processed,
			"failed":    summary.Failed,
			"cancelled": summary.Cancelled,
		}).Info("job finished")
	}

	u.invalidate(j.run.Source)

	finished := u.now().UTC()
	u.mu.Lock()
	j.run.FinishedAt = &finished
	if summary.RunID != "" {
		s := summary
		j.run.Summary = &s
	}
	if err != nil {
		j.run.Error = err.Error()
	}
	u.last[j.run.Source] = j.run
	delete(u.jobs, j.run.Source)
	u.mu.Unlock()
}

func (u *JobUsecase) execute(ctx context.Context, j *job, ids []int64) (pipeline.RunSummary, error) {
	plan, release, err := u.plans(ctx, j.run.Source)
	if err != nil {
		return pipeline.RunSummary{}, fmt.Errorf("build plan: %w", err)
	}
	if release != nil {
		defer release()
	}
	plan.Source = j.run.Source
	plan.RunID = j.run.RunID
	return u.runner.Run(ctx, plan, ids)
}

func (u *JobUsecase) invalidate(src item.Source) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.cache.Delete(ctx, StatusCacheKey(src)); err != nil {
		u.log.WithFields(logrus.Fields{"source": src, "error": err}).Debug("status cache invalidate failed")
	}
}
