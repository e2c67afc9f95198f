package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/progprogect/steamids-parser/internal/domain/item"
)

// ProgressSnapshot is what a run reports after every batch.
type ProgressSnapshot struct {
	Source       item.Source        `json:"source"`
	RunID        string             `json:"run_id,omitempty"`
	Counts       map[item.State]int `json:"counts"`
	Total        int                `json:"total"`
	Completed    int                `json:"completed"`
	Pending      int                `json:"pending"`
	Processing   int                `json:"processing"`
	Errors       int                `json:"errors"`
	CCURecords   int64              `json:"ccu_records"`
	PriceRecords int64              `json:"price_records"`
	Percent      float64            `json:"progress_percent"`
	Elapsed      time.Duration      `json:"elapsed_ns"`
	SpeedPerHour float64            `json:"speed_per_hour"`
	ETA          time.Duration      `json:"eta_ns"`
	Batch        PlanProgress       `json:"batch"`
	Timestamp    time.Time          `json:"timestamp"`
}

// ProgressSink receives a snapshot after every batch.
type ProgressSink interface {
	Publish(s ProgressSnapshot)
}

type statsReader interface {
	Stats(ctx context.Context, src item.Source) (item.Stats, error)
}

// ProgressReporter derives speed and ETA from the items completed since the
// run started.
type ProgressReporter struct {
	store    statsReader
	source   item.Source
	started  time.Time
	baseline int
	now      func() time.Time
}

func NewProgressReporter(ctx context.Context, store statsReader, src item.Source, now func() time.Time) (*ProgressReporter, error) {
	if now == nil {
		now = time.Now
	}
	st, err := store.Stats(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("read baseline stats: %w", err)
	}
	return &ProgressReporter{store: store, source: src, started: now(), baseline: st.Completed, now: now}, nil
}

func (r *ProgressReporter) Snapshot(ctx context.Context) (ProgressSnapshot, error) {
	st, err := r.store.Stats(ctx, r.source)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	return r.snapshot(st), nil
}

func (r *ProgressReporter) snapshot(st item.Stats) ProgressSnapshot {
	now := r.now()
	s := ProgressSnapshot{
		Source:       r.source,
		Counts:       st.Counts,
		Total:        st.Total,
		Completed:    st.Completed,
		Pending:      st.Pending,
		Processing:   st.Processing,
		Errors:       st.Errors,
		CCURecords:   st.CCURecords,
		PriceRecords: st.PriceRecords,
		Elapsed:      now.Sub(r.started),
		Timestamp:    now.UTC(),
	}
	if st.Total > 0 {
		s.Percent = float64(st.Completed+st.Errors) / float64(st.Total) * 100
	}
	done := st.Completed - r.baseline
	if hours := s.Elapsed.Hours(); done > 0 && hours > 0 {
		s.SpeedPerHour = float64(done) / hours
		s.ETA = time.Duration(float64(st.Pending) / s.SpeedPerHour * float64(time.Hour))
	}
	return s
}

type checkpointDoc struct {
	Timestamp  string           `json:"timestamp"`
	Statistics ProgressSnapshot `json:"statistics"`
}

// CheckpointWriter stores the latest snapshot per source. The file is
// advisory; the status store remains the source of truth.
type CheckpointWriter struct {
	dir string
}

func NewCheckpointWriter(dir string) *CheckpointWriter {
	return &CheckpointWriter{dir: dir}
}

func (w *CheckpointWriter) Path(src item.Source) string {
	return filepath.Join(w.dir, string(src)+"_checkpoint.json")
}

func (w *CheckpointWriter) Write(s ProgressSnapshot) error {
	if w == nil || w.dir == "" {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(checkpointDoc{Timestamp: s.Timestamp.Format(time.RFC3339), Statistics: s}, "", "  ")
	if err != nil {
		return err
	}
	path := w.Path(s.Source)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
