package pipeline

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"testing"
	"time"

	"github.com/progprogect/steamids-parser/internal/domain/item"
)

type fakeStats struct {
	stats []item.Stats
	calls int
}

func (f *fakeStats) Stats(ctx context.Context, src item.Source) (item.Stats, error) {
	s := f.stats[f.calls]
	if f.calls < len(f.stats)-1 {
		f.calls++
	}
	return s, nil
}

func TestProgressReporter_Snapshot(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	store := &fakeStats{stats: []item.Stats{
		{Total: 65, Completed: 10, Pending: 55},
		{Total: 65, Completed: 20, Pending: 40, Errors: 5},
	}}
	r, err := NewProgressReporter(context.Background(), store, item.SourceITAD, now)
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}

	clock = start.Add(time.Hour)
	s, err := r.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if s.SpeedPerHour != 10 {
		t.Fatalf("expected 10 items/hour, got %v", s.SpeedPerHour)
	}
	if s.ETA != 4*time.Hour {
		t.Fatalf("expected 4h eta, got %s", s.ETA)
	}
	if want := 25.0 / 65.0 * 100; math.Abs(s.Percent-want) > 1e-9 {
		t.Fatalf("expected %.3f%%, got %.3f%%", want, s.Percent)
	}
	if s.Elapsed != time.Hour || s.Source != item.SourceITAD {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestProgressReporter_NoSpeedYieldsZeroETA(t *testing.T) {
	store := &fakeStats{stats: []item.Stats{{Total: 3, Pending: 3}}}
	r, err := NewProgressReporter(context.Background(), store, item.SourceCCU, nil)
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	s, _ := r.Snapshot(context.Background())
	if s.SpeedPerHour != 0 || s.ETA != 0 || s.Percent != 0 {
		t.Fatalf("expected zero speed, eta and percent, got %+v", s)
	}
}

func TestCheckpointWriter_Write(t *testing.T) {
	w := NewCheckpointWriter(t.TempDir())
	ts := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := w.Write(ProgressSnapshot{Source: item.SourceSteamPrice, Total: 3, Completed: 2, Timestamp: ts}); err != nil {
		t.Fatalf("write: %v", err)
	}

	b, err := os.ReadFile(w.Path(item.SourceSteamPrice))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Timestamp  string `json:"timestamp"`
		Statistics struct {
			Total     int `json:"total"`
			Completed int `json:"completed"`
		} `json:"statistics"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Timestamp != "2025-02-03T04:05:06Z" || doc.Statistics.Total != 3 || doc.Statistics.Completed != 2 {
		t.Fatalf("unexpected checkpoint %s", b)
	}
}
