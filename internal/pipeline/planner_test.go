package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestBatchPlanner_PartitionsInOrder(t *testing.T) {
	p := NewBatchPlanner([]int64{5, 4, 3, 2, 1}, 2)
	if p.Len() != 3 {
		t.Fatalf("expected 3 batches, got %d", p.Len())
	}

	var seen [][]int64
	for {
		b, ok := p.Next()
		if !ok {
			break
		}
		seen = append(seen, b.IDs)
		p.MarkProcessed(b)
		p.MarkProcessed(b)
	}
	want := [][]int64{{5, 4}, {3, 2}, {1}}
	if !reflect.DeepEqual(seen, want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}

	prog := p.Progress()
	if prog.Batches != 3 || prog.ProcessedBatches != 3 || prog.Items != 5 || prog.ProcessedItems != 5 {
		t.Fatalf("unexpected progress %+v", prog)
	}
}

func TestBatchPlanner_Empty(t *testing.T) {
	p := NewBatchPlanner(nil, 10)
	if _, ok := p.Next(); ok {
		t.Fatalf("empty planner must be exhausted")
	}
	if p.Progress().Batches != 0 {
		t.Fatalf("expected no batches")
	}
}

func TestBatchPlanner_NextSkipsOnlyProcessed(t *testing.T) {
	p := NewBatchPlanner([]int64{1, 2, 3, 4}, 2)
	b, _ := p.Next()
	again, _ := p.Next()
	if b.Index != again.Index {
		t.Fatalf("next must return the same batch until it is marked processed")
	}
	p.MarkProcessed(b)
	b2, ok := p.Next()
	if !ok || b2.Index != 1 {
		t.Fatalf("expected second batch, got %+v", b2)
	}
	if p.Progress().ProcessedItems != 2 {
		t.Fatalf("expected 2 processed items")
	}
}

func TestLoadIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ids.txt")
	content := "730\n\n  570 \nnot-a-number\n730\n-5\n440\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ids, err := LoadIDs(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(ids, []int64{730, 570, 440}) {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestLoadIDs_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadIDs(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("\nfoo\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadIDs(empty); !errors.Is(err, ErrNoIDs) {
		t.Fatalf("expected ErrNoIDs, got %v", err)
	}
}
