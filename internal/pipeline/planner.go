package pipeline

// Batch is one fixed-size slice of the run's item ids.
type Batch struct {
	Index int
	IDs   []int64
}

type PlanProgress struct {
	Batches          int `json:"batches"`
	ProcessedBatches int `json:"processed_batches"`
	Items            int `json:"items"`
	ProcessedItems   int `json:"processed_items"`
}

// BatchPlanner partitions ids in input order. It keeps no persistent state;
// a restarted run re-plans from whatever is still pending.
type BatchPlanner struct {
	batches   []Batch
	processed map[int]bool
	items     int
}

func NewBatchPlanner(ids []int64, size int) *BatchPlanner {
	if size <= 0 {
		size = len(ids)
		if size == 0 {
			size = 1
		}
	}
	p := &BatchPlanner{processed: map[int]bool{}, items: len(ids)}
	for start, i := 0, 0; start < len(ids); start, i = start+size, i+1 {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		p.batches = append(p.batches, Batch{Index: i, IDs: ids[start:end:end]})
	}
	return p
}

func (p *BatchPlanner) Len() int { return len(p.batches) }

// Next returns the first batch not yet marked processed.
func (p *BatchPlanner) Next() (Batch, bool) {
	for _, b := range p.batches {
		if !p.processed[b.Index] {
			return b, true
		}
	}
	return Batch{}, false
}

func (p *BatchPlanner) MarkProcessed(b Batch) {
	if b.Index < 0 || b.Index >= len(p.batches) {
		return
	}
	p.processed[b.Index] = true
}

func (p *BatchPlanner) Progress() PlanProgress {
	out := PlanProgress{Batches: len(p.batches), Items: p.items}
	for _, b := range p.batches {
		if p.processed[b.Index] {
			out.ProcessedBatches++
			out.ProcessedItems += len(b.IDs)
		}
	}
	return out
}
