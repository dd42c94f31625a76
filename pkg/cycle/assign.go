package cycle

import (
	"sync"

	"github.com/sudorandom/geoanim/pkg/dataset"
)

// NoBin marks a record without a usable timestamp.
const NoBin int32 = -1

// Assignment holds one time bin per record or per rendered primitive.
type Assignment []int32

// TimeBin computes floor(((t - start) mod rng) / width) with a non-negative modulo.
func TimeBin(t, start, rng, width int64) int32 {
	if rng <= 0 || width <= 0 {
		return NoBin
	}
	m := (t - start) % rng
	if m < 0 {
		m += rng
	}
	return int32(m / width)
}

// AssignTimeBins assigns each record the time bin of its date column.
func AssignTimeBins(records []dataset.Record, dateColumn int, start, rng, width int64) Assignment {
	out := make(Assignment, len(records))
	for i, rec := range records {
		out[i] = recordBin(rec, dateColumn, start, rng, width)
	}
	return out
}

// AssignInterleaved assigns n entries where entry 2i is the pickup of record i
// and entry 2i+1 its dropoff.
func AssignInterleaved(records []dataset.Record, dateColumn, dateColumn2, n int, start, rng, width int64) Assignment {
	n = min(n, 2*len(records))
	out := make(Assignment, n)
	for i := range out {
		col := dateColumn
		if i&1 == 1 {
			col = dateColumn2
		}
		out[i] = recordBin(records[i>>1], col, start, rng, width)
	}
	return out
}

func recordBin(rec dataset.Record, col int, start, rng, width int64) int32 {
	t, ok := dataset.Millis(rec, col)
	if !ok {
		return NoBin
	}
	return TimeBin(t, start, rng, width)
}

// Layout selects how an assignment maps onto records.
type Layout int

const (
	// LayoutRecords has one entry per record.
	LayoutRecords Layout = iota
	// LayoutInterleaved has a pickup and a dropoff entry per record.
	LayoutInterleaved
)

// Request describes one assignment.
type Request struct {
	Date   int
	Date2  int
	Layout Layout
	// Length caps the number of entries; zero means one per record (or two when
	// interleaved).
	Length int
}

type assignKey struct {
	snapshot *dataset.Snapshot
	req      Request
	start    int64
	rng      int64
	width    int64
}

// Assigner caches assignments so frames never recompute bin membership. Only a
// new snapshot, date column or cycle produces a new array.
type Assigner struct {
	mu    sync.Mutex
	cache map[assignKey]Assignment

	// Computed counts cache misses.
	Computed int
}

// NewAssigner returns an empty cache.
func NewAssigner() *Assigner {
	return &Assigner{cache: make(map[assignKey]Assignment)}
}

// Assign returns the cached assignment for s under c, computing it on first use.
func (a *Assigner) Assign(s *dataset.Snapshot, c *Cycle, req Request) Assignment {
	if s == nil || c == nil {
		return nil
	}
	key := assignKey{snapshot: s, req: req, start: c.Start, rng: c.Range, width: c.BinWidth}

	a.mu.Lock()
	defer a.mu.Unlock()
	if out, ok := a.cache[key]; ok {
		return out
	}
	var out Assignment
	switch req.Layout {
	case LayoutInterleaved:
		n := req.Length
		if n <= 0 {
			n = 2 * s.Len()
		}
		out = AssignInterleaved(s.Data, req.Date, req.Date2, n, c.Start, c.Range, c.BinWidth)
	default:
		records := s.Data
		if req.Length > 0 && req.Length < len(records) {
			records = records[:req.Length]
		}
		out = AssignTimeBins(records, req.Date, c.Start, c.Range, c.BinWidth)
	}
	if a.cache == nil {
		a.cache = make(map[assignKey]Assignment)
	}
	a.cache[key] = out
	a.Computed++
	return out
}

// Reset drops every cached assignment.
func (a *Assigner) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[assignKey]Assignment)
}
