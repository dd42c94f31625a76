// Package dataset models the record batches bound to a map layer and resolves which
// columns of a batch hold coordinates and timestamps.
package dataset

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

// Record is one fixed-width row. Values are numbers, strings or epoch-millisecond
// timestamps; JSON-decoded rows carry float64 numbers.
type Record []any

// Snapshot is the batch of records currently bound to a layer. It is replaced
// wholesale when new data arrives; the engine only attaches derived caches to it.
type Snapshot struct {
	Columns   map[string]int `json:"columns"`
	Data      []Record       `json:"data"`
	Count     int            `json:"count"`
	DataCount int            `json:"datacount"`

	mu       sync.Mutex
	mappings map[mappingKey]*Columns
	bad      map[badKey][]bool
}

// NewSnapshot builds a snapshot from ordered column names and rows.
func NewSnapshot(columns []string, data []Record) *Snapshot {
	idx := make(map[string]int, len(columns))
	for i, c := range columns {
		idx[c] = i
	}
	return &Snapshot{
		Columns:   idx,
		Data:      data,
		Count:     len(data),
		DataCount: len(data),
	}
}

// Len returns the number of records, treating a nil snapshot as empty.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Data)
}

// Column returns the index of a named column.
func (s *Snapshot) Column(name string) (int, bool) {
	if s == nil || s.Columns == nil || name == "" {
		return -1, false
	}
	i, ok := s.Columns[name]
	return i, ok
}

// ColumnNames returns the column names ordered by index.
func (s *Snapshot) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for name := range s.Columns {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return s.Columns[names[i]] < s.Columns[names[j]] })
	return names
}

// Float reads a numeric value. Missing, non-numeric and non-finite values report false.
func Float(rec Record, col int) (float64, bool) {
	if col < 0 || col >= len(rec) {
		return 0, false
	}
	var v float64
	switch n := rec[col].(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case time.Time:
		v = float64(n.UnixMilli())
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Millis reads an epoch-millisecond timestamp.
func Millis(rec Record, col int) (int64, bool) {
	if col >= 0 && col < len(rec) {
		if n, ok := rec[col].(int64); ok {
			return n, true
		}
	}
	f, ok := Float(rec, col)
	if !ok {
		return 0, false
	}
	return int64(math.Floor(f)), true
}

// DateRange returns the earliest and latest timestamps in a column.
func (s *Snapshot) DateRange(col int) (start, end int64, ok bool) {
	for _, rec := range s.Data {
		t, valid := Millis(rec, col)
		if !valid {
			continue
		}
		if !ok || t < start {
			start = t
		}
		if !ok || t > end {
			end = t
		}
		ok = true
	}
	return start, end, ok
}

// FilterDates returns a snapshot restricted to records whose date lies in
// [from, until). A zero bound is open. The receiver is returned unchanged when the
// column is unknown or both bounds are open.
func (s *Snapshot) FilterDates(column string, from, until int64) *Snapshot {
	col, ok := s.Column(column)
	if !ok || (from == 0 && until == 0) {
		return s
	}
	kept := make([]Record, 0, len(s.Data))
	for _, rec := range s.Data {
		t, valid := Millis(rec, col)
		if !valid {
			continue
		}
		if (from == 0 || t >= from) && (until == 0 || t < until) {
			kept = append(kept, rec)
		}
	}
	return &Snapshot{
		Columns:   s.Columns,
		Data:      kept,
		Count:     len(kept),
		DataCount: s.DataCount,
	}
}
