package dataset

import (
	"github.com/golang/geo/s2"
)

// BadRecordFilter flags records whose pickup→dropoff vector is degenerate. Bad
// records still count toward endpoint totals but never contribute displacement.
type BadRecordFilter struct {
	// MaxJumpDegrees is the great-circle displacement above which a vector is
	// treated as a positioning fault. Zero disables the check.
	MaxJumpDegrees float64
}

// IsBad reports whether rec cannot contribute a displacement vector.
func (f BadRecordFilter) IsBad(rec Record, c *Columns) bool {
	if c == nil || !c.Paired {
		return true
	}
	x1, ok1 := Float(rec, c.X)
	y1, ok2 := Float(rec, c.Y)
	x2, ok3 := Float(rec, c.X2)
	y2, ok4 := Float(rec, c.Y2)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return true
	}
	if x1 == x2 && y1 == y2 {
		return true
	}
	from := s2.LatLngFromDegrees(y1, x1)
	to := s2.LatLngFromDegrees(y2, x2)
	if !from.IsValid() || !to.IsValid() {
		return true
	}
	if f.MaxJumpDegrees > 0 && from.Distance(to).Degrees() > f.MaxJumpDegrees {
		return true
	}
	return false
}

// BadMemo memoizes IsBad for one pass over a snapshot so the pickup and dropoff
// passes share a single evaluation per record.
type BadMemo struct {
	filter BadRecordFilter
	cols   *Columns
	state  []uint8

	// Evaluations counts calls that reached the filter.
	Evaluations int
}

const (
	memoUnknown uint8 = iota
	memoGood
	memoBad
)

// NewMemo starts a pass over n records.
func (f BadRecordFilter) NewMemo(n int, c *Columns) *BadMemo {
	return &BadMemo{filter: f, cols: c, state: make([]uint8, n)}
}

// IsBad evaluates record i at most once per memo.
func (m *BadMemo) IsBad(i int, rec Record) bool {
	switch m.state[i] {
	case memoGood:
		return false
	case memoBad:
		return true
	}
	m.Evaluations++
	if m.filter.IsBad(rec, m.cols) {
		m.state[i] = memoBad
		return true
	}
	m.state[i] = memoGood
	return false
}

type badKey struct {
	filter BadRecordFilter
	cols   Columns
}

// BadRecords returns per-record bad flags, cached on the snapshot. The slice is
// shared and must not be modified.
func (s *Snapshot) BadRecords(f BadRecordFilter, c *Columns) []bool {
	if c == nil {
		return nil
	}
	key := badKey{filter: f, cols: *c}

	s.mu.Lock()
	defer s.mu.Unlock()
	if flags, ok := s.bad[key]; ok {
		return flags
	}
	flags := make([]bool, len(s.Data))
	for i, rec := range s.Data {
		flags[i] = f.IsBad(rec, c)
	}
	if s.bad == nil {
		s.bad = make(map[badKey][]bool)
	}
	s.bad[key] = flags
	return flags
}
