package dataset

import "time"

// monthAlignSpan is the data span beyond which derived cycle ranges snap to
// calendar months.
const monthAlignSpan = 60 * 24 * time.Hour

// CycleDateRange derives the date range of a "none" cycle from the data in a
// column. Spans longer than two months are widened to whole UTC months.
func (s *Snapshot) CycleDateRange(col int) (start, end int64, ok bool) {
	start, end, ok = s.DateRange(col)
	if !ok {
		return 0, 0, false
	}
	if time.Duration(end-start)*time.Millisecond > monthAlignSpan {
		st := time.UnixMilli(start).UTC()
		en := time.UnixMilli(end - 1).UTC()
		start = time.Date(st.Year(), st.Month(), 1, 0, 0, 0, 0, time.UTC).UnixMilli()
		end = time.Date(en.Year(), en.Month()+1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	}
	return start, end, true
}
