package sources

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sudorandom/geoanim/pkg/dataset"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate converts a date string to epoch milliseconds (UTC when no zone is given).
func ParseDate(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// ReadCSV reads a CSV file whose first row names the columns. Values in
// dateColumns become epoch milliseconds, other numeric values become float64, and
// everything else is kept as a string. Empty cells are nil.
func ReadCSV(r io.Reader, dateColumns []string) (*dataset.Snapshot, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("read csv: missing header row")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	isDate := make([]bool, len(header))
	for _, name := range dateColumns {
		for i, h := range header {
			if h == name {
				isDate[i] = true
			}
		}
	}

	var data []dataset.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		rec := make(dataset.Record, len(header))
		for i := 0; i < len(header) && i < len(row); i++ {
			rec[i] = parseCell(row[i], isDate[i])
		}
		data = append(data, rec)
	}
	return dataset.NewSnapshot(header, data), nil
}

func parseCell(s string, date bool) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if date {
		if ms, ok := ParseDate(s); ok {
			return ms
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
