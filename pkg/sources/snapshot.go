// Package sources loads record snapshots from the places trip and post data lives:
// REST endpoints, CSV or JSON files and SQL databases.
package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sudorandom/geoanim/pkg/dataset"
)

// ErrUnsupportedSource is returned by Open for URIs no loader understands.
var ErrUnsupportedSource = errors.New("unsupported source")

type snapshotJSON struct {
	Columns   map[string]int    `json:"columns"`
	Fields    []string          `json:"fields"`
	Format    string            `json:"format"`
	Data      []json.RawMessage `json:"data"`
	Count     *int              `json:"count"`
	DataCount *int              `json:"datacount"`
}

// DecodeSnapshot reads a snapshot response. Rows may be arrays (list format, with
// a columns map or a fields list) or objects (dict format, where each row's unseen
// keys are appended to the columns in sorted order).
func DecodeSnapshot(r io.Reader) (*dataset.Snapshot, error) {
	snap, _, err := decodeSnapshot(r)
	return snap, err
}

// decodeSnapshot also reports whether the response carried a total count.
func decodeSnapshot(r io.Reader) (*dataset.Snapshot, bool, error) {
	var raw snapshotJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("decode snapshot: %w", err)
	}

	columns := raw.Columns
	if columns == nil && len(raw.Fields) > 0 {
		columns = make(map[string]int, len(raw.Fields))
		for i, f := range raw.Fields {
			columns[f] = i
		}
	}

	data := make([]dataset.Record, 0, len(raw.Data))
	for i, msg := range raw.Data {
		rec, err := decodeRow(msg, &columns)
		if err != nil {
			return nil, false, fmt.Errorf("decode snapshot row %d: %w", i, err)
		}
		data = append(data, rec)
	}

	snap := &dataset.Snapshot{Columns: columns, Data: data, Count: len(data), DataCount: len(data)}
	if raw.Count != nil {
		snap.Count = *raw.Count
	}
	if raw.DataCount != nil {
		snap.DataCount = *raw.DataCount
	}
	return snap, raw.Count != nil, nil
}

func decodeRow(msg json.RawMessage, columns *map[string]int) (dataset.Record, error) {
	var list []any
	if err := json.Unmarshal(msg, &list); err == nil {
		return dataset.Record(list), nil
	}
	var obj map[string]any
	if err := json.Unmarshal(msg, &obj); err != nil {
		return nil, errors.New("row is neither an array nor an object")
	}
	if *columns == nil {
		*columns = make(map[string]int)
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if _, ok := (*columns)[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		(*columns)[k] = len(*columns)
	}
	rec := make(dataset.Record, len(*columns))
	for k, v := range obj {
		rec[(*columns)[k]] = v
	}
	return rec, nil
}
