package sources

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sudorandom/geoanim/pkg/dataset"
)

// OpenDB connects to a postgres:// or sqlite:// database URI. For sqlite the
// remainder of the URI is the database path; "sqlite://:memory:" is accepted.
func OpenDB(ctx context.Context, uri string) (*sqlx.DB, error) {
	switch {
	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"):
		db, err := sqlx.ConnectContext(ctx, "postgres", uri)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return db, nil
	case strings.HasPrefix(uri, "sqlite://"):
		db, err := sqlx.ConnectContext(ctx, "sqlite", strings.TrimPrefix(uri, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("connect sqlite: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, uri)
}

// QueryTrips runs a query and returns its rows as a snapshot whose columns are the
// result columns. Timestamps become epoch milliseconds and numeric text becomes
// float64.
func QueryTrips(ctx context.Context, db *sqlx.DB, query string, args ...any) (*dataset.Snapshot, error) {
	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query trips columns: %w", err)
	}
	var data []dataset.Record
	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan trip row %d: %w", len(data), err)
		}
		for i, v := range vals {
			vals[i] = sqlValue(v)
		}
		data = append(data, dataset.Record(vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	return dataset.NewSnapshot(columns, data), nil
}

func sqlValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli()
	case []byte:
		s := string(t)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	}
	return v
}

// ConvertDates rewrites string values in the named columns to epoch milliseconds.
// Values that do not parse are left alone.
func ConvertDates(snap *dataset.Snapshot, columns []string) {
	for _, name := range columns {
		col, ok := snap.Column(name)
		if !ok {
			continue
		}
		for _, rec := range snap.Data {
			if col >= len(rec) {
				continue
			}
			if s, ok := rec[col].(string); ok {
				if ms, ok := ParseDate(s); ok {
					rec[col] = ms
				}
			}
		}
	}
}
