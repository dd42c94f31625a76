package sources

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/utils"
)

// Options tune Open.
type Options struct {
	// Query is the SQL run against database sources.
	Query string
	Args  []any
	// Params are extra query parameters for REST endpoints.
	Params url.Values
	// Limit caps the number of records; 0 means no cap.
	Limit    int
	PageSize int
	Fetcher  *utils.Fetcher
	// DateColumns are converted from date strings to epoch milliseconds.
	DateColumns []string
	OnPage      PageFunc
}

// Open loads a snapshot from uri. Supported forms are http(s) URLs (a .csv or
// .json file, or a paged REST endpoint), postgres:// and sqlite:// databases, and
// local .csv or .json paths.
func Open(ctx context.Context, uri string, opts Options) (*dataset.Snapshot, error) {
	snap, err := open(ctx, uri, opts)
	if err != nil {
		return nil, err
	}
	ConvertDates(snap, opts.DateColumns)
	if opts.Limit > 0 && len(snap.Data) > opts.Limit {
		snap.Data = snap.Data[:opts.Limit]
		snap.DataCount = opts.Limit
	}
	monitoring.Logf("[sources] Opened %s: %d records", redact(uri), snap.Len())
	return snap, nil
}

func open(ctx context.Context, uri string, opts Options) (*dataset.Snapshot, error) {
	switch {
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, fmt.Errorf("parse source url: %w", err)
		}
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".csv", ".json":
			rc, err := opts.Fetcher.Open(ctx, uri)
			if err != nil {
				return nil, err
			}
			defer func() { _ = rc.Close() }()
			return decodeFile(rc, u.Path, opts.DateColumns)
		}
		params := u.Query()
		for k, v := range opts.Params {
			params[k] = v
		}
		u.RawQuery = ""
		return FetchPages(ctx, opts.Fetcher, u.String(), params, opts.PageSize, opts.Limit, opts.OnPage)

	case strings.HasPrefix(uri, "postgres://"), strings.HasPrefix(uri, "postgresql://"), strings.HasPrefix(uri, "sqlite://"):
		if opts.Query == "" {
			return nil, fmt.Errorf("source %s: a query is required", redact(uri))
		}
		db, err := OpenDB(ctx, uri)
		if err != nil {
			return nil, err
		}
		defer func() { _ = db.Close() }()
		return QueryTrips(ctx, db, opts.Query, opts.Args...)
	}

	p := strings.TrimPrefix(uri, "file://")
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv", ".json":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, uri)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = f.Close() }()
	return decodeFile(f, p, opts.DateColumns)
}

func decodeFile(r io.Reader, name string, dateColumns []string) (*dataset.Snapshot, error) {
	if strings.EqualFold(path.Ext(name), ".csv") {
		return ReadCSV(r, dateColumns)
	}
	return DecodeSnapshot(r)
}

// redact drops credentials from database URIs before logging.
func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	u.User = url.User(u.User.Username())
	return u.String()
}
