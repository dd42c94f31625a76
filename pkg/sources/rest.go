package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sudorandom/geoanim/pkg/dataset"
	"github.com/sudorandom/geoanim/pkg/monitoring"
	"github.com/sudorandom/geoanim/pkg/utils"
)

// PageFunc observes the merged snapshot after each page. last is true for the
// final page.
type PageFunc func(snap *dataset.Snapshot, last bool)

// FetchPages requests list-format pages from a REST endpoint, advancing the offset
// until the reported count is reached, a short page arrives, or maxCount rows are
// loaded (maxCount ≤ 0 means no cap).
func FetchPages(ctx context.Context, f *utils.Fetcher, endpoint string, params url.Values, pageSize, maxCount int, onPage PageFunc) (*dataset.Snapshot, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var merged *dataset.Snapshot
	counted := false
	offset := 0
	for page := 0; ; page++ {
		limit := pageSize
		if maxCount > 0 && maxCount-offset < limit {
			limit = maxCount - offset
		}
		q := url.Values{}
		for k, v := range params {
			q[k] = append([]string(nil), v...)
		}
		q.Set("format", "list")
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))

		snap, hasCount, err := fetchPage(ctx, f, endpoint+"?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if merged == nil {
			merged = snap
		} else {
			merged.Data = append(merged.Data, snap.Data...)
			merged.DataCount += snap.DataCount
		}
		if hasCount {
			counted = true
			merged.Count = snap.Count
		}

		more := (counted && merged.DataCount < merged.Count) || (!counted && snap.DataCount == limit)
		next := more && snap.DataCount > 0 && (maxCount <= 0 || merged.DataCount < maxCount)
		if !counted {
			merged.Count = len(merged.Data)
		}
		if onPage != nil {
			onPage(merged, !next)
		}
		if !next {
			monitoring.Logf("[sources] Loaded %d of %d rows from %s in %d pages", merged.DataCount, merged.Count, endpoint, page+1)
			return merged, nil
		}
		offset += snap.DataCount
	}
}

func fetchPage(ctx context.Context, f *utils.Fetcher, rawURL string) (*dataset.Snapshot, bool, error) {
	rc, err := f.Open(ctx, rawURL)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if err := rc.Close(); err != nil {
			monitoring.Logf("Error closing response body: %v", err)
		}
	}()
	return decodeSnapshot(rc)
}
