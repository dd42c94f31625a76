// Package utils provides download and cache helpers for remote data sources.
package utils

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/sudorandom/geoanim/pkg/monitoring"
)

var ErrNotFound = errors.New("file not found on server")

type progressWriter struct {
	io.Writer
	total uint64
	last  uint64
	label string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.total += uint64(n)
	if pw.total-pw.last > 5*1024*1024 { // Log every 5MB
		monitoring.Logf("%s: Downloaded %d MB", pw.label, pw.total/1024/1024)
		pw.last = pw.total
	}
	return n, err
}

// Fetcher opens remote files, optionally keeping a copy in CacheDir.
type Fetcher struct {
	// CacheDir enables the on-disk cache when non-empty.
	CacheDir string
	Client   *http.Client
}

func (f *Fetcher) client() *http.Client {
	if f == nil || f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if err := resp.Body.Close(); err != nil {
			monitoring.Logf("Error closing response body: %v", err)
		}
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}
	return resp, nil
}

// DownloadFile downloads a file from a URL to a local path safely.
func (f *Fetcher) DownloadFile(ctx context.Context, rawURL, dst string) error {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			monitoring.Logf("Error closing response body: %v", err)
		}
	}()

	// Create a temp file in the same directory to ensure atomic move
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			monitoring.Logf("Error removing temp file %s: %v", tmpName, err)
		}
	}()

	pw := &progressWriter{Writer: tmpFile, label: filepath.Base(dst)}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// CacheFileName returns the local filename used for a URL. The query string is
// hashed into the name so different queries against one endpoint do not collide.
func CacheFileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		sum := sha1.Sum([]byte(rawURL))
		return hex.EncodeToString(sum[:8])
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		name = u.Host
	}
	if u.RawQuery != "" {
		sum := sha1.Sum([]byte(u.RawQuery))
		name = hex.EncodeToString(sum[:4]) + "_" + name
	}
	return name
}

// Cached reports the cache path for a URL and whether it already exists.
func (f *Fetcher) Cached(rawURL string) (string, bool) {
	if f == nil || f.CacheDir == "" {
		return "", false
	}
	p := filepath.Join(f.CacheDir, CacheFileName(rawURL))
	_, err := os.Stat(p)
	return p, err == nil
}

// Open returns a reader for the given URL, going through the cache when CacheDir is set.
func (f *Fetcher) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if f != nil && f.CacheDir != "" {
		if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		localPath, ok := f.Cached(rawURL)
		if !ok {
			monitoring.Logf("[fetch] Downloading %s", rawURL)
			if err := f.DownloadFile(ctx, rawURL, localPath); err != nil {
				return nil, err
			}
		} else {
			monitoring.Logf("[fetch] Using cached file: %s", localPath)
		}
		file, err := os.Open(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		return file, nil
	}

	monitoring.Logf("[fetch] Streaming from %s", rawURL)
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
