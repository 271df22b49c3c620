package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"icssync/internal/storage/boltdb"
)

const (
	// DefaultFetchTimeout bounds a single feed download.
	DefaultFetchTimeout = 30 * time.Second

	downloadPattern = "icssync-*.ics"
	userAgent       = "icssync/1.0"
)

// FetchError is returned when a feed cannot be downloaded.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", redactURL(e.URL), e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", redactURL(e.URL), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetcherOptions configure a Fetcher.
type FetcherOptions struct {
	Timeout   time.Duration
	Dir       string        // Where downloads are written; os.TempDir() when empty
	Cache     *boltdb.Cache // Conditional GET cache; nil disables caching
	Transport http.RoundTripper
}

// Fetcher downloads calendar feeds into temporary files, honoring
// ETag / Last-Modified when a cache is configured.
type Fetcher struct {
	client *http.Client
	cache  *boltdb.Cache
	dir    string
	logger *slog.Logger
}

// NewFetcher creates a new Fetcher.
func NewFetcher(logger *slog.Logger, opts FetcherOptions) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	dir := opts.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout, Transport: transport},
		cache:  opts.Cache,
		dir:    dir,
		logger: logger,
	}
}

// Download fetches the feed at rawURL and writes it to a new temporary file.
// The caller owns the returned file and must remove it.
func (f *Fetcher) Download(ctx context.Context, rawURL string) (string, error) {
	body, err := f.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(f.dir, downloadPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write download file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close download file: %w", err)
	}

	f.logger.Debug("Feed downloaded.", "url", redactURL(rawURL), "file", tmp.Name(), "bytes", len(body))
	return tmp.Name(), nil
}

// CleanStale removes downloads left behind by earlier cycles and returns how
// many files were deleted.
func (f *Fetcher) CleanStale() int {
	matches, err := filepath.Glob(filepath.Join(f.dir, downloadPattern))
	if err != nil {
		f.logger.Error("Could not list stale downloads", "dir", f.dir, "error", err)
		return 0
	}
	removed := 0
	for _, m := range matches {
		f.logger.Info("Deleting stale download.", "file", filepath.Base(m))
		if err := os.Remove(m); err != nil {
			f.logger.Error("File couldn't be deleted", "file", m, "error", err)
			continue
		}
		removed++
	}
	return removed
}

func (f *Fetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, &FetchError{Err: errors.New("source URL is empty")}
	}

	var (
		entry  boltdb.Entry
		cached []byte
		hit    bool
	)
	if f.cache != nil {
		var err error
		entry, cached, hit, err = f.cache.Load(rawURL)
		if err != nil {
			f.logger.Warn("Feed cache unavailable", "url", redactURL(rawURL), "error", err)
			hit = false
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if hit {
		if entry.ETag != "" {
			req.Header.Set("If-None-Match", entry.ETag)
		}
		if entry.LastModified != "" {
			req.Header.Set("If-Modified-Since", entry.LastModified)
		}
	}

	f.logger.Info("Loading data from source calendar.", "url", redactURL(rawURL))
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
		if f.cache != nil {
			fresh := boltdb.Entry{
				URL:          rawURL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
				UpdatedAt:    time.Now().UTC(),
			}
			if err := f.cache.Save(fresh, body); err != nil {
				f.logger.Error("Feed cache save failed", "url", redactURL(rawURL), "error", err)
			}
		}
		return body, nil

	case http.StatusNotModified:
		if !hit || len(cached) == 0 {
			return nil, &FetchError{URL: rawURL, Err: errors.New("received 304 Not Modified but no cached body available")}
		}
		f.logger.Info("Feed not modified, using cached body.", "url", redactURL(rawURL))
		return cached, nil

	default:
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}
}

// redactURL hides paths and query strings, which often carry private tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
