package ics

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"icssync/internal/models"
)

// Feed is a source calendar published as an iCalendar file over HTTP.
type Feed struct {
	name    string
	url     string
	fetcher *Fetcher
	opts    ParseOptions
	logger  *slog.Logger
}

// NewFeed creates a feed source. opts.Namespace defaults to the feed URL.
func NewFeed(logger *slog.Logger, fetcher *Fetcher, name, url string, opts ParseOptions) *Feed {
	if opts.Namespace == "" {
		opts.Namespace = url
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &Feed{name: name, url: url, fetcher: fetcher, opts: opts, logger: logger}
}

// Name returns the configured name of the feed.
func (f *Feed) Name() string { return f.name }

// Load downloads and parses the feed. release deletes the downloaded file and
// must be called once the events are no longer needed.
func (f *Feed) Load(ctx context.Context) ([]*models.Event, func(), error) {
	path, err := f.fetcher.Download(ctx, f.url)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			f.logger.Error("File couldn't be deleted", "file", path, "error", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to open download: %w", err)
	}
	defer file.Close()

	events, err := Parse(file, f.opts)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to parse feed %s: %w", f.name, err)
	}
	return events, release, nil
}
