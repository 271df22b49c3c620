// Package placeholder removes confirmed bookings that a provisional
// ("placeholder") entry supersedes.
package placeholder

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"icssync/internal/models"
)

const (
	// DefaultMarker prefixes the summary of a placeholder event.
	DefaultMarker = "*"
	// DefaultTolerance is how far apart, exclusive, a placeholder and its
	// confirmed counterpart may start.
	DefaultTolerance = 4 * 24 * time.Hour
)

// Matcher finds placeholder events and their confirmed counterparts.
type Matcher struct {
	logger    *slog.Logger
	marker    string
	tolerance time.Duration
}

// NewMatcher creates a Matcher. Empty marker and non-positive tolerance fall
// back to the defaults.
func NewMatcher(logger *slog.Logger, marker string, tolerance time.Duration) *Matcher {
	if marker == "" {
		marker = DefaultMarker
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Matcher{logger: logger, marker: marker, tolerance: tolerance}
}

// FindPlaceholderDeletions scans the destination events for placeholders, i.e.
// events whose summary starts with the marker. A placeholder with exactly one
// confirmed counterpart (same summary without the marker) starting less than
// the tolerance away yields a Delete of that confirmed event.
//
// The confirmed entry is the one deleted, not the placeholder.
//
// Placeholders with several counterparts yield an ambiguous Skip and no deletion.
func (m *Matcher) FindPlaceholderDeletions(events []*models.Event) []models.Operation {
	bySummary := make(map[string][]*models.Event, len(events))
	for _, ev := range events {
		bySummary[ev.Summary] = append(bySummary[ev.Summary], ev)
	}

	var ops []models.Operation
	deleted := make(map[*models.Event]bool)
	for _, p := range events {
		if !strings.HasPrefix(p.Summary, m.marker) {
			continue
		}
		title := strings.TrimPrefix(p.Summary, m.marker)
		candidates := bySummary[title]

		switch {
		case len(candidates) == 0:
			continue
		case len(candidates) > 1:
			m.logger.Warn("Found several confirmed entries for placeholder, skipping.",
				"count", len(candidates), "summary", p.Summary, "uid", p.UID)
			ops = append(ops, models.Ambiguous(p, fmt.Sprintf("ambiguous: %d confirmed counterparts", len(candidates))))
			continue
		}

		c := candidates[0]
		if p.Start == nil || c.Start == nil {
			m.logger.Debug("Placeholder or counterpart has no start time, skipping.", "summary", p.Summary, "uid", p.UID)
			continue
		}
		if !m.withinTolerance(*p.Start, *c.Start) {
			continue
		}
		if deleted[c] {
			continue
		}
		deleted[c] = true
		m.logger.Debug("Confirmed entry superseded by placeholder.",
			"summary", c.Summary, "uid", c.UID, "placeholderUID", p.UID)
		ops = append(ops, models.Delete(c))
	}
	return ops
}

// withinTolerance reports whether |a-b| is strictly below the tolerance.
func (m *Matcher) withinTolerance(a, b time.Time) bool {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return d < m.tolerance
}
