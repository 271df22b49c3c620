package ics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"icssync/internal/models"
)

// ParseOptions control how a feed is turned into event records.
type ParseOptions struct {
	// Location is used for floating date-times and all-day dates.
	Location *time.Location
	// Group is assigned to events that do not carry a group of their own.
	Group string
	// Namespace seeds the UIDs derived for events that have none,
	// typically the feed URL.
	Namespace string
	Logger    *slog.Logger
}

// Decode reads every VCALENDAR in r.
func Decode(r io.Reader) ([]*ical.Calendar, error) {
	dec := ical.NewDecoder(r)
	var cals []*ical.Calendar
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode calendar: %w", err)
		}
		cals = append(cals, cal)
	}
	if len(cals) == 0 {
		return nil, errors.New("feed contains no calendar")
	}
	return cals, nil
}

// Parse decodes a feed and returns its events. Components other than VEVENT
// are skipped; events that cannot be converted are logged and skipped.
func Parse(r io.Reader, opts ParseOptions) ([]*models.Event, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cals, err := Decode(r)
	if err != nil {
		return nil, err
	}

	var events []*models.Event
	for _, cal := range cals {
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := EventFromComponent(comp, opts.Location)
			if err != nil {
				logger.Error("Skipping unparsable event", "error", err)
				continue
			}
			if ev.UID == "" {
				ev.UID = StableUID(opts.Namespace, ev)
				logger.Warn("Event has no UID, derived one.", "title", ev.Summary, "uid", ev.UID)
			}
			if ev.Group == "" {
				ev.Group = opts.Group
			}
			for _, rule := range ev.RecurrenceRules {
				if _, err := rrule.StrToROption(rule); err != nil {
					logger.Warn("Event has an invalid recurrence rule.", "title", ev.Summary, "uid", ev.UID, "rule", rule, "error", err)
				}
			}
			events = append(events, ev)
		}
	}
	logger.Debug("Feed parsed.", "calendars", len(cals), "events", len(events))
	return events, nil
}

// StableUID derives a UID from the event's namespace, title and start, so an
// event without UID maps to the same identifier on every cycle.
func StableUID(namespace string, ev *models.Event) string {
	start := ""
	if ev.Start != nil {
		start = ev.Start.UTC().Format(time.RFC3339)
	}
	key := namespace + "\n" + ev.Summary + "\n" + start
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}
