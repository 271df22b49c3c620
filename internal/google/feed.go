package google

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"icssync/internal/models"
)

// DefaultWindowDays is how far ahead events are listed when no window is configured.
const DefaultWindowDays = 30

const googleDate = "2006-01-02"

// Feed is a source calendar read through the Google Calendar API. Recurring
// events are expanded into single instances.
type Feed struct {
	client     *CalendarClient
	name       string
	calendarID string
	group      string
	days       int
	loc        *time.Location
	now        func() time.Time
}

// NewFeed creates a Google calendar source listing days ahead of now.
func NewFeed(client *CalendarClient, name, calendarID, group string, days int, loc *time.Location) *Feed {
	if days <= 0 {
		days = DefaultWindowDays
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Feed{client: client, name: name, calendarID: calendarID, group: group, days: days, loc: loc, now: time.Now}
}

// Name returns the configured name of the feed.
func (f *Feed) Name() string { return f.name }

// Load fetches upcoming events. Nothing is kept locally so release is a no-op.
func (f *Feed) Load(ctx context.Context) ([]*models.Event, func(), error) {
	logger := f.client.logger
	logger.Debug("Fetching upcoming events", "calendarID", f.calendarID, "days", f.days)

	now := f.now().UTC()
	call := f.client.service.Events.List(f.calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.AddDate(0, 0, f.days).Format(time.RFC3339)).
		OrderBy("startTime")

	var events []*models.Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			ev, err := toEvent(item, f.loc)
			if err != nil {
				logger.Warn("Skipping Google event", "title", item.Summary, "id", item.Id, "error", err)
				continue
			}
			if ev.Group == "" {
				ev.Group = f.group
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to retrieve events: %w", err)
	}

	logger.Info("Successfully fetched events from Google Calendar", "count", len(events), "calendarID", f.calendarID)
	return events, func() {}, nil
}

// toEvent converts a Google Calendar event to an event record.
func toEvent(item *calendar.Event, loc *time.Location) (*models.Event, error) {
	ev := &models.Event{
		UID:          item.ICalUID,
		Summary:      item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		URL:          item.HtmlLink,
		Status:       strings.ToUpper(item.Status),
		Class:        visibilityClass(item.Visibility),
		Transparency: strings.ToUpper(item.Transparency),
		Sequence:     int(item.Sequence),
	}
	// Instances of a recurring event share the series UID.
	if item.RecurringEventId != "" || ev.UID == "" {
		ev.UID = item.Id + "@google.com"
	}

	if item.Organizer != nil && item.Organizer.Email != "" {
		ev.Organizer = person(item.Organizer.Email, item.Organizer.DisplayName, "")
	}

	var err error
	if ev.Start, ev.AllDay, err = eventTime(item.Start, loc); err != nil {
		return nil, fmt.Errorf("invalid start: %w", err)
	}
	if ev.End, _, err = eventTime(item.End, loc); err != nil {
		return nil, fmt.Errorf("invalid end: %w", err)
	}
	if ev.RecurrenceID, _, err = eventTime(item.OriginalStartTime, loc); err != nil {
		return nil, fmt.Errorf("invalid original start: %w", err)
	}
	if ev.Created, err = timestamp(item.Created); err != nil {
		return nil, fmt.Errorf("invalid created: %w", err)
	}
	if ev.LastModified, err = timestamp(item.Updated); err != nil {
		return nil, fmt.Errorf("invalid updated: %w", err)
	}
	// The API has no DTSTAMP; the last change is the closest stable value.
	if ev.LastModified != nil {
		stamp := *ev.LastModified
		ev.Stamp = &stamp
	}

	for _, a := range item.Attendees {
		if a.Email == "" {
			continue
		}
		ev.Attendees = append(ev.Attendees, person(a.Email, a.DisplayName, partStat(a.ResponseStatus)))
	}
	for _, a := range item.Attachments {
		if a.FileUrl == "" {
			continue
		}
		p := models.Property{Value: a.FileUrl}
		if a.MimeType != "" {
			p.Params = models.Params{"FMTTYPE": {a.MimeType}}
		}
		ev.Attachments = append(ev.Attachments, p)
	}
	return ev, nil
}

func person(email, name, status string) models.Property {
	p := models.Property{Value: "mailto:" + email}
	if name != "" || status != "" {
		p.Params = models.Params{}
	}
	if name != "" {
		p.Params["CN"] = []string{name}
	}
	if status != "" {
		p.Params["PARTSTAT"] = []string{status}
	}
	return p
}

func partStat(status string) string {
	switch status {
	case "needsAction":
		return "NEEDS-ACTION"
	case "declined", "tentative", "accepted":
		return strings.ToUpper(status)
	}
	return ""
}

func visibilityClass(v string) string {
	switch v {
	case "public", "private", "confidential":
		return strings.ToUpper(v)
	}
	return ""
}

// eventTime parses a Google date or date-time. Dates are interpreted in the
// event's own time zone when given, otherwise in loc.
func eventTime(t *calendar.EventDateTime, loc *time.Location) (*time.Time, bool, error) {
	if t == nil {
		return nil, false, nil
	}
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return nil, false, err
		}
		return &v, false, nil
	}
	if t.Date == "" {
		return nil, false, nil
	}
	// All-day dates are anchored in loc like every other date value, the
	// event's own zone would shift them against the destination copy.
	v, err := time.ParseInLocation(googleDate, t.Date, loc)
	if err != nil {
		return nil, false, err
	}
	return &v, true, nil
}

func timestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
