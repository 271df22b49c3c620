package dest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"icssync/internal/ics"
	"icssync/internal/models"
)

const (
	productID = "-//icssync//EN"
	userAgent = "icssync/1.0"
)

// ErrCalendarNotFound is returned when no destination calendar matches an identifier.
var ErrCalendarNotFound = errors.New("calendar not found")

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.Username != "" || t.Password != "" {
		req.SetBasicAuth(t.Username, t.Password)
	}
	req.Header.Set("User-Agent", userAgent)
	return t.Transport.RoundTrip(req)
}

// Calendar describes a calendar collection on the destination server.
type Calendar struct {
	Path        string
	Name        string
	Description string
}

// CalDAVClient reads and writes events of calendars on a CalDAV server.
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	loc          *time.Location
	now          func() time.Time

	mu    sync.Mutex
	paths map[string]string // calendar identifier -> collection path
}

// NewClient creates a CalDAVClient for endpoint authenticating with basic auth.
// loc anchors all-day dates and floating times read back from the server and
// must match the location the sources are parsed in.
func NewClient(logger *slog.Logger, endpoint, username, password string, loc *time.Location) (*CalDAVClient, error) {
	if endpoint == "" {
		return nil, errors.New("destination endpoint is empty")
	}
	if loc == nil {
		loc = time.UTC
	}
	transport := &customTransport{
		Username:  username,
		Password:  password,
		Transport: http.DefaultTransport,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
		loc:          loc,
		now:          time.Now,
		paths:        make(map[string]string),
	}, nil
}

// Calendars discovers the calendars of the authenticated user.
func (c *CalDAVClient) Calendars(ctx context.Context) ([]Calendar, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar home set: %w", err)
	}

	found, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars: %w", err)
	}

	calendars := make([]Calendar, 0, len(found))
	for _, cal := range found {
		calendars = append(calendars, Calendar{Path: cal.Path, Name: cal.Name, Description: cal.Description})
	}
	return calendars, nil
}

// GetCalendarByIdentifier returns every event stored in the calendar named
// by id, which is matched against the collection path, its last segment or
// the display name. ErrCalendarNotFound is returned when nothing matches.
func (c *CalDAVClient) GetCalendarByIdentifier(ctx context.Context, id string) ([]*models.Event, error) {
	calPath, err := c.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent}},
		},
	}
	objects, err := c.caldavClient.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", id, err)
	}

	events := eventsFromObjects(c.logger, calPath, c.loc, objects)
	c.logger.Debug("Destination calendar loaded.", "calendar", id, "objects", len(objects), "events", len(events))
	return events, nil
}

// AddOrUpdateEvent writes ev into the calendar named by calendarID. Events
// read from the destination are written back to their own object, new
// events to "<uid>.ics" in the calendar collection.
func (c *CalDAVClient) AddOrUpdateEvent(ctx context.Context, calendarID string, ev *models.Event) error {
	objectPath := ev.Href
	if objectPath == "" {
		calPath := ev.Parent
		if calPath == "" {
			var err error
			if calPath, err = c.resolve(ctx, calendarID); err != nil {
				return err
			}
		}
		objectPath = newObjectPath(calPath, ev.UID)
	}

	obj, err := c.caldavClient.PutCalendarObject(ctx, objectPath, calendarFor(ev, c.now()))
	if err != nil {
		return fmt.Errorf("failed to put event %s: %w", ev.UID, err)
	}
	c.logger.Debug("Event stored.", "uid", ev.UID, "path", obj.Path, "etag", obj.ETag)
	return nil
}

// DeleteEvent removes the calendar object holding ev.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, ev *models.Event) error {
	if ev.Href == "" {
		return fmt.Errorf("event %s has no destination path", ev.UID)
	}
	if err := c.webdavClient.RemoveAll(ctx, ev.Href); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", ev.UID, err)
	}
	return nil
}

func (c *CalDAVClient) resolve(ctx context.Context, id string) (string, error) {
	c.mu.Lock()
	p, ok := c.paths[id]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	calendars, err := c.Calendars(ctx)
	if err != nil {
		return "", err
	}
	cal, ok := matchCalendar(calendars, id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrCalendarNotFound, id)
	}
	c.logger.Info("Successfully found destination calendar", "calendar", id, "path", cal.Path)

	c.mu.Lock()
	c.paths[id] = cal.Path
	c.mu.Unlock()
	return cal.Path, nil
}

// matchCalendar prefers an exact path match, then the last path segment,
// then the display name.
func matchCalendar(calendars []Calendar, id string) (Calendar, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Calendar{}, false
	}
	trimmed := strings.Trim(id, "/")
	for _, cal := range calendars {
		if strings.Trim(cal.Path, "/") == trimmed {
			return cal, true
		}
	}
	for _, cal := range calendars {
		if path.Base(strings.TrimSuffix(cal.Path, "/")) == trimmed {
			return cal, true
		}
	}
	for _, cal := range calendars {
		if cal.Name == id {
			return cal, true
		}
	}
	return Calendar{}, false
}

func newObjectPath(calPath, uid string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "?", "_", "#", "_").Replace(uid)
	return path.Join(calPath, name+".ics")
}

// calendarFor wraps ev in a calendar object. Servers reject VEVENTs without
// DTSTAMP, so now is used when the event carries none.
func calendarFor(ev *models.Event, now time.Time) *ical.Calendar {
	comp := ics.ComponentFromEvent(ev)
	if ev.Stamp == nil {
		comp.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, comp)
	return cal
}

// eventsFromObjects flattens calendar objects into event records, tagging
// each with the location it was read from.
func eventsFromObjects(logger *slog.Logger, calPath string, loc *time.Location, objects []caldav.CalendarObject) []*models.Event {
	var events []*models.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			ev, err := ics.EventFromComponent(comp, loc)
			if err != nil {
				logger.Warn("Skipping unreadable destination event", "path", obj.Path, "error", err)
				continue
			}
			ev.Parent = calPath
			ev.Href = obj.Path
			ev.ETag = obj.ETag
			events = append(events, ev)
		}
	}
	return events
}
