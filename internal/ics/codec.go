package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"icssync/internal/models"
)

// Non-standard properties used to carry provenance markers through the destination.
const (
	PropGroup  = "X-ICSSYNC-GROUP"
	PropColumn = "X-ICSSYNC-COLUMN"
	PropLine   = "X-ICSSYNC-LINE"

	propExceptionRule = "EXRULE"

	dateLayout     = "20060102"
	dateTimeLayout = "20060102T150405"
	utcLayout      = "20060102T150405Z"
)

// collections maps multi-valued properties kept as raw values onto event fields.
var collections = []struct {
	name string
	get  func(*models.Event) *[]models.Property
}{
	{ical.PropAttach, func(e *models.Event) *[]models.Property { return &e.Attachments }},
	{ical.PropAttendee, func(e *models.Event) *[]models.Property { return &e.Attendees }},
	{ical.PropCategories, func(e *models.Event) *[]models.Property { return &e.Categories }},
	{ical.PropComment, func(e *models.Event) *[]models.Property { return &e.Comments }},
	{ical.PropContact, func(e *models.Event) *[]models.Property { return &e.Contacts }},
	{ical.PropRelatedTo, func(e *models.Event) *[]models.Property { return &e.RelatedComponents }},
	{ical.PropRequestStatus, func(e *models.Event) *[]models.Property { return &e.RequestStatuses }},
	{ical.PropResources, func(e *models.Event) *[]models.Property { return &e.Resources }},
}

// known lists every property EventFromComponent maps onto a field.
// Anything else ends up in Event.Extra.
var known = map[string]bool{
	ical.PropUID: true, ical.PropSummary: true, ical.PropDescription: true, ical.PropLocation: true,
	ical.PropURL: true, ical.PropStatus: true, ical.PropClass: true, ical.PropPriority: true,
	ical.PropSequence: true, ical.PropTransparency: true, ical.PropOrganizer: true, ical.PropGeo: true,
	ical.PropDateTimeStart: true, ical.PropDateTimeEnd: true, ical.PropDuration: true,
	ical.PropCreated: true, ical.PropLastModified: true, ical.PropRecurrenceID: true,
	ical.PropDateTimeStamp: true, ical.PropExceptionDates: true, ical.PropRecurrenceDates: true,
	ical.PropRecurrenceRule: true, propExceptionRule: true, PropGroup: true, PropColumn: true, PropLine: true,
}

func init() {
	for _, c := range collections {
		known[c.name] = true
	}
}

// EventFromComponent converts a VEVENT into an event record. Floating times
// and dates are interpreted in loc.
func EventFromComponent(comp *ical.Component, loc *time.Location) (*models.Event, error) {
	if comp.Name != ical.CompEvent {
		return nil, fmt.Errorf("component %s is not an event", comp.Name)
	}
	if loc == nil {
		loc = time.UTC
	}
	props := comp.Props
	ev := &models.Event{
		UID:          text(props, ical.PropUID),
		Summary:      text(props, ical.PropSummary),
		Description:  text(props, ical.PropDescription),
		Location:     text(props, ical.PropLocation),
		URL:          raw(props, ical.PropURL),
		Status:       strings.ToUpper(raw(props, ical.PropStatus)),
		Class:        strings.ToUpper(raw(props, ical.PropClass)),
		Transparency: strings.ToUpper(raw(props, ical.PropTransparency)),
		Group:        text(props, PropGroup),
	}

	var err error
	if ev.Priority, err = integer(props, ical.PropPriority); err != nil {
		return nil, err
	}
	if ev.Sequence, err = integer(props, ical.PropSequence); err != nil {
		return nil, err
	}
	if ev.Column, err = integer(props, PropColumn); err != nil {
		return nil, err
	}
	if ev.Line, err = integer(props, PropLine); err != nil {
		return nil, err
	}
	if p := props.Get(ical.PropOrganizer); p != nil {
		ev.Organizer = property(p)
	}
	if p := props.Get(ical.PropGeo); p != nil {
		if ev.Geo, err = parseGeo(p.Value); err != nil {
			return nil, err
		}
	}

	if p := props.Get(ical.PropDateTimeStart); p != nil {
		t, allDay, err := parseTime(p, p.Value, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid DTSTART: %w", err)
		}
		ev.Start, ev.AllDay = &t, allDay
	}
	for _, f := range []struct {
		name string
		dst  **time.Time
	}{
		{ical.PropDateTimeEnd, &ev.End},
		{ical.PropCreated, &ev.Created},
		{ical.PropLastModified, &ev.LastModified},
		{ical.PropRecurrenceID, &ev.RecurrenceID},
		{ical.PropDateTimeStamp, &ev.Stamp},
	} {
		p := props.Get(f.name)
		if p == nil {
			continue
		}
		t, _, err := parseTime(p, p.Value, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = &t
	}
	if p := props.Get(ical.PropDuration); p != nil {
		d, err := parseDuration(p.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid DURATION: %w", err)
		}
		ev.Duration = &d
	}

	if ev.ExceptionDates, err = timeList(props, ical.PropExceptionDates, loc); err != nil {
		return nil, err
	}
	if ev.RecurrenceDates, err = timeList(props, ical.PropRecurrenceDates, loc); err != nil {
		return nil, err
	}
	ev.RecurrenceRules = rawList(props, ical.PropRecurrenceRule)
	ev.ExceptionRules = rawList(props, propExceptionRule)

	for _, c := range collections {
		for _, p := range props.Values(c.name) {
			*c.get(ev) = append(*c.get(ev), property(&p))
		}
	}

	for name, values := range props {
		if known[name] {
			continue
		}
		if ev.Extra == nil {
			ev.Extra = make(map[string][]models.Property)
		}
		for _, p := range values {
			ev.Extra[name] = append(ev.Extra[name], property(&p))
		}
	}
	return ev, nil
}

// ComponentFromEvent converts an event record into a VEVENT. Date-times are
// written in UTC, all-day dates as VALUE=DATE.
func ComponentFromEvent(ev *models.Event) *ical.Component {
	comp := ical.NewComponent(ical.CompEvent)
	props := comp.Props

	props.SetText(ical.PropUID, ev.UID)
	setText(props, ical.PropSummary, ev.Summary)
	setText(props, ical.PropDescription, ev.Description)
	setText(props, ical.PropLocation, ev.Location)
	setRaw(props, ical.PropURL, ev.URL)
	setRaw(props, ical.PropStatus, ev.Status)
	setRaw(props, ical.PropClass, ev.Class)
	setRaw(props, ical.PropTransparency, ev.Transparency)
	setText(props, PropGroup, ev.Group)
	setInt(props, ical.PropPriority, ev.Priority)
	setInt(props, ical.PropSequence, ev.Sequence)
	setInt(props, PropColumn, ev.Column)
	setInt(props, PropLine, ev.Line)
	if !ev.Organizer.IsZero() {
		props.Add(toProp(ical.PropOrganizer, ev.Organizer))
	}
	if ev.Geo != nil {
		setRaw(props, ical.PropGeo, formatGeo(*ev.Geo))
	}

	setTime(props, ical.PropDateTimeStart, ev.Start, ev.AllDay)
	setTime(props, ical.PropDateTimeEnd, ev.End, ev.AllDay)
	setTime(props, ical.PropRecurrenceID, ev.RecurrenceID, ev.AllDay)
	setTime(props, ical.PropCreated, ev.Created, false)
	setTime(props, ical.PropLastModified, ev.LastModified, false)
	setTime(props, ical.PropDateTimeStamp, ev.Stamp, false)
	if ev.Duration != nil {
		setRaw(props, ical.PropDuration, formatDuration(*ev.Duration))
	}

	for _, t := range ev.ExceptionDates {
		props.Add(timeProp(ical.PropExceptionDates, t, ev.AllDay))
	}
	for _, t := range ev.RecurrenceDates {
		props.Add(timeProp(ical.PropRecurrenceDates, t, ev.AllDay))
	}
	for _, r := range ev.RecurrenceRules {
		props.Add(toProp(ical.PropRecurrenceRule, models.Property{Value: r}))
	}
	for _, r := range ev.ExceptionRules {
		props.Add(toProp(propExceptionRule, models.Property{Value: r}))
	}
	for _, c := range collections {
		for _, p := range *c.get(ev) {
			props.Add(toProp(c.name, p))
		}
	}
	for name, values := range ev.Extra {
		for _, p := range values {
			props.Add(toProp(name, p))
		}
	}
	return comp
}

func text(props ical.Props, name string) string {
	p := props.Get(name)
	if p == nil {
		return ""
	}
	s, err := p.Text()
	if err != nil {
		return p.Value
	}
	return s
}

func raw(props ical.Props, name string) string {
	if p := props.Get(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func rawList(props ical.Props, name string) []string {
	var out []string
	for _, p := range props.Values(name) {
		out = append(out, strings.TrimSpace(p.Value))
	}
	return out
}

func integer(props ical.Props, name string) (int, error) {
	p := props.Get(name)
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(p.Value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, p.Value, err)
	}
	return n, nil
}

func property(p *ical.Prop) models.Property {
	out := models.Property{Value: p.Value}
	if len(p.Params) > 0 {
		out.Params = make(models.Params, len(p.Params))
		for k, v := range p.Params {
			out.Params[k] = append([]string(nil), v...)
		}
	}
	return out
}

func toProp(name string, v models.Property) *ical.Prop {
	p := ical.NewProp(name)
	p.Value = v.Value
	p.Params = make(ical.Params, len(v.Params))
	for k, vals := range v.Params {
		p.Params[k] = append([]string(nil), vals...)
	}
	return p
}

func setText(props ical.Props, name, value string) {
	if value != "" {
		props.SetText(name, value)
	}
}

func setRaw(props ical.Props, name, value string) {
	if value != "" {
		props.Set(toProp(name, models.Property{Value: value}))
	}
}

func setInt(props ical.Props, name string, n int) {
	if n != 0 {
		setRaw(props, name, strconv.Itoa(n))
	}
}

func setTime(props ical.Props, name string, t *time.Time, date bool) {
	if t != nil {
		props.Set(timeProp(name, *t, date))
	}
}

func timeProp(name string, t time.Time, date bool) *ical.Prop {
	p := ical.NewProp(name)
	p.Params = make(ical.Params)
	if date {
		p.Params["VALUE"] = []string{"DATE"}
		p.Value = t.Format(dateLayout)
		return p
	}
	p.Value = t.UTC().Format(utcLayout)
	return p
}

// parseTime parses a DATE or DATE-TIME value, honoring TZID. It reports
// whether the value was a plain date. Dates carry no zone and are always
// midnight in loc, so every reader of the same date agrees on its instant.
func parseTime(p *ical.Prop, value string, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false, fmt.Errorf("empty time value")
	}
	if strings.EqualFold(param(p, "VALUE"), "DATE") || len(value) == len(dateLayout) {
		t, err := time.ParseInLocation(dateLayout, value, loc)
		return t, true, err
	}
	if tzid := param(p, "TZID"); tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		}
	}
	switch {
	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse(utcLayout, value)
		return t, false, err
	default:
		t, err := time.ParseInLocation(dateTimeLayout, value, loc)
		return t, false, err
	}
}

// timeList collects EXDATE/RDATE style values, which may repeat and hold
// comma separated lists. Periods contribute their start.
func timeList(props ical.Props, name string, loc *time.Location) ([]time.Time, error) {
	var out []time.Time
	for _, p := range props.Values(name) {
		for _, part := range strings.Split(p.Value, ",") {
			part, _, _ = strings.Cut(strings.TrimSpace(part), "/")
			if part == "" {
				continue
			}
			t, _, err := parseTime(&p, part, loc)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", name, err)
			}
			out = append(out, t)
		}
	}
	return out, nil
}

func param(p *ical.Prop, name string) string {
	if v := p.Params[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func parseGeo(value string) (*models.Geo, error) {
	lat, lon, ok := strings.Cut(value, ";")
	if !ok {
		return nil, fmt.Errorf("invalid GEO %q", value)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEO latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid GEO longitude: %w", err)
	}
	return &models.Geo{Latitude: la, Longitude: lo}, nil
}

func formatGeo(g models.Geo) string {
	return strconv.FormatFloat(g.Latitude, 'f', -1, 64) + ";" + strconv.FormatFloat(g.Longitude, 'f', -1, 64)
}
