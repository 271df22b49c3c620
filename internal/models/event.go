package models

import (
	"maps"
	"slices"
	"time"
)

// Params holds the parameters of a single iCalendar property (e.g. CN, ROLE, TZID).
type Params map[string][]string

// Property is a raw iCalendar property value together with its parameters.
// Multi-valued event attributes (attendees, attachments, ...) are kept in this
// form so that nothing is lost when a record is written back to the destination.
type Property struct {
	Value  string
	Params Params
}

// Equal reports whether both properties carry the same value and parameters.
func (p Property) Equal(o Property) bool {
	if p.Value != o.Value || len(p.Params) != len(o.Params) {
		return false
	}
	return maps.EqualFunc(p.Params, o.Params, slices.Equal[[]string])
}

// IsZero reports whether the property is absent.
func (p Property) IsZero() bool {
	return p.Value == "" && len(p.Params) == 0
}

// Clone returns a deep copy of p.
func (p Property) Clone() Property {
	if p.Params == nil {
		return Property{Value: p.Value}
	}
	params := make(Params, len(p.Params))
	for k, v := range p.Params {
		params[k] = slices.Clone(v)
	}
	return Property{Value: p.Value, Params: params}
}

// Geo is a geographic position (GEO property).
type Geo struct {
	Latitude  float64
	Longitude float64
}

// Event represents a calendar event.
// This is an internal representation, shared by every source and the destination.
type Event struct {
	UID string // Stable identifier, the join key between source and destination

	// Container metadata, never compared and never overwritten by an update.
	Parent string                // Path of the owning calendar collection
	Href   string                // Path of the calendar object in the destination
	ETag   string                // Object version reported by the destination
	Extra  map[string][]Property // Unrecognised properties, passed through untouched

	Summary      string
	Description  string
	Location     string
	URL          string
	Status       string
	Class        string
	Priority     int
	Sequence     int
	Transparency string
	Organizer    Property
	Group        string
	Geo          *Geo
	Column       int
	Line         int

	Start        *time.Time
	End          *time.Time
	Duration     *time.Duration
	Created      *time.Time
	LastModified *time.Time
	RecurrenceID *time.Time
	Stamp        *time.Time

	AllDay bool

	Attachments       []Property
	Attendees         []Property
	Categories        []Property
	Comments          []Property
	Contacts          []Property
	ExceptionDates    []time.Time
	ExceptionRules    []string
	RecurrenceDates   []time.Time
	RecurrenceRules   []string
	RelatedComponents []Property
	RequestStatuses   []Property
	Resources         []Property
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Organizer = e.Organizer.Clone()
	if e.Geo != nil {
		g := *e.Geo
		c.Geo = &g
	}
	c.Start = cloneTime(e.Start)
	c.End = cloneTime(e.End)
	c.Created = cloneTime(e.Created)
	c.LastModified = cloneTime(e.LastModified)
	c.RecurrenceID = cloneTime(e.RecurrenceID)
	c.Stamp = cloneTime(e.Stamp)
	if e.Duration != nil {
		d := *e.Duration
		c.Duration = &d
	}

	c.Attachments = CloneProperties(e.Attachments)
	c.Attendees = CloneProperties(e.Attendees)
	c.Categories = CloneProperties(e.Categories)
	c.Comments = CloneProperties(e.Comments)
	c.Contacts = CloneProperties(e.Contacts)
	c.RelatedComponents = CloneProperties(e.RelatedComponents)
	c.RequestStatuses = CloneProperties(e.RequestStatuses)
	c.Resources = CloneProperties(e.Resources)
	c.ExceptionDates = slices.Clone(e.ExceptionDates)
	c.RecurrenceDates = slices.Clone(e.RecurrenceDates)
	c.ExceptionRules = slices.Clone(e.ExceptionRules)
	c.RecurrenceRules = slices.Clone(e.RecurrenceRules)

	if e.Extra != nil {
		c.Extra = make(map[string][]Property, len(e.Extra))
		for k, v := range e.Extra {
			c.Extra[k] = CloneProperties(v)
		}
	}
	return &c
}

// CloneProperties deep-copies a property list, keeping nil as nil.
func CloneProperties(props []Property) []Property {
	if props == nil {
		return nil
	}
	out := make([]Property, len(props))
	for i, p := range props {
		out[i] = p.Clone()
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
