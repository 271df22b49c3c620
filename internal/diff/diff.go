// Package diff compares two event records field by field.
package diff

import (
	"slices"
	"time"

	"icssync/internal/models"
)

// field is one comparable attribute of an event.
// apply copies the attribute from src into dst.
type field struct {
	name  string
	equal func(src, dst *models.Event) bool
	apply func(src, dst *models.Event)
}

// fields lists every compared attribute. UID, Parent, Href, ETag and Extra are
// container metadata and must never appear here.
var fields = []field{
	value("summary", func(e *models.Event) *string { return &e.Summary }),
	value("description", func(e *models.Event) *string { return &e.Description }),
	value("location", func(e *models.Event) *string { return &e.Location }),
	value("url", func(e *models.Event) *string { return &e.URL }),
	value("status", func(e *models.Event) *string { return &e.Status }),
	value("class", func(e *models.Event) *string { return &e.Class }),
	value("priority", func(e *models.Event) *int { return &e.Priority }),
	value("sequence", func(e *models.Event) *int { return &e.Sequence }),
	value("transparency", func(e *models.Event) *string { return &e.Transparency }),
	property("organizer", func(e *models.Event) *models.Property { return &e.Organizer }),
	value("group", func(e *models.Event) *string { return &e.Group }),
	optional("geo", func(e *models.Event) **models.Geo { return &e.Geo }),
	value("column", func(e *models.Event) *int { return &e.Column }),
	value("line", func(e *models.Event) *int { return &e.Line }),

	instant("start", func(e *models.Event) **time.Time { return &e.Start }),
	instant("end", func(e *models.Event) **time.Time { return &e.End }),
	optional("duration", func(e *models.Event) **time.Duration { return &e.Duration }),
	instant("created", func(e *models.Event) **time.Time { return &e.Created }),
	instant("last-modified", func(e *models.Event) **time.Time { return &e.LastModified }),
	instant("recurrence-id", func(e *models.Event) **time.Time { return &e.RecurrenceID }),
	stamp(func(e *models.Event) **time.Time { return &e.Stamp }),

	value("all-day", func(e *models.Event) *bool { return &e.AllDay }),

	properties("attachments", func(e *models.Event) *[]models.Property { return &e.Attachments }),
	properties("attendees", func(e *models.Event) *[]models.Property { return &e.Attendees }),
	properties("categories", func(e *models.Event) *[]models.Property { return &e.Categories }),
	properties("comments", func(e *models.Event) *[]models.Property { return &e.Comments }),
	properties("contacts", func(e *models.Event) *[]models.Property { return &e.Contacts }),
	instants("exception-dates", func(e *models.Event) *[]time.Time { return &e.ExceptionDates }),
	sequence("exception-rules", func(e *models.Event) *[]string { return &e.ExceptionRules }),
	instants("recurrence-dates", func(e *models.Event) *[]time.Time { return &e.RecurrenceDates }),
	sequence("recurrence-rules", func(e *models.Event) *[]string { return &e.RecurrenceRules }),
	properties("related-components", func(e *models.Event) *[]models.Property { return &e.RelatedComponents }),
	properties("request-statuses", func(e *models.Event) *[]models.Property { return &e.RequestStatuses }),
	properties("resources", func(e *models.Event) *[]models.Property { return &e.Resources }),
}

// Fields returns the names of all compared fields, in comparison order.
func Fields() []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}
	return names
}

// Diff compares src against dst. It returns the names of the fields that
// differ and the destination record with the source values applied.
//
// When nothing differs the returned record is dst itself. Otherwise it is a
// deep copy of dst; dst is never modified.
func Diff(src, dst *models.Event) ([]string, *models.Event) {
	var (
		changed []string
		merged  *models.Event
	)
	for _, f := range fields {
		if f.equal(src, dst) {
			continue
		}
		if merged == nil {
			merged = dst.Clone()
		}
		f.apply(src, merged)
		changed = append(changed, f.name)
	}
	if merged == nil {
		return nil, dst
	}
	return changed, merged
}

func value[T comparable](name string, get func(*models.Event) *T) field {
	return field{
		name:  name,
		equal: func(src, dst *models.Event) bool { return *get(src) == *get(dst) },
		apply: func(src, dst *models.Event) { *get(dst) = *get(src) },
	}
}

// optional compares pointed-to values; nil only equals nil.
func optional[T comparable](name string, get func(*models.Event) **T) field {
	return field{
		name: name,
		equal: func(src, dst *models.Event) bool {
			a, b := *get(src), *get(dst)
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return *a == *b
		},
		apply: func(src, dst *models.Event) {
			v := *get(src)
			if v == nil {
				*get(dst) = nil
				return
			}
			c := *v
			*get(dst) = &c
		},
	}
}

// instant compares optional timestamps by the instant they denote.
func instant(name string, get func(*models.Event) **time.Time) field {
	return field{
		name: name,
		equal: func(src, dst *models.Event) bool {
			a, b := *get(src), *get(dst)
			if a == nil || b == nil {
				return a == nil && b == nil
			}
			return a.Equal(*b)
		},
		apply: func(src, dst *models.Event) {
			v := *get(src)
			if v == nil {
				*get(dst) = nil
				return
			}
			c := *v
			*get(dst) = &c
		},
	}
}

// stamp compares DTSTAMP like instant, except that a source without one
// keeps the destination value. Destinations stamp every stored object, so a
// stampless source would otherwise differ on every cycle.
func stamp(get func(*models.Event) **time.Time) field {
	f := instant("stamp", get)
	equal := f.equal
	f.equal = func(src, dst *models.Event) bool {
		return *get(src) == nil || equal(src, dst)
	}
	return f
}

func property(name string, get func(*models.Event) *models.Property) field {
	return field{
		name:  name,
		equal: func(src, dst *models.Event) bool { return get(src).Equal(*get(dst)) },
		apply: func(src, dst *models.Event) { *get(dst) = get(src).Clone() },
	}
}

// Collections are compared as ordered sequences: a reordering is a change.

func properties(name string, get func(*models.Event) *[]models.Property) field {
	return field{
		name: name,
		equal: func(src, dst *models.Event) bool {
			return slices.EqualFunc(*get(src), *get(dst), models.Property.Equal)
		},
		apply: func(src, dst *models.Event) { *get(dst) = models.CloneProperties(*get(src)) },
	}
}

func instants(name string, get func(*models.Event) *[]time.Time) field {
	return field{
		name: name,
		equal: func(src, dst *models.Event) bool {
			return slices.EqualFunc(*get(src), *get(dst), time.Time.Equal)
		},
		apply: func(src, dst *models.Event) { *get(dst) = slices.Clone(*get(src)) },
	}
}

func sequence(name string, get func(*models.Event) *[]string) field {
	return field{
		name:  name,
		equal: func(src, dst *models.Event) bool { return slices.Equal(*get(src), *get(dst)) },
		apply: func(src, dst *models.Event) { *get(dst) = slices.Clone(*get(src)) },
	}
}
