package diff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icssync/internal/models"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func fullEvent() *models.Event {
	dur := 90 * time.Minute
	return &models.Event{
		UID:          "A",
		Parent:       "/calendars/home/work/",
		Href:         "/calendars/home/work/A.ics",
		ETag:         `"1"`,
		Summary:      "Meeting",
		Description:  "Weekly sync",
		Location:     "Room 5",
		URL:          "https://example.com/meeting",
		Status:       "CONFIRMED",
		Class:        "PUBLIC",
		Priority:     5,
		Sequence:     2,
		Transparency: "OPAQUE",
		Organizer:    models.Property{Value: "mailto:boss@example.com", Params: models.Params{"CN": {"Boss"}}},
		Group:        "work",
		Geo:          &models.Geo{Latitude: 48.1, Longitude: 11.5},
		Column:       1,
		Line:         7,
		Start:        ts("2024-01-10T09:00:00Z"),
		End:          ts("2024-01-10T10:00:00Z"),
		Duration:     &dur,
		Created:      ts("2023-12-01T08:00:00Z"),
		LastModified: ts("2023-12-02T08:00:00Z"),
		RecurrenceID: ts("2024-01-10T09:00:00Z"),
		Stamp:        ts("2023-12-03T08:00:00Z"),
		AllDay:       false,
		Attachments:  []models.Property{{Value: "https://example.com/agenda.pdf"}},
		Attendees: []models.Property{
			{Value: "mailto:a@example.com", Params: models.Params{"CN": {"Alice"}}},
			{Value: "mailto:b@example.com"},
		},
		Categories:        []models.Property{{Value: "WORK"}},
		Comments:          []models.Property{{Value: "bring slides"}},
		Contacts:          []models.Property{{Value: "Jim Dolittle"}},
		ExceptionDates:    []time.Time{*ts("2024-01-17T09:00:00Z")},
		ExceptionRules:    []string{"FREQ=MONTHLY;COUNT=1"},
		RecurrenceDates:   []time.Time{*ts("2024-02-01T09:00:00Z")},
		RecurrenceRules:   []string{"FREQ=WEEKLY;COUNT=10"},
		RelatedComponents: []models.Property{{Value: "parent@example.com"}},
		RequestStatuses:   []models.Property{{Value: "2.0;Success"}},
		Resources:         []models.Property{{Value: "PROJECTOR"}},
	}
}

// mutators change exactly one compared field each.
var mutators = map[string]func(e *models.Event){
	"summary":            func(e *models.Event) { e.Summary = "Meeting (moved)" },
	"description":        func(e *models.Event) { e.Description = "" },
	"location":           func(e *models.Event) { e.Location = "Room 6" },
	"url":                func(e *models.Event) { e.URL = "https://example.com/other" },
	"status":             func(e *models.Event) { e.Status = "CANCELLED" },
	"class":              func(e *models.Event) { e.Class = "PRIVATE" },
	"priority":           func(e *models.Event) { e.Priority = 1 },
	"sequence":           func(e *models.Event) { e.Sequence = 3 },
	"transparency":       func(e *models.Event) { e.Transparency = "TRANSPARENT" },
	"organizer":          func(e *models.Event) { e.Organizer.Params = nil },
	"group":              func(e *models.Event) { e.Group = "home" },
	"geo":                func(e *models.Event) { e.Geo = nil },
	"column":             func(e *models.Event) { e.Column = 2 },
	"line":               func(e *models.Event) { e.Line = 8 },
	"start":              func(e *models.Event) { e.Start = ts("2024-01-10T09:30:00Z") },
	"end":                func(e *models.Event) { e.End = nil },
	"duration":           func(e *models.Event) { d := time.Hour; e.Duration = &d },
	"created":            func(e *models.Event) { e.Created = ts("2023-11-01T08:00:00Z") },
	"last-modified":      func(e *models.Event) { e.LastModified = ts("2024-01-01T08:00:00Z") },
	"recurrence-id":      func(e *models.Event) { e.RecurrenceID = nil },
	"stamp":              func(e *models.Event) { e.Stamp = ts("2024-01-05T08:00:00Z") },
	"all-day":            func(e *models.Event) { e.AllDay = true },
	"attachments":        func(e *models.Event) { e.Attachments = nil },
	"attendees":          func(e *models.Event) { e.Attendees[0], e.Attendees[1] = e.Attendees[1], e.Attendees[0] },
	"categories":         func(e *models.Event) { e.Categories = append(e.Categories, models.Property{Value: "PRIVATE"}) },
	"comments":           func(e *models.Event) { e.Comments[0].Value = "no slides" },
	"contacts":           func(e *models.Event) { e.Contacts = nil },
	"exception-dates":    func(e *models.Event) { e.ExceptionDates = nil },
	"exception-rules":    func(e *models.Event) { e.ExceptionRules = nil },
	"recurrence-dates":   func(e *models.Event) { e.RecurrenceDates = append(e.RecurrenceDates, *ts("2024-03-01T09:00:00Z")) },
	"recurrence-rules":   func(e *models.Event) { e.RecurrenceRules = []string{"FREQ=DAILY"} },
	"related-components": func(e *models.Event) { e.RelatedComponents = nil },
	"request-statuses":   func(e *models.Event) { e.RequestStatuses = nil },
	"resources":          func(e *models.Event) { e.Resources[0].Params = models.Params{"LANGUAGE": {"en"}} },
}

func TestEveryFieldHasAMutator(t *testing.T) {
	for _, name := range Fields() {
		assert.Contains(t, mutators, name)
	}
	assert.Len(t, mutators, len(Fields()))
}

func TestDiffIdenticalRecords(t *testing.T) {
	dst := fullEvent()

	changed, merged := Diff(fullEvent(), dst)

	assert.Empty(t, changed)
	assert.Same(t, dst, merged)
}

func TestDiffSingleFieldIsMinimal(t *testing.T) {
	for name, mutate := range mutators {
		t.Run(name, func(t *testing.T) {
			src := fullEvent()
			mutate(src)
			dst := fullEvent()

			changed, merged := Diff(src, dst)

			require.Equal(t, []string{name}, changed)
			assert.Equal(t, fullEvent(), dst, "destination must not be mutated")

			// Applying the same mutation to the original destination must give the merged record.
			want := fullEvent()
			mutate(want)
			assert.Equal(t, want, merged)
		})
	}
}

func TestDiffIsIdempotent(t *testing.T) {
	src := fullEvent()
	src.Summary = "Meeting (moved)"
	src.Attendees = nil

	changed, merged := Diff(src, fullEvent())
	require.Equal(t, []string{"summary", "attendees"}, changed)

	changed, again := Diff(src, merged)
	assert.Empty(t, changed)
	assert.Same(t, merged, again)
}

func TestDiffNeverTouchesContainerMetadata(t *testing.T) {
	src := fullEvent()
	src.UID = "B"
	src.Parent = "/calendars/other/"
	src.Href = "/calendars/other/B.ics"
	src.ETag = `"9"`
	src.Extra = map[string][]models.Property{"X-FOO": {{Value: "bar"}}}

	changed, merged := Diff(src, fullEvent())
	assert.Empty(t, changed)

	src.Summary = "Changed"
	changed, merged = Diff(src, fullEvent())
	require.Equal(t, []string{"summary"}, changed)
	assert.Equal(t, "A", merged.UID)
	assert.Equal(t, "/calendars/home/work/", merged.Parent)
	assert.Equal(t, "/calendars/home/work/A.ics", merged.Href)
	assert.Equal(t, `"1"`, merged.ETag)
	assert.Nil(t, merged.Extra)
}

func TestDiffComparesInstantsAcrossZones(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	src := fullEvent()
	local := src.Start.In(berlin)
	src.Start = &local

	changed, _ := Diff(src, fullEvent())
	assert.Empty(t, changed)
}

func TestDiffAbsentTimeDiffersFromZeroTime(t *testing.T) {
	zero := time.Time{}
	src := fullEvent()
	src.Created = &zero
	dst := fullEvent()
	dst.Created = nil

	changed, merged := Diff(src, dst)
	require.Equal(t, []string{"created"}, changed)
	require.NotNil(t, merged.Created)
	assert.True(t, merged.Created.IsZero())
}

func TestDiffNilAndEmptyCollectionsAreEqual(t *testing.T) {
	src := fullEvent()
	src.Attachments = []models.Property{}
	dst := fullEvent()
	dst.Attachments = nil

	changed, _ := Diff(src, dst)
	assert.Empty(t, changed)
}

func TestDiffKeepsDestinationStampForStamplessSource(t *testing.T) {
	src := fullEvent()
	src.Stamp = nil

	changed, merged := Diff(src, fullEvent())
	assert.Empty(t, changed)
	require.NotNil(t, merged.Stamp)

	src.Stamp = ts("2024-02-01T00:00:00Z")
	dst := fullEvent()
	dst.Stamp = nil
	changed, merged = Diff(src, dst)
	require.Equal(t, []string{"stamp"}, changed)
	assert.True(t, merged.Stamp.Equal(*src.Stamp))
}
