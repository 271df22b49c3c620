package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyEqual(t *testing.T) {
	a := Property{Value: "mailto:a@example.com", Params: Params{"CN": {"Alice"}}}

	assert.True(t, a.Equal(a.Clone()))
	assert.False(t, a.Equal(Property{Value: "mailto:a@example.com"}))
	assert.False(t, a.Equal(Property{Value: "mailto:a@example.com", Params: Params{"CN": {"Bob"}}}))
	assert.True(t, Property{}.Equal(Property{Params: Params{}}))
}

func TestEventCloneIsDeep(t *testing.T) {
	start := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
	ev := &Event{
		UID:       "A",
		Start:     &start,
		Geo:       &Geo{Latitude: 1, Longitude: 2},
		Attendees: []Property{{Value: "mailto:a@example.com", Params: Params{"CN": {"Alice"}}}},
		Extra:     map[string][]Property{"X-FOO": {{Value: "bar"}}},
	}

	c := ev.Clone()
	require.NotSame(t, ev, c)

	*c.Start = start.Add(time.Hour)
	c.Geo.Latitude = 5
	c.Attendees[0].Params["CN"][0] = "Mallory"
	c.Extra["X-FOO"][0].Value = "baz"

	assert.Equal(t, start, *ev.Start)
	assert.Equal(t, 1.0, ev.Geo.Latitude)
	assert.Equal(t, "Alice", ev.Attendees[0].Params["CN"][0])
	assert.Equal(t, "bar", ev.Extra["X-FOO"][0].Value)
}

func TestCloneKeepsNilCollections(t *testing.T) {
	c := (&Event{UID: "A"}).Clone()
	assert.Nil(t, c.Attendees)
	assert.Nil(t, c.ExceptionDates)
	assert.Nil(t, c.Extra)
	assert.Nil(t, (*Event)(nil).Clone())
}
