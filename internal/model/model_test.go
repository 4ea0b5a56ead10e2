package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumDecodingRejectsUnknownValues(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"id":"a","kind":"karaoke","status":"scheduled"}`), &ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event kind")

	err = json.Unmarshal([]byte(`{"id":"a","kind":"match","status":"confirmed","priority":""}`), &ev)
	require.NoError(t, err)
	assert.Equal(t, KindMatch, ev.Kind)
	assert.Equal(t, StatusConfirmed, ev.Status)
	assert.Equal(t, Priority(""), ev.Priority)
}

func TestEventOverlapsIsEndInclusive(t *testing.T) {
	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := Event{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}

	assert.True(t, ev.Overlaps(day.Add(10*time.Hour+30*time.Minute), day.Add(10*time.Hour+45*time.Minute)))
	assert.True(t, ev.Overlaps(day.Add(11*time.Hour), day.Add(12*time.Hour)))
	assert.False(t, ev.Overlaps(day.Add(11*time.Hour+time.Minute), day.Add(12*time.Hour)))
	assert.True(t, ev.Overlaps(day.Add(9*time.Hour), day.Add(10*time.Hour)))
}

func TestEventCloneDoesNotAlias(t *testing.T) {
	limit := 3
	lat, lng := 52.52, 13.40
	price := decimal.RequireFromString("12.50")
	ev := &Event{
		ID:              "e1",
		OrganizerID:     "coach",
		Participants:    []string{"a", "b"},
		MaxParticipants: &limit,
		Location:        &Location{Name: "Court 1", Latitude: &lat, Longitude: &lng},
		Price:           &price,
	}

	c := ev.Clone()
	*c.Location.Latitude = 0
	*c.Location.Longitude = 0
	c.Participants[0] = "z"
	*c.MaxParticipants = 10
	c.Location.Name = "Court 2"

	assert.Equal(t, "a", ev.Participants[0])
	assert.Equal(t, 3, *ev.MaxParticipants)
	assert.Equal(t, "Court 1", ev.Location.Name)
	assert.Equal(t, 52.52, *ev.Location.Latitude)
	assert.Equal(t, 13.40, *ev.Location.Longitude)
	assert.True(t, c.Price.Equal(price))
}

func TestEventUsers(t *testing.T) {
	ev := Event{OrganizerID: "coach", Participants: []string{"a", "coach", "b"}}
	assert.Equal(t, []string{"coach", "a", "b"}, ev.Users())
	assert.True(t, ev.Involves("coach"))
	assert.True(t, ev.Involves("b"))
	assert.False(t, ev.Involves("c"))
}

func TestDateAndClockText(t *testing.T) {
	d, err := ParseDate("2025-01-06")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())
	assert.Equal(t, "2025-01-13", d.AddDays(7).String())
	assert.True(t, d.Before(d.AddDays(1)))

	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(570), c)

	end, err := ParseClock("24:00")
	require.NoError(t, err)
	loc := time.UTC
	assert.Equal(t, time.Date(2025, 1, 7, 0, 0, 0, 0, loc), end.On(d, loc))

	for _, bad := range []string{"9:30", "25:00", "24:30", "12:60", "ab:cd"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}

	slot := AvailabilitySlot{Weekday: time.Monday, StartTime: c, EndTime: end}
	b, err := json.Marshal(slot)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"start_time":"09:30"`)

	var back AvailabilitySlot
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, slot, back)
}

func TestSlotAppliesOn(t *testing.T) {
	from, _ := ParseDate("2025-01-01")
	until, _ := ParseDate("2025-01-31")
	excluded, _ := ParseDate("2025-01-13")
	slot := AvailabilitySlot{Weekday: time.Monday, ValidFrom: &from, ValidUntil: &until, ExcludedDates: []Date{excluded}}

	mon, _ := ParseDate("2025-01-06")
	tue, _ := ParseDate("2025-01-07")
	feb, _ := ParseDate("2025-02-03")

	assert.True(t, slot.AppliesOn(mon))
	assert.False(t, slot.AppliesOn(tue))
	assert.False(t, slot.AppliesOn(excluded))
	assert.False(t, slot.AppliesOn(feb))
}

func TestNoteVisibility(t *testing.T) {
	n := Note{AuthorID: "u", Private: true}
	assert.True(t, n.VisibleTo("u"))
	assert.False(t, n.VisibleTo("other"))
	assert.False(t, n.VisibleTo(""))

	pub := Note{AuthorID: "u"}
	assert.True(t, pub.VisibleTo(""))
}
