package calendar

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/model"
)

func intPtr(n int) *int { return &n }

func TestCreateRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("25.50")
	spec := EventSpec{
		Title:           "Serve practice",
		Description:     "Second serve consistency",
		Start:           monday,
		End:             monday.Add(90 * time.Minute),
		Timezone:        "UTC",
		Kind:            model.KindGroupTraining,
		Status:          model.StatusConfirmed,
		OrganizerID:     "coach",
		Participants:    []string{"ana", "ben"},
		MaxParticipants: intPtr(4),
		Location:        &model.Location{Name: "Court 3", City: "Porto"},
		Sport:           "tennis",
		SkillLevel:      "intermediate",
		SessionPlanRef:  "plan-42",
		Equipment:       []string{"balls", "cones"},
		Objectives:      []string{"kick serve"},
		Price:           &price,
		Currency:        "EUR",
		PaymentStatus:   model.PaymentPending,
		Tags:            []string{"serve"},
		Color:           "#ff8800",
		Priority:        model.PriorityHigh,
		Private:         true,
		CreatedBy:       "coach",
	}

	e, _ := newEngine(t)
	created := mustCreate(t, e, spec)
	got, err := e.Get(created.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, spec.Title, got.Title)
	assert.Equal(t, spec.Description, got.Description)
	assert.Equal(t, spec.Start, got.Start)
	assert.Equal(t, spec.End, got.End)
	assert.Equal(t, spec.Timezone, got.Timezone)
	assert.Equal(t, spec.Kind, got.Kind)
	assert.Equal(t, spec.Status, got.Status)
	assert.Equal(t, spec.OrganizerID, got.OrganizerID)
	assert.Equal(t, spec.Participants, got.Participants)
	assert.Equal(t, *spec.MaxParticipants, *got.MaxParticipants)
	assert.Equal(t, *spec.Location, *got.Location)
	assert.Equal(t, spec.Sport, got.Sport)
	assert.Equal(t, spec.SkillLevel, got.SkillLevel)
	assert.Equal(t, spec.SessionPlanRef, got.SessionPlanRef)
	assert.Equal(t, spec.Equipment, got.Equipment)
	assert.Equal(t, spec.Objectives, got.Objectives)
	assert.True(t, price.Equal(*got.Price))
	assert.Equal(t, spec.Currency, got.Currency)
	assert.Equal(t, spec.PaymentStatus, got.PaymentStatus)
	assert.Equal(t, spec.Tags, got.Tags)
	assert.Equal(t, spec.Color, got.Color)
	assert.Equal(t, spec.Priority, got.Priority)
	assert.Equal(t, spec.Private, got.Private)
	assert.Equal(t, spec.CreatedBy, got.CreatedBy)

	// The caller's slices are not aliased.
	spec.Participants[0] = "mallory"
	got, err = e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ana", got.Participants[0])
}

func TestCreateDefaults(t *testing.T) {
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour))
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, model.KindTrainingSession, ev.Kind)
	assert.Equal(t, model.StatusScheduled, ev.Status)
	assert.Equal(t, "UTC", ev.Timezone)
	assert.Equal(t, ev.CreatedAt, ev.UpdatedAt)
	assert.Empty(t, ev.RecurrenceGroupID)
}

func TestCreateRejectsInvalidSpecs(t *testing.T) {
	e, _ := newEngine(t)
	tests := []struct {
		name   string
		mutate func(*EventSpec)
	}{
		{"end equals start", func(s *EventSpec) { s.End = s.Start }},
		{"end before start", func(s *EventSpec) { s.End = s.Start.Add(-time.Minute) }},
		{"missing organizer", func(s *EventSpec) { s.OrganizerID = "" }},
		{"missing start", func(s *EventSpec) { s.Start = time.Time{} }},
		{"unknown kind", func(s *EventSpec) { s.Kind = "karaoke" }},
		{"unknown status", func(s *EventSpec) { s.Status = "maybe" }},
		{"unknown timezone", func(s *EventSpec) { s.Timezone = "Mars/Olympus" }},
		{"bad color", func(s *EventSpec) { s.Color = "orange" }},
		{"bad currency", func(s *EventSpec) { s.Currency = "EURO" }},
		{"empty participant", func(s *EventSpec) { s.Participants = []string{""} }},
		{"over cap", func(s *EventSpec) {
			s.Participants = []string{"a", "b", "c"}
			s.MaxParticipants = intPtr(2)
		}},
		{"bad meeting url", func(s *EventSpec) { s.Location = &model.Location{Virtual: true, MeetingURL: "not a url"} }},
		{"bad recurrence", func(s *EventSpec) { s.Recurrence = &model.RecurrenceRule{Kind: model.RecurCustom} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := session("coach", monday, time.Hour)
			tt.mutate(&spec)
			_, err := e.Create(context.Background(), spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
	assert.Empty(t, e.QueryByUser("coach", UserFilter{}))
}

func TestCreateDeduplicatesParticipants(t *testing.T) {
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "ana", "ben", "ana"))
	assert.Equal(t, []string{"ana", "ben"}, ev.Participants)
}

func TestAllDayNormalization(t *testing.T) {
	e, _ := newEngine(t)
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name      string
		start     time.Time
		end       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{"single day without end", day(6).Add(15 * time.Hour), time.Time{}, day(6), day(7)},
		{"single day with end", day(6).Add(15 * time.Hour), day(6).Add(16 * time.Hour), day(6), day(7)},
		{"multi day", day(6).Add(10 * time.Hour), day(8).Add(10 * time.Hour), day(6), day(9)},
		{"exclusive midnight end", day(6), day(8), day(6), day(8)},
		{"start equals end", day(6), day(6), day(6), day(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := mustCreate(t, e, EventSpec{OrganizerID: "coach", Start: tt.start, End: tt.end, AllDay: true})
			assert.Equal(t, tt.wantStart, ev.Start)
			assert.Equal(t, tt.wantEnd, ev.End)
			assert.True(t, ev.End.After(ev.Start))
		})
	}

	_, err := e.Create(context.Background(), EventSpec{OrganizerID: "coach", Start: day(8), End: day(6).Add(time.Hour), AllDay: true})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestAllDayUsesEventZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	e, _ := newEngine(t)
	// 23:30 UTC on the 5th is already the 6th in Berlin.
	ev := mustCreate(t, e, EventSpec{
		OrganizerID: "coach",
		Start:       time.Date(2025, 1, 5, 23, 30, 0, 0, time.UTC),
		AllDay:      true,
		Timezone:    "Europe/Berlin",
	})
	assert.True(t, ev.Start.Equal(time.Date(2025, 1, 6, 0, 0, 0, 0, berlin)))
	assert.True(t, ev.End.Equal(time.Date(2025, 1, 7, 0, 0, 0, 0, berlin)))
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "ana"))

	title := "Renamed"
	end := monday.Add(2 * time.Hour)
	updated, err := e.Update(ctx, ev.ID, EventPatch{Title: &title, End: &end})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, end, updated.End)
	assert.True(t, updated.UpdatedAt.After(ev.UpdatedAt))
	assert.Equal(t, ev.CreatedAt, updated.CreatedAt)

	t.Run("interval violation leaves event unchanged", func(t *testing.T) {
		bad := monday.Add(-time.Hour)
		_, err := e.Update(ctx, ev.ID, EventPatch{End: &bad})
		assert.ErrorIs(t, err, ErrInvalidSpec)
		got, err := e.Get(ev.ID)
		require.NoError(t, err)
		assert.Equal(t, end, got.End)
		assert.Equal(t, "Renamed", got.Title)
	})

	t.Run("participants reindex", func(t *testing.T) {
		parts := []string{"ben"}
		_, err := e.Update(ctx, ev.ID, EventPatch{Participants: &parts})
		require.NoError(t, err)
		assert.Empty(t, e.QueryByUser("ana", UserFilter{}))
		assert.Len(t, e.QueryByUser("ben", UserFilter{}), 1)
		assert.Len(t, e.QueryByUser("coach", UserFilter{}), 1)
	})

	t.Run("organizer change reindexes", func(t *testing.T) {
		org := "assistant"
		_, err := e.Update(ctx, ev.ID, EventPatch{OrganizerID: &org})
		require.NoError(t, err)
		assert.Empty(t, e.QueryByUser("coach", UserFilter{}))
		assert.Len(t, e.QueryByUser("assistant", UserFilter{}), 1)
	})

	t.Run("clear cap", func(t *testing.T) {
		limit := 5
		got, err := e.Update(ctx, ev.ID, EventPatch{MaxParticipants: &limit})
		require.NoError(t, err)
		require.NotNil(t, got.MaxParticipants)
		zero := 0
		got, err = e.Update(ctx, ev.ID, EventPatch{MaxParticipants: &zero})
		require.NoError(t, err)
		assert.Nil(t, got.MaxParticipants)
	})

	_, err = e.Update(ctx, "missing", EventPatch{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRemovesEventAndLedger(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "ana"))
	_, err := e.AddNote(ctx, ev.ID, NoteSpec{Content: "warm-up", AuthorID: "coach"})
	require.NoError(t, err)
	_, err = e.SetAttendance(ctx, ev.ID, "coach", []model.AttendanceEntry{{UserID: "ana", Status: model.AttendanceLate}})
	require.NoError(t, err)
	_, err = e.SetReminders(ctx, ev.ID, []model.Reminder{{Channel: model.ChannelEmail, MinutesBefore: 60, Active: true}})
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, ev.ID, false))

	_, err = e.Get(ev.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, e.QueryByUser("ana", UserFilter{}))
	assert.Empty(t, e.QueryByUser("coach", UserFilter{}))
	assert.Empty(t, e.GetNotes(ev.ID, "coach"))
	_, ok := e.GetAttendance(ev.ID)
	assert.False(t, ok)
	_, ok = e.GetReminders(ev.ID)
	assert.False(t, ok)

	assert.ErrorIs(t, e.Delete(ctx, ev.ID, false), ErrNotFound)
}

func TestParticipantCap(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour)
	spec.MaxParticipants = intPtr(2)
	ev := mustCreate(t, e, spec)

	_, err := e.AddParticipant(ctx, ev.ID, "ana")
	require.NoError(t, err)
	got, err := e.AddParticipant(ctx, ev.ID, "ben")
	require.NoError(t, err)
	assert.Equal(t, []string{"ana", "ben"}, got.Participants)

	_, err = e.AddParticipant(ctx, ev.ID, "cleo")
	assert.ErrorIs(t, err, ErrEventFull)
	_, err = e.AddParticipant(ctx, ev.ID, "ana")
	assert.ErrorIs(t, err, ErrAlreadyParticipant)
	_, err = e.AddParticipant(ctx, "missing", "ana")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.AddParticipant(ctx, ev.ID, "")
	assert.ErrorIs(t, err, ErrInvalidSpec)

	assert.Len(t, e.QueryByUser("ben", UserFilter{}), 1)
	assert.Empty(t, e.QueryByUser("cleo", UserFilter{}))
}

func TestParticipantCapUnderConcurrency(t *testing.T) {
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour)
	spec.MaxParticipants = intPtr(10)
	ev := mustCreate(t, e, spec)

	var (
		wg     sync.WaitGroup
		joined atomic.Int32
		full   atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.AddParticipant(context.Background(), ev.ID, "athlete-"+string(rune('A'+i)))
			switch {
			case err == nil:
				joined.Add(1)
			case assert.ErrorIs(t, err, ErrEventFull):
				full.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, joined.Load())
	assert.EqualValues(t, 40, full.Load())
	got, err := e.Get(ev.ID)
	require.NoError(t, err)
	assert.Len(t, got.Participants, 10)
}

func TestRemoveParticipantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "ana", "ben"))

	got, err := e.RemoveParticipant(ctx, ev.ID, "ghost")
	require.NoError(t, err)
	assert.Equal(t, []string{"ana", "ben"}, got.Participants)
	assert.Equal(t, ev.UpdatedAt, got.UpdatedAt)

	got, err = e.RemoveParticipant(ctx, ev.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"ben"}, got.Participants)
	assert.Empty(t, e.QueryByUser("ana", UserFilter{}))

	got, err = e.RemoveParticipant(ctx, ev.ID, "ana")
	require.NoError(t, err)
	assert.Equal(t, []string{"ben"}, got.Participants)

	_, err = e.RemoveParticipant(ctx, "missing", "ana")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemovingOrganizerAsParticipantKeepsIndex(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "coach"))
	_, err := e.RemoveParticipant(ctx, ev.ID, "coach")
	require.NoError(t, err)
	assert.Len(t, e.QueryByUser("coach", UserFilter{}), 1)
}
