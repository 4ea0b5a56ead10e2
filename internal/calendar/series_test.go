package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/model"
)

func weekly(n int) *model.RecurrenceRule {
	return &model.RecurrenceRule{Kind: model.RecurWeekly, Interval: 1, Occurrences: n}
}

func startDays(evs []*model.Event) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Start.Format("2006-01-02T15:04"))
	}
	return out
}

func TestWeeklySeriesExample(t *testing.T) {
	e, _ := newEngine(t)
	spec := session("coach", monday, 90*time.Minute, "ana")
	spec.Recurrence = weekly(4)
	base := mustCreate(t, e, spec)

	require.NotEmpty(t, base.RecurrenceGroupID)
	assert.Empty(t, base.ParentEventID)
	assert.Equal(t, base.CreatedAt, base.UpdatedAt)

	series := e.Series(base.RecurrenceGroupID)
	assert.Equal(t, []string{"2025-01-06T09:00", "2025-01-13T09:00", "2025-01-20T09:00", "2025-01-27T09:00"}, startDays(series))
	for i, ev := range series {
		assert.Equal(t, 90*time.Minute, ev.Duration())
		assert.Equal(t, base.RecurrenceGroupID, ev.RecurrenceGroupID)
		assert.Equal(t, []string{"ana"}, ev.Participants)
		if i == 0 {
			assert.Equal(t, base.ID, ev.ID)
			continue
		}
		assert.Equal(t, base.ID, ev.ParentEventID)
		assert.NotEqual(t, base.ID, ev.ID)
		assert.True(t, ev.CreatedAt.After(base.CreatedAt))
	}
	assert.Len(t, e.QueryByUser("ana", UserFilter{}), 4)
	assert.Len(t, e.QueryByUser("coach", UserFilter{}), 4)

	rule, ok := e.GetRecurrence(base.ID)
	require.True(t, ok)
	assert.Equal(t, base.ID, rule.BaseEventID)
	assert.Equal(t, base.RecurrenceGroupID, rule.GroupID)
}

func TestSeriesWithoutBoundUsesOneYearHorizon(t *testing.T) {
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour)
	spec.Recurrence = &model.RecurrenceRule{Kind: model.RecurWeekly}
	base := mustCreate(t, e, spec)

	series := e.Series(base.RecurrenceGroupID)
	// 2025-01-06 through 2026-01-05: 53 Mondays including the base.
	assert.Len(t, series, 53)
	assert.False(t, series[len(series)-1].Start.After(monday.AddDate(1, 0, 0)))
}

func TestSeriesRespectsCap(t *testing.T) {
	e, _ := newEngine(t, WithMaxSeriesInstances(5))
	spec := session("coach", monday, time.Hour)
	spec.Recurrence = &model.RecurrenceRule{Kind: model.RecurDaily, Occurrences: 400}
	base := mustCreate(t, e, spec)
	assert.Len(t, e.Series(base.RecurrenceGroupID), 5)
}

func TestRecurrenceNoneCreatesSingleEvent(t *testing.T) {
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour)
	spec.Recurrence = &model.RecurrenceRule{Kind: model.RecurNone, Occurrences: 10}
	base := mustCreate(t, e, spec)
	assert.Empty(t, base.RecurrenceGroupID)
	_, ok := e.GetRecurrence(base.ID)
	assert.False(t, ok)
	assert.Len(t, e.QueryByUser("coach", UserFilter{}), 1)
}

func TestSeriesSkipsExceptions(t *testing.T) {
	e, _ := newEngine(t)
	skip, err := model.ParseDate("2025-01-13")
	require.NoError(t, err)
	spec := session("coach", monday, time.Hour)
	spec.Recurrence = &model.RecurrenceRule{Kind: model.RecurWeekly, Occurrences: 3, Exceptions: []model.Date{skip}}
	base := mustCreate(t, e, spec)
	assert.Equal(t, []string{"2025-01-06T09:00", "2025-01-20T09:00", "2025-01-27T09:00"}, startDays(e.Series(base.RecurrenceGroupID)))
}

func TestAllDaySeriesKeepsDayCount(t *testing.T) {
	e, _ := newEngine(t)
	base := mustCreate(t, e, EventSpec{
		OrganizerID: "coach",
		Kind:        model.KindCamp,
		Start:       monday,
		End:         monday.AddDate(0, 0, 1),
		AllDay:      true,
		Recurrence:  &model.RecurrenceRule{Kind: model.RecurMonthly, Occurrences: 2},
	})
	series := e.Series(base.RecurrenceGroupID)
	require.Len(t, series, 2)
	assert.Equal(t, time.Date(2025, 2, 6, 0, 0, 0, 0, time.UTC), series[1].Start)
	assert.Equal(t, time.Date(2025, 2, 8, 0, 0, 0, 0, time.UTC), series[1].End)
}

func TestCascadeDeleteExample(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour, "ana", "ben")
	spec.Recurrence = weekly(5)
	base := mustCreate(t, e, spec)
	group := base.RecurrenceGroupID

	series := e.Series(group)
	require.Len(t, series, 5)
	_, err := e.AddNote(ctx, series[4].ID, NoteSpec{Content: "last one", AuthorID: "coach"})
	require.NoError(t, err)

	require.NoError(t, e.Delete(ctx, series[2].ID, true))

	assert.Empty(t, e.Series(group))
	for _, u := range []string{"coach", "ana", "ben"} {
		assert.Empty(t, e.QueryByUser(u, UserFilter{}), u)
	}
	for _, ev := range series {
		_, err := e.Get(ev.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, ok := e.GetRecurrence(base.ID)
	assert.False(t, ok)
	assert.Empty(t, e.GetNotes(series[4].ID, "coach"))

	assert.ErrorIs(t, e.Delete(ctx, series[0].ID, true), ErrNotFound)
}

func TestCascadeDeleteToleratesPartialSeries(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour)
	spec.Recurrence = weekly(4)
	base := mustCreate(t, e, spec)
	series := e.Series(base.RecurrenceGroupID)

	require.NoError(t, e.Delete(ctx, series[1].ID, false))
	assert.Len(t, e.Series(base.RecurrenceGroupID), 3)

	require.NoError(t, e.Delete(ctx, series[3].ID, true))
	assert.Empty(t, e.Series(base.RecurrenceGroupID))
}

func TestGenerateSeries(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	base := mustCreate(t, e, session("coach", monday, time.Hour))

	instances, err := e.GenerateSeries(ctx, base.ID, model.RecurrenceRule{Kind: model.RecurBiweekly, Occurrences: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-20T09:00", "2025-02-03T09:00"}, startDays(instances))

	got, err := e.Get(base.ID)
	require.NoError(t, err)
	assert.Equal(t, instances[0].RecurrenceGroupID, got.RecurrenceGroupID)

	_, err = e.GenerateSeries(ctx, base.ID, *weekly(2))
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.GenerateSeries(ctx, instances[0].ID, *weekly(2))
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.GenerateSeries(ctx, "missing", *weekly(2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetRecurrenceReplacesSeries(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour, "ana")
	spec.Recurrence = weekly(4)
	base := mustCreate(t, e, spec)
	group := base.RecurrenceGroupID
	old := e.Series(group)

	instances, err := e.SetRecurrence(ctx, base.ID, model.RecurrenceRule{Kind: model.RecurDaily, Occurrences: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-07T09:00", "2025-01-08T09:00"}, startDays(instances))
	assert.Len(t, e.Series(group), 3)
	for _, ev := range old[1:] {
		_, err := e.Get(ev.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Len(t, e.QueryByUser("ana", UserFilter{}), 3)

	rule, ok := e.GetRecurrence(base.ID)
	require.True(t, ok)
	assert.Equal(t, model.RecurDaily, rule.Kind)

	_, err = e.SetRecurrence(ctx, base.ID, model.RecurrenceRule{Kind: model.RecurNone})
	require.NoError(t, err)
	assert.Empty(t, e.Series(group))
	_, ok = e.GetRecurrence(base.ID)
	assert.False(t, ok)
	got, err := e.Get(base.ID)
	require.NoError(t, err)
	assert.Empty(t, got.RecurrenceGroupID)
	assert.Len(t, e.QueryByUser("ana", UserFilter{}), 1)
}

func TestUpdateSeriesShiftsEveryInstance(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	spec := session("coach", monday, time.Hour)
	spec.Recurrence = weekly(3)
	base := mustCreate(t, e, spec)
	series := e.Series(base.RecurrenceGroupID)

	title := "Evening session"
	start := series[1].Start.Add(8 * time.Hour)
	end := series[1].End.Add(8 * time.Hour)
	updated, err := e.UpdateSeries(ctx, series[1].ID, EventPatch{Title: &title, Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-06T17:00", "2025-01-13T17:00", "2025-01-20T17:00"}, startDays(updated))
	for _, ev := range updated {
		assert.Equal(t, title, ev.Title)
		assert.Equal(t, time.Hour, ev.Duration())
	}

	bad := series[1].Start.Add(-time.Hour)
	_, err = e.UpdateSeries(ctx, series[1].ID, EventPatch{End: &bad})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	for _, ev := range e.Series(base.RecurrenceGroupID) {
		assert.Equal(t, time.Hour, ev.Duration(), "failed update must not be partially applied")
	}
}
