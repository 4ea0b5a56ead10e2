package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/model"
)

func TestPrivateNotes(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "ana"))

	public, err := e.AddNote(ctx, ev.ID, NoteSpec{Content: "court moved to 3", AuthorID: "coach", Tags: []string{"logistics"}})
	require.NoError(t, err)
	private, err := e.AddNote(ctx, ev.ID, NoteSpec{Content: "ana's knee is sore", AuthorID: "coach", Private: true})
	require.NoError(t, err)
	assert.NotEqual(t, public.ID, private.ID)
	assert.True(t, private.CreatedAt.After(public.CreatedAt))

	own := e.GetNotes(ev.ID, "coach")
	require.Len(t, own, 2)
	assert.Equal(t, public.ID, own[0].ID)
	assert.Equal(t, private.ID, own[1].ID)

	other := e.GetNotes(ev.ID, "ana")
	require.Len(t, other, 1)
	assert.Equal(t, public.ID, other[0].ID)

	anonymous := e.GetNotes(ev.ID, "")
	require.Len(t, anonymous, 1)
	assert.Equal(t, public.ID, anonymous[0].ID)

	assert.Empty(t, e.GetNotes("missing", "coach"))
}

func TestAddNoteValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour))

	_, err := e.AddNote(ctx, ev.ID, NoteSpec{AuthorID: "coach"})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.AddNote(ctx, ev.ID, NoteSpec{Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.AddNote(ctx, "missing", NoteSpec{Content: "x", AuthorID: "coach"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttendanceReplacesWholeRecord(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour, "ana", "ben"))

	rec, ok := e.GetAttendance(ev.ID)
	assert.False(t, ok)
	assert.Nil(t, rec)

	checkIn := monday.Add(5 * time.Minute)
	first, err := e.SetAttendance(ctx, ev.ID, "coach", []model.AttendanceEntry{
		{UserID: "ana", Status: model.AttendancePresent, CheckIn: &checkIn},
		{UserID: "ben", Status: model.AttendanceAbsent, Note: "sick"},
	})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	assert.Equal(t, "coach", first.Entries[0].RecordedBy)
	assert.Equal(t, first.RecordedAt, first.Entries[1].RecordedAt)

	second, err := e.SetAttendance(ctx, ev.ID, "assistant", []model.AttendanceEntry{
		{UserID: "ben", Status: model.AttendanceExcused},
	})
	require.NoError(t, err)
	assert.True(t, second.RecordedAt.After(first.RecordedAt))

	rec, ok = e.GetAttendance(ev.ID)
	require.True(t, ok)
	require.Len(t, rec.Entries, 1)
	assert.Equal(t, "ben", rec.Entries[0].UserID)
	assert.Equal(t, model.AttendanceExcused, rec.Entries[0].Status)
	assert.Equal(t, "assistant", rec.RecordedBy)
}

func TestAttendanceValidation(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour))

	_, err := e.SetAttendance(ctx, "missing", "coach", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.SetAttendance(ctx, ev.ID, "coach", []model.AttendanceEntry{{UserID: "ana", Status: "asleep"}})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.SetAttendance(ctx, ev.ID, "coach", []model.AttendanceEntry{{Status: model.AttendancePresent}})
	assert.ErrorIs(t, err, ErrInvalidSpec)

	in, out := monday.Add(time.Hour), monday
	_, err = e.SetAttendance(ctx, ev.ID, "coach", []model.AttendanceEntry{{UserID: "ana", Status: model.AttendancePresent, CheckIn: &in, CheckOut: &out}})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestDueReminders(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	first := mustCreate(t, e, session("coach", monday, time.Hour))
	second := mustCreate(t, e, session("coach", monday.Add(time.Hour), time.Hour))

	cfg, err := e.SetReminders(ctx, first.ID, []model.Reminder{
		{Channel: model.ChannelPush, MinutesBefore: 30, Active: true, Recipients: []string{"ana"}},
		{Channel: model.ChannelEmail, MinutesBefore: 24 * 60, Active: true, Message: "tomorrow"},
		{Channel: model.ChannelSMS, MinutesBefore: 10, Active: false},
	})
	require.NoError(t, err)
	require.Len(t, cfg.Reminders, 3)
	for _, r := range cfg.Reminders {
		assert.NotEmpty(t, r.ID)
	}
	_, err = e.SetReminders(ctx, second.ID, []model.Reminder{{Channel: model.ChannelInApp, MinutesBefore: 60, Active: true}})
	require.NoError(t, err)

	due, err := e.DueReminders(monday.Add(-time.Hour), monday)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, first.ID, due[0].EventID)
	assert.Equal(t, monday.Add(-30*time.Minute), due[0].FireAt)
	assert.Equal(t, []string{"ana"}, due[0].Reminder.Recipients)
	assert.Equal(t, second.ID, due[1].EventID)
	assert.Equal(t, monday, due[1].FireAt)

	due, err = e.DueReminders(monday.AddDate(0, 0, -1), monday)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, model.ChannelEmail, due[0].Reminder.Channel)

	_, err = e.DueReminders(monday, monday.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestSetRemindersReplacesAndValidates(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	ev := mustCreate(t, e, session("coach", monday, time.Hour))

	_, ok := e.GetReminders(ev.ID)
	assert.False(t, ok)

	_, err := e.SetReminders(ctx, ev.ID, []model.Reminder{{ID: "r1", Channel: model.ChannelPush, MinutesBefore: 15, Active: true}})
	require.NoError(t, err)
	_, err = e.SetReminders(ctx, ev.ID, []model.Reminder{{ID: "r2", Channel: model.ChannelEmail, MinutesBefore: 60, Active: true}})
	require.NoError(t, err)

	cfg, ok := e.GetReminders(ev.ID)
	require.True(t, ok)
	require.Len(t, cfg.Reminders, 1)
	assert.Equal(t, "r2", cfg.Reminders[0].ID)

	_, err = e.SetReminders(ctx, ev.ID, []model.Reminder{{Channel: "pigeon", MinutesBefore: 5}})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.SetReminders(ctx, ev.ID, []model.Reminder{{Channel: model.ChannelPush, MinutesBefore: -5}})
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = e.SetReminders(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
