package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachcal/internal/model"
)

func date(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func days(starts []time.Time) []string {
	out := make([]string, 0, len(starts))
	for _, s := range starts {
		out = append(out, model.DateOf(s).String())
	}
	return out
}

var monday = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func TestWeeklyFourOccurrences(t *testing.T) {
	res, err := Generate(monday, model.RecurrenceRule{Kind: model.RecurWeekly, Interval: 1, Occurrences: 4}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-13", "2025-01-20", "2025-01-27"}, days(res.Starts))
	for _, s := range res.Starts {
		assert.Equal(t, 9, s.Hour())
	}
	assert.False(t, res.Truncated)
}

func TestDailyIntervalWithInclusiveEndDate(t *testing.T) {
	end := date(t, "2025-01-12")
	res, err := Generate(monday, model.RecurrenceRule{Kind: model.RecurDaily, Interval: 2, EndDate: &end}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-08", "2025-01-10", "2025-01-12"}, days(res.Starts))
}

func TestBiweeklyIgnoresInterval(t *testing.T) {
	res, err := Generate(monday, model.RecurrenceRule{Kind: model.RecurBiweekly, Interval: 5, Occurrences: 3}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-20", "2025-02-03"}, days(res.Starts))
}

func TestMonthlyUsesCalendarMonths(t *testing.T) {
	start := time.Date(2025, 1, 15, 18, 30, 0, 0, time.UTC)
	res, err := Generate(start, model.RecurrenceRule{Kind: model.RecurMonthly, Interval: 1, Occurrences: 4}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-02-15", "2025-03-15", "2025-04-15"}, days(res.Starts))

	res, err = Generate(start, model.RecurrenceRule{Kind: model.RecurMonthly, Interval: 3, Occurrences: 3}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-04-15", "2025-07-15"}, days(res.Starts))
}

func TestMonthlyClampsToMonthEnd(t *testing.T) {
	start := time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)
	res, err := Generate(start, model.RecurrenceRule{Kind: model.RecurMonthly, Interval: 1, Occurrences: 4}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-02-28", "2025-03-31", "2025-04-30"}, days(res.Starts))
	for _, s := range res.Starts {
		assert.Equal(t, 9, s.Hour())
	}

	res, err = Generate(start, model.RecurrenceRule{Kind: model.RecurMonthly, Interval: 1}, Config{})
	require.NoError(t, err)
	require.Len(t, res.Starts, 12)
	assert.Equal(t, "2026-01-31", model.DateOf(res.Starts[11]).String())

	res, err = Generate(time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), model.RecurrenceRule{Kind: model.RecurMonthly, Interval: 12, Occurrences: 3}, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-02-28", "2026-02-28"}, days(res.Starts))
}

func TestExceptionsDoNotConsumeOccurrences(t *testing.T) {
	rule := model.RecurrenceRule{
		Kind:        model.RecurWeekly,
		Occurrences: 4,
		Exceptions:  []model.Date{date(t, "2025-01-13")},
	}
	res, err := Generate(monday, rule, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-20", "2025-01-27", "2025-02-03"}, days(res.Starts))
	assert.Equal(t, 1, res.Skipped)
}

func TestDefaultHorizonIsOneYear(t *testing.T) {
	res, err := Generate(monday, model.RecurrenceRule{Kind: model.RecurDaily}, Config{})
	require.NoError(t, err)
	require.Len(t, res.Starts, 365)
	last := res.Starts[len(res.Starts)-1]
	assert.False(t, last.After(monday.AddDate(1, 0, 0)))
}

func TestNoneGeneratesNothing(t *testing.T) {
	res, err := Generate(monday, model.RecurrenceRule{Kind: model.RecurNone, Occurrences: 10}, Config{})
	require.NoError(t, err)
	assert.Empty(t, res.Starts)
}

func TestCapTruncates(t *testing.T) {
	res, err := Generate(monday, model.RecurrenceRule{Kind: model.RecurDaily, Occurrences: 5000}, Config{MaxInstances: 10})
	require.NoError(t, err)
	assert.Len(t, res.Starts, 9)
	assert.True(t, res.Truncated)
}

func TestCustomWeekdays(t *testing.T) {
	rule := model.RecurrenceRule{
		Kind:        model.RecurCustom,
		Weekdays:    []time.Weekday{time.Monday, time.Wednesday},
		Occurrences: 5,
	}
	res, err := Generate(monday, rule, Config{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-08", "2025-01-13", "2025-01-15", "2025-01-20"}, days(res.Starts))
}

func TestWalkKeepsLocalTimeAcrossDST(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	start := time.Date(2025, 3, 24, 9, 0, 0, 0, berlin)
	res, err := Generate(start.UTC(), model.RecurrenceRule{Kind: model.RecurWeekly, Occurrences: 2}, Config{Location: berlin})
	require.NoError(t, err)
	require.Len(t, res.Starts, 1)
	assert.Equal(t, 9, res.Starts[0].In(berlin).Hour())
	assert.Equal(t, 7*24*time.Hour-time.Hour, res.Starts[0].Sub(start))
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, Validate(model.RecurrenceRule{Kind: "yearly"}), ErrInvalidRule)
	assert.ErrorIs(t, Validate(model.RecurrenceRule{Kind: model.RecurCustom}), ErrInvalidRule)
	assert.ErrorIs(t, Validate(model.RecurrenceRule{Kind: model.RecurDaily, Interval: -1}), ErrInvalidRule)
	assert.ErrorIs(t, Validate(model.RecurrenceRule{Kind: model.RecurWeekly, Weekdays: []time.Weekday{9}}), ErrInvalidRule)
	assert.NoError(t, Validate(model.RecurrenceRule{Kind: model.RecurWeekly, Weekdays: []time.Weekday{time.Friday}}))
}
