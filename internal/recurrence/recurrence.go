package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "coachcal/internal/log"
	"coachcal/internal/model"
)

const (
	// MaxSeriesInstances caps the size of one series, base included.
	MaxSeriesInstances = 1000
	// defaultHorizonYears bounds rules that carry neither an end date nor a count.
	defaultHorizonYears = 1
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Config controls how a series is walked.
type Config struct {
	// Location is the zone the walk happens in, so that a 09:00 session stays
	// at 09:00 local time across DST changes. If nil, the start's own
	// location is used.
	Location *time.Location

	// MaxInstances is a safety cap including the base event. If zero,
	// MaxSeriesInstances is used.
	MaxInstances int
}

// Result is the outcome of a walk.
type Result struct {
	// Starts are the start instants of the generated instances, strictly
	// after the base start, in ascending order.
	Starts []time.Time
	// Skipped counts dates dropped because they were listed as exceptions.
	Skipped int
	// Truncated is set when MaxInstances stopped the walk early.
	Truncated bool
}

// Validate checks a rule independently of any event.
func Validate(rule model.RecurrenceRule) error {
	if !rule.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, rule.Kind)
	}
	if rule.Interval < 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidRule)
	}
	if rule.Occurrences < 0 {
		return fmt.Errorf("%w: occurrences must be positive", ErrInvalidRule)
	}
	for _, wd := range rule.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday %d out of range", ErrInvalidRule, wd)
		}
	}
	if rule.Kind == model.RecurCustom && len(rule.Weekdays) == 0 {
		return fmt.Errorf("%w: custom recurrence needs weekdays", ErrInvalidRule)
	}
	return nil
}

// Generate walks the rule forward from start and returns the starts of the
// instances to synthesize. The base event is occurrence #1 and is never
// returned. Exception dates are skipped without consuming an occurrence.
//
// The walk is always bounded: by EndDate (inclusive, in cfg.Location), by
// Occurrences, by the one-year horizon when neither is set, and by
// MaxInstances in every case.
func Generate(start time.Time, rule model.RecurrenceRule, cfg Config) (Result, error) {
	var res Result
	if err := Validate(rule); err != nil {
		return res, err
	}
	if rule.Kind == model.RecurNone {
		return res, nil
	}

	loc := cfg.Location
	if loc == nil {
		loc = start.Location()
	}
	maxInstances := cfg.MaxInstances
	if maxInstances <= 0 {
		maxInstances = MaxSeriesInstances
	}

	dtstart := start.In(loc)
	var until time.Time
	switch {
	case rule.EndDate != nil:
		// Inclusive: instances on the end date itself are kept.
		until = rule.EndDate.In(loc).AddDate(0, 0, 1).Add(-time.Second)
	case rule.Occurrences == 0:
		until = dtstart.AddDate(defaultHorizonYears, 0, 0)
	}

	var next func() (time.Time, bool)
	if rule.Kind == model.RecurMonthly {
		next = monthlySteps(dtstart, max(rule.Interval, 1), until)
	} else {
		r, err := weeklyOrDaily(dtstart, rule, until)
		if err != nil {
			return res, err
		}
		next = r.Iterator()
	}

	// The base counts as the first occurrence.
	wanted := maxInstances - 1
	if rule.Occurrences > 0 && rule.Occurrences-1 < wanted {
		wanted = rule.Occurrences - 1
	}

	for len(res.Starts) < wanted {
		t, ok := next()
		if !ok {
			return res, nil
		}
		if !t.After(dtstart) {
			continue
		}
		if rule.IsException(model.DateOf(t)) {
			res.Skipped++
			continue
		}
		res.Starts = append(res.Starts, t)
	}

	// Stopped on the count; report truncation only if the cap bound first
	// and the rule would have produced more.
	if len(res.Starts) == maxInstances-1 && (rule.Occurrences == 0 || rule.Occurrences > maxInstances) {
		if _, more := next(); more {
			res.Truncated = true
			appLog.Error("recurrence: truncated series due to cap",
				errors.New("max instances reached"),
				"kind", rule.Kind,
				"cap", maxInstances,
			)
		}
	}
	return res, nil
}

func weeklyOrDaily(dtstart time.Time, rule model.RecurrenceRule, until time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     rrule.WEEKLY,
		Dtstart:  dtstart,
		Interval: max(rule.Interval, 1),
		Until:    until,
	}
	switch rule.Kind {
	case model.RecurDaily:
		opt.Freq = rrule.DAILY
	case model.RecurBiweekly:
		opt.Interval = 2
	}
	if opt.Freq == rrule.WEEKLY {
		for _, wd := range rule.Weekdays {
			opt.Byweekday = append(opt.Byweekday, rruleWeekdays[wd])
		}
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return r, nil
}

// monthlySteps yields dtstart + k*interval calendar months for k = 0, 1, ...
// up to until (unbounded when zero). A day missing from the target month is
// clamped to its last day; each step is taken from dtstart so a clamped month
// does not pull later steps down.
func monthlySteps(dtstart time.Time, interval int, until time.Time) func() (time.Time, bool) {
	k := 0
	return func() (time.Time, bool) {
		t := addMonths(dtstart, k*interval)
		if !until.IsZero() && t.After(until) {
			return time.Time{}, false
		}
		k++
		return t, true
	}
}

// addMonths adds n calendar months to t in t's location, keeping the wall
// clock and clamping the day to the length of the target month.
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	return time.Date(first.Year(), first.Month(), min(d, last), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
