package ics

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"coachcal/internal/calendar"
	appLog "coachcal/internal/log"
	"coachcal/internal/model"
	"coachcal/internal/recurrence"
)

const defaultImportHorizon = 365 * 24 * time.Hour

// ImportConfig controls how parsed VEVENTs become calendar events.
type ImportConfig struct {
	Source Source
	// UserID organizes every imported event.
	UserID string
	// Location is used for floating times and all-day dates. If nil, UTC.
	Location *time.Location
	// Horizon bounds the expansion of RRULEs the engine cannot represent.
	// If zero, one year from the event's start.
	Horizon time.Duration
	// MaxInstances caps one expanded RRULE. If zero,
	// recurrence.MaxSeriesInstances is used.
	MaxInstances int
}

// Plan turns parsed VEVENTs into event specs:
//
//   - single events map one to one
//   - RRULEs the engine can walk (plain DAILY, WEEKLY with BYDAY, MONTHLY)
//     become a base spec carrying a recurrence rule, EXDATEs as exceptions
//   - other RRULEs are expanded here into single events within the horizon
//   - RECURRENCE-ID overrides are imported as standalone events and the
//     instance they replace is dropped from the series
func Plan(events []ParsedEvent, cfg ImportConfig) []calendar.EventSpec {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = defaultImportHorizon
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = recurrence.MaxSeriesInstances
	}

	// Group base events and overrides by UID.
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	var uids []string
	for _, ev := range events {
		if _, seen := baseByUID[ev.UID]; !seen {
			if _, seen := overridesByUID[ev.UID]; !seen {
				uids = append(uids, ev.UID)
			}
		}
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	specs := make([]calendar.EventSpec, 0, len(events))
	for _, uid := range uids {
		ov := overridesByUID[uid]
		for _, ev := range baseByUID[uid] {
			specs = append(specs, planEvent(ev, ov, cfg)...)
		}
		for _, o := range ov {
			s := specFor(o, cfg)
			s.ExternalRef = instanceRef(o, *o.Recurrence)
			specs = append(specs, s)
		}
	}
	return specs
}

func planEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ImportConfig) []calendar.EventSpec {
	spec := specFor(ev, cfg)
	if ev.RawRRule == "" {
		return []calendar.EventSpec{spec}
	}

	loc := zoneFor(ev, cfg)
	if rule, ok := mapRule(ev.RawRRule, ev.Start.In(loc), loc); ok {
		for _, ex := range ev.ExDates {
			rule.Exceptions = append(rule.Exceptions, model.DateOf(ex.In(loc)))
		}
		for _, o := range overrides {
			rule.Exceptions = append(rule.Exceptions, model.DateOf(o.Recurrence.In(loc)))
		}
		spec.Recurrence = rule
		return []calendar.EventSpec{spec}
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

// expandRecurringEvent materializes an RRULE the engine cannot represent
// into independent events.
func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ImportConfig) []calendar.EventSpec {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics import: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil
	}
	start := ev.Start
	if ev.AllDay {
		start = model.DateOf(ev.Start).In(zoneFor(ev, cfg))
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(start.Location()))
	}

	occTimes := set.Between(start, start.Add(cfg.Horizon), true)
	if len(occTimes) > cfg.MaxInstances {
		appLog.Error("ics import: truncated occurrences for UID due to cap",
			errors.New("max occurrences reached"),
			"uid", ev.UID,
			"cap", cfg.MaxInstances,
		)
		occTimes = occTimes[:cfg.MaxInstances]
	}

	out := make([]calendar.EventSpec, 0, len(occTimes))
	for _, occStart := range occTimes {
		if hasOverride(overrides, occStart) {
			continue
		}
		s := specFor(ev, cfg)
		shift := occStart.Sub(start)
		s.Start = s.Start.Add(shift)
		if !s.End.IsZero() {
			s.End = s.End.Add(shift)
		}
		if ev.AllDay {
			// Day arithmetic instead of a fixed shift keeps midnights across DST.
			days := daysBetween(start, occStart)
			s.Start = model.DateOf(ev.Start).AddDays(days).In(start.Location())
			if !ev.End.IsZero() {
				s.End = model.DateOf(ev.End).AddDays(days).In(start.Location())
			}
		}
		s.ExternalRef = instanceRef(ev, occStart)
		out = append(out, s)
	}
	return out
}

func hasOverride(overrides []ParsedEvent, start time.Time) bool {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return true
		}
	}
	return false
}

// specFor maps the VEVENT fields onto a spec without recurrence.
func specFor(ev ParsedEvent, cfg ImportConfig) calendar.EventSpec {
	loc := zoneFor(ev, cfg)
	s := calendar.EventSpec{
		Title:       ev.Summary,
		Description: ev.Description,
		Start:       ev.Start,
		End:         ev.End,
		Timezone:    loc.String(),
		AllDay:      ev.AllDay,
		Kind:        model.KindPersonal,
		Status:      model.StatusScheduled,
		OrganizerID: cfg.UserID,
		Tags:        slices.Clone(ev.Categories),
		ExternalRef: cfg.Source.ID + "/" + ev.UID,
		CreatedBy:   "ics:" + cfg.Source.ID,
	}
	if k := model.EventKind(ev.Kind); k.Valid() {
		s.Kind = k
	}
	switch ev.Status {
	case "CANCELLED":
		s.Status = model.StatusCancelled
	case "CONFIRMED":
		s.Status = model.StatusConfirmed
	}
	if ev.Location != "" {
		s.Location = &model.Location{Name: ev.Location}
	}

	if ev.AllDay {
		// Parsed dates sit at UTC midnight; re-anchor them in the target zone.
		s.Start = model.DateOf(ev.Start).In(loc)
		if !ev.End.IsZero() {
			s.End = model.DateOf(ev.End).In(loc)
		}
	} else if !ev.End.After(ev.Start) {
		s.End = ev.Start.Add(time.Hour)
	}
	return s
}

func zoneFor(ev ParsedEvent, cfg ImportConfig) *time.Location {
	if ev.StartTZ != "" {
		if loc, err := time.LoadLocation(ev.StartTZ); err == nil {
			return loc
		}
	}
	if cfg.Location != nil {
		return cfg.Location
	}
	return time.UTC
}

func instanceRef(ev ParsedEvent, start time.Time) string {
	return ev.Source.ID + "/" + ev.UID + "@" + start.UTC().Format("20060102T150405Z")
}

func daysBetween(a, b time.Time) int {
	da, db := model.DateOf(a), model.DateOf(b)
	return int(db.In(time.UTC).Sub(da.In(time.UTC)) / (24 * time.Hour))
}

// mapRule converts an RRULE into an engine rule when the engine's walk
// produces exactly the same dates. Anything with BYSETPOS, BYMONTH,
// ordinal BYDAY (2MO) and the like is reported as unsupported, as is a
// MONTHLY rule starting after the 28th: RFC 5545 skips the months lacking
// that day while the engine clamps to the month end.
func mapRule(raw string, start time.Time, loc *time.Location) (*model.RecurrenceRule, bool) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, false
	}
	if len(opt.Bysetpos) > 0 || len(opt.Bymonth) > 0 || len(opt.Byyearday) > 0 ||
		len(opt.Byweekno) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 ||
		len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 || len(opt.Bymonthday) > 0 {
		return nil, false
	}
	if opt.Count > recurrence.MaxSeriesInstances {
		return nil, false
	}

	rule := &model.RecurrenceRule{Interval: max(opt.Interval, 1), Occurrences: opt.Count}
	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) > 0 {
			return nil, false
		}
		rule.Kind = model.RecurDaily
	case rrule.WEEKLY:
		rule.Kind = model.RecurWeekly
		for _, wd := range opt.Byweekday {
			if wd.N() != 0 {
				return nil, false
			}
			// rrule-go numbers weekdays from Monday.
			rule.Weekdays = append(rule.Weekdays, time.Weekday((wd.Day()+1)%7))
		}
		if len(rule.Weekdays) > 0 {
			rule.Kind = model.RecurCustom
		}
	case rrule.MONTHLY:
		if len(opt.Byweekday) > 0 || start.Day() > 28 {
			return nil, false
		}
		rule.Kind = model.RecurMonthly
	default:
		return nil, false
	}
	if !opt.Until.IsZero() {
		d := model.DateOf(opt.Until.In(loc))
		rule.EndDate = &d
	}
	return rule, true
}

// importRefPrefix is shared by every event imported from src.
func importRefPrefix(src Source) string {
	return src.ID + "/"
}

func hasImportRef(ev *model.Event, src Source) bool {
	return strings.HasPrefix(ev.ExternalRef, importRefPrefix(src))
}
