package ics

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"coachcal/internal/calendar"
	appLog "coachcal/internal/log"
	"coachcal/internal/model"
)

// Store is the part of the calendar engine an import writes through.
type Store interface {
	Create(ctx context.Context, spec calendar.EventSpec) (*model.Event, error)
	Update(ctx context.Context, id string, patch calendar.EventPatch) (*model.Event, error)
	UpdateSeries(ctx context.Context, id string, patch calendar.EventPatch) ([]*model.Event, error)
	Delete(ctx context.Context, id string, cascadeRecurring bool) error
	QueryByUser(userID string, f calendar.UserFilter) []*model.Event
	GetRecurrence(baseID string) (*model.RecurrenceRule, bool)
	SetRecurrence(ctx context.Context, baseID string, rule model.RecurrenceRule) ([]*model.Event, error)
}

// importMu serializes imports: matching on ExternalRef is a read followed
// by writes and must not interleave with another import.
var importMu sync.Mutex

// ImportResult summarizes one import run.
type ImportResult struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
}

// Import syncs cfg.UserID's calendar with the planned events of one source.
// Events are matched on ExternalRef: a match is updated in place and keeps
// its id (and with it attendance, notes and reminders), a new ref is
// created, and a previously imported ref missing from the feed is deleted
// with its series. Series instances are regenerated only when the rule or
// the base timing changed.
//
// Specs the engine rejects are skipped and logged; any other failure stops
// the run, leaving the changes made so far in place.
func Import(ctx context.Context, store Store, events []ParsedEvent, cfg ImportConfig) (ImportResult, error) {
	var res ImportResult
	if cfg.UserID == "" {
		return res, fmt.Errorf("%w: import needs a user", calendar.ErrInvalidSpec)
	}
	if cfg.Source.ID == "" {
		return res, fmt.Errorf("%w: import needs a source id", calendar.ErrInvalidSpec)
	}

	specs := Plan(events, cfg)

	importMu.Lock()
	defer importMu.Unlock()

	existing := make(map[string]*model.Event)
	var stale []*model.Event
	for _, ev := range store.QueryByUser(cfg.UserID, calendar.UserFilter{}) {
		if ev.OrganizerID != cfg.UserID || ev.ParentEventID != "" || !hasImportRef(ev, cfg.Source) {
			continue
		}
		if _, dup := existing[ev.ExternalRef]; dup {
			stale = append(stale, ev)
			continue
		}
		existing[ev.ExternalRef] = ev
	}

	for _, spec := range specs {
		cur, ok := existing[spec.ExternalRef]
		if !ok {
			if _, err := store.Create(ctx, spec); err != nil {
				if skip(&res, spec, err) {
					continue
				}
				return res, err
			}
			res.Created++
			continue
		}
		delete(existing, spec.ExternalRef)

		changed, err := syncEvent(ctx, store, cur, spec)
		if err != nil {
			if skip(&res, spec, err) {
				continue
			}
			return res, err
		}
		if changed {
			res.Updated++
		} else {
			res.Unchanged++
		}
	}

	for _, ev := range existing {
		stale = append(stale, ev)
	}
	for _, ev := range stale {
		err := store.Delete(ctx, ev.ID, true)
		switch {
		case err == nil:
			res.Deleted++
		case errors.Is(err, calendar.ErrNotFound):
		default:
			return res, err
		}
	}

	appLog.Info("ics import completed",
		"source", cfg.Source.ID,
		"user", cfg.UserID,
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"deleted", res.Deleted,
		"skipped", res.Skipped,
	)
	return res, nil
}

func skip(res *ImportResult, spec calendar.EventSpec, err error) bool {
	if !errors.Is(err, calendar.ErrInvalidSpec) {
		return false
	}
	res.Skipped++
	appLog.Warn("ics import: event skipped", "ref", spec.ExternalRef, "reason", err.Error())
	return true
}

// syncEvent brings cur in line with spec and reports whether anything was
// written.
func syncEvent(ctx context.Context, store Store, cur *model.Event, spec calendar.EventSpec) (bool, error) {
	patch, timing := diff(cur, spec)

	want := spec.Recurrence
	if want != nil && (want.Kind == "" || want.Kind == model.RecurNone) {
		want = nil
	}
	have, _ := store.GetRecurrence(cur.ID)
	ruleChanged := !sameRule(have, want)

	if patch == (calendar.EventPatch{}) && !ruleChanged {
		return false, nil
	}

	// Non-timing changes to an intact series go to every member.
	if cur.RecurrenceGroupID != "" && !timing && !ruleChanged {
		_, err := store.UpdateSeries(ctx, cur.ID, patch)
		return true, err
	}

	if patch != (calendar.EventPatch{}) {
		if _, err := store.Update(ctx, cur.ID, patch); err != nil {
			return false, err
		}
	}
	if ruleChanged || (cur.RecurrenceGroupID != "" && timing) {
		rule := model.RecurrenceRule{Kind: model.RecurNone}
		if want != nil {
			rule = *want.Clone()
		}
		if _, err := store.SetRecurrence(ctx, cur.ID, rule); err != nil {
			return true, err
		}
	}
	return true, nil
}

// diff returns the patch turning cur into spec for the fields an import
// owns, and whether start, end or zone are part of it.
func diff(cur *model.Event, spec calendar.EventSpec) (calendar.EventPatch, bool) {
	var p calendar.EventPatch
	if cur.Title != spec.Title {
		p.Title = &spec.Title
	}
	if cur.Description != spec.Description {
		p.Description = &spec.Description
	}
	if !cur.Start.Equal(spec.Start) {
		p.Start = &spec.Start
	}
	// A missing all-day end is filled in by the engine.
	if !spec.End.IsZero() && !cur.End.Equal(spec.End) {
		p.End = &spec.End
	}
	if cur.Timezone != spec.Timezone {
		p.Timezone = &spec.Timezone
	}
	if cur.AllDay != spec.AllDay {
		p.AllDay = &spec.AllDay
	}
	if cur.Kind != spec.Kind {
		p.Kind = &spec.Kind
	}
	if cur.Status != spec.Status {
		p.Status = &spec.Status
	}
	var haveLoc, wantLoc model.Location
	if cur.Location != nil {
		haveLoc = *cur.Location
	}
	if spec.Location != nil {
		wantLoc = *spec.Location
	}
	if !reflect.DeepEqual(haveLoc, wantLoc) {
		p.Location = &wantLoc
	}
	if !slices.Equal(cur.Tags, spec.Tags) {
		tags := slices.Clone(spec.Tags)
		p.Tags = &tags
	}
	timing := p.Start != nil || p.End != nil || p.Timezone != nil || p.AllDay != nil
	return p, timing
}

// sameRule compares the parts of two rules that shape a series; ids the
// engine assigns are ignored. Nil means no rule.
func sameRule(a, b *model.RecurrenceRule) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Kind == b.Kind &&
		max(a.Interval, 1) == max(b.Interval, 1) &&
		a.Occurrences == b.Occurrences &&
		sameDate(a.EndDate, b.EndDate) &&
		slices.Equal(a.Weekdays, b.Weekdays) &&
		slices.Equal(a.Exceptions, b.Exceptions)
}

func sameDate(a, b *model.Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
