package calendar

import (
	"slices"
	"strings"
	"time"

	"coachcal/internal/model"
)

// UserFilter narrows QueryByUser. Zero values match everything; From and To
// bound the start/end overlap independently.
type UserFilter struct {
	Kind   model.EventKind
	Status model.EventStatus
	From   time.Time
	To     time.Time
	Sport  string
}

// RangeFilter narrows QueryRange and its wrappers.
type RangeFilter struct {
	UserID string
	Kind   model.EventKind
	Status model.EventStatus
}

func (f RangeFilter) match(ev *model.Event) bool {
	if f.UserID != "" && !ev.Involves(f.UserID) {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	return f.Status == "" || ev.Status == f.Status
}

func sortEvents(evs []*model.Event) {
	slices.SortFunc(evs, func(a, b *model.Event) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// QueryByUser returns the events userID organizes or participates in,
// filtered by kind, status, date range and sport, in that order, sorted by
// start.
func (e *Engine) QueryByUser(userID string, f UserFilter) []*model.Event {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()

	out := make([]*model.Event, 0, len(e.index[userID]))
	for id := range e.index[userID] {
		ev, ok := e.events[id]
		if !ok {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		if f.Status != "" && ev.Status != f.Status {
			continue
		}
		if !f.To.IsZero() && ev.Start.After(f.To) {
			continue
		}
		if !f.From.IsZero() && ev.End.Before(f.From) {
			continue
		}
		if f.Sport != "" && !strings.EqualFold(ev.Sport, f.Sport) {
			continue
		}
		out = append(out, ev.Clone())
	}
	sortEvents(out)
	return out
}

// QueryRange returns every event overlapping [from, to], boundaries
// included, sorted by start.
func (e *Engine) QueryRange(from, to time.Time, f RangeFilter) ([]*model.Event, error) {
	if to.Before(from) {
		return nil, invalid("range end %s before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()

	out := []*model.Event{}
	consider := func(ev *model.Event) {
		if ev.Overlaps(from, to) && f.match(ev) {
			out = append(out, ev.Clone())
		}
	}
	if f.UserID != "" {
		for id := range e.index[f.UserID] {
			if ev, ok := e.events[id]; ok {
				consider(ev)
			}
		}
	} else {
		for _, ev := range e.events {
			consider(ev)
		}
	}
	sortEvents(out)
	return out, nil
}

// Today returns the events overlapping the current local day.
func (e *Engine) Today(f RangeFilter) ([]*model.Event, error) {
	start := model.DateOf(e.now().In(e.loc)).In(e.loc)
	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return e.QueryRange(start, end, f)
}

// Upcoming returns events overlapping the span from now to the end of the
// local day daysAhead days from today.
func (e *Engine) Upcoming(daysAhead int, f RangeFilter) ([]*model.Event, error) {
	if daysAhead < 0 {
		return nil, invalid("days ahead must not be negative")
	}
	now := e.now().In(e.loc)
	end := model.DateOf(now).AddDays(daysAhead + 1).In(e.loc).Add(-time.Nanosecond)
	return e.QueryRange(now, end, f)
}
