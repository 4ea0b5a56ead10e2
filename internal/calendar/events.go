package calendar

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	appLog "coachcal/internal/log"
	"coachcal/internal/model"
	"coachcal/internal/recurrence"
)

// Create validates spec, stores a new event and indexes it under its
// organizer and participants. When spec carries a recurrence rule other
// than "none" the series is materialized with the new event as its base.
// The base event is returned.
func (e *Engine) Create(ctx context.Context, spec EventSpec) (*model.Event, error) {
	ev := spec.event()
	if err := e.normalize(ev); err != nil {
		return nil, err
	}

	var rule *model.RecurrenceRule
	if r := spec.Recurrence; r != nil && r.Kind != "" && r.Kind != model.RecurNone {
		if err := recurrence.Validate(*r); err != nil {
			return nil, invalid("%v", err)
		}
		rule = r.Clone()
		if rule.GroupID == "" {
			rule.GroupID = uuid.NewString()
		}
		ev.RecurrenceGroupID = rule.GroupID
	}

	ev.ID = uuid.NewString()
	ev.CreatedAt = e.stamp()
	ev.UpdatedAt = ev.CreatedAt

	if rule == nil {
		e.eventsMu.Lock()
		defer e.eventsMu.Unlock()
		e.events[ev.ID] = ev
		e.reindex(nil, ev)
		if err := e.saveEventsLocked(ctx); err != nil {
			return nil, err
		}
		appLog.Debug("calendar: event created", "id", ev.ID, "organizer", ev.OrganizerID)
		return ev.Clone(), nil
	}

	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	e.events[ev.ID] = ev
	e.reindex(nil, ev)
	if _, err := e.materializeLocked(ctx, ev, rule); err != nil {
		return nil, err
	}
	return e.events[ev.ID].Clone(), nil
}

// Get returns a copy of the event.
func (e *Engine) Get(id string) (*model.Event, error) {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	ev, ok := e.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	return ev.Clone(), nil
}

// Update merges the non-nil fields of patch into the event, re-checks its
// invariants and refreshes UpdatedAt. Recurrence is left untouched.
func (e *Engine) Update(ctx context.Context, id string, patch EventPatch) (*model.Event, error) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	prev, ok := e.events[id]
	if !ok {
		return nil, notFound("event", id)
	}
	next := prev.Clone()
	patch.apply(next)
	if err := e.normalize(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = e.stamp()
	e.events[id] = next
	if patch.changesParties() {
		e.reindex(prev, next)
	}
	if err := e.saveEventsLocked(ctx); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete removes the event together with its attendance, notes, reminders
// and, for a base event, its recurrence rule. With cascadeRecurring every
// other event of the same recurrence group is removed the same way; members
// already gone are skipped.
func (e *Engine) Delete(ctx context.Context, id string, cascadeRecurring bool) error {
	unlock := e.lockSeries()
	defer unlock()

	ev, ok := e.events[id]
	if !ok {
		return notFound("event", id)
	}
	victims := []string{id}
	if cascadeRecurring && ev.RecurrenceGroupID != "" {
		victims = append(victims, e.groupMembersLocked(ev.RecurrenceGroupID, id)...)
	}
	touched := e.deleteLocked(victims)
	appLog.Debug("calendar: events deleted", "id", id, "cascade", cascadeRecurring, "count", len(victims))
	return e.saveTouchedLocked(ctx, touched)
}

// AddParticipant appends userID to the event's participants.
func (e *Engine) AddParticipant(ctx context.Context, eventID, userID string) (*model.Event, error) {
	if userID == "" {
		return nil, invalid("user id is required")
	}
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	prev, ok := e.events[eventID]
	if !ok {
		return nil, notFound("event", eventID)
	}
	if prev.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: %s in event %s", ErrAlreadyParticipant, userID, eventID)
	}
	if prev.MaxParticipants != nil && len(prev.Participants) >= *prev.MaxParticipants {
		return nil, fmt.Errorf("%w: cap of %d reached", ErrEventFull, *prev.MaxParticipants)
	}
	next := prev.Clone()
	next.Participants = append(next.Participants, userID)
	next.UpdatedAt = e.stamp()
	e.events[eventID] = next
	e.reindex(prev, next)
	if err := e.saveEventsLocked(ctx); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// RemoveParticipant drops userID from the event. Removing someone who is
// not a participant is a no-op.
func (e *Engine) RemoveParticipant(ctx context.Context, eventID, userID string) (*model.Event, error) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	prev, ok := e.events[eventID]
	if !ok {
		return nil, notFound("event", eventID)
	}
	if !prev.HasParticipant(userID) {
		return prev.Clone(), nil
	}
	next := prev.Clone()
	next.Participants = slices.DeleteFunc(next.Participants, func(p string) bool { return p == userID })
	next.UpdatedAt = e.stamp()
	e.events[eventID] = next
	e.reindex(prev, next)
	if err := e.saveEventsLocked(ctx); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// lockSeries takes the write locks of every table an event owns, in order.
func (e *Engine) lockSeries() func() {
	e.eventsMu.Lock()
	e.rulesMu.Lock()
	e.ledgerMu.Lock()
	e.remindersMu.Lock()
	return func() {
		e.remindersMu.Unlock()
		e.ledgerMu.Unlock()
		e.rulesMu.Unlock()
		e.eventsMu.Unlock()
	}
}

// groupMembersLocked lists the events of group other than except, bounded by
// the series cap.
func (e *Engine) groupMembersLocked(group, except string) []string {
	var out []string
	for id, ev := range e.events {
		if id == except || ev.RecurrenceGroupID != group {
			continue
		}
		if len(out) >= e.maxSeries {
			appLog.Warn("calendar: recurrence group exceeds series cap", "group", group, "cap", e.maxSeries)
			break
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

type touchedTables struct {
	events, rules, attendance, notes, reminders bool
}

// deleteLocked removes ids and everything keyed by them. Unknown ids are
// ignored. Caller holds lockSeries.
func (e *Engine) deleteLocked(ids []string) touchedTables {
	var t touchedTables
	for _, id := range ids {
		ev, ok := e.events[id]
		if !ok {
			continue
		}
		delete(e.events, id)
		e.reindex(ev, nil)
		t.events = true
		if _, ok := e.rules[id]; ok {
			delete(e.rules, id)
			t.rules = true
		}
		if _, ok := e.attendance[id]; ok {
			delete(e.attendance, id)
			t.attendance = true
		}
		if _, ok := e.notes[id]; ok {
			delete(e.notes, id)
			t.notes = true
		}
		if _, ok := e.reminders[id]; ok {
			delete(e.reminders, id)
			t.reminders = true
		}
	}
	return t
}

func (e *Engine) saveTouchedLocked(ctx context.Context, t touchedTables) error {
	var errs []error
	if t.events {
		errs = append(errs, e.saveEventsLocked(ctx))
	}
	if t.rules {
		errs = append(errs, e.saveRulesLocked(ctx))
	}
	if t.attendance {
		errs = append(errs, e.saveAttendanceLocked(ctx))
	}
	if t.notes {
		errs = append(errs, e.saveNotesLocked(ctx))
	}
	if t.reminders {
		errs = append(errs, e.saveRemindersLocked(ctx))
	}
	return errors.Join(errs...)
}
