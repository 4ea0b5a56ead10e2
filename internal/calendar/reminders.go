package calendar

import (
	"context"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"coachcal/internal/model"
	"coachcal/internal/storage"
)

// SetReminders replaces the event's reminder configuration.
func (e *Engine) SetReminders(ctx context.Context, eventID string, reminders []model.Reminder) (*model.ReminderConfig, error) {
	for i, r := range reminders {
		if !r.Channel.Valid() {
			return nil, invalid("reminder %d: unknown channel %q", i, r.Channel)
		}
		if r.MinutesBefore < 0 {
			return nil, invalid("reminder %d: minutes before must not be negative", i)
		}
	}

	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	if _, ok := e.events[eventID]; !ok {
		return nil, notFound("event", eventID)
	}

	e.remindersMu.Lock()
	defer e.remindersMu.Unlock()

	cfg := &model.ReminderConfig{EventID: eventID, UpdatedAt: e.stamp()}
	for _, r := range reminders {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.Recipients = slices.Clone(r.Recipients)
		cfg.Reminders = append(cfg.Reminders, r)
	}
	e.reminders[eventID] = cfg
	if err := e.saveRemindersLocked(ctx); err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// GetReminders returns the event's reminder configuration.
func (e *Engine) GetReminders(eventID string) (*model.ReminderConfig, bool) {
	e.remindersMu.RLock()
	defer e.remindersMu.RUnlock()
	cfg, ok := e.reminders[eventID]
	return cfg.Clone(), ok
}

// DueReminders returns every active reminder whose fire time lies in
// [from, to], sorted by fire time. Nothing is sent or marked.
func (e *Engine) DueReminders(from, to time.Time) ([]model.DueReminder, error) {
	if to.Before(from) {
		return nil, invalid("window end %s before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}

	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	e.remindersMu.RLock()
	defer e.remindersMu.RUnlock()

	out := []model.DueReminder{}
	for eventID, cfg := range e.reminders {
		ev, ok := e.events[eventID]
		if !ok {
			continue
		}
		for _, r := range cfg.Reminders {
			if !r.Active {
				continue
			}
			at := r.FireAt(ev.Start)
			if at.Before(from) || at.After(to) {
				continue
			}
			r.Recipients = slices.Clone(r.Recipients)
			out = append(out, model.DueReminder{
				EventID:    ev.ID,
				EventTitle: ev.Title,
				EventStart: ev.Start,
				Reminder:   r,
				FireAt:     at,
			})
		}
	}
	slices.SortFunc(out, func(a, b model.DueReminder) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.EventID, b.EventID); c != 0 {
			return c
		}
		return strings.Compare(a.Reminder.ID, b.Reminder.ID)
	})
	return out, nil
}

func (e *Engine) saveRemindersLocked(ctx context.Context) error {
	cfgs := make([]model.ReminderConfig, 0, len(e.reminders))
	for _, id := range slices.Sorted(maps.Keys(e.reminders)) {
		cfgs = append(cfgs, *e.reminders[id])
	}
	return save(ctx, e, storage.CollectionReminders, cfgs)
}
