package calendar

import (
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"

	"coachcal/internal/model"
	"coachcal/internal/storage"
)

// SetAttendance replaces the event's attendance record with entries, all
// stamped with one recording time.
func (e *Engine) SetAttendance(ctx context.Context, eventID, recordedBy string, entries []model.AttendanceEntry) (*model.AttendanceRecord, error) {
	for i, en := range entries {
		if en.UserID == "" {
			return nil, invalid("attendance entry %d: user id is required", i)
		}
		if !en.Status.Valid() {
			return nil, invalid("attendance entry %d: unknown status %q", i, en.Status)
		}
		if en.CheckIn != nil && en.CheckOut != nil && en.CheckOut.Before(*en.CheckIn) {
			return nil, invalid("attendance entry %d: check-out before check-in", i)
		}
	}

	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	if _, ok := e.events[eventID]; !ok {
		return nil, notFound("event", eventID)
	}

	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	now := e.stamp()
	rec := &model.AttendanceRecord{
		EventID:    eventID,
		Entries:    make([]model.AttendanceEntry, 0, len(entries)),
		RecordedBy: recordedBy,
		RecordedAt: now,
	}
	for _, en := range entries {
		if en.RecordedBy == "" {
			en.RecordedBy = recordedBy
		}
		en.RecordedAt = now
		rec.Entries = append(rec.Entries, en)
	}
	e.attendance[eventID] = rec
	if err := e.saveAttendanceLocked(ctx); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// GetAttendance returns the event's record. A missing record is not an
// error: most events have not happened yet.
func (e *Engine) GetAttendance(eventID string) (*model.AttendanceRecord, bool) {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()
	rec, ok := e.attendance[eventID]
	return rec.Clone(), ok
}

// NoteSpec is the caller-supplied part of a note.
type NoteSpec struct {
	Content  string   `json:"content"`
	AuthorID string   `json:"author_id"`
	Private  bool     `json:"private,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// AddNote appends a note to the event.
func (e *Engine) AddNote(ctx context.Context, eventID string, spec NoteSpec) (*model.Note, error) {
	if spec.Content == "" {
		return nil, invalid("note content is required")
	}
	if spec.AuthorID == "" {
		return nil, invalid("note author is required")
	}

	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()
	if _, ok := e.events[eventID]; !ok {
		return nil, notFound("event", eventID)
	}

	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	n := model.Note{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Content:   spec.Content,
		AuthorID:  spec.AuthorID,
		Private:   spec.Private,
		Tags:      slices.Clone(spec.Tags),
		CreatedAt: e.stamp(),
	}
	e.notes[eventID] = append(e.notes[eventID], n)
	if err := e.saveNotesLocked(ctx); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetNotes returns the event's notes in append order, leaving out private
// notes not authored by requestingUserID. An empty requester sees public
// notes only.
func (e *Engine) GetNotes(eventID, requestingUserID string) []model.Note {
	e.ledgerMu.RLock()
	defer e.ledgerMu.RUnlock()
	out := []model.Note{}
	for _, n := range e.notes[eventID] {
		if n.VisibleTo(requestingUserID) {
			n.Tags = slices.Clone(n.Tags)
			out = append(out, n)
		}
	}
	return out
}

func (e *Engine) saveAttendanceLocked(ctx context.Context) error {
	recs := make([]model.AttendanceRecord, 0, len(e.attendance))
	for _, id := range slices.Sorted(maps.Keys(e.attendance)) {
		recs = append(recs, *e.attendance[id])
	}
	return save(ctx, e, storage.CollectionAttendance, recs)
}

// saveNotesLocked writes notes flat; per-event append order survives a reload.
func (e *Engine) saveNotesLocked(ctx context.Context) error {
	var notes []model.Note
	for _, id := range slices.Sorted(maps.Keys(e.notes)) {
		notes = append(notes, e.notes[id]...)
	}
	return save(ctx, e, storage.CollectionNotes, notes)
}
