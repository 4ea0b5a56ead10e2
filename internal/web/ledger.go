package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"coachcal/internal/calendar"
	"coachcal/internal/model"
)

func (s *Server) handleGetAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := s.engine.GetAttendance(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no attendance recorded for event "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetAttendance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecordedBy string                  `json:"recorded_by"`
		Entries    []model.AttendanceEntry `json:"entries"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	rec, err := s.engine.SetAttendance(r.Context(), chi.URLParam(r, "id"), body.RecordedBy, body.Entries)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetNotes serves GET /api/events/{id}/notes?user=; without a user
// only public notes are returned.
func (s *Server) handleGetNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.GetNotes(chi.URLParam(r, "id"), r.URL.Query().Get("user")))
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var spec calendar.NoteSpec
	if !decodeJSON(w, r, &spec) {
		return
	}
	note, err := s.engine.AddNote(r.Context(), chi.URLParam(r, "id"), spec)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleGetReminders(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cfg, ok := s.engine.GetReminders(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no reminders configured for event "+id)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSetReminders(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reminders []model.Reminder `json:"reminders"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	cfg, err := s.engine.SetReminders(r.Context(), chi.URLParam(r, "id"), body.Reminders)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleDueReminders serves GET /api/reminders/due?from=&to= for external
// dispatchers that poll instead of subscribing to the redis channel.
func (s *Server) handleDueReminders(w http.ResponseWriter, r *http.Request) {
	rng, err := queryRange(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	due, err := s.engine.DueReminders(rng.Start, rng.End)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(due))
}

func (s *Server) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	var rng *model.TimeRange
	if r.URL.Query().Has("from") || r.URL.Query().Has("to") {
		parsed, err := queryRange(r)
		if err != nil {
			badRequest(w, "%v", err)
			return
		}
		rng = &parsed
	}
	set, err := s.engine.GetAvailability(chi.URLParam(r, "userID"), rng)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleSetAvailability(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timezone string                   `json:"timezone"`
		Slots    []model.AvailabilitySlot `json:"slots"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	set, err := s.engine.SetAvailability(r.Context(), chi.URLParam(r, "userID"), body.Timezone, body.Slots)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// handleFreeSlots serves GET /api/users/{userID}/free
// ?duration=90m&from=&to=[&exclude=id1,id2].
func (s *Server) handleFreeSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	d, err := time.ParseDuration(q.Get("duration"))
	if err != nil {
		badRequest(w, "duration: %v", err)
		return
	}
	rng, err := queryRange(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	var exclude []string
	for _, id := range strings.Split(q.Get("exclude"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			exclude = append(exclude, id)
		}
	}
	free, err := s.engine.FindAvailableSlots(chi.URLParam(r, "userID"), d, rng, exclude)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, free)
}
