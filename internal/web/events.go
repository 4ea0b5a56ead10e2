package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"coachcal/internal/calendar"
	"coachcal/internal/model"
)

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var spec calendar.EventSpec
	if !decodeJSON(w, r, &spec) {
		return
	}
	ev, err := s.engine.Create(r.Context(), spec)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// handleQueryRange serves GET /api/events?from=&to=[&user=&kind=&status=].
func (s *Server) handleQueryRange(w http.ResponseWriter, r *http.Request) {
	rng, err := queryRange(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	f, err := rangeFilter(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	evs, err := s.engine.QueryRange(rng.Start, rng.End, f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleToday(w http.ResponseWriter, r *http.Request) {
	f, err := rangeFilter(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	evs, err := s.engine.Today(f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

// handleUpcoming serves GET /api/events/upcoming?days=7.
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntDefault(r.URL.Query().Get("days"), 7)
	if err != nil {
		badRequest(w, "days: %v", err)
		return
	}
	f, err := rangeFilter(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	evs, err := s.engine.Upcoming(days, f)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.Get(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch calendar.EventPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	ev, err := s.engine.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleDeleteEvent serves DELETE /api/events/{id}?cascade=true.
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	cascade := false
	if v := r.URL.Query().Get("cascade"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(w, "cascade: %v", err)
			return
		}
		cascade = b
	}
	if err := s.engine.Delete(r.Context(), chi.URLParam(r, "id"), cascade); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	ev, err := s.engine.AddParticipant(r.Context(), chi.URLParam(r, "id"), body.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	ev, err := s.engine.RemoveParticipant(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleGetRecurrence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rule, ok := s.engine.GetRecurrence(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no recurrence rule for event "+id)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleSetRecurrence(w http.ResponseWriter, r *http.Request) {
	var rule model.RecurrenceRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	evs, err := s.engine.SetRecurrence(r.Context(), chi.URLParam(r, "id"), rule)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(evs))
}

func (s *Server) handleGenerateSeries(w http.ResponseWriter, r *http.Request) {
	var rule model.RecurrenceRule
	if !decodeJSON(w, r, &rule) {
		return
	}
	evs, err := s.engine.GenerateSeries(r.Context(), chi.URLParam(r, "id"), rule)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, nonNil(evs))
}

func (s *Server) handleUpdateSeries(w http.ResponseWriter, r *http.Request) {
	var patch calendar.EventPatch
	if !decodeJSON(w, r, &patch) {
		return
	}
	evs, err := s.engine.UpdateSeries(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.engine.Series(chi.URLParam(r, "groupID"))))
}

// handleUserEvents serves GET /api/users/{userID}/events
// ?kind=&status=&from=&to=&sport=.
func (s *Server) handleUserEvents(w http.ResponseWriter, r *http.Request) {
	kind, status, err := queryKindStatus(r)
	if err != nil {
		badRequest(w, "%v", err)
		return
	}
	f := calendar.UserFilter{Kind: kind, Status: status, Sport: r.URL.Query().Get("sport")}
	if f.From, _, err = queryTime(r, "from"); err != nil {
		badRequest(w, "%v", err)
		return
	}
	if f.To, _, err = queryTime(r, "to"); err != nil {
		badRequest(w, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.engine.QueryByUser(chi.URLParam(r, "userID"), f)))
}

// nonNil keeps empty lists as [] rather than null on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
