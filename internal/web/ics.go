package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"coachcal/internal/calendar"
	"coachcal/internal/ics"
	appLog "coachcal/internal/log"
)

const maxImportBytes = 10 << 20

// handleExport serves the user's calendar as an ICS feed that other
// calendar apps can subscribe to.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	evs := s.engine.QueryByUser(userID, calendar.UserFilter{})
	body := ics.Export(userID, evs, s.engine.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// handleImport serves POST /api/users/{userID}/import?source=<id> with an
// ICS payload as body. Re-importing the same source updates the events it
// created before in place and removes those no longer in the payload.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sourceID := strings.TrimSpace(r.URL.Query().Get("source"))
	if sourceID == "" {
		sourceID = "upload"
	}
	src := ics.Source{ID: sourceID}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		badRequest(w, "read body: %v", err)
		return
	}
	parsed, err := ics.ParseICS(src, body)
	if err != nil {
		badRequest(w, "invalid ICS payload: %v", err)
		return
	}

	res, err := ics.Import(r.Context(), s.engine, parsed, ics.ImportConfig{
		Source:   src,
		UserID:   userID,
		Location: s.engine.Location(),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefreshSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeError(w, http.StatusNotFound, "no subscriptions configured")
		return
	}
	if err := s.syncer.Refresh(r.Context()); err != nil {
		appLog.Error("manual subscription refresh failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	changed, err := s.engine.RebuildIndex(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"changed": changed})
}
