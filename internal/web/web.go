package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"coachcal/internal/calendar"
	"coachcal/internal/config"
	"coachcal/internal/ics"
	appLog "coachcal/internal/log"
	"coachcal/internal/metrics"
	"coachcal/internal/model"
)

const maxBodyBytes = 1 << 20

// Server maps HTTP routes onto the calendar engine, one route per operation.
type Server struct {
	cfg    *config.Config
	engine *calendar.Engine
	// syncer is optional; without it /api/subscriptions/refresh is 404.
	syncer *ics.Syncer
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, engine *calendar.Engine, syncer *ics.Syncer) *Server {
	s := &Server{cfg: cfg, engine: engine, syncer: syncer}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	limiter := newIPRateLimiter(rate.Limit(s.cfg.RateLimit.RPS), s.cfg.RateLimit.Burst, 5*time.Minute)

	r.Route("/api", func(r chi.Router) {
		r.Use(limiter.middleware)

		r.Post("/events", s.handleCreateEvent)
		r.Get("/events", s.handleQueryRange)
		r.Get("/events/today", s.handleToday)
		r.Get("/events/upcoming", s.handleUpcoming)

		r.Route("/events/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetEvent)
			r.Patch("/", s.handleUpdateEvent)
			r.Delete("/", s.handleDeleteEvent)

			r.Post("/participants", s.handleAddParticipant)
			r.Delete("/participants/{userID}", s.handleRemoveParticipant)

			r.Get("/recurrence", s.handleGetRecurrence)
			r.Put("/recurrence", s.handleSetRecurrence)
			r.Post("/series", s.handleGenerateSeries)
			r.Patch("/series", s.handleUpdateSeries)

			r.Get("/attendance", s.handleGetAttendance)
			r.Put("/attendance", s.handleSetAttendance)
			r.Get("/notes", s.handleGetNotes)
			r.Post("/notes", s.handleAddNote)
			r.Get("/reminders", s.handleGetReminders)
			r.Put("/reminders", s.handleSetReminders)
		})

		r.Get("/series/{groupID}", s.handleSeries)
		r.Get("/reminders/due", s.handleDueReminders)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/events", s.handleUserEvents)
			r.Get("/availability", s.handleGetAvailability)
			r.Put("/availability", s.handleSetAvailability)
			r.Get("/free", s.handleFreeSlots)
			r.Get("/calendar.ics", s.handleExport)
			r.Post("/import", s.handleImport)
		})

		r.Post("/subscriptions/refresh", s.handleRefreshSubscriptions)
		r.Post("/index/rebuild", s.handleRebuildIndex)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// errorStatus maps engine sentinels onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, calendar.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, calendar.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrAlreadyParticipant), errors.Is(err, calendar.ErrEventFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and
// hidden from the client.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		appLog.Error("request failed", err, "method", r.Method, "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func badRequest(w http.ResponseWriter, format string, args ...any) {
	writeError(w, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		badRequest(w, "invalid JSON body: %v", err)
		return false
	}
	return true
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, key string) (time.Time, bool, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: expected RFC 3339 time, got %q", key, v)
	}
	return t, true, nil
}

// queryRange reads the mandatory from/to pair.
func queryRange(r *http.Request) (model.TimeRange, error) {
	from, okFrom, err := queryTime(r, "from")
	if err != nil {
		return model.TimeRange{}, err
	}
	to, okTo, err := queryTime(r, "to")
	if err != nil {
		return model.TimeRange{}, err
	}
	if !okFrom || !okTo {
		return model.TimeRange{}, errors.New("from and to are required")
	}
	return model.TimeRange{Start: from, End: to}, nil
}

func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func queryKindStatus(r *http.Request) (model.EventKind, model.EventStatus, error) {
	q := r.URL.Query()
	kind := model.EventKind(q.Get("kind"))
	if kind != "" && !kind.Valid() {
		return "", "", fmt.Errorf("unknown kind %q", kind)
	}
	status := model.EventStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		return "", "", fmt.Errorf("unknown status %q", status)
	}
	return kind, status, nil
}

func rangeFilter(r *http.Request) (calendar.RangeFilter, error) {
	kind, status, err := queryKindStatus(r)
	if err != nil {
		return calendar.RangeFilter{}, err
	}
	return calendar.RangeFilter{UserID: r.URL.Query().Get("user"), Kind: kind, Status: status}, nil
}
