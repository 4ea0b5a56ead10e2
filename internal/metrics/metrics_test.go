package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/events/{eventID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/events/{eventID}"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/events/{eventID}"))
	assert.Equal(t, before+1, after)
}

func TestObserveStorageCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(storageErrorsTotal.WithLabelValues("memory", "save"))
	ObserveStorage("memory", "save", "events")(nil)
	ObserveStorage("memory", "save", "events")(errors.New("disk full"))
	after := testutil.ToFloat64(storageErrorsTotal.WithLabelValues("memory", "save"))
	assert.Equal(t, before+1, after)
}

func TestReminderDispatched(t *testing.T) {
	ReminderDispatched("log", "push", nil)
	assert.GreaterOrEqual(t, testutil.ToFloat64(remindersDispatched.WithLabelValues("log", "push", "ok")), 1.0)
}
