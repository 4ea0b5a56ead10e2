package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcal_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"method", "route"})

	httpErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcal_http_errors_total",
		Help: "Total number of HTTP requests resulting in server errors.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coachcal_http_request_duration_seconds",
		Help:    "Histogram of latencies for HTTP requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	storageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coachcal_storage_latency_seconds",
		Help:    "Histogram of persistence backend operation latencies.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "operation", "collection"})

	storageErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcal_storage_errors_total",
		Help: "Total number of failed persistence backend operations.",
	}, []string{"backend", "operation"})

	remindersDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coachcal_reminders_dispatched_total",
		Help: "Total number of due reminders handed to a sink.",
	}, []string{"sink", "channel", "result"})

	eventsStored = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coachcal_events_stored",
		Help: "Number of events currently held in the event table.",
	})
)

// Middleware records request metrics labelled by the chi route pattern.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			// The pattern is only complete after routing has happened.
			route := routePattern(r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			statusCode := strconv.Itoa(status)

			httpRequestsTotal.WithLabelValues(r.Method, route).Inc()
			httpRequestDuration.WithLabelValues(r.Method, route, statusCode).Observe(time.Since(start).Seconds())
			if status >= http.StatusInternalServerError {
				httpErrorsTotal.WithLabelValues(r.Method, route, statusCode).Inc()
			}
		})
	}
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStorage returns a func that records the latency (and failure) of a
// backend operation when called with the operation's error.
//
//	done := metrics.ObserveStorage("file", "save", "events")
//	err := write()
//	done(err)
func ObserveStorage(backend, operation, collection string) func(error) {
	start := time.Now()
	return func(err error) {
		storageLatency.WithLabelValues(backend, operation, collection).Observe(time.Since(start).Seconds())
		if err != nil {
			storageErrorsTotal.WithLabelValues(backend, operation).Inc()
		}
	}
}

// ReminderDispatched counts a reminder handed to a sink.
func ReminderDispatched(sink, channel string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	remindersDispatched.WithLabelValues(sink, channel, result).Inc()
}

// SetEventsStored updates the stored events gauge.
func SetEventsStored(n int) {
	eventsStored.Set(float64(n))
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := strings.TrimSpace(rctx.RoutePattern()); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
