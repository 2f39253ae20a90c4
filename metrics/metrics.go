// Package metrics holds the Prometheus collectors for roombook.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeConflict   = "conflict"
	OutcomeNotFound   = "not_found"
	OutcomeForbidden  = "forbidden"
	OutcomeTransient  = "transient"
	OutcomeError      = "error"
	OutcomeDropped    = "dropped"
)

var (
	// Admissions counts every coordinator operation by result.
	Admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roombook_admissions_total",
		Help: "Reservation operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// AdmissionDuration covers lock wait, transaction and commit.
	AdmissionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roombook_admission_duration_seconds",
		Help:    "Reservation operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// LockWait is the time spent acquiring the per-room lock.
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roombook_room_lock_wait_seconds",
		Help:    "Time spent waiting for the per-room lock",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"backend"})

	// Notifications counts post-commit deliveries.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roombook_notifications_total",
		Help: "Notification deliveries by sink and outcome",
	}, []string{"sink", "outcome"})

	// NotificationQueueDepth is the dispatcher backlog.
	NotificationQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roombook_notification_queue_depth",
		Help: "Notifications waiting for delivery",
	})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roombook_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roombook_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	})
)

// HTTP records request metrics labelled by chi route pattern.
func HTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			// route pattern keeps label cardinality bounded
			path := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					path = pattern
				}
			}
			httpRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
