/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zerolog access log with request-scoped logger
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus latency by route pattern
  5. CORS:       Cross-origin requests for frontend
  6. RateLimit:  Per-IP limit on write requests (httprate)

ROUTE GROUPS:
  /healthz, /metrics          Operations
  /api/public/*               Dashboards, no token required
  /api/rooms                  Active rooms, no token required
  /api/reservations/*         Bearer token
  /api/notifications          Bearer token
  /api/admin/*                Bearer token with role admin

SEE ALSO:
  - handlers.go: Handler implementations
  - auth/auth.go: Token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/warp/roombook/auth"
	"github.com/warp/roombook/logging"
	"github.com/warp/roombook/metrics"
)

// RouterOptions carries the HTTP-level knobs from config.
type RouterOptions struct {
	CORSOrigins []string
	RateLimit   int
	RateWindow  time.Duration
	Logger      *zerolog.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, authn *auth.Authenticator, opts RouterOptions) *chi.Mux {
	logger := logging.WithComponent("http")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.HTTP())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(writesOnly(rateLimit(opts.RateLimit, opts.RateWindow)))

		r.Get("/rooms", h.ListRooms)

		r.Route("/public/dashboard", func(r chi.Router) {
			r.Get("/weekly", h.PublicWeekly)
			r.Get("/monthly", h.PublicMonthly)
		})

		r.Group(func(r chi.Router) {
			r.Use(authn.Middleware(writeFailure))

			r.Route("/reservations", func(r chi.Router) {
				r.Get("/", h.ListReservations)
				r.Post("/", h.CreateReservation)
				r.Patch("/{id}", h.ModifyReservation)
				r.Delete("/{id}", h.CancelReservation)
			})

			r.Get("/notifications", h.ListNotifications)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireAdmin(writeFailure))

				r.Get("/reservations", h.AdminReservations)
				r.Post("/reservations/{id}/approve", h.ApproveReservation)
				r.Post("/reservations/{id}/reject", h.RejectReservation)
				r.Get("/pending-changes", h.PendingChanges)

				r.Get("/settings/reservation", h.GetPolicy)
				r.Patch("/settings/reservation", h.UpdatePolicy)

				r.Get("/users", h.ListUsers)
				r.Patch("/users/{id}", h.UpdateUser)

				r.Get("/dashboard/weekly", h.AdminWeekly)
			})
		})
	})

	return r
}
