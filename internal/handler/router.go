package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check probes one dependency for the health endpoint.
type Check func(ctx context.Context) error

// HealthCheck handles GET /health
// Every named check must pass within two seconds for a 200.
func HealthCheck(checks map[string]Check) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "unavailable"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		writeJSON(w, status, body)
	}
}

// NewRouter builds the HTTP API. Event administration and registration
// listings require adminToken as a bearer token.
func NewRouter(h *RegistrationHandler, health http.HandlerFunc, adminToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger)
	r.Use(CORS)

	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{id}", h.GetEvent)
		r.Post("/{id}/registrations", h.Register)

		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(adminToken))
			r.Post("/", h.CreateEvent)
			r.Delete("/{id}", h.DeleteEvent)
			r.Get("/{id}/registrations", h.ListRegistrations)
		})
	})

	r.Route("/registrations/{token}", func(r chi.Router) {
		r.Get("/", h.GetRegistration)
		r.Patch("/", h.Modify)
		r.Delete("/", h.Cancel)
		r.Get("/confirm", h.Confirm)
		r.Post("/confirm", h.Confirm)
	})

	return r
}
