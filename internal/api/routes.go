package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/convoflow/internal/metrics"
)

// RouteOptions carries the per-deployment router settings.
type RouteOptions struct {
	AllowedOrigins []string
	// InboundToken, when set, must be presented as a bearer token on
	// POST /api/inbound.
	InboundToken string
}

// SetupRoutes configures all API routes. hc and m may be nil.
func SetupRoutes(h *Handlers, hc *HealthChecker, m *metrics.Metrics, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	if m != nil {
		r.Use(m.Middleware)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/executions", func(r chi.Router) {
			r.Get("/", h.ListExecutions)
			r.Post("/", h.StartExecution)
			r.Get("/{id}", h.GetExecution)
			r.Post("/{id}/pause", h.PauseExecution)
			r.Post("/{id}/resume", h.ResumeExecution)
			r.Post("/{id}/complete", h.CompleteExecution)
			r.Post("/{id}/rematch", h.RematchExecution)
		})

		r.With(bearerToken(opts.InboundToken)).Post("/inbound", h.Inbound)

		r.Post("/intent/classify", h.Classify)
		r.Post("/reply", h.Reply)
		r.Get("/usage", h.Usage)

		r.Get("/accounts", h.ListAccounts)
		r.Put("/accounts/{id}/status", h.UpdateAccountStatus)
	})

	return r
}

// bearerToken rejects requests without the expected token. An empty token
// disables the check.
func bearerToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
