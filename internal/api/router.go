package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// HealthCheck reports a dependency as unhealthy by returning an error.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	AllowedOrigins []string
	Metrics        http.Handler
	Checks         map[string]HealthCheck
	RequestTimeout time.Duration
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout == 0 {
		// adding an item renders a page, which may take the full navigation timeout
		cfg.RequestTimeout = 2 * time.Minute
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost:*", "https://localhost:*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health(cfg.Checks))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.AddItem)
			r.Get("/{id}", h.GetItem)
			r.Delete("/{id}", h.DeleteItem)
			r.Put("/{id}/target", h.SetTarget)
		})
		r.Put("/me/telegram", h.LinkTelegram)
	})

	return r
}

func (h *Handlers) health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		result := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}

		body := map[string]interface{}{"status": "ok", "checks": result}
		if status != http.StatusOK {
			body["status"] = "error"
		}
		h.respondJSON(w, status, body)
	}
}
