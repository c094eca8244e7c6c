// Package httpapi exposes the client-facing query endpoint: clients send
// messages and poll the bounded message log with a cursor. The endpoint is
// stateless per call — each client remembers the highest sequence it has
// consumed and supplies it on the next poll.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Operative-001/meshchat/internal/node"
)

// NewRouter creates and configures the HTTP router for a node.
func NewRouter(logger zerolog.Logger, n *node.Node) *chi.Mux {
	r := chi.NewRouter()

	r.Use(Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Logger(logger))
	r.Use(chimw.Recoverer)

	// Clients are browsers on the node's own access point; origin is
	// whatever hostname the captive portal handed out.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	h := NewHandler(n)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	r.Post("/send", h.Send)
	r.Get("/poll", h.Poll)

	return r
}

// Serve runs the API on addr until the server fails.
func Serve(addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	return srv.ListenAndServe()
}
