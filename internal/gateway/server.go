package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter assembles the gateway routes. Every request that matches no
// declared route is offered to the webhook registry, so webhook paths stay
// dynamic while the fixed endpoints keep chi's routing.
func (m *Module) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	r.Get("/health", m.handleHealth())
	r.Get("/metrics", metricsHandler())

	r.Group(func(r chi.Router) {
		if m.config.Auth.IsConfigured() {
			r.Use(authMiddleware(m.config.Auth))
		}
		r.Get("/status", m.handleStatus())
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		if m.registry.Handle(w, req) {
			return
		}
		http.NotFound(w, req)
	})

	return r
}
