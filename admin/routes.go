package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes registers the admin API routes under /admin using chi.
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Route("/mesh", func(r chi.Router) {
		r.Get("/status", handlers.handleMeshStatus)
		r.Get("/health", handlers.handleMeshHealth)
		r.Get("/sites/{hsid}", handlers.handleSiteLookup)
	})

	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("admin endpoints enabled at /admin/mesh/*")
}
