package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes mounts the admin API under /admin using a chi router
func RegisterRoutes(mux *http.ServeMux, handlers *AdminHandlers) {
	r := chi.NewRouter()
	r.Use(AuthMiddleware)

	r.Route("/cursors", func(r chi.Router) {
		r.Get("/", handlers.handleListCursors)
		r.Get("/{id}", handlers.handleGetCursor)
		r.Put("/{id}", handlers.handleSetCursor)
	})

	r.Route("/journal", func(r chi.Router) {
		r.Get("/head", handlers.handleHead)
		r.Post("/transactions", handlers.handleAppend)
	})

	r.Get("/changes", handlers.handleChanges)

	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
