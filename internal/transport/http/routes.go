package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// our logger (after RequestID)
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", h.StartDownload)
		r.Get("/", h.ListDownloads)
		r.Get("/completed", h.ListCompleted)
		r.Get("/{id}", h.GetDownload)
		r.Post("/{id}/cancel", h.CancelDownload)
		r.Delete("/{id}", h.DeleteDownload)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
