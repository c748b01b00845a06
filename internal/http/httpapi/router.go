package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"studio/internal/http/handlers"
	"studio/internal/middleware"
)

// NewRouter wires the public surface. staticDir serves locally stored assets
// and is empty when an object storage bucket handles them instead.
func NewRouter(app *handlers.App, staticDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.CORS([]string{"*"}),
		middleware.Logger(app.Logger),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	if staticDir != "" {
		fs := http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir)))
		r.Handle("/static/*", fs)
	}

	r.Group(func(r chi.Router) {
		r.Use(
			middleware.Auth(app.Config.JWTSecret),
			middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
		)

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/images", app.GenerateImage)
			r.Post("/videos", app.GenerateVideo)
			r.Get("/{id}", app.GenerationStatus)
			r.Post("/{id}/cancel", app.CancelGeneration)
		})
		r.Post("/v1/lab/video", app.LabVideo)

		r.Route("/v1/assets", func(r chi.Router) {
			r.Get("/", app.ListAssets)
			r.Get("/{id}", app.GetAsset)
		})
		r.Get("/v1/templates", app.ListTemplates)
		r.Get("/v1/stats/24h", app.Stats24h)
	})

	return r
}
