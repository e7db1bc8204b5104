package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	AllowedOrigins     []string
	RateLimitPerMinute int
}

// NewRouter mounts the booking endpoints under /api.
func NewRouter(h *Handler, opts RouterOptions, logger *zerolog.Logger) http.Handler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(CORS(opts.AllowedOrigins))
	if opts.RateLimitPerMinute > 0 {
		r.Use(RateLimit(opts.RateLimitPerMinute))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/availability", h.Availability)
		r.Post("/sessions", h.CreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Post("/refresh", h.Refresh)
			r.Post("/date", h.SelectDate)
			r.Post("/time", h.SelectTime)
			r.Post("/contact", h.SubmitContact)
			r.Post("/qualification", h.SubmitQualification)
			r.Post("/budget", h.SetBudget)
			r.Post("/back", h.Back)
			r.Post("/forward", h.Forward)
			r.Post("/submit", h.Submit)
		})
	})
	return r
}
