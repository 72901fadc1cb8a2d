package ops

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	logx "jobmill/pkg/logx"
)

func newRouter(cfg Config, deps Deps, log logx.Logger) http.Handler {
	h := &handler{deps: deps, log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(log))
	r.Use(requireToken(cfg.Token))

	r.Get("/healthz", h.health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", h.stats)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", h.jobs)
			r.Get("/{id}", h.job)
		})
		r.Get("/schedules", h.schedules)
		r.Get("/archive", h.archive)
		r.Get("/alerts", h.alerts)
	})

	if cfg.Pprof {
		r.Mount("/debug", chimw.Profiler())
	}

	return r
}
