// Package httpapi is the read surface: token listings for the UI,
// operational health endpoints, the settings editor and the prometheus
// scrape target.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/health"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/scheduler"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/settings"
	"github.com/super-sh1z01d/To-The-Moon-sub000/internal/storage"
)

// Options tune the API surface.
type Options struct {
	// StaleAgeFactor scales the hot interval into the stale-token
	// threshold reported on /health/scheduler.
	StaleAgeFactor int
	// MaxPageSize caps the limit query parameter.
	MaxPageSize int
}

func (o Options) withDefaults() Options {
	if o.StaleAgeFactor <= 0 {
		o.StaleAgeFactor = 3
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 500
	}
	return o
}

// Server wires the handlers to their collaborators.
type Server struct {
	repo      storage.TokenRepository
	settings  *settings.Store
	monitor   *health.Monitor
	scheduler *scheduler.Scheduler
	opts      Options
	log       zerolog.Logger
	startedAt time.Time
}

func New(repo storage.TokenRepository, st *settings.Store, monitor *health.Monitor, sched *scheduler.Scheduler, opts Options, log zerolog.Logger) *Server {
	return &Server{
		repo:      repo,
		settings:  st,
		monitor:   monitor,
		scheduler: sched,
		opts:      opts.withDefaults(),
		log:       log.With().Str("component", "httpapi").Logger(),
		startedAt: time.Now(),
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/tokens", s.handleListTokens)
	r.Get("/tokens/{mint}", s.handleGetToken)
	r.Get("/health", s.handleHealth)
	r.Get("/health/scheduler", s.handleSchedulerHealth)
	r.Get("/settings", s.handleListSettings)
	r.Put("/settings/{key}", s.handlePutSetting)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// requestLog emits one debug line per request.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
