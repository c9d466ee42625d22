package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/stt-compare/internal/compare"
	"github.com/snarg/stt-compare/internal/config"
	"github.com/snarg/stt-compare/internal/metrics"
	"github.com/snarg/stt-compare/internal/mqttclient"
	"github.com/snarg/stt-compare/internal/results"
	"github.com/snarg/stt-compare/internal/watch"
)

// maxConcurrentUploads bounds synchronous comparisons over HTTP. Each one
// holds a connection open for as long as the slowest provider takes.
const maxConcurrentUploads = 4

type ServerOptions struct {
	Config       *config.Config
	Orchestrator *compare.Orchestrator
	Store        results.Store
	Pool         *compare.WorkerPool // optional; enables /jobs
	MQTT         *mqttclient.Client  // optional
	Watcher      *watch.Watcher      // optional
	Publish      compare.PublishFunc // optional; called after a synchronous comparison is saved
	Version      string
	StartTime    time.Time
	Log          zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(CORSWithOrigins(cfg.CORSOriginList()))
	r.Use(metrics.InstrumentHandler)

	// Health and metrics: no auth
	health := NewHealthHandler(opts.Store, opts.MQTT, opts.Pool, opts.Watcher, opts.Orchestrator.Providers(), opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		NewResultsHandler(opts.Store).Routes(r)
		NewReportHandler(opts.Store, opts.Orchestrator.Providers()).Routes(r)

		r.Group(func(r chi.Router) {
			r.Use(MaxInFlight(maxConcurrentUploads))
			NewCompareHandler(opts.Orchestrator, opts.Store, opts.Publish, cfg.MaxUploadBytes, opts.Log).Routes(r)
		})

		if opts.Pool != nil {
			NewJobsHandler(opts.Pool, cfg.AudioDir).Routes(r)
		}
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
