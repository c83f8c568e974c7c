package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/caption-engine/internal/config"
	"github.com/snarg/caption-engine/internal/metrics"
)

// ServerOptions collects the handlers' dependencies. Runs and OpenAPI are
// optional; their routes are only mounted when set.
type ServerOptions struct {
	Runner    Runner
	Jobs      JobSource
	Artifacts ArtifactReader
	Runs      RunLister
	Health    *HealthHandler
	OpenAPI   []byte
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, opts ServerOptions, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer)
	if cfg.MetricsEnabled {
		r.Use(metrics.InstrumentHandler)
		r.Handle("/metrics", promhttp.Handler())
	}

	// Captioning trigger
	tr := NewTranscribeHandler(opts.Runner)
	r.Get("/", tr.ServeHTTP)
	r.Get("/transcribe", tr.ServeHTTP)

	// Operator API
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", opts.Health.ServeHTTP)
		NewJobsHandler(opts.Jobs, opts.Artifacts).Routes(r)
		if opts.Runs != nil {
			NewRunsHandler(opts.Runs).Routes(r)
		}
		if len(opts.OpenAPI) > 0 {
			spec := opts.OpenAPI
			r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/yaml")
				w.Write(spec)
			})
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
		log: log,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

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
