// Package worker provides the HTTP merge service for smallmerge.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/smallmerge/internal/config"
	"github.com/thebtf/smallmerge/internal/consolidation"
	"github.com/thebtf/smallmerge/internal/db/gorm"
	"github.com/thebtf/smallmerge/internal/runner"
	"github.com/thebtf/smallmerge/internal/worker/sse"
)

// Options configures a Service.
type Options struct {
	Version string
	// Runs stores run history. Nil disables the /api/runs routes.
	Runs *gorm.RunStore
	// Tracer receives merge decisions. Nil disables tracing.
	Tracer      consolidation.Tracer
	Meter       metric.Meter
	MaxParallel int
}

// Service serves merge requests over HTTP.
type Service struct {
	version        string
	runs           *gorm.RunStore
	runner         *runner.Runner
	sseBroadcaster *sse.Broadcaster
	router         chi.Router
	server         *http.Server

	// mergeOptions supplies the defaults for each request; read at call time
	// so configuration reloads apply to the next merge.
	mergeOptions func() consolidation.Options

	// logLevel is the global level before any trace settings raised it.
	logLevel zerolog.Level

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// NewService creates the service and its routes. It does not listen until Start.
func NewService(opts Options) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        opts.Version,
		runs:           opts.Runs,
		sseBroadcaster: sse.NewBroadcaster(),
		router:         chi.NewRouter(),
		mergeOptions:   func() consolidation.Options { return config.Get().MergeOptions() },
		logLevel:       zerolog.GlobalLevel(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	rcfg := runner.Config{
		Tracer:      opts.Tracer,
		Meter:       opts.Meter,
		MaxParallel: opts.MaxParallel,
		OnReport: func(r *runner.Report) {
			svc.sseBroadcaster.Publish(sse.EventRunComplete, r)
		},
	}
	if opts.Runs != nil {
		rcfg.Recorder = opts.Runs
	}
	r, err := runner.New(rcfg)
	if err != nil {
		cancel()
		return nil, err
	}
	svc.runner = r

	svc.setupRoutes()
	return svc, nil
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger)

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/version", s.handleVersion)
	s.router.Get("/api/ready", s.handleReady)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/merge", s.handleMerge)
		r.Get("/api/stats", s.handleStats)
		r.Get("/api/events", s.sseBroadcaster.HandleSSE)

		r.Route("/api/runs", func(r chi.Router) {
			r.Use(s.requireHistory)
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
			r.Delete("/{id}", s.handleDeleteRun)
		})
	})
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Runner returns the runner used for merge requests.
func (s *Service) Runner() *runner.Runner {
	return s.runner
}

// Start listens on addr and serves in the background.
func (s *Service) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server stopped")
		}
	}()

	s.ready.Store(true)
	log.Info().Str("addr", ln.Addr().String()).Str("version", s.version).Msg("Merge service listening")
	return nil
}

// Shutdown ends open event streams and stops the server.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// ReloadConfig re-reads the settings file. Subsequent merges use the new thresholds and
// trace switches.
func (s *Service) ReloadConfig() {
	cfg, err := config.Reload()
	if err != nil {
		log.Error().Err(err).Msg("Config reload failed, keeping previous settings")
		return
	}
	s.ApplyTracing(cfg)

	opts := cfg.MergeOptions()
	log.Info().
		Float64("ratio", opts.SimilarityThreshold).
		Int("pithy", opts.MinimumOutputSize).
		Bool("traceSubsets", cfg.DebugSubsets).
		Bool("traceMerges", cfg.DebugMerges).
		Msg("Config reloaded")
	s.sseBroadcaster.Publish(sse.EventConfig, opts)
}

// ApplyTracing rebuilds the merge tracer from the trace switches. Trace lines are logged at
// debug level, so the global level is lowered to debug while either switch is on.
func (s *Service) ApplyTracing(cfg *config.Config) {
	tracer := consolidation.NewLogTracer(log.Logger, cfg.DebugSubsets, cfg.DebugMerges)
	s.runner.SetTracer(tracer)
	if tracer != nil && s.logLevel > zerolog.DebugLevel {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(s.logLevel)
	}
}

func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) requireHistory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.runs == nil {
			writeError(w, http.StatusServiceUnavailable, "run history disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
