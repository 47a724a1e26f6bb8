// Package worker provides the HTTP service that exposes the daily session store.
package worker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chartsense/internal/config"
	"github.com/thebtf/chartsense/internal/kv"
	"github.com/thebtf/chartsense/internal/protocol"
	"github.com/thebtf/chartsense/internal/providers"
	"github.com/thebtf/chartsense/internal/sessions"
	"github.com/thebtf/chartsense/internal/worker/auth"
	"github.com/thebtf/chartsense/internal/worker/sse"
	"github.com/thebtf/chartsense/internal/worker/ws"
)

// Service is the worker: session store, message dispatcher, HTTP API and event streams.
type Service struct {
	version        string
	config         *config.Config
	backend        kv.Store
	store          *sessions.Store
	providers      *providers.Registry
	dispatcher     *protocol.Dispatcher
	sseBroadcaster *sse.Broadcaster
	wsHub          *ws.Hub
	verifier       *auth.Verifier
	router         *chi.Mux
	server         *http.Server

	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
	ready     atomic.Bool
}

// Option customises a Service.
type Option func(*sessions.Config)

// WithClock overrides the session store clock.
func WithClock(clock sessions.Clock) Option {
	return func(c *sessions.Config) { c.Clock = clock }
}

// NewService wires a service over backend. The service owns backend and closes it on Shutdown.
func NewService(version string, cfg *config.Config, backend kv.Store, registry *providers.Registry, opts ...Option) *Service {
	if registry == nil {
		registry = providers.NewRegistry(providers.Builtin())
	}

	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		config:         cfg,
		backend:        backend,
		providers:      registry,
		sseBroadcaster: sse.NewBroadcaster(),
		wsHub:          ws.NewHub(),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}

	storeCfg := sessions.Config{
		MaxSessionsPerDay: cfg.MaxSessionsPerDay,
		MaxDaysToKeep:     cfg.MaxDaysToKeep,
		Location:          cfg.Location(),
		OnEvent:           svc.publish,
	}
	for _, opt := range opts {
		opt(&storeCfg)
	}

	svc.store = sessions.NewStore(backend, storeCfg)
	svc.dispatcher = protocol.NewDispatcher(svc.store, registry, storeCfg.Location)
	if cfg.AuthSecret != "" {
		svc.verifier = auth.NewVerifier([]byte(cfg.AuthSecret))
	}

	svc.setupRoutes()

	// Built up front so Shutdown always has a server to stop, even before Start runs.
	svc.server = &http.Server{
		Addr:              cfg.WorkerAddr(),
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the service, which releases streaming handlers on shutdown.
		BaseContext: func(net.Listener) context.Context { return svc.ctx },
	}
	return svc
}

// Store returns the session store.
func (s *Service) Store() *sessions.Store {
	return s.store
}

// Handler returns the HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Init runs the start-up retention pass and marks the service ready.
func (s *Service) Init(ctx context.Context) error {
	result, err := s.store.Init(ctx)
	if err != nil {
		return err
	}
	if result != nil {
		log.Info().
			Str("date", result.ClearedToday).
			Str("cutoff", result.Cutoff).
			Strs("removed", result.Removed).
			Msg("First start today, retention applied")
	}

	s.ready.Store(true)
	return nil
}

// RetentionJob is the scheduled midnight sweep.
func (s *Service) RetentionJob(ctx context.Context) error {
	result, err := s.store.RunRetention(ctx)
	if err != nil {
		return err
	}
	log.Info().
		Str("cutoff", result.Cutoff).
		Strs("removed", result.Removed).
		Msg("Daily retention completed")
	return nil
}

// publish forwards store events to stream subscribers.
func (s *Service) publish(e sessions.Event) {
	s.sseBroadcaster.Broadcast(string(e.Type), e)
	s.wsHub.Broadcast(string(e.Type), e)
}

// Start serves HTTP until Shutdown is called. After Shutdown it returns nil at once.
func (s *Service) Start() error {
	log.Info().
		Str("addr", s.server.Addr).
		Str("backend", s.config.Backend).
		Bool("auth", s.verifier != nil).
		Msg("Worker listening")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server, disconnects streams and closes the backend.
func (s *Service) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	s.cancel()
	s.wsHub.CloseAll()

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
