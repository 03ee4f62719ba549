package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/forwarder/api"
	"github.com/xraph/forwarder/dispatch"
	"github.com/xraph/forwarder/observability"
	"github.com/xraph/forwarder/registry"
	"github.com/xraph/forwarder/store"
)

// Forwarder is the root webhook routing and dispatch engine.
type Forwarder struct {
	config       Config
	store        store.Store
	registry     *registry.Registry
	configPath   string
	watch        bool
	promRegistry *prometheus.Registry
	tracing      bool
	dispatchOpts []dispatch.Option
	logger       *slog.Logger

	metrics    *observability.Metrics
	tracer     *observability.Tracer
	dispatcher *dispatch.Dispatcher
	handler    *api.Handler
	watcher    *registry.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Forwarder with the given options. A store is required, as
// is either a registry or a config file.
func New(opts ...Option) (*Forwarder, error) {
	f := &Forwarder{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	if f.store == nil {
		return nil, ErrNoStore
	}
	if f.registry == nil {
		if f.configPath == "" {
			return nil, ErrNoRegistry
		}
		snap, err := loadSnapshot(f.configPath)
		if err != nil {
			return nil, err
		}
		f.registry = registry.New(snap)
	}
	f.wireServices()
	return f, nil
}

func loadSnapshot(path string) (*registry.Snapshot, error) {
	doc, err := registry.Load(path)
	if err != nil {
		return nil, fmt.Errorf("forwarder: load config: %w", err)
	}
	snap, err := registry.NewSnapshot(doc)
	if err != nil {
		return nil, fmt.Errorf("forwarder: load config: %w", err)
	}
	return snap, nil
}

// wireServices initializes the internal services after options have been applied.
func (f *Forwarder) wireServices() {
	if f.promRegistry != nil {
		f.metrics = observability.NewMetrics(f.promRegistry)
		snap := f.registry.Snapshot()
		f.metrics.SetLoaded(len(snap.Targets()), len(snap.Routes()))
	}
	if f.tracing {
		f.tracer = observability.NewTracer()
	}

	f.dispatcher = dispatch.New(f.registry, f.store, dispatch.Config{
		Concurrency:    f.config.Concurrency,
		Async:          f.config.Async,
		RequestTimeout: f.config.RequestTimeout,
		AnnotateRoute:  f.config.AnnotateRoute,
		Metrics:        f.metrics,
		Tracer:         f.tracer,
	}, f.logger, f.dispatchOpts...)

	handlerOpts := []api.HandlerOption{
		api.WithHealthCheck(f.store.Ping),
		api.WithAllowedOrigins(f.config.AllowedOrigins...),
	}
	if f.promRegistry != nil {
		handlerOpts = append(handlerOpts, api.WithMetricsHandler(observability.Handler(f.promRegistry)))
	}
	f.handler = api.NewHandler(f.registry, f.dispatcher, f.store, f.logger, handlerOpts...)

	if f.configPath != "" {
		f.watcher = registry.NewWatcher(f.configPath, f.registry, f.logger, f.config.ReloadDebounce)
		f.watcher.OnReload = f.onReload
		f.watcher.OnError = func(error) { f.metrics.RecordReload(false, 0, 0) }
	}
}

// onReload forgets rate limit buckets of removed targets and updates the
// configuration gauges.
func (f *Forwarder) onReload(snap *registry.Snapshot) {
	keep := make(map[string]struct{}, len(snap.Targets()))
	for _, t := range snap.Targets() {
		keep[t.ID] = struct{}{}
	}
	f.dispatcher.Limiter().Prune(keep)
	f.metrics.RecordReload(true, len(snap.Targets()), len(snap.Routes()))
}

// Start prepares the history store and, when configured, begins watching
// the config file.
func (f *Forwarder) Start(ctx context.Context) error {
	if err := f.store.Migrate(ctx); err != nil {
		if errors.Is(err, ErrMigrationFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}

	if f.watch && f.watcher != nil {
		ctx, f.cancel = context.WithCancel(ctx)
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			if err := f.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				f.logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	snap := f.registry.Snapshot()
	f.logger.InfoContext(ctx, "forwarder started",
		"targets", len(snap.Targets()),
		"routes", len(snap.Routes()),
		"watch", f.watch,
	)
	return nil
}

// Stop stops the watcher, waits up to ShutdownTimeout for detached
// dispatches and closes the store.
func (f *Forwarder) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()

	done := make(chan struct{})
	go func() {
		f.dispatcher.Wait()
		close(done)
	}()

	timer := time.NewTimer(f.config.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		f.logger.Warn("shutdown timeout reached with dispatches in flight")
	case <-ctx.Done():
		f.logger.Warn("shutdown cancelled with dispatches in flight")
	}

	return f.store.Close()
}

// Reload re-reads the config file and publishes it.
func (f *Forwarder) Reload() error {
	if f.watcher == nil {
		return ErrNoConfigFile
	}
	if err := f.watcher.Reload(); err != nil {
		f.metrics.RecordReload(false, 0, 0)
		return err
	}
	return nil
}

// Handler returns the HTTP handler for inbound webhooks and the admin API.
func (f *Forwarder) Handler() http.Handler {
	return f.handler
}

// Dispatcher returns the dispatch coordinator.
func (f *Forwarder) Dispatcher() *dispatch.Dispatcher {
	return f.dispatcher
}

// Registry returns the configuration registry.
func (f *Forwarder) Registry() *registry.Registry {
	return f.registry
}

// Store returns the history store.
func (f *Forwarder) Store() store.Store {
	return f.store
}

// Config returns the effective configuration.
func (f *Forwarder) Config() Config {
	return f.config
}
