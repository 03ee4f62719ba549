package forwarder

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xraph/forwarder/dispatch"
	"github.com/xraph/forwarder/registry"
	"github.com/xraph/forwarder/store"
)

// Option configures a Forwarder instance.
type Option func(*Forwarder) error

// WithStore sets the history backend.
func WithStore(s store.Store) Option {
	return func(f *Forwarder) error {
		f.store = s
		return nil
	}
}

// WithRegistry serves targets, routes and templates from reg.
func WithRegistry(reg *registry.Registry) Option {
	return func(f *Forwarder) error {
		f.registry = reg
		return nil
	}
}

// WithConfigFile loads targets, routes and templates from path. When watch
// is set the file is reloaded on change after Start.
func WithConfigFile(path string, watch bool) Option {
	return func(f *Forwarder) error {
		f.configPath = path
		f.watch = watch
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) error {
		f.logger = logger
		return nil
	}
}

// WithConcurrency bounds the in-flight deliveries of a single dispatch.
func WithConcurrency(n int) Option {
	return func(f *Forwarder) error {
		f.config.Concurrency = n
		return nil
	}
}

// WithRequestTimeout sets the default HTTP timeout per delivery.
func WithRequestTimeout(d time.Duration) Option {
	return func(f *Forwarder) error {
		f.config.RequestTimeout = d
		return nil
	}
}

// WithAsync controls whether inbound webhooks are acknowledged before
// fan-out completes.
func WithAsync(async bool) Option {
	return func(f *Forwarder) error {
		f.config.Async = async
		return nil
	}
}

// WithAnnotateRoute controls the _route metadata on dispatched events.
func WithAnnotateRoute(annotate bool) Option {
	return func(f *Forwarder) error {
		f.config.AnnotateRoute = annotate
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight
// dispatches on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(f *Forwarder) error {
		f.config.ShutdownTimeout = d
		return nil
	}
}

// WithReloadDebounce sets the debounce window of the config file watcher.
func WithReloadDebounce(d time.Duration) Option {
	return func(f *Forwarder) error {
		f.config.ReloadDebounce = d
		return nil
	}
}

// WithAllowedOrigins sets the CORS origins of the admin API.
func WithAllowedOrigins(origins ...string) Option {
	return func(f *Forwarder) error {
		f.config.AllowedOrigins = origins
		return nil
	}
}

// WithMetrics registers Prometheus instruments with reg and serves it at
// /metrics.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(f *Forwarder) error {
		f.promRegistry = reg
		return nil
	}
}

// WithTracing enables OpenTelemetry spans for dispatches and deliveries.
func WithTracing() Option {
	return func(f *Forwarder) error {
		f.tracing = true
		return nil
	}
}

// WithDispatchOptions passes options through to the dispatcher.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(f *Forwarder) error {
		f.dispatchOpts = append(f.dispatchOpts, opts...)
		return nil
	}
}
