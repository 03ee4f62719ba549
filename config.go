package forwarder

import "time"

// Config holds the configuration for a Forwarder instance.
type Config struct {
	// Concurrency bounds the in-flight deliveries of a single dispatch.
	Concurrency int

	// RequestTimeout is the default HTTP timeout per delivery. Targets may
	// override it.
	RequestTimeout time.Duration

	// Async acknowledges inbound webhooks before fan-out completes.
	Async bool

	// AnnotateRoute attaches _route metadata to dispatched events.
	AnnotateRoute bool

	// ShutdownTimeout is the maximum time to wait for in-flight dispatches on
	// shutdown.
	ShutdownTimeout time.Duration

	// ReloadDebounce coalesces bursts of config file events when watching.
	ReloadDebounce time.Duration

	// AllowedOrigins are the CORS origins of the admin API.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     16,
		RequestTimeout:  5 * time.Second,
		Async:           true,
		AnnotateRoute:   true,
		ShutdownTimeout: 30 * time.Second,
		ReloadDebounce:  500 * time.Millisecond,
		AllowedOrigins:  []string{"*"},
	}
}
