package forwarder

import "errors"

// Sentinel errors returned by Forwarder operations.
var (
	// ErrNoStore is returned when a Forwarder is created without a history store.
	ErrNoStore = errors.New("forwarder: store is required")

	// ErrNoRegistry is returned when a Forwarder is created without a registry.
	ErrNoRegistry = errors.New("forwarder: registry is required")

	// ErrNoConfigFile is returned by Reload when the Forwarder was not
	// created from a config file.
	ErrNoConfigFile = errors.New("forwarder: no config file")

	// ErrStoreClosed is returned when a history operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("forwarder: store is closed")

	// ErrMigrationFailed is returned when a history backend cannot be prepared.
	ErrMigrationFailed = errors.New("forwarder: migration failed")
)
