// Package store defines the persistence contract for dispatch history.
//
// Backends live in sub-packages: memory, redis, mongo and sqlstore
// (SQLite or PostgreSQL through GORM).
package store

import (
	"context"

	"github.com/xraph/forwarder/history"
)

// Store is a history.Store with a lifecycle.
type Store interface {
	history.Store

	// Migrate prepares the backend (tables, capped collections).
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}
