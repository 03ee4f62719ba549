// Package memory provides an in-memory history store. Records are lost on
// restart.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/history"
	fwstore "github.com/xraph/forwarder/store"
)

// compile-time interface check.
var _ fwstore.Store = (*Store)(nil)

// Store keeps the most recent records ordered by ascending Seq.
type Store struct {
	mu       sync.RWMutex
	records  []*history.Record
	capacity int
	closed   bool
}

// New creates a store retaining up to capacity records. capacity <= 0 uses
// history.DefaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	return &Store{
		records:  make([]*history.Record, 0, capacity),
		capacity: capacity,
	}
}

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return forwarder.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Append stores rec at its arrival position, evicting the earliest arrival
// when full. A record older than everything retained in a full store is
// dropped.
func (s *Store) Append(_ context.Context, rec *history.Record) error {
	rec.EnsureSeq()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return forwarder.ErrStoreClosed
	}

	i, _ := slices.BinarySearchFunc(s.records, rec.Seq, func(r *history.Record, seq int64) int {
		return cmp.Compare(r.Seq, seq)
	})
	if len(s.records) == s.capacity {
		if i == 0 {
			return nil
		}
		s.records = slices.Delete(s.records, 0, 1)
		i--
	}
	s.records = slices.Insert(s.records, i, rec)
	return nil
}

// List returns up to limit records, newest first.
func (s *Store) List(_ context.Context, limit int) ([]*history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, forwarder.ErrStoreClosed
	}

	n := len(s.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*history.Record, 0, n)
	for i := len(s.records) - 1; len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out, nil
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
