// Package redis persists dispatch history in a trimmed Redis sorted set.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/store"
)

// DefaultKey is the sorted set that holds serialized records.
const DefaultKey = "hookrelay:history"

// compile-time interface check
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a single Redis sorted set scored by the
// record's arrival sequence. The set is trimmed to capacity in the same
// transaction as each add, so the earliest arrivals are evicted first.
type Store struct {
	rdb      goredis.UniversalClient
	key      string
	capacity int
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the sorted set key.
func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

// New creates a store on an existing client.
func New(rdb goredis.UniversalClient, capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	s := &Store{rdb: rdb, key: DefaultKey, capacity: capacity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect parses a redis:// URL and returns a store.
func Connect(url string, capacity int, opts ...Option) (*Store, error) {
	ropts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("forwarder/redis: parse url: %w", err)
	}
	return New(goredis.NewClient(ropts), capacity, opts...), nil
}

// Migrate is a no-op for Redis (no schema migrations needed).
func (s *Store) Migrate(_ context.Context) error {
	return nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Append adds rec and trims the set.
func (s *Store) Append(ctx context.Context, rec *history.Record) error {
	rec.EnsureSeq()
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, s.key, goredis.Z{Score: float64(rec.Seq), Member: raw})
	pipe.ZRemRangeByRank(ctx, s.key, 0, trimStop(s.capacity))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("forwarder/redis: append: %w", err)
	}
	return nil
}

// List returns up to limit records, latest arrival first.
func (s *Store) List(ctx context.Context, limit int) ([]*history.Record, error) {
	vals, err := s.rdb.ZRevRange(ctx, s.key, 0, stopIndex(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("forwarder/redis: list: %w", err)
	}

	out := make([]*history.Record, 0, len(vals))
	for _, v := range vals {
		rec, err := decodeRecord(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// trimStop is the ZREMRANGEBYRANK stop rank that leaves the capacity
// highest-scored members.
func trimStop(capacity int) int64 {
	return int64(-capacity - 1)
}

// stopIndex maps a List limit onto a ZREVRANGE stop index.
func stopIndex(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit - 1)
}

func encodeRecord(rec *history.Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("forwarder/redis: encode record: %w", err)
	}
	return raw, nil
}

func decodeRecord(v string) (*history.Record, error) {
	var rec history.Record
	if err := json.Unmarshal([]byte(v), &rec); err != nil {
		return nil, fmt.Errorf("forwarder/redis: decode record: %w", err)
	}
	return &rec, nil
}
