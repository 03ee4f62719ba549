// Package sqlstore persists dispatch history in a SQL table through GORM.
// SQLite and PostgreSQL are supported.
package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/store"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// compile-time interface check
var _ store.Store = (*Store)(nil)

// historyRow is one record. The full record is kept as JSON in Body; the
// remaining columns exist for ordering and ad-hoc queries. Rows are ordered
// by ArrivalSeq, not by the insert key.
type historyRow struct {
	Seq        uint64    `gorm:"primaryKey;autoIncrement"`
	ArrivalSeq int64     `gorm:"index"`
	RecordID   string    `gorm:"size:64;uniqueIndex"`
	Timestamp time.Time `gorm:"index"`
	RoutePath string    `gorm:"size:512"`
	Method    string    `gorm:"size:16"`
	Body      string    `gorm:"type:text"`
}

func (historyRow) TableName() string { return "hookrelay_history" }

// Store implements store.Store on a GORM connection.
type Store struct {
	db       *gorm.DB
	capacity int
}

// New wraps an open GORM connection.
func New(db *gorm.DB, capacity int) *Store {
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	return &Store{db: db, capacity: capacity}
}

// Open connects with the named driver.
func Open(driver, dsn string, capacity int) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("forwarder/sqlstore: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("forwarder/sqlstore: open %s: %w", driver, err)
	}
	return New(db, capacity), nil
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// Migrate creates the history table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&historyRow{}); err != nil {
		return fmt.Errorf("%w: sqlstore: %w", forwarder.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append inserts rec and deletes rows beyond capacity in one transaction.
// The rows kept are the capacity latest arrivals.
func (s *Store) Append(ctx context.Context, rec *history.Record) error {
	rec.EnsureSeq()
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("forwarder/sqlstore: encode record: %w", err)
	}

	row := &historyRow{
		ArrivalSeq: rec.Seq,
		RecordID:   rec.ID.String(),
		Timestamp:  rec.Timestamp.UTC(),
		RoutePath:  rec.RoutePath,
		Method:     rec.Method,
		Body:       string(body),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		var edge []int64
		err := tx.Model(&historyRow{}).
			Order("arrival_seq DESC").
			Offset(s.capacity).
			Limit(1).
			Pluck("arrival_seq", &edge).Error
		if err != nil || len(edge) == 0 {
			return err
		}
		return tx.Where("arrival_seq <= ?", edge[0]).Delete(&historyRow{}).Error
	})
	if err != nil {
		return fmt.Errorf("forwarder/sqlstore: append: %w", err)
	}
	return nil
}

// List returns up to limit records, latest arrival first.
func (s *Store) List(ctx context.Context, limit int) ([]*history.Record, error) {
	q := s.db.WithContext(ctx).Order("arrival_seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []historyRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("forwarder/sqlstore: list: %w", err)
	}

	out := make([]*history.Record, 0, len(rows))
	for _, row := range rows {
		var rec history.Record
		if err := json.Unmarshal([]byte(row.Body), &rec); err != nil {
			return nil, fmt.Errorf("forwarder/sqlstore: decode record %s: %w", row.RecordID, err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
