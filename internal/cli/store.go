package cli

import (
	"fmt"
	"strings"

	"github.com/xraph/forwarder/store"
	"github.com/xraph/forwarder/store/memory"
	"github.com/xraph/forwarder/store/mongo"
	"github.com/xraph/forwarder/store/redis"
	"github.com/xraph/forwarder/store/sqlstore"
)

// History backends selectable with --history.
const (
	historyMemory   = "memory"
	historyRedis    = "redis"
	historyMongo    = "mongo"
	historySQLite   = "sqlite"
	historyPostgres = "postgres"
)

// openStore opens the history backend named by kind. dsn is the backend's
// connection string (a redis:// URL, a mongodb:// URI, a SQLite file or a
// PostgreSQL DSN); the memory backend ignores it.
func openStore(kind, dsn string, size int) (store.Store, error) {
	switch strings.ToLower(kind) {
	case historyMemory, "":
		return memory.New(size), nil
	case historyRedis:
		if dsn == "" {
			dsn = "redis://localhost:6379/0"
		}
		return redis.Connect(dsn, size)
	case historyMongo:
		if dsn == "" {
			dsn = "mongodb://localhost:27017"
		}
		return mongo.Connect(dsn, mongo.DefaultDatabase, size)
	case historySQLite:
		if dsn == "" {
			dsn = "hookrelay.db"
		}
		return sqlstore.Open(sqlstore.DriverSQLite, dsn, size)
	case historyPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("--history-dsn is required for %s", historyPostgres)
		}
		return sqlstore.Open(sqlstore.DriverPostgres, dsn, size)
	default:
		return nil, fmt.Errorf("unknown history backend %q (memory, redis, mongo, sqlite, postgres)", kind)
	}
}
