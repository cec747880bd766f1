package extension

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/payledger"
	"github.com/xraph/payledger/store"
	boltstore "github.com/xraph/payledger/store/bolt"
	"github.com/xraph/payledger/store/memory"
	mongostore "github.com/xraph/payledger/store/mongo"
	pgstore "github.com/xraph/payledger/store/postgres"
	redisstore "github.com/xraph/payledger/store/redis"
	sqlitestore "github.com/xraph/payledger/store/sqlite"
)

// Store drivers accepted in payledger.StoreConfig.Driver.
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

// defaultFilePath is used by the file-backed drivers when no DSN is set.
const defaultFilePath = "payledger.db"

// OpenStore opens the backend named by cfg.Driver. For bolt and sqlite the
// DSN is a file path; for postgres a connection string; for mongo a URI.
func OpenStore(ctx context.Context, cfg payledger.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return memory.New(), nil
	case DriverBolt:
		return openAs(boltstore.Open(pathOrDefault(cfg.DSN)))
	case DriverSQLite:
		return openAs(sqlitestore.Open(ctx, pathOrDefault(cfg.DSN)))
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, payledger.ValidationError{Field: "store.dsn", Message: "is required for postgres"}
		}
		return openAs(pgstore.Open(ctx, cfg.DSN))
	case DriverMongo:
		if cfg.DSN == "" {
			return nil, payledger.ValidationError{Field: "store.dsn", Message: "is required for mongo"}
		}
		return openAs(mongostore.Open(ctx, cfg.DSN, cfg.Database))
	default:
		return nil, payledger.ValidationError{
			Field:   "store.driver",
			Message: fmt.Sprintf("unknown driver %q", cfg.Driver),
		}
	}
}

// StoreFromGrove builds the store matching db's driver. The returned
// store does not close db; its owner does.
func StoreFromGrove(db *grove.DB) (store.Store, error) {
	switch db.Driver().(type) {
	case *pgdriver.PgDB:
		return borrowedStore{pgstore.New(db)}, nil
	case *sqlitedriver.SqliteDB:
		return borrowedStore{sqlitestore.New(db)}, nil
	case *mongodriver.MongoDB:
		return borrowedStore{mongostore.New(db)}, nil
	default:
		return nil, payledger.ValidationError{
			Field:   "grove_database",
			Message: fmt.Sprintf("unsupported grove driver %q", db.Driver().Name()),
		}
	}
}

// borrowedStore leaves closing the grove DB to the extension that opened it.
type borrowedStore struct {
	store.Store
}

func (borrowedStore) Close() error { return nil }

// openAs converts a concrete store into the aggregate port without letting
// a typed nil escape on error.
func openAs[S store.Store](s S, err error) (store.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenEventLog connects the Redis event log when cfg.Addr is set. It
// returns nil when Redis is not configured.
func OpenEventLog(ctx context.Context, cfg payledger.RedisConfig) (*redisstore.Store, error) {
	if cfg.Addr == "" {
		return nil, nil //nolint:nilnil // redis is optional
	}
	return redisstore.Open(ctx, cfg.Addr, cfg.Password, cfg.DB)
}

func pathOrDefault(dsn string) string {
	if dsn == "" {
		return defaultFilePath
	}
	return dsn
}
