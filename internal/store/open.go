package store

import (
	"context"
	"fmt"

	"offresync/sync-service/internal/db"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// OpenConfig selects and sizes the backing database.
type OpenConfig struct {
	Driver      string
	DatabaseURL string
	MaxConns    int
	ViaBouncer  bool
	SQLitePath  string
}

// Open connects the configured Store and applies its schema. The returned
// func releases the connection.
func Open(ctx context.Context, cfg OpenConfig) (Store, func(), error) {
	var (
		s     Store
		release func()
	)
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxConns, cfg.ViaBouncer)
		if err != nil {
			return nil, nil, err
		}
		s, release = NewPostgres(pool), pool.Close
	case DriverSQLite:
		sdb, err := db.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		s, release = NewSQLite(sdb), func() { sdb.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}

	if err := s.EnsureSchema(ctx); err != nil {
		release()
		return nil, nil, err
	}
	return s, release, nil
}
