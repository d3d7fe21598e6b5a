package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// NewSQLite opens a SQLite database for local runs and tests. path may be
// ":memory:". The handle is pinned to one connection: an in-memory database
// only exists on its connection, and the pragmas below are per connection.
func NewSQLite(ctx context.Context, path string) (*sql.DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sql.Open(sqlite, %q): %w", path, err)
	}
	sdb.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sdb.ExecContext(ctx, pragma); err != nil {
			sdb.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return sdb, nil
}
