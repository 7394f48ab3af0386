package store

import (
	"context"
	"strings"
)

// Open picks the backend from the DSN scheme: postgres:// and postgresql://
// go to PostgreSQL, anything else is handed to SQLite.
func Open(ctx context.Context, dsn string) (Store, error) {
	if IsPostgres(dsn) {
		return NewPostgresStore(ctx, dsn)
	}
	return NewSQLiteStore(ctx, dsn)
}

// IsPostgres reports whether dsn names a PostgreSQL database.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
