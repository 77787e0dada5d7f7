package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/store"
)

// ============================================================================
// POSTGRESQL SUPPORT (Production)
// ============================================================================
// PostgreSQL hosts the analytics schema in production. The agent only ever
// reads from it: every statement runs inside a READ ONLY transaction with a
// local statement_timeout, so even a statement that slipped past the checker
// cannot mutate persisted state.
//
// The pgvector extension is optional and only needed when the vector
// backend is "pgvector".
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Analytics queries are short and concurrent across sessions; connections
	// are acquired per statement and never held across an agent run.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		slog.Error("failed to ping database", "error", err)
		return nil, errors.Wrap(err, "failed to ping database")
	}

	var driver store.Driver = &DB{
		db:      db,
		profile: profile,
	}
	return driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (*DB) Dialect() string {
	return "postgresql"
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
