package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/store"
)

// ============================================================================
// SQLITE SUPPORT (Development / Testing)
// ============================================================================
// SQLite serves local development and the test suite. Read-only access is
// enforced per connection with PRAGMA query_only, which the engine itself
// honours for every statement on that connection.
//
// Vector search is not implemented here; use the file vector index instead.
// ============================================================================

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a new instance of the SQLite driver.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - No shared-cache: it's obsolete; WAL journal mode is a better solution.
	// - busy_timeout: wait instead of failing when another connection holds the lock.
	// - foreign_keys: honour declared relations.
	sqliteDB, err := sql.Open("sqlite", withPragmas(profile.DSN))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	if err := sqliteDB.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &DB{db: sqliteDB, profile: profile}, nil
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (*DB) Dialect() string {
	return "sqlite"
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// classify maps sqlite result codes onto the store error taxonomy.
func classify(ctx context.Context, stmt string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := store.ContextError(ctx); ctxErr != nil {
		return ctxErr
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_IOERR, sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_FULL:
			return errors.Wrap(store.ErrStoreUnavailable, sqliteErr.Error())
		case sqlite3.SQLITE_INTERRUPT:
			return errors.Wrap(store.ErrQueryTimeout, sqliteErr.Error())
		default:
			return &store.StatementError{Stmt: stmt, Err: err}
		}
	}
	if errors.Is(err, sql.ErrConnDone) {
		return errors.Wrap(store.ErrStoreUnavailable, err.Error())
	}
	return err
}
