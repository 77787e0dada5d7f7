package store

import (
	"context"
	"regexp"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/internal/profile"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store provides read-only access to the analytics database.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Dialect() string {
	return s.driver.Dialect()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.driver.Ping(ctx); err != nil {
		return errors.Wrap(ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (s *Store) ListTables(ctx context.Context) ([]string, error) {
	return s.driver.ListTables(ctx)
}

// DescribeTables returns every table when names is empty.
func (s *Store) DescribeTables(ctx context.Context, names ...string) ([]*Table, error) {
	for _, name := range names {
		if !ValidIdentifier(name) {
			return nil, errors.Wrapf(ErrInvalidIdentifier, "table %q", name)
		}
	}
	return s.driver.DescribeTables(ctx, names...)
}

// SampleRows returns the first n rows of a table.
func (s *Store) SampleRows(ctx context.Context, table string, n int) (*ResultSet, error) {
	if !ValidIdentifier(table) {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "table %q", table)
	}
	return s.driver.QueryReadOnly(ctx, "SELECT * FROM "+QuoteIdentifier(table), n)
}

func (s *Store) QueryReadOnly(ctx context.Context, stmt string, maxRows int) (*ResultSet, error) {
	return s.driver.QueryReadOnly(ctx, stmt, maxRows)
}

func (s *Store) Explain(ctx context.Context, stmt string) error {
	return s.driver.Explain(ctx, stmt)
}

func (s *Store) DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	if !ValidIdentifier(table) || !ValidIdentifier(column) {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "%s.%s", table, column)
	}
	return s.driver.DistinctValues(ctx, table, column, limit)
}

// ValidIdentifier reports whether name is a bare SQL identifier.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// QuoteIdentifier quotes a validated identifier. Both supported dialects accept double quotes.
func QuoteIdentifier(name string) string {
	return `"` + name + `"`
}
