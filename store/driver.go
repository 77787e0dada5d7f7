package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
// Every method acquires a pooled connection for the duration of the call only.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Dialect names the SQL dialect, e.g. "postgresql" or "sqlite".
	Dialect() string
	Ping(ctx context.Context) error

	// Schema introspection.
	ListTables(ctx context.Context) ([]string, error)
	DescribeTables(ctx context.Context, names ...string) ([]*Table, error)

	// QueryReadOnly runs a single statement inside a read-only scope and returns at most maxRows rows.
	QueryReadOnly(ctx context.Context, stmt string, maxRows int) (*ResultSet, error)
	// Explain asks the planner to validate stmt without executing it.
	Explain(ctx context.Context, stmt string) error
	// DistinctValues lists non-null distinct values of table.column.
	DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error)
}

// Table describes one relation of the analytics schema.
type Table struct {
	Name        string
	Columns     []*Column
	ForeignKeys []*ForeignKey
}

// Column describes a table column.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// ForeignKey describes a join path from Column to RefTable.RefColumn.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}
