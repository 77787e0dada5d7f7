package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

// readOnlyConn checks a connection out of the pool with query_only enabled.
// The returned release func restores the pragma and returns the connection.
func (d *DB) readOnlyConn(ctx context.Context) (*sql.Conn, func(), error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = 1"); err != nil {
		conn.Close()
		return nil, nil, err
	}
	release := func() {
		// The connection goes back to the shared pool.
		_, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = 0")
		conn.Close()
	}
	return conn, release, nil
}

func (d *DB) QueryReadOnly(ctx context.Context, stmt string, maxRows int) (*store.ResultSet, error) {
	if timeout := d.profile.QueryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, release, err := d.readOnlyConn(ctx)
	if err != nil {
		return nil, classify(ctx, stmt, err)
	}
	defer release()

	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, classify(ctx, stmt, err)
	}
	defer rows.Close()

	result, err := store.ScanResultSet(rows, maxRows)
	if err != nil {
		return nil, classify(ctx, stmt, err)
	}
	return result, nil
}

func (d *DB) Explain(ctx context.Context, stmt string) error {
	conn, release, err := d.readOnlyConn(ctx)
	if err != nil {
		return classify(ctx, stmt, err)
	}
	defer release()

	rows, err := conn.QueryContext(ctx, "EXPLAIN QUERY PLAN "+stmt)
	if err != nil {
		return classify(ctx, stmt, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return classify(ctx, stmt, rows.Err())
}

func (d *DB) DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT CAST(%[2]s AS TEXT) FROM %[1]s WHERE %[2]s IS NOT NULL ORDER BY 1`,
		store.QuoteIdentifier(table), store.QuoteIdentifier(column))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var values []string
	if err := sqlscan.Select(ctx, d.db, &values, query); err != nil {
		return nil, classify(ctx, query, errors.Wrapf(err, "failed to list distinct %s.%s", table, column))
	}
	return values, nil
}
