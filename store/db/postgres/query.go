package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"net"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

func (d *DB) QueryReadOnly(ctx context.Context, stmt string, maxRows int) (*store.ResultSet, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, classify(ctx, stmt, err)
	}
	// Read-only: rollback is the only way out.
	defer tx.Rollback()

	if timeout := d.profile.QueryTimeout; timeout > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds())); err != nil {
			return nil, classify(ctx, stmt, err)
		}
	}

	rows, err := queryPrepared(ctx, tx, stmt)
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
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify(ctx, stmt, err)
	}
	defer tx.Rollback()

	rows, err := queryPrepared(ctx, tx, "EXPLAIN "+stmt)
	if err != nil {
		return classify(ctx, stmt, err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return classify(ctx, stmt, err)
	}
	return nil
}

func (d *DB) DistinctValues(ctx context.Context, table, column string, limit int) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %[2]s::text FROM %[1]s WHERE %[2]s IS NOT NULL ORDER BY 1`,
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

// queryPrepared runs stmt through the extended protocol. Unlike a bare
// QueryContext, which lib/pq sends as a simple query, a prepared statement
// holds exactly one command, so "...; COMMIT; DELETE ..." is refused by the server.
func queryPrepared(ctx context.Context, tx *sql.Tx, stmt string) (*sql.Rows, error) {
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	// Closing the statement leaves open rows readable until they are closed.
	defer prepared.Close()
	return prepared.QueryContext(ctx)
}

// classify maps lib/pq failures onto the store error taxonomy.
func classify(ctx context.Context, stmt string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := store.ContextError(ctx); ctxErr != nil {
		return ctxErr
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "57014":
			// query_canceled, raised by statement_timeout
			return errors.Wrap(store.ErrQueryTimeout, pqErr.Message)
		case strings.HasPrefix(string(pqErr.Code), "08"),
			strings.HasPrefix(string(pqErr.Code), "53"),
			strings.HasPrefix(string(pqErr.Code), "57"),
			pqErr.Code == "28P01":
			return errors.Wrap(store.ErrStoreUnavailable, pqErr.Message)
		default:
			return &store.StatementError{Stmt: stmt, Err: err}
		}
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return errors.Wrap(store.ErrStoreUnavailable, err.Error())
	}
	return err
}
