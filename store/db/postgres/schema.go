package postgres

import (
	"context"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

type columnRow struct {
	TableName  string `db:"table_name"`
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	Nullable   bool   `db:"nullable"`
}

type keyRow struct {
	TableName  string `db:"table_name"`
	ColumnName string `db:"column_name"`
	RefTable   string `db:"ref_table"`
	RefColumn  string `db:"ref_column"`
}

func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := sqlscan.Select(ctx, d.db, &names, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, classify(ctx, "", errors.Wrap(err, "failed to list tables"))
	}
	return names, nil
}

func (d *DB) DescribeTables(ctx context.Context, names ...string) ([]*store.Table, error) {
	where, args := []string{"c.table_schema = current_schema()", "t.table_type = 'BASE TABLE'"}, []any{}
	if len(names) > 0 {
		where, args = append(where, "c.table_name = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(names))
	}

	var columns []*columnRow
	err := sqlscan.Select(ctx, d.db, &columns, `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable = 'YES' AS nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY c.table_name, c.ordinal_position
	`, args...)
	if err != nil {
		return nil, classify(ctx, "", errors.Wrap(err, "failed to describe columns"))
	}

	primaryKeys, err := d.listKeys(ctx, "PRIMARY KEY")
	if err != nil {
		return nil, err
	}
	foreignKeys, err := d.listKeys(ctx, "FOREIGN KEY")
	if err != nil {
		return nil, err
	}

	tables := []*store.Table{}
	byName := map[string]*store.Table{}
	for _, c := range columns {
		table, ok := byName[c.TableName]
		if !ok {
			table = &store.Table{Name: c.TableName}
			byName[c.TableName] = table
			tables = append(tables, table)
		}
		table.Columns = append(table.Columns, &store.Column{
			Name:     c.ColumnName,
			Type:     c.DataType,
			Nullable: c.Nullable,
		})
	}
	for _, k := range primaryKeys {
		if table, ok := byName[k.TableName]; ok {
			if column := table.Column(k.ColumnName); column != nil {
				column.PrimaryKey = true
			}
		}
	}
	for _, k := range foreignKeys {
		if table, ok := byName[k.TableName]; ok {
			table.ForeignKeys = append(table.ForeignKeys, &store.ForeignKey{
				Column:    k.ColumnName,
				RefTable:  k.RefTable,
				RefColumn: k.RefColumn,
			})
		}
	}
	return tables, nil
}

func (d *DB) listKeys(ctx context.Context, constraintType string) ([]*keyRow, error) {
	var keys []*keyRow
	err := sqlscan.Select(ctx, d.db, &keys, `
		SELECT kcu.table_name, kcu.column_name, ccu.table_name AS ref_table, ccu.column_name AS ref_column
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = $1 AND tc.table_schema = current_schema()
		ORDER BY kcu.table_name, kcu.ordinal_position
	`, constraintType)
	if err != nil {
		return nil, classify(ctx, "", errors.Wrapf(err, "failed to list %s constraints", strings.ToLower(constraintType)))
	}
	return keys, nil
}
