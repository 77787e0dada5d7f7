package sqlite

import (
	"context"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

type columnRow struct {
	TableName  string `db:"table_name"`
	ColumnName string `db:"column_name"`
	DataType   string `db:"data_type"`
	Nullable   bool   `db:"nullable"`
	PrimaryKey bool   `db:"primary_key"`
}

type foreignKeyRow struct {
	TableName  string `db:"table_name"`
	ColumnName string `db:"column_name"`
	RefTable   string `db:"ref_table"`
	RefColumn  string `db:"ref_column"`
}

func (d *DB) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	err := sqlscan.Select(ctx, d.db, &names, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, classify(ctx, "", errors.Wrap(err, "failed to list tables"))
	}
	return names, nil
}

func (d *DB) DescribeTables(ctx context.Context, names ...string) ([]*store.Table, error) {
	where, args := []string{"m.type = 'table'", "m.name NOT LIKE 'sqlite_%'"}, []any{}
	if len(names) > 0 {
		where = append(where, "m.name IN ("+placeholders(len(names))+")")
		for _, name := range names {
			args = append(args, name)
		}
	}

	var columns []*columnRow
	err := sqlscan.Select(ctx, d.db, &columns, `
		SELECT m.name AS table_name, p.name AS column_name, p.type AS data_type,
			p."notnull" = 0 AS nullable, p.pk > 0 AS primary_key
		FROM sqlite_master m
		JOIN pragma_table_info(m.name) p
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY m.name, p.cid
	`, args...)
	if err != nil {
		return nil, classify(ctx, "", errors.Wrap(err, "failed to describe columns"))
	}

	var foreignKeys []*foreignKeyRow
	err = sqlscan.Select(ctx, d.db, &foreignKeys, `
		SELECT m.name AS table_name, f."from" AS column_name, f."table" AS ref_table, COALESCE(f."to", '') AS ref_column
		FROM sqlite_master m
		JOIN pragma_foreign_key_list(m.name) f
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY m.name, f.id, f.seq
	`, args...)
	if err != nil {
		return nil, classify(ctx, "", errors.Wrap(err, "failed to describe foreign keys"))
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
			Name:       c.ColumnName,
			Type:       strings.ToUpper(c.DataType),
			Nullable:   c.Nullable && !c.PrimaryKey,
			PrimaryKey: c.PrimaryKey,
		})
	}
	for _, fk := range foreignKeys {
		if table, ok := byName[fk.TableName]; ok {
			table.ForeignKeys = append(table.ForeignKeys, &store.ForeignKey{
				Column:    fk.ColumnName,
				RefTable:  fk.RefTable,
				RefColumn: fk.RefColumn,
			})
		}
	}
	return tables, nil
}

// placeholders returns n placeholders for SQLite
func placeholders(n int) string {
	list := make([]string, n)
	for i := range list {
		list[i] = "?"
	}
	return strings.Join(list, ", ")
}
