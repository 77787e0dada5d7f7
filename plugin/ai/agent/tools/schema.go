package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/hrygo/brandpulse/store"
)

// Descriptor is the rendered schema shared by every agent run.
type Descriptor struct {
	Dialect string
	Tables  []*store.Table
	// Text is the rendered schema of all tables, including sample rows.
	Text string

	rendered map[string]string
}

// TableNames returns the table names in schema order.
func (d *Descriptor) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = t.Name
	}
	return names
}

// Render returns the rendered schema of the named tables.
func (d *Descriptor) Render(names ...string) (string, error) {
	var unknown []string
	parts := make([]string, 0, len(names))
	for _, name := range names {
		text, ok := d.rendered[strings.ToLower(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		parts = append(parts, text)
	}
	if len(unknown) > 0 {
		return "", errors.Wrapf(ErrInvalidInput, "unknown table(s) %s; available tables: %s",
			strings.Join(unknown, ", "), strings.Join(d.TableNames(), ", "))
	}
	return strings.Join(parts, "\n\n"), nil
}

// SchemaCache introspects the store once and serves the descriptor read-only.
type SchemaCache struct {
	store      *store.Store
	sampleRows int

	mu    sync.RWMutex
	desc  *Descriptor
	group singleflight.Group
}

// NewSchemaCache creates a cache that renders sampleRows example rows per table.
func NewSchemaCache(st *store.Store, sampleRows int) *SchemaCache {
	return &SchemaCache{store: st, sampleRows: sampleRows}
}

// Get returns the descriptor, introspecting the store on first use.
// Concurrent first callers share one introspection.
func (c *SchemaCache) Get(ctx context.Context) (*Descriptor, error) {
	c.mu.RLock()
	desc := c.desc
	c.mu.RUnlock()
	if desc != nil {
		return desc, nil
	}
	return c.load(ctx)
}

// Reload discards the cached descriptor and introspects again.
func (c *SchemaCache) Reload(ctx context.Context) (*Descriptor, error) {
	c.mu.Lock()
	c.desc = nil
	c.mu.Unlock()
	return c.load(ctx)
}

func (c *SchemaCache) load(ctx context.Context) (*Descriptor, error) {
	v, err, _ := c.group.Do("schema", func() (any, error) {
		desc, err := c.build(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.desc = desc
		c.mu.Unlock()
		return desc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

func (c *SchemaCache) build(ctx context.Context) (*Descriptor, error) {
	tables, err := c.store.DescribeTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to introspect schema")
	}

	desc := &Descriptor{
		Dialect:  c.store.Dialect(),
		Tables:   tables,
		rendered: make(map[string]string, len(tables)),
	}
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		text := renderTable(t)
		if c.sampleRows > 0 {
			rs, err := c.store.SampleRows(ctx, t.Name, c.sampleRows)
			if err != nil {
				if store.IsInfrastructureError(err) {
					return nil, err
				}
				slog.Warn("failed to sample table", "table", t.Name, "error", err)
			} else {
				text += "\n\n" + renderSample(t.Name, rs)
			}
		}
		desc.rendered[strings.ToLower(t.Name)] = text
		parts = append(parts, text)
	}
	desc.Text = strings.Join(parts, "\n\n")
	return desc, nil
}

func renderTable(t *store.Table) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE %s (\n", t.Name)

	lines := make([]string, 0, len(t.Columns)+len(t.ForeignKeys)+1)
	var pk []string
	for _, col := range t.Columns {
		line := fmt.Sprintf("\t%s %s", col.Name, strings.ToUpper(col.Type))
		if !col.Nullable {
			line += " NOT NULL"
		}
		lines = append(lines, line)
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	if len(pk) > 0 {
		lines = append(lines, fmt.Sprintf("\tPRIMARY KEY (%s)", strings.Join(pk, ", ")))
	}
	fks := slices.Clone(t.ForeignKeys)
	slices.SortFunc(fks, func(a, b *store.ForeignKey) int { return strings.Compare(a.Column, b.Column) })
	for _, fk := range fks {
		lines = append(lines, fmt.Sprintf("\tFOREIGN KEY (%s) REFERENCES %s (%s)", fk.Column, fk.RefTable, fk.RefColumn))
	}
	sb.WriteString(strings.Join(lines, ",\n"))
	sb.WriteString("\n)")
	return sb.String()
}

func renderSample(table string, rs *store.ResultSet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "/*\n%d rows from %s table:\n", len(rs.Rows), table)
	sb.WriteString(strings.Join(rs.Columns, "\t"))
	for _, row := range rs.Rows {
		sb.WriteByte('\n')
		cells := make([]string, len(row.Values))
		for i, v := range row.Values {
			cell := fmt.Sprint(v)
			if v == nil {
				cell = "NULL"
			}
			if r := []rune(cell); len(r) > 100 {
				cell = string(r[:100])
			}
			cells[i] = cell
		}
		sb.WriteString(strings.Join(cells, "\t"))
	}
	sb.WriteString("\n*/")
	return sb.String()
}
