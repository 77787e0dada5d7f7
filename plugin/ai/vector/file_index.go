package vector

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

// IndexFileName is the database file inside a file index directory.
const IndexFileName = "index.db"

const fileIndexSchema = `
CREATE TABLE IF NOT EXISTS index_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS fragment (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	text TEXT NOT NULL,
	embedding TEXT NOT NULL
);
`

// FileIndex is an in-memory copy of an index directory, searched by brute force.
type FileIndex struct {
	model     string
	dims      int
	fragments []Fragment // embeddings normalized to unit length
	embedder  Embedder
}

// OpenFileIndex loads dir/index.db fully into memory.
func OpenFileIndex(ctx context.Context, dir string, embedder Embedder) (*FileIndex, error) {
	path := filepath.Join(dir, IndexFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(err, "vector index not found at %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vector index %s", path)
	}
	defer db.Close()

	idx := &FileIndex{embedder: embedder}
	if err := db.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = 'model'`).Scan(&idx.model); err != nil {
		return nil, errors.Wrap(err, "failed to read index metadata")
	}

	rows, err := db.QueryContext(ctx, `SELECT kind, text, embedding FROM fragment ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read fragments")
	}
	defer rows.Close()

	for rows.Next() {
		var f Fragment
		var v pgvector.Vector
		if err := rows.Scan(&f.Kind, &f.Text, &v); err != nil {
			return nil, errors.Wrap(err, "corrupt fragment row")
		}
		f.Embedding = normalize(v.Slice())
		if idx.dims == 0 {
			idx.dims = len(f.Embedding)
		} else if len(f.Embedding) != idx.dims {
			return nil, errors.Wrapf(ErrDimensionMismatch, "fragment %q has %d dimensions, want %d", f.Text, len(f.Embedding), idx.dims)
		}
		idx.fragments = append(idx.fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read fragments")
	}
	return idx, nil
}

func (x *FileIndex) Len() int { return len(x.fragments) }

// Model returns the embedding model the index was built with.
func (x *FileIndex) Model() string { return x.model }

func (x *FileIndex) Search(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 || len(x.fragments) == 0 {
		return []Match{}, nil
	}
	q, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}
	if len(q) != x.dims {
		return nil, errors.Wrapf(ErrDimensionMismatch, "query has %d dimensions, index has %d", len(q), x.dims)
	}
	q = normalize(q)

	matches := make([]Match, len(x.fragments))
	for i, f := range x.fragments {
		matches[i] = Match{Kind: f.Kind, Text: f.Text, Score: dot(q, f.Embedding)}
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// WriteFileIndex replaces dir/index.db with the given fragments.
// The new file is written next to the old one and renamed into place.
func WriteFileIndex(ctx context.Context, dir, model string, fragments []Fragment) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create index directory %s", dir)
	}
	final := filepath.Join(dir, IndexFileName)
	tmp := final + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open("sqlite", tmp)
	if err != nil {
		return errors.Wrap(err, "failed to create index file")
	}
	if err := writeFragments(ctx, db, model, fragments); err != nil {
		db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		return errors.Wrap(err, "failed to close index file")
	}
	return errors.Wrap(os.Rename(tmp, final), "failed to install index file")
}

func writeFragments(ctx context.Context, db *sql.DB, model string, fragments []Fragment) error {
	if _, err := db.ExecContext(ctx, fileIndexSchema); err != nil {
		return errors.Wrap(err, "failed to create index schema")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO index_meta (key, value) VALUES ('model', ?)`, model); err != nil {
		return errors.Wrap(err, "failed to write index metadata")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fragment (kind, text, embedding) VALUES (?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()
	for _, f := range fragments {
		if _, err := stmt.ExecContext(ctx, f.Kind, f.Text, pgvector.NewVector(f.Embedding)); err != nil {
			return errors.Wrapf(err, "failed to write fragment %q", f.Text)
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit index")
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}
