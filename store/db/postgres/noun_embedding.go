package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

var _ store.VectorDriver = (*DB)(nil)

func (d *DB) EnsureNounEmbeddingTable(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions %d", dimensions)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS noun_embedding (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL,
			UNIQUE (kind, text, model)
		)`, dimensions),
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to create noun_embedding table")
		}
	}
	return nil
}

func (d *DB) ReplaceNounEmbeddings(ctx context.Context, model string, list []*store.NounEmbedding) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM noun_embedding WHERE model = $1`, model); err != nil {
		return errors.Wrap(err, "failed to clear noun embeddings")
	}

	stmt := `
		INSERT INTO noun_embedding (kind, text, embedding, model)
		VALUES (` + placeholder(1) + `, ` + placeholder(2) + `, ` + placeholder(3) + `, ` + placeholder(4) + `)
		ON CONFLICT (kind, text, model) DO UPDATE SET embedding = EXCLUDED.embedding
		RETURNING id
	`
	for _, e := range list {
		if err := tx.QueryRowContext(ctx, stmt, e.Kind, e.Text, pgvector.NewVector(e.Embedding), model).Scan(&e.ID); err != nil {
			return errors.Wrapf(err, "failed to insert noun embedding %q", e.Text)
		}
		e.Model = model
	}

	return errors.Wrap(tx.Commit(), "failed to commit noun embeddings")
}

func (d *DB) SearchNounEmbeddings(ctx context.Context, model string, embedding []float32, limit int) ([]*store.NounMatch, error) {
	if limit <= 0 {
		limit = 3
	}

	query := `
		SELECT kind, text, 1 - (embedding <=> $1) AS score
		FROM noun_embedding
		WHERE model = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`
	var matches []*store.NounMatch
	if err := sqlscan.Select(ctx, d.db, &matches, query, pgvector.NewVector(embedding), model, limit); err != nil {
		return nil, classify(ctx, query, errors.Wrap(err, "failed to search noun embeddings"))
	}
	return matches, nil
}

func (d *DB) CountNounEmbeddings(ctx context.Context, model string) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM noun_embedding WHERE model = $1`, model).Scan(&count); err != nil {
		return 0, classify(ctx, "", errors.Wrap(err, "failed to count noun embeddings"))
	}
	return count, nil
}
