package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"slices"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"
)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS chat_session (
	id TEXT PRIMARY KEY,
	next_index INTEGER NOT NULL DEFAULT 0,
	updated_ts INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_turn (
	session_id TEXT NOT NULL,
	idx INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool TEXT,
	created_ts INTEGER NOT NULL,
	PRIMARY KEY (session_id, idx)
);
`

// SQLiteCheckpointer stores committed turns in a local SQLite file.
type SQLiteCheckpointer struct {
	db *sql.DB
}

var _ Checkpointer = (*SQLiteCheckpointer)(nil)

// NewSQLiteCheckpointer opens (or creates) the checkpoint database at path.
func NewSQLiteCheckpointer(ctx context.Context, path string) (*SQLiteCheckpointer, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint db %s", path)
	}
	if _, err := db.ExecContext(ctx, checkpointSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to migrate checkpoint db")
	}
	return &SQLiteCheckpointer{db: db}, nil
}

type turnRow struct {
	Idx       int64
	Role      string
	Content   string
	Tool      sql.NullString
	CreatedTs int64
}

func (c *SQLiteCheckpointer) Load(ctx context.Context, sessionID string, maxTurns int) ([]Turn, int64, bool, error) {
	var next int64
	err := c.db.QueryRowContext(ctx, `SELECT next_index FROM chat_session WHERE id = ?`, sessionID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, errors.Wrap(err, "failed to load session")
	}

	var rows []*turnRow
	query := `
		SELECT idx, role, content, tool, created_ts
		FROM chat_turn
		WHERE session_id = ?
		ORDER BY idx DESC
		LIMIT ?
	`
	if err := sqlscan.Select(ctx, c.db, &rows, query, sessionID, maxTurns); err != nil {
		return nil, 0, false, errors.Wrap(err, "failed to load turns")
	}
	slices.Reverse(rows)

	turns := make([]Turn, 0, len(rows))
	for _, r := range rows {
		t := Turn{
			Index:     r.Idx,
			Role:      Role(r.Role),
			Content:   r.Content,
			Timestamp: time.UnixMilli(r.CreatedTs),
		}
		if r.Tool.Valid {
			t.Tool = &ToolRecord{}
			if err := json.Unmarshal([]byte(r.Tool.String), t.Tool); err != nil {
				return nil, 0, false, errors.Wrapf(err, "corrupt tool record at turn %d", r.Idx)
			}
		}
		turns = append(turns, t)
	}
	return turns, next, true, nil
}

func (c *SQLiteCheckpointer) Save(ctx context.Context, sessionID string, turns []Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, t := range turns {
		var tool sql.NullString
		if t.Tool != nil {
			raw, err := json.Marshal(t.Tool)
			if err != nil {
				return errors.Wrap(err, "failed to encode tool record")
			}
			tool = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_turn (session_id, idx, role, content, tool, created_ts) VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, t.Index, string(t.Role), t.Content, tool, t.Timestamp.UnixMilli()); err != nil {
			return errors.Wrapf(err, "failed to insert turn %d", t.Index)
		}
	}

	next := turns[len(turns)-1].Index + 1
	if err := upsertSession(ctx, tx, sessionID, next); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit turns")
}

func (c *SQLiteCheckpointer) Reset(ctx context.Context, sessionID string, nextIndex int64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_turn WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "failed to delete turns")
	}
	if err := upsertSession(ctx, tx, sessionID, nextIndex); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit reset")
}

func (c *SQLiteCheckpointer) Close() error {
	return c.db.Close()
}

func upsertSession(ctx context.Context, tx *sql.Tx, sessionID string, next int64) error {
	stmt := `
		INSERT INTO chat_session (id, next_index, updated_ts) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			next_index = MAX(chat_session.next_index, excluded.next_index),
			updated_ts = excluded.updated_ts
	`
	if _, err := tx.ExecContext(ctx, stmt, sessionID, next, time.Now().UnixMilli()); err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	return nil
}
