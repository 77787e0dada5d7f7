package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/brandpulse/store"
)

func TestChecker_RejectsMutations(t *testing.T) {
	c := NewChecker(nil, 50)

	tests := []struct {
		name  string
		query string
	}{
		{"insert", "INSERT INTO campaign VALUES (1)"},
		{"lowercase delete", "delete from campaign"},
		{"mixed case update", "UpDaTe campaign SET budget = 0"},
		{"drop after select", "SELECT 1; DROP TABLE campaign"},
		{"alter with tabs", "ALTER\tTABLE\ncampaign ADD x INT"},
		{"comment split keyword", "SELECT 1 FROM t WHERE x IN (SELECT 1); DEL/**/ETE FROM t"},
		{"comment split inside select", "SELECT * FROM campaign WHERE 1=1 AND DR/* x */OP"},
		{"cte with delete", "WITH d AS (DELETE FROM campaign RETURNING *) SELECT * FROM d"},
		{"select into", "SELECT * INTO backup FROM campaign"},
		{"truncate", "TRUNCATE campaign"},
		{"pragma", "PRAGMA writable_schema = 1"},
		{"attach", "ATTACH DATABASE 'x.db' AS x"},
		{"for update", "SELECT * FROM campaign FOR UPDATE"},
		{"pg_sleep", "SELECT pg_sleep(10)"},
		{"set_config", "SELECT set_config('x', 'y', false)"},
		{"empty", "   "},
		{"only comment", "-- nothing here"},
		{"not a select", "EXPLAIN SELECT 1"},
		{"multiple selects", "SELECT 1; SELECT 2"},
		{"unterminated string", "SELECT * FROM campaign WHERE platform = 'Insta"},
		{"unterminated comment", "SELECT 1 /* open"},
		{"statements hidden behind escape string", `SELECT E'\'' ; COMMIT; DELETE FROM product_catalog; SELECT 1 AS x --' LIMIT 1`},
		{"lowercase escape string", `select e'\'' ; commit; drop table campaign; select 1 --' limit 5`},
		{"unterminated escape string", `SELECT E'it\'s`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.CheckStatic(tt.query)
			assert.False(t, v.Valid, "expected %q to be rejected", tt.query)
			assert.NotEmpty(t, v.Issues)
			assert.NotEmpty(t, v.Suggestion)
		})
	}
}

func TestChecker_AcceptsReadOnly(t *testing.T) {
	c := NewChecker(nil, 50)

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{
			name:  "appends limit",
			query: "SELECT brand FROM product_catalog",
			want:  "SELECT brand FROM product_catalog\nLIMIT 50",
		},
		{
			name:  "keeps smaller limit",
			query: "SELECT brand FROM product_catalog LIMIT 10",
			want:  "SELECT brand FROM product_catalog LIMIT 10",
		},
		{
			name:  "clamps larger limit",
			query: "select brand from product_catalog limit 500 offset 5",
			want:  "select brand from product_catalog limit 50 offset 5",
		},
		{
			name:  "clamps limit all",
			query: "SELECT brand FROM product_catalog LIMIT ALL",
			want:  "SELECT brand FROM product_catalog LIMIT 50",
		},
		{
			name:  "clamps sqlite offset form",
			query: "SELECT brand FROM product_catalog LIMIT 5, 100",
			want:  "SELECT brand FROM product_catalog LIMIT 5, 50",
		},
		{
			name:  "ignores subquery limit",
			query: "SELECT * FROM (SELECT brand FROM product_catalog LIMIT 1000) t",
			want:  "SELECT * FROM (SELECT brand FROM product_catalog LIMIT 1000) t\nLIMIT 50",
		},
		{
			name:  "drops trailing semicolon",
			query: "SELECT AVG(sentiment_score) FROM sentiment_social_media;",
			want:  "SELECT AVG(sentiment_score) FROM sentiment_social_media\nLIMIT 50",
		},
		{
			name:  "keywords inside literals",
			query: "SELECT * FROM reviewed_product WHERE review_text LIKE '%delete my account%' LIMIT 5",
			want:  "SELECT * FROM reviewed_product WHERE review_text LIKE '%delete my account%' LIMIT 5",
		},
		{
			name:  "identifiers containing keywords",
			query: "SELECT created_at, last_update FROM t LIMIT 1",
			want:  "SELECT created_at, last_update FROM t LIMIT 1",
		},
		{
			name:  "with clause",
			query: "WITH s AS (SELECT brand, COUNT(*) n FROM product_catalog GROUP BY brand) SELECT * FROM s",
			want:  "WITH s AS (SELECT brand, COUNT(*) n FROM product_catalog GROUP BY brand) SELECT * FROM s\nLIMIT 50",
		},
		{
			name:  "trailing line comment",
			query: "SELECT brand FROM product_catalog -- brands",
			want:  "SELECT brand FROM product_catalog -- brands\nLIMIT 50",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.CheckStatic(tt.query)
			require.True(t, v.Valid, "issues: %v", v.Issues)
			assert.Equal(t, tt.want, v.Query)
		})
	}
}

func TestChecker_RejectsNonNumericLimit(t *testing.T) {
	v := NewChecker(nil, 50).CheckStatic("SELECT 1 LIMIT (SELECT 10)")
	assert.False(t, v.Valid)
}

type explainerFunc func(ctx context.Context, stmt string) error

func (f explainerFunc) Explain(ctx context.Context, stmt string) error { return f(ctx, stmt) }

func TestChecker_Explain(t *testing.T) {
	ctx := context.Background()

	t.Run("statement error becomes verdict", func(t *testing.T) {
		c := NewChecker(explainerFunc(func(context.Context, string) error {
			return &store.StatementError{Stmt: "x", Err: errors.New("no such column: brnd")}
		}), 50)
		v, err := c.Check(ctx, "SELECT brnd FROM product_catalog")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		assert.Contains(t, v.Issues[0], "no such column")
	})

	t.Run("infrastructure error propagates", func(t *testing.T) {
		c := NewChecker(explainerFunc(func(context.Context, string) error {
			return store.ErrStoreUnavailable
		}), 50)
		_, err := c.Check(ctx, "SELECT 1")
		require.ErrorIs(t, err, store.ErrStoreUnavailable)
	})

	t.Run("explains corrected statement", func(t *testing.T) {
		var explained string
		c := NewChecker(explainerFunc(func(_ context.Context, stmt string) error {
			explained = stmt
			return nil
		}), 20)
		v, err := c.Check(ctx, "SELECT 1")
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Equal(t, "SELECT 1\nLIMIT 20", explained)
	})

	t.Run("static rejection skips explain", func(t *testing.T) {
		c := NewChecker(explainerFunc(func(context.Context, string) error {
			t.Fatal("explain must not run")
			return nil
		}), 50)
		v, err := c.Check(ctx, "DROP TABLE campaign")
		require.NoError(t, err)
		assert.False(t, v.Valid)
	})
}

func TestStringLiterals(t *testing.T) {
	got := StringLiterals(`SELECT * FROM t WHERE brand = 'Adiddas' AND name LIKE '%it''s%' AND x = $$raw$$ -- 'ignored'`)
	assert.Equal(t, []string{"Adiddas", "%it's%", "raw"}, got)

	got = StringLiterals(`SELECT * FROM t WHERE name = E'it\'s' AND note = e'a\\b' AND type = 'x'`)
	assert.Equal(t, []string{"it's", `a\b`, "x"}, got)
}

func TestChecker_EscapeStringIsOneLiteral(t *testing.T) {
	v := NewChecker(nil, 50).CheckStatic(`SELECT product_name FROM product_catalog WHERE product_name = E'O\'Neil; DELETE'`)
	assert.True(t, v.Valid, v.Issues)
	assert.Contains(t, v.Query, "LIMIT 50")
}
