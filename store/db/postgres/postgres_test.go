package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/brandpulse/internal/profile"
	"github.com/hrygo/brandpulse/store"
	"github.com/hrygo/brandpulse/store/db/postgres"
	"github.com/hrygo/brandpulse/store/test"
)

var analyticsTables = []string{
	"sentiment_social_media",
	"social_media_external_trends",
	"sentiment_campaign",
	"campaign",
	"reviewed_product",
	"customer_demographics",
	"product_catalog",
}

func newPostgresStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Mode: "dev", Driver: "postgres", DSN: test.GetPostgresDSN(t)}
	driver, err := postgres.NewDB(p)
	require.NoError(t, err)

	ctx := context.Background()
	conn := driver.GetDB()
	drop := func() {
		for _, table := range analyticsTables {
			conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		}
	}
	drop()
	_, err = conn.ExecContext(ctx, test.AnalyticsSchema)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, test.AnalyticsSeed)
	require.NoError(t, err)

	s := store.New(driver, p)
	t.Cleanup(func() {
		drop()
		s.Close()
	})
	return s
}

func TestPostgresReadOnlyQueries(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	assert.Equal(t, "postgresql", s.Dialect())

	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	for _, table := range analyticsTables {
		assert.Contains(t, names, table)
	}

	tables, err := s.DescribeTables(ctx, "sentiment_campaign")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	require.Len(t, tables[0].ForeignKeys, 1)
	assert.Equal(t, "campaign", tables[0].ForeignKeys[0].RefTable)

	result, err := s.QueryReadOnly(ctx, "SELECT brand, COUNT(*) AS products FROM product_catalog GROUP BY brand ORDER BY products DESC, brand", 50)
	require.NoError(t, err)
	require.Len(t, result.Rows, 3)
	brand, _ := result.Rows[0].Get("brand")
	assert.Equal(t, "Adidas", brand)

	_, err = s.QueryReadOnly(ctx, "DELETE FROM campaign", 50)
	require.Error(t, err)
	assert.True(t, store.IsStatementError(err))

	// Without the checker in front, the driver itself must refuse a second command.
	_, err = s.QueryReadOnly(ctx, "SELECT 1; COMMIT; DELETE FROM campaign", 50)
	require.Error(t, err)
	assert.True(t, store.IsStatementError(err))
	require.Error(t, s.Explain(ctx, "SELECT 1; COMMIT; DELETE FROM campaign"))

	result, err = s.QueryReadOnly(ctx, "SELECT COUNT(*) AS n FROM campaign", 1)
	require.NoError(t, err)
	n, _ := result.Rows[0].Get("n")
	assert.EqualValues(t, 2, n)

	brands, err := s.DistinctValues(ctx, "product_catalog", "brand", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Adidas", "Nike", "Puma"}, brands)
}

func TestPostgresNounEmbeddings(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)

	vd, ok := s.GetDriver().(store.VectorDriver)
	require.True(t, ok)
	if err := vd.EnsureNounEmbeddingTable(ctx, 3); err != nil {
		t.Skipf("pgvector not available: %v", err)
	}
	t.Cleanup(func() {
		s.GetDriver().GetDB().ExecContext(context.Background(), "DROP TABLE IF EXISTS noun_embedding")
	})

	list := []*store.NounEmbedding{
		{Kind: "brand", Text: "Adidas", Embedding: []float32{1, 0, 0}},
		{Kind: "brand", Text: "Nike", Embedding: []float32{0, 1, 0}},
		{Kind: "platform", Text: "TikTok", Embedding: []float32{0, 0, 1}},
	}
	require.NoError(t, vd.ReplaceNounEmbeddings(ctx, "test-model", list))
	assert.NotZero(t, list[0].ID)

	count, err := vd.CountNounEmbeddings(ctx, "test-model")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	matches, err := vd.SearchNounEmbeddings(ctx, "test-model", []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "Adidas", matches[0].Text)
	assert.InDelta(t, 0.99, matches[0].Score, 0.01)

	count, err = vd.CountNounEmbeddings(ctx, "other-model")
	require.NoError(t, err)
	assert.Zero(t, count)
}
