package vector_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/brandpulse/plugin/ai/vector"
	"github.com/hrygo/brandpulse/store/test"
)

// letterEmbedder embeds text as its lowercase letter histogram, so
// misspellings land close to the canonical spelling.
type letterEmbedder struct {
	model string
	calls atomic.Int32
}

func (e *letterEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return histogram(text), nil
}

func (e *letterEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = histogram(t)
	}
	return out, nil
}

func (e *letterEmbedder) Model() string { return e.model }

func histogram(text string) []float32 {
	v := make([]float32, 26)
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	return v
}

func TestBuilderAndFileIndex(t *testing.T) {
	ctx := context.Background()
	st := test.NewSQLiteStore(t)
	embedder := &letterEmbedder{model: "letters"}
	dir := filepath.Join(t.TempDir(), "vector_db")

	n, err := vector.NewBuilder(st, embedder).WithBatchSize(3).BuildFile(ctx, dir)
	require.NoError(t, err)
	// 3 brands, 5 products, 2 categories, 2 campaigns, 2 platforms, 2 locations, 3 sentiments.
	assert.Equal(t, 19, n)

	idx, err := vector.Load(ctx, vector.LoadOptions{Backend: vector.BackendFile, Path: dir, Embedder: embedder})
	require.NoError(t, err)
	assert.Equal(t, 19, idx.Len())

	t.Run("Misspelled brand", func(t *testing.T) {
		matches, err := idx.Search(ctx, "addidas", 3)
		require.NoError(t, err)
		require.Len(t, matches, 3)
		assert.Equal(t, "Adidas", matches[0].Text)
		assert.Equal(t, "brand", matches[0].Kind)
		assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
		assert.GreaterOrEqual(t, matches[1].Score, matches[2].Score)
	})

	t.Run("Product name", func(t *testing.T) {
		matches, err := idx.Search(ctx, "ultra boost", 1)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "Ultraboost 22", matches[0].Text)
	})

	t.Run("Zero k", func(t *testing.T) {
		matches, err := idx.Search(ctx, "nike", 0)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestLoad_Degrades(t *testing.T) {
	ctx := context.Background()
	embedder := &letterEmbedder{model: "letters"}

	t.Run("Missing directory", func(t *testing.T) {
		idx, err := vector.Load(ctx, vector.LoadOptions{Path: filepath.Join(t.TempDir(), "nope"), Embedder: embedder})
		require.Error(t, err)
		assert.Equal(t, 0, idx.Len())
		matches, err := idx.Search(ctx, "Adidas", 3)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("Corrupt file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, vector.IndexFileName), []byte("not a database"), 0o644))
		idx, err := vector.Load(ctx, vector.LoadOptions{Path: dir, Embedder: embedder})
		require.Error(t, err)
		assert.IsType(t, vector.EmptyIndex{}, idx)
	})

	t.Run("Model mismatch", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, vector.WriteFileIndex(ctx, dir, "other-model", []vector.Fragment{
			{Kind: "brand", Text: "Nike", Embedding: histogram("Nike")},
		}))
		_, err := vector.Load(ctx, vector.LoadOptions{Path: dir, Embedder: embedder})
		require.Error(t, err)
	})

	t.Run("Unknown backend", func(t *testing.T) {
		_, err := vector.Load(ctx, vector.LoadOptions{Backend: "faiss", Embedder: embedder})
		require.Error(t, err)
	})

	t.Run("pgvector on sqlite", func(t *testing.T) {
		st := test.NewSQLiteStore(t)
		_, err := vector.Load(ctx, vector.LoadOptions{Backend: vector.BackendPGVector, Driver: st.GetDriver(), Embedder: embedder})
		require.Error(t, err)
	})
}

func TestWriteFileIndex_Replaces(t *testing.T) {
	ctx := context.Background()
	embedder := &letterEmbedder{model: "letters"}
	dir := t.TempDir()

	require.NoError(t, vector.WriteFileIndex(ctx, dir, "letters", []vector.Fragment{
		{Kind: "brand", Text: "Nike", Embedding: histogram("Nike")},
		{Kind: "brand", Text: "Puma", Embedding: histogram("Puma")},
	}))
	require.NoError(t, vector.WriteFileIndex(ctx, dir, "letters", []vector.Fragment{
		{Kind: "brand", Text: "Adidas", Embedding: histogram("Adidas")},
	}))

	idx, err := vector.OpenFileIndex(ctx, dir, embedder)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.Len())
}

func TestCachedEmbedder(t *testing.T) {
	inner := &letterEmbedder{model: "letters"}
	cached := vector.NewCachedEmbedder(inner, 10, time.Minute)

	for i := 0; i < 3; i++ {
		v, err := cached.Embed(context.Background(), " Adidas ")
		require.NoError(t, err)
		assert.Len(t, v, 26)
	}
	assert.EqualValues(t, 1, inner.calls.Load())
	assert.Equal(t, "letters", cached.Model())
}
