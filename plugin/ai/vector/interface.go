// Package vector provides the proper-noun similarity index used to ground
// entity names before they are used as SQL filters.
package vector

import (
	"context"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when a query vector does not match the index.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Index is a read-only similarity index over canonical proper nouns.
// Implementations are immutable once loaded and safe for concurrent use.
type Index interface {
	// Search returns at most k fragments nearest to text, nearest first.
	Search(ctx context.Context, text string, k int) ([]Match, error)

	// Len returns the number of indexed fragments.
	Len() int
}

// Embedder is the subset of the embedding service the index needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Fragment is one canonical string and its embedding.
type Fragment struct {
	Kind      string    `json:"kind"` // brand, product, category, campaign, platform, ...
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
}

// Match is a search result.
type Match struct {
	Kind  string  `json:"kind"`
	Text  string  `json:"text"`
	Score float32 `json:"score"` // cosine similarity
}

// EmptyIndex answers every search with no matches.
type EmptyIndex struct{}

func (EmptyIndex) Search(context.Context, string, int) ([]Match, error) {
	return []Match{}, nil
}

func (EmptyIndex) Len() int { return 0 }
