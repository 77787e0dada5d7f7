package store

import "context"

// NounEmbedding is one canonical proper noun with its embedding vector.
type NounEmbedding struct {
	ID        int64
	Kind      string // brand, product, category, platform, ...
	Text      string
	Embedding []float32
	Model     string
}

// NounMatch is a nearest-neighbour result.
type NounMatch struct {
	Kind  string
	Text  string
	Score float32
}

// VectorDriver is implemented by drivers that can store and search embeddings natively.
type VectorDriver interface {
	// EnsureNounEmbeddingTable creates the embedding table for the given dimension.
	EnsureNounEmbeddingTable(ctx context.Context, dimensions int) error
	// ReplaceNounEmbeddings atomically replaces all stored embeddings of a model.
	ReplaceNounEmbeddings(ctx context.Context, model string, list []*NounEmbedding) error
	// SearchNounEmbeddings returns the nearest nouns by cosine distance.
	SearchNounEmbeddings(ctx context.Context, model string, embedding []float32, limit int) ([]*NounMatch, error)
	CountNounEmbeddings(ctx context.Context, model string) (int, error)
}
