package vector

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/brandpulse/store"
)

// PGIndex searches the noun_embedding table through pgvector.
type PGIndex struct {
	driver   store.VectorDriver
	embedder Embedder
	model    string
	count    int
}

// OpenPGIndex checks that embeddings exist for the embedder's model.
func OpenPGIndex(ctx context.Context, driver store.VectorDriver, embedder Embedder) (*PGIndex, error) {
	count, err := driver.CountNounEmbeddings(ctx, embedder.Model())
	if err != nil {
		return nil, errors.Wrap(err, "failed to inspect noun_embedding")
	}
	return &PGIndex{
		driver:   driver,
		embedder: embedder,
		model:    embedder.Model(),
		count:    count,
	}, nil
}

func (x *PGIndex) Len() int { return x.count }

func (x *PGIndex) Search(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 || x.count == 0 {
		return []Match{}, nil
	}
	q, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}
	found, err := x.driver.SearchNounEmbeddings(ctx, x.model, q, k)
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0, len(found))
	for _, m := range found {
		matches = append(matches, Match{Kind: m.Kind, Text: m.Text, Score: m.Score})
	}
	return matches, nil
}
