package vector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/brandpulse/store"
)

// Source names a column whose distinct values are canonical proper nouns.
type Source struct {
	Kind   string
	Table  string
	Column string
}

// DefaultSources covers the entities users filter on in the analytics schema.
var DefaultSources = []Source{
	{Kind: "brand", Table: "product_catalog", Column: "brand"},
	{Kind: "brand", Table: "reviewed_product", Column: "brand"},
	{Kind: "brand", Table: "social_media_external_trends", Column: "brand"},
	{Kind: "product", Table: "product_catalog", Column: "product_name"},
	{Kind: "category", Table: "product_catalog", Column: "subcategory"},
	{Kind: "campaign", Table: "campaign", Column: "name_campaign"},
	{Kind: "platform", Table: "campaign", Column: "platform"},
	{Kind: "platform", Table: "social_media_external_trends", Column: "platform"},
	{Kind: "location", Table: "customer_demographics", Column: "location"},
	{Kind: "collaboration", Table: "product_catalog", Column: "collaboration"},
}

// SentimentLabels are indexed even though the schema stores only scores.
var SentimentLabels = []string{"positive", "neutral", "negative"}

// Builder collects proper nouns from the store and embeds them.
type Builder struct {
	store        *store.Store
	embedder     Embedder
	sources      []Source
	batchSize    int
	concurrency  int
	maxPerSource int
}

// NewBuilder returns a builder over DefaultSources.
func NewBuilder(st *store.Store, embedder Embedder) *Builder {
	return &Builder{
		store:        st,
		embedder:     embedder,
		sources:      DefaultSources,
		batchSize:    100,
		concurrency:  4,
		maxPerSource: 5000,
	}
}

// WithSources overrides the source columns.
func (b *Builder) WithSources(sources ...Source) *Builder {
	b.sources = sources
	return b
}

// WithBatchSize sets how many texts go into one embedding request.
func (b *Builder) WithBatchSize(n int) *Builder {
	if n > 0 {
		b.batchSize = n
	}
	return b
}

// Collect reads distinct values of every source present in the schema.
// Sources whose table or column does not exist are skipped.
func (b *Builder) Collect(ctx context.Context) ([]Fragment, error) {
	tables, err := b.store.DescribeTables(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to describe schema")
	}
	byName := make(map[string]*store.Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	seen := make(map[string]bool)
	var fragments []Fragment
	add := func(kind, text string) {
		text = strings.TrimSpace(text)
		key := kind + "\x00" + strings.ToLower(text)
		if text == "" || seen[key] {
			return
		}
		seen[key] = true
		fragments = append(fragments, Fragment{Kind: kind, Text: text})
	}

	for _, src := range b.sources {
		t, ok := byName[src.Table]
		if !ok || t.Column(src.Column) == nil {
			slog.Debug("skipping proper noun source", "table", src.Table, "column", src.Column)
			continue
		}
		values, err := b.store.DistinctValues(ctx, src.Table, src.Column, b.maxPerSource)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s.%s", src.Table, src.Column)
		}
		for _, v := range values {
			add(src.Kind, v)
		}
	}
	for _, label := range SentimentLabels {
		add("sentiment", label)
	}
	return fragments, nil
}

// Embed fills in the embedding of every fragment, batching requests.
func (b *Builder) Embed(ctx context.Context, fragments []Fragment) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for start := 0; start < len(fragments); start += b.batchSize {
		batch := fragments[start:min(start+b.batchSize, len(fragments))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, f := range batch {
				texts[i] = f.Text
			}
			vectors, err := b.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return errors.Wrap(err, "failed to embed batch")
			}
			if len(vectors) != len(batch) {
				return errors.Errorf("embedding batch returned %d vectors for %d texts", len(vectors), len(batch))
			}
			for i := range batch {
				batch[i].Embedding = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// BuildFile collects, embeds and writes a file index into dir.
func (b *Builder) BuildFile(ctx context.Context, dir string) (int, error) {
	fragments, err := b.build(ctx)
	if err != nil {
		return 0, err
	}
	if err := WriteFileIndex(ctx, dir, b.embedder.Model(), fragments); err != nil {
		return 0, err
	}
	return len(fragments), nil
}

// BuildPG collects, embeds and replaces the pgvector rows of the embedder's model.
func (b *Builder) BuildPG(ctx context.Context, driver store.VectorDriver) (int, error) {
	fragments, err := b.build(ctx)
	if err != nil {
		return 0, err
	}
	if len(fragments) == 0 {
		return 0, nil
	}
	if err := driver.EnsureNounEmbeddingTable(ctx, len(fragments[0].Embedding)); err != nil {
		return 0, err
	}
	list := make([]*store.NounEmbedding, len(fragments))
	for i, f := range fragments {
		list[i] = &store.NounEmbedding{Kind: f.Kind, Text: f.Text, Embedding: f.Embedding}
	}
	if err := driver.ReplaceNounEmbeddings(ctx, b.embedder.Model(), list); err != nil {
		return 0, err
	}
	return len(list), nil
}

func (b *Builder) build(ctx context.Context) ([]Fragment, error) {
	fragments, err := b.Collect(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("collected proper nouns", "count", len(fragments))
	if err := b.Embed(ctx, fragments); err != nil {
		return nil, err
	}
	return fragments, nil
}
