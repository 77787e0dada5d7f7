package vector

import (
	"context"
	"strings"
	"time"

	"github.com/hrygo/brandpulse/plugin/ai/cache"
)

// CachedEmbedder memoizes single-text embeddings. Lookups of the same
// proper noun repeat often across turns of one conversation.
type CachedEmbedder struct {
	Embedder
	lru *cache.LRU[[]float32]
}

// NewCachedEmbedder wraps e with an LRU of the given capacity and TTL.
func NewCachedEmbedder(e Embedder, capacity int, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{Embedder: e, lru: cache.New[[]float32](capacity, ttl)}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := strings.TrimSpace(text)
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, v)
	return v, nil
}
