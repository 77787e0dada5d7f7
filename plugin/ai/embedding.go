package ai

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// EmbeddingService turns proper nouns and questions into vectors.
// EmbeddingService 向量嵌入服务接口。
type EmbeddingService interface {
	// Embed generates the vector of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension.
	// When none is configured it is learned from the first response and is 0 before that.
	Dimensions() int

	// Model returns the embedding model name.
	Model() string
}

type embeddingService struct {
	client     *openai.Client
	model      string
	requested  int
	dimensions atomic.Int64
}

// NewEmbeddingService creates an EmbeddingService for an OpenAI compatible endpoint.
func NewEmbeddingService(cfg *EmbeddingConfig) (EmbeddingService, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	s := &embeddingService{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     cfg.Model,
		requested: cfg.Dimensions,
	}
	s.dimensions.Store(int64(cfg.Dimensions))
	return s, nil
}

func (s *embeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *embeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, errors.Errorf("text %d is empty", i)
		}
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(s.model),
		Dimensions: s.requested,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create embeddings failed")
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Errorf("embedding response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// Index is authoritative; some servers answer out of order.
	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		index := data.Index
		if index < 0 || index >= len(vectors) || vectors[index] != nil {
			index = i
		}
		vectors[index] = data.Embedding
	}

	for i, v := range vectors {
		if err := s.checkDimensions(len(v)); err != nil {
			return nil, errors.Wrapf(err, "vector %d", i)
		}
	}
	return vectors, nil
}

// checkDimensions pins the dimension on first use; every later vector must match it.
func (s *embeddingService) checkDimensions(n int) error {
	if n == 0 {
		return errors.New("empty embedding")
	}
	if s.dimensions.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if want := s.dimensions.Load(); int64(n) != want {
		return errors.Errorf("embedding has %d dimensions, expected %d", n, want)
	}
	return nil
}

func (s *embeddingService) Dimensions() int {
	return int(s.dimensions.Load())
}

func (s *embeddingService) Model() string {
	return s.model
}
