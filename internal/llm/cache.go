package llm

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"nestbot/internal/metrics"
)

// CachedEmbedder memoizes query embeddings. Document batches go straight
// through; they are embedded once at ingestion.
type CachedEmbedder struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(next Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 512
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		metrics.EmbeddingCacheHits.Inc()
		return v, nil
	}

	v, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Add(text, v)
	return v, nil
}

func (c *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedDocuments(ctx, texts)
}

func (c *CachedEmbedder) Dimensions() int {
	return c.next.Dimensions()
}
