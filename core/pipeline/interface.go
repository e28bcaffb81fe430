package pipeline

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// EmbedFunc is a function that generates embeddings for text
type EmbedFunc func(text string) ([]float32, error)

// NewCachedEmbedder wraps an embedder with an in-memory cache keyed by the
// input text. Resolution embeds the same identity strings repeatedly when a
// batch of documents mentions the same sender, so repeated calls are served
// from the cache instead of the model.
func NewCachedEmbedder(embed EmbedFunc, ttl time.Duration) EmbedFunc {
	embeddingCache := cache.New(ttl, 2*ttl)

	return func(text string) ([]float32, error) {
		if cached, found := embeddingCache.Get(text); found {
			return cached.([]float32), nil
		}

		embedding, err := embed(text)
		if err != nil {
			return nil, err
		}

		embeddingCache.Set(text, embedding, cache.DefaultExpiration)
		return embedding, nil
	}
}
