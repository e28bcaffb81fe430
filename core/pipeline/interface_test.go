package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCachedEmbedder(t *testing.T) {
	t.Run("Caches embeddings per input text", func(t *testing.T) {
		calls := 0
		embed := func(text string) ([]float32, error) {
			calls++
			return []float32{float32(len(text))}, nil
		}

		cached := NewCachedEmbedder(embed, 5*time.Minute)

		first, err := cached("John Smith")
		require.NoError(t, err)
		second, err := cached("John Smith")
		require.NoError(t, err)

		assert.Equal(t, first, second, "Expected identical embeddings for identical text")
		assert.Equal(t, 1, calls, "Expected the underlying embedder to be called once")
	})

	t.Run("Different texts miss the cache", func(t *testing.T) {
		calls := 0
		embed := func(text string) ([]float32, error) {
			calls++
			return []float32{float32(calls)}, nil
		}

		cached := NewCachedEmbedder(embed, 5*time.Minute)

		_, err := cached("John Smith")
		require.NoError(t, err)
		_, err = cached("Jane Doe")
		require.NoError(t, err)

		assert.Equal(t, 2, calls, "Expected one call per distinct text")
	})

	t.Run("Errors are not cached", func(t *testing.T) {
		calls := 0
		embed := func(text string) ([]float32, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("model not ready")
			}
			return []float32{1}, nil
		}

		cached := NewCachedEmbedder(embed, 5*time.Minute)

		_, err := cached("retry me")
		assert.Error(t, err, "Expected the first call to fail")

		embedding, err := cached("retry me")
		assert.NoError(t, err, "Expected the second call to retry the embedder")
		assert.NotNil(t, embedding)
		assert.Equal(t, 2, calls)
	})
}
