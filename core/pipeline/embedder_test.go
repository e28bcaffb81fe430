package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt32(normA) * sqrt32(normB))
}

func sqrt32(f float32) float32 {
	// Newton iteration is plenty for test assertions
	x := f
	for i := 0; i < 20; i++ {
		x = 0.5 * (x + f/x)
	}
	return x
}

func TestDefaultEmbedder(t *testing.T) {
	// Note: DefaultEmbedder uses hugot which requires downloading models
	// These tests may take longer on first run

	t.Run("Create embedder successfully", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()

		require.NoError(t, err)
		assert.NotNil(t, embedder)
	})

	t.Run("Generate embedding for identity text", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err)

		text := "Mercy General Hospital 1024 Main St Springfield IL"
		embedding, err := embedder(text)

		require.NoError(t, err)
		assert.NotNil(t, embedding)
		assert.Equal(t, 384, len(embedding), "all-MiniLM-L6-v2 produces 384-dimensional embeddings")

		// Verify embedding contains non-zero values
		hasNonZero := false
		for _, val := range embedding {
			if val != 0 {
				hasNonZero = true
				break
			}
		}
		assert.True(t, hasNonZero, "Embedding should contain non-zero values")
	})

	t.Run("Same text produces same embedding", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err)

		text := "John Smith"
		embedding1, err1 := embedder(text)
		require.NoError(t, err1)

		embedding2, err2 := embedder(text)
		require.NoError(t, err2)

		assert.Equal(t, len(embedding1), len(embedding2))

		for i := range embedding1 {
			assert.InDelta(t, embedding1[i], embedding2[i], 0.0001, "Same text should produce same embedding")
		}
	})

	t.Run("Name variants are closer than unrelated names", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err)

		variant1, err := embedder("Jon Smith")
		require.NoError(t, err)

		variant2, err := embedder("John Smith")
		require.NoError(t, err)

		unrelated, err := embedder("Alice Quartermaine")
		require.NoError(t, err)

		similarityVariants := cosineSimilarity(variant1, variant2)
		similarityUnrelated := cosineSimilarity(variant1, unrelated)

		assert.Greater(t, similarityVariants, similarityUnrelated,
			"Name variants should be more similar than unrelated names")
	})

	t.Run("Handle very long text", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping DefaultEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err)

		longText := ""
		for i := 0; i < 100; i++ {
			longText += "Mercy General Hospital Department of Radiology 1024 Main St. "
		}

		embedding, err := embedder(longText)

		require.NoError(t, err)
		assert.NotNil(t, embedding)
		assert.Equal(t, 384, len(embedding))
	})
}
