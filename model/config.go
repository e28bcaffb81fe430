package model

// ResolverConfig holds the static matching configuration. Thresholds are
// configuration, not learned values.
type ResolverConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for a
	// semantic candidate to count as a match.
	SimilarityThreshold float64 `json:"similarity_threshold"`
	// MaxCandidates caps the ranked candidate list attached to a
	// review item.
	MaxCandidates int `json:"max_candidates"`
	// EmbeddingDim is the dimensionality of the shared vector space.
	EmbeddingDim int `json:"embedding_dim"`
}

// DefaultResolverConfig returns the standard configuration:
// 0.75 cosine threshold, top 5 candidates, 384-dim embeddings
// (all-MiniLM-L6-v2).
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		SimilarityThreshold: 0.75,
		MaxCandidates:       5,
		EmbeddingDim:        384,
	}
}
