package pipeline

import (
	"fmt"

	"github.com/knights-analytics/hugot"
	"github.com/sfroehler/docmatch/helper"
)

const (
	embedderModelName = "sentence-transformers/all-MiniLM-L6-v2"
	embedderModelFile = "onnx/model.onnx"
)

// DefaultEmbedder returns an EmbedFunc backed by a local all-MiniLM-L6-v2
// ONNX model (384 dimensions), downloading the model on first use. The same
// model embeds entity identity strings at insert time and search strings at
// resolution time, so both sides live in one vector space.
func DefaultEmbedder() (EmbedFunc, error) {
	modelPath, err := helper.PrepareModel(embedderModelName, embedderModelFile)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	featurePipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "identity-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create feature pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create feature pipeline: %w", err)
	}

	return func(text string) ([]float32, error) {
		result, err := featurePipeline.RunPipeline([]string{text})
		if err != nil {
			return nil, fmt.Errorf("failed to generate embedding: %w", err)
		}
		if len(result.Embeddings) == 0 {
			return nil, fmt.Errorf("no embedding generated for input")
		}
		return result.Embeddings[0], nil
	}, nil
}
