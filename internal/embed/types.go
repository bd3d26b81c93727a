// Package embed turns query and document text into dense vectors for the
// dense retrieval signal.
package embed

import (
	"context"
	"math"
	"time"
)

// Embedding defaults.
const (
	// StaticDimensions is the vector size of the offline hash embedder.
	StaticDimensions = 256

	// DefaultBatchSize is the number of texts per remote embedding request.
	DefaultBatchSize = 64

	// DefaultTimeout bounds a single remote embedding request.
	DefaultTimeout = 60 * time.Second
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// ModelName returns the model identifier. It is recorded in the index
	// manifest so a run can detect a model change.
	ModelName() string

	// Available reports whether the embedder can serve requests.
	Available(ctx context.Context) bool

	Close() error
}

// normalizeVector scales v to unit length in place. A zero vector is
// returned unchanged.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
