package embed

import (
	"context"
	"math"
	"time"
)

// Batch and request limits shared by all providers.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256 // caps memory per request
	DefaultBatchSize = 32

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries for transient provider failures.
	DefaultMaxRetries = 3
)

// Vector widths of the offline embedders.
const (
	StaticDimensions    = 256
	Static768Dimensions = 768
)

// Embedder turns text into vectors. Implementations must be safe for
// concurrent use; the indexer embeds batches from several goroutines.
type Embedder interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input text, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the width of produced vectors.
	Dimensions() int

	// ModelName identifies the model, recorded in index state so a model
	// switch forces a rebuild.
	ModelName() string

	// Available reports whether the embedder can serve requests.
	Available(ctx context.Context) bool

	// Close releases provider resources.
	Close() error
}

// normalizeVector scales v to unit length. The zero vector is returned
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
