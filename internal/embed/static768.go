package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// StaticEmbedder768 is the 768-dimensional variant of StaticEmbedder.
// The wider vectors match the dimensionality of common transformer
// models, so an index built with it can later be re-embedded by a real
// model without changing the vector store config.
type StaticEmbedder768 struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder768 creates a 768-dimensional static embedder.
func NewStaticEmbedder768() *StaticEmbedder768 {
	return &StaticEmbedder768{}
}

// Embed produces the vector for one text. Whitespace-only input yields
// the zero vector.
func (e *StaticEmbedder768) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, Static768Dimensions), nil
	}

	return normalizeVector(e.generateVector(trimmed)), nil
}

// generateVector is the same token-and-trigram accumulation as the
// 256-dim embedder, hashed into the wider space.
func (e *StaticEmbedder768) generateVector(text string) []float32 {
	vector := make([]float32, Static768Dimensions)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, Static768Dimensions)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, Static768Dimensions)] += ngramWeight
	}

	return vector
}

// EmbedBatch embeds each text in order.
func (e *StaticEmbedder768) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}

	return results, nil
}

// Dimensions returns the vector width.
func (e *StaticEmbedder768) Dimensions() int {
	return Static768Dimensions
}

// ModelName identifies the provider in index state.
func (e *StaticEmbedder768) ModelName() string {
	return "static768"
}

// Available reports readiness; a static embedder is ready until closed.
func (e *StaticEmbedder768) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close marks the embedder closed.
func (e *StaticEmbedder768) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
