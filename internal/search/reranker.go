package search

import (
	"context"
)

// RerankResult is one scored document from a rerank pass.
type RerankResult struct {
	// Index is the document's position in the input slice.
	Index int
	// Score is the relevance score in [0, 1].
	Score float64
	// Document is the input text.
	Document string
}

// Reranker rescores the head of a fused result list against the query text.
// Implementations typically wrap a cross-encoder, which scores each
// query-document pair jointly and costs far more per document than the
// retrieval legs, so the engine only feeds it the top slice.
type Reranker interface {
	// Rerank returns the documents scored against query, sorted by score
	// descending. topK of 0 returns all.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the reranker can serve calls right now.
	// The engine skips the rerank stage when this returns false.
	Available(ctx context.Context) bool

	// Close releases any backing model or connection.
	Close() error
}

// NoOpReranker preserves the fused order. It stands in when no reranker is
// configured so the engine has a single code path.
type NoOpReranker struct{}

// Rerank returns the documents in input order with strictly decreasing
// scores, so downstream sorting cannot reorder them.
func (n *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	results := make([]RerankResult, len(documents))
	for i, doc := range documents {
		results[i] = RerankResult{
			Index:    i,
			Score:    1.0 - float64(i)*0.01,
			Document: doc,
		}
	}

	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}

	return results, nil
}

// Available always reports true.
func (n *NoOpReranker) Available(_ context.Context) bool {
	return true
}

// Close is a no-op.
func (n *NoOpReranker) Close() error {
	return nil
}

var _ Reranker = (*NoOpReranker)(nil)
