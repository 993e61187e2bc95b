package search

import (
	"sort"

	"github.com/aptyp78/claude-auto-dev/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// FusedResult represents a single result after RRF fusion.
type FusedResult struct {
	ChunkID       string   // Chunk identifier
	RRFScore      float64  // Combined RRF score
	KeywordScore  float64  // Original BM25 score (preserved)
	KeywordRank   int      // Position in keyword list (1-indexed, 0 if absent)
	SemanticScore float64  // Original vector similarity score (preserved)
	SemanticRank  int      // Position in semantic list (1-indexed, 0 if absent)
	InBothLists   bool     // Document appeared in both result lists
	MatchedTerms  []string // Keyword matched terms (for highlighting)
}

// bestRank returns the document's best (lowest) rank across both lists.
func (r *FusedResult) bestRank() int {
	switch {
	case r.KeywordRank == 0:
		return r.SemanticRank
	case r.SemanticRank == 0:
		return r.KeywordRank
	case r.KeywordRank < r.SemanticRank:
		return r.KeywordRank
	default:
		return r.SemanticRank
	}
}

// RRFFusion combines keyword and semantic results using Reciprocal Rank
// Fusion: RRF_score(d) = Σ 1 / (k + rank_i(d)), summed over the lists the
// document appears in. A list the document is absent from contributes
// nothing, so presence in both lists naturally outranks presence in one.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Fuse combines keyword and semantic results.
//
// Results are sorted by: RRFScore (desc) → best individual rank (asc) →
// ChunkID (asc). The last key makes ordering fully deterministic.
func (f *RRFFusion) Fuse(keyword []*store.BM25Result, semantic []*store.VectorResult) []*FusedResult {
	// Return empty slice, not nil, for consistent API behavior
	if len(keyword) == 0 && len(semantic) == 0 {
		return []*FusedResult{}
	}

	scores := make(map[string]*FusedResult, len(keyword)+len(semantic))

	// Keyword leg (1-indexed ranks)
	for rank, r := range keyword {
		result := f.getOrCreate(scores, r.DocID)
		result.KeywordScore = r.Score
		result.KeywordRank = rank + 1
		result.MatchedTerms = r.MatchedTerms
		result.RRFScore += 1.0 / float64(f.K+rank+1)
	}

	// Semantic leg (1-indexed ranks)
	for rank, r := range semantic {
		result := f.getOrCreate(scores, r.ID)
		result.SemanticScore = float64(r.Score)
		result.SemanticRank = rank + 1
		result.RRFScore += 1.0 / float64(f.K+rank+1)

		if result.KeywordRank > 0 {
			result.InBothLists = true
		}
	}

	return f.toSortedSlice(scores)
}

// getOrCreate returns existing result or creates new one.
func (f *RRFFusion) getOrCreate(m map[string]*FusedResult, id string) *FusedResult {
	if r, ok := m[id]; ok {
		return r
	}
	r := &FusedResult{ChunkID: id}
	m[id] = r
	return r
}

// toSortedSlice converts map to slice and sorts by RRF score with tie-breaking.
func (f *RRFFusion) toSortedSlice(m map[string]*FusedResult) []*FusedResult {
	results := make([]*FusedResult, 0, len(m))
	for _, r := range m {
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return f.compare(results[i], results[j])
	})

	return results
}

// compare implements deterministic comparison for sorting.
// Returns true if a should rank before b.
//
// Priority:
//  1. Higher RRF score
//  2. Better (lower) best individual rank
//  3. Lexicographically smaller ChunkID
func (f *RRFFusion) compare(a, b *FusedResult) bool {
	if a.RRFScore != b.RRFScore {
		return a.RRFScore > b.RRFScore
	}

	if ar, br := a.bestRank(), b.bestRank(); ar != br {
		return ar < br
	}

	return a.ChunkID < b.ChunkID
}
