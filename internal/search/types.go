// Package search implements the hybrid search engine: one handler per search
// mode, Reciprocal Rank Fusion of the keyword and semantic legs, optional
// reranking, and overlap deduplication.
package search

import (
	"fmt"
	"time"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	"github.com/aptyp78/claude-auto-dev/internal/store"
)

// Mode selects the retrieval strategy. The set is closed: every mode has
// exactly one handler in the engine and unknown modes are rejected up front.
type Mode string

const (
	// ModeExact resolves symbol names through the Symbols collection.
	ModeExact Mode = "exact"

	// ModeKeyword runs BM25 keyword search only.
	ModeKeyword Mode = "keyword"

	// ModeSemantic runs vector similarity search only.
	ModeSemantic Mode = "semantic"

	// ModeHybrid fuses keyword and semantic results with RRF.
	ModeHybrid Mode = "hybrid"
)

// Valid reports whether m names a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeExact, ModeKeyword, ModeSemantic, ModeHybrid:
		return true
	}
	return false
}

// ParseMode converts a user-facing string to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if s == "" {
		return ModeHybrid, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown search mode %q (valid: exact, keyword, semantic, hybrid)", s)
	}
	return m, nil
}

// Stage records which ranking stage produced a result's final score.
type Stage string

const (
	StageExact    Stage = "exact"
	StageKeyword  Stage = "keyword"
	StageSemantic Stage = "semantic"
	StageFused    Stage = "fused"
	StageReranked Stage = "reranked"
)

// Query describes one search request.
type Query struct {
	// Text is the query text. Required.
	Text string

	// Mode selects the retrieval strategy. Defaults to ModeHybrid.
	Mode Mode

	// Collection restricts the query to one collection. Empty means the
	// mode's natural collection (Symbols for exact, Semantic otherwise).
	// Files and Patterns are record collections: they answer by direct
	// lookup, and Mode is ignored for them. Symbols pins the exact handler
	// regardless of Mode.
	Collection store.Collection

	// SymbolTypes restricts exact lookups to these symbol kinds.
	SymbolTypes []string

	// FilePaths keeps only results under these path prefixes.
	FilePaths []string

	// ExcludePaths drops results under these path prefixes.
	ExcludePaths []string

	// MinScore drops results scoring below this threshold.
	MinScore float64

	// Limit is the maximum number of results (default 10, max 100).
	Limit int
}

// Result is one ranked hit.
type Result struct {
	// Chunk is the full chunk behind the hit. Nil for record hits with no
	// chunk anchor (pattern hits, file hits indexed before summaries).
	Chunk *chunk.Chunk

	// Collection the hit came from.
	Collection store.Collection

	// Score is the final score after the last ranking stage.
	Score float64

	// Stage that produced Score.
	Stage Stage

	// KeywordScore and KeywordRank are the sparse leg's contribution
	// (rank 0 when absent from that leg).
	KeywordScore float64
	KeywordRank  int

	// SemanticScore and SemanticRank are the dense leg's contribution.
	SemanticScore float64
	SemanticRank  int

	// MatchedTerms are the keyword terms that matched, for highlighting.
	MatchedTerms []string

	// Symbol is set for exact-mode hits.
	Symbol *store.SymbolRecord

	// File is set for Files collection hits.
	File *store.FileRecord

	// Pattern is set for Patterns collection hits.
	Pattern *store.PatternRecord
}

// Response wraps the ranked results with degradation signals.
type Response struct {
	Results []*Result

	// Partial is true when a leg of the search failed and the results come
	// from the surviving leg only (for example hybrid degraded to keyword
	// because the query embedding failed).
	Partial bool
}

// Config tunes the engine.
type Config struct {
	// DefaultLimit is used when Query.Limit is unset (default 10).
	DefaultLimit int

	// MaxLimit caps Query.Limit (default 100).
	MaxLimit int

	// RRFConstant is the fusion smoothing constant k (default 60).
	RRFConstant int

	// CandidateMultiplier scales the per-leg candidate pull for hybrid
	// fusion (default 3, so each leg fetches 3x the requested limit).
	CandidateMultiplier int

	// RerankMultiplier bounds how many fused results reach the reranker
	// (default 2, so the top 2x limit are reranked).
	RerankMultiplier int

	// EmbedCacheSize is the query-embedding LRU size (default 512).
	EmbedCacheSize int

	// Timeout bounds one search call (default 5s).
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:        10,
		MaxLimit:            100,
		RRFConstant:         DefaultRRFConstant,
		CandidateMultiplier: 3,
		RerankMultiplier:    2,
		EmbedCacheSize:      512,
		Timeout:             5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 100
	}
	if c.RRFConstant <= 0 {
		c.RRFConstant = DefaultRRFConstant
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 3
	}
	if c.RerankMultiplier <= 0 {
		c.RerankMultiplier = 2
	}
	if c.EmbedCacheSize <= 0 {
		c.EmbedCacheSize = 512
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}
