// Package store persists indexed data behind a four-collection contract:
// Files, Symbols, Semantic, and Patterns. Keyword search is served by a
// BM25 index (SQLite FTS5 or Bleve), semantic search by an HNSW vector
// store, and all records by SQLite.
package store

import (
	"context"
	"fmt"
	"time"
)

// Collection identifies one of the four logical collections.
type Collection string

const (
	CollectionFiles    Collection = "files"
	CollectionSymbols  Collection = "symbols"
	CollectionSemantic Collection = "semantic"
	CollectionPatterns Collection = "patterns"
)

// AllCollections lists every collection in a stable order.
var AllCollections = []Collection{
	CollectionFiles,
	CollectionSymbols,
	CollectionSemantic,
	CollectionPatterns,
}

// Valid reports whether c names a known collection.
func (c Collection) Valid() bool {
	switch c {
	case CollectionFiles, CollectionSymbols, CollectionSemantic, CollectionPatterns:
		return true
	}
	return false
}

// State keys for the record store key-value table.
const (
	// StateKeyIndexDimension stores the embedding dimension used for the index
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexModel stores the embedding model name used for the index
	StateKeyIndexModel = "index_embedding_model"
)

// CurrentSchemaVersion is the current record store schema version.
const CurrentSchemaVersion = 1

// FileRecord is a row in the Files collection, one per indexed file.
type FileRecord struct {
	Path        string    // Relative to project root
	Language    string    // Detected language
	ContentHash string    // SHA256 of file content
	Size        int64     // File size in bytes
	ModTime     time.Time // Last modification time
	ChunkCount  int       // Chunks produced from this file
	IndexedAt   time.Time // When the file was last (re)indexed
}

// SymbolRecord is a row in the Symbols collection. Symbols come only from
// successfully parsed chunks; degraded chunks contribute none.
type SymbolRecord struct {
	ID         string // chunk ID + name + start line
	ChunkID    string // Owning chunk
	FilePath   string
	Name       string
	Kind       string // function, method, class, interface, type, variable, constant
	Parent     string // Enclosing class/type, empty for top-level
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
	Complexity int // Decision-point count
}

// PatternRecord is a row in the Patterns collection. Patterns are produced
// by an external mining pass and enter only through the upsert contract.
type PatternRecord struct {
	ID          string
	Type        string // error_handling, testing, naming, architecture
	Name        string
	Description string
	Example     string // Representative code snippet
	UsageCount  int
	UpdatedAt   time.Time
}

// Document represents a document to be indexed for keyword search.
type Document struct {
	ID      string // Chunk ID
	Content string // Text content
}

// BM25Result represents a single keyword search result.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the BM25 index.
type IndexStats struct {
	DocumentCount int
	TermCount     int
	AvgDocLength  float64
}

// BM25Index provides keyword search using BM25 scoring.
type BM25Index interface {
	// Index adds documents to the index
	Index(ctx context.Context, docs []*Document) error

	// Search returns documents matching query, scored by BM25
	Search(ctx context.Context, query string, limit int) ([]*BM25Result, error)

	// Delete removes documents from index
	Delete(ctx context.Context, docIDs []string) error

	// AllIDs returns all document IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *IndexStats

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// BM25Config configures the BM25 index.
type BM25Config struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultBM25Config returns default BM25 configuration.
func DefaultBM25Config() BM25Config {
	return BM25Config{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultCodeStopWords,
		MinTokenLength: 2,
	}
}

// DefaultCodeStopWords contains programming keywords to filter out.
var DefaultCodeStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // Chunk ID
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (768 for static768, 256 for static256)
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 32)
	M int

	// EfConstruction is HNSW build-time search width (default: 128)
	EfConstruction int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search using the HNSW algorithm.
type VectorStore interface {
	// Add inserts vectors with their IDs. If an ID exists, it is replaced.
	Add(ctx context.Context, ids []string, vectors [][]float32) error

	// Search finds k nearest neighbors to query vector.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Delete removes vectors by ID.
	Delete(ctx context.Context, ids []string) error

	// AllIDs returns all vector IDs in the store (for consistency checks)
	AllIDs() []string

	// Contains checks if ID exists.
	Contains(id string) bool

	// Count returns number of vectors.
	Count() int

	// Persistence
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'codesearch index --force')", e.Expected, e.Got)
}
