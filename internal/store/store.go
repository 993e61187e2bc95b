package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	engerrors "github.com/aptyp78/claude-auto-dev/internal/errors"
)

// File names inside the index data directory.
const (
	recordsFileName = "records.db"
	bm25BaseName    = "bm25"
	vectorsFileName = "vectors.hnsw"
)

// Options configures an IndexStore.
type Options struct {
	// Dimensions is the embedding dimension. Required.
	Dimensions int

	// EmbedderModel is recorded in the store so a model switch can be
	// detected on reopen.
	EmbedderModel string

	// BM25Backend selects the keyword backend: "sqlite" (default) or "bleve".
	BM25Backend string

	// BM25 overrides the default keyword index configuration.
	BM25 *BM25Config
}

// IndexStore is the four-collection persistence facade. Files, Symbols, and
// Patterns live in the SQLite record store; the Semantic collection spans the
// keyword index (sparse) and the HNSW vector store (dense), with the chunk
// rows in SQLite as the source of truth.
//
// All writes go through per-file operations so a file is always replaced as
// a unit across every collection.
type IndexStore struct {
	records *SQLiteStore
	keyword BM25Index
	vectors VectorStore

	dataDir    string
	vectorPath string
	dims       int
}

// Open opens (or creates) an index store rooted at dataDir.
// Returns ErrDimensionMismatch when the on-disk vectors were built with a
// different embedding dimension than opts.Dimensions.
func Open(dataDir string, opts Options) (*IndexStore, error) {
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", opts.Dimensions)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, engerrors.StorageError(fmt.Sprintf("create data dir %s", dataDir), err)
	}

	vectorPath := filepath.Join(dataDir, vectorsFileName)
	storedDims, err := ReadHNSWStoreDimensions(vectorPath)
	if err != nil {
		return nil, engerrors.StorageError("read vector store metadata", err)
	}
	if storedDims != 0 && storedDims != opts.Dimensions {
		return nil, ErrDimensionMismatch{Expected: storedDims, Got: opts.Dimensions}
	}

	records, err := NewSQLiteStore(filepath.Join(dataDir, recordsFileName))
	if err != nil {
		return nil, engerrors.StorageError("open record store", err)
	}

	bm25Cfg := DefaultBM25Config()
	if opts.BM25 != nil {
		bm25Cfg = *opts.BM25
	}
	bm25Base := filepath.Join(dataDir, bm25BaseName)
	backend := opts.BM25Backend
	if backend == "" {
		// Reopen an existing index with the backend that wrote it.
		backend = string(DetectBM25Backend(bm25Base))
	}
	keyword, err := NewBM25IndexWithBackend(bm25Base, bm25Cfg, backend)
	if err != nil {
		_ = records.Close()
		return nil, engerrors.StorageError("open keyword index", err)
	}

	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(opts.Dimensions))
	if err != nil {
		_ = records.Close()
		_ = keyword.Close()
		return nil, engerrors.StorageError("create vector store", err)
	}
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if err := vectors.Load(vectorPath); err != nil {
			_ = records.Close()
			_ = keyword.Close()
			return nil, engerrors.StorageError("load vector store", err)
		}
	}

	s := &IndexStore{
		records:    records,
		keyword:    keyword,
		vectors:    vectors,
		dataDir:    dataDir,
		vectorPath: vectorPath,
		dims:       opts.Dimensions,
	}

	ctx := context.Background()
	_ = records.SetState(ctx, StateKeyIndexDimension, strconv.Itoa(opts.Dimensions))
	if opts.EmbedderModel != "" {
		_ = records.SetState(ctx, StateKeyIndexModel, opts.EmbedderModel)
	}

	return s, nil
}

// OpenInMemory creates an index store with no on-disk state, for testing.
func OpenInMemory(dimensions int) (*IndexStore, error) {
	records, err := NewSQLiteStore("")
	if err != nil {
		return nil, err
	}
	keyword, err := NewSQLiteBM25Index("", DefaultBM25Config())
	if err != nil {
		_ = records.Close()
		return nil, err
	}
	vectors, err := NewHNSWStore(DefaultVectorStoreConfig(dimensions))
	if err != nil {
		_ = records.Close()
		_ = keyword.Close()
		return nil, err
	}
	return &IndexStore{
		records: records,
		keyword: keyword,
		vectors: vectors,
		dims:    dimensions,
	}, nil
}

// ReplaceFile atomically replaces everything derived from one file across
// all collections. The record store transaction commits first; only then are
// the keyword and vector entries swapped, so a crash in between leaves the
// derived indexes stale but never the records inconsistent.
//
// Embeddings are keyed by chunk ID. Chunks without an embedding (degraded
// chunks, or chunks whose embedding failed) stay searchable by keyword.
func (s *IndexStore) ReplaceFile(ctx context.Context, file *FileRecord, chunks []*chunk.Chunk, embeddings map[string][]float32) error {
	for _, vec := range embeddings {
		if len(vec) != s.dims {
			return ErrDimensionMismatch{Expected: s.dims, Got: len(vec)}
		}
	}

	removed, err := s.records.ReplaceFile(ctx, file, chunks, embeddings)
	if err != nil {
		return engerrors.StorageError(fmt.Sprintf("replace records for %s", file.Path), err)
	}

	if err := s.keyword.Delete(ctx, removed); err != nil {
		return engerrors.StorageError(fmt.Sprintf("purge keyword entries for %s", file.Path), err)
	}
	if err := s.vectors.Delete(ctx, removed); err != nil {
		return engerrors.StorageError(fmt.Sprintf("purge vector entries for %s", file.Path), err)
	}

	docs := make([]*Document, 0, len(chunks))
	var ids []string
	var vecs [][]float32
	for _, c := range chunks {
		// File summary chunks answer the Files collection; they stay out
		// of the Semantic collection's keyword and vector legs.
		if c.Kind == chunk.KindFile {
			continue
		}
		docs = append(docs, &Document{ID: c.ID, Content: c.EmbeddingText()})
		if vec, ok := embeddings[c.ID]; ok {
			ids = append(ids, c.ID)
			vecs = append(vecs, vec)
		}
	}
	if err := s.keyword.Index(ctx, docs); err != nil {
		return engerrors.StorageError(fmt.Sprintf("index keyword entries for %s", file.Path), err)
	}
	if err := s.vectors.Add(ctx, ids, vecs); err != nil {
		return engerrors.StorageError(fmt.Sprintf("index vector entries for %s", file.Path), err)
	}

	return nil
}

// DeleteFile removes a file from every collection.
func (s *IndexStore) DeleteFile(ctx context.Context, path string) error {
	removed, err := s.records.DeleteFile(ctx, path)
	if err != nil {
		return engerrors.StorageError(fmt.Sprintf("delete records for %s", path), err)
	}
	if err := s.keyword.Delete(ctx, removed); err != nil {
		return engerrors.StorageError(fmt.Sprintf("purge keyword entries for %s", path), err)
	}
	if err := s.vectors.Delete(ctx, removed); err != nil {
		return engerrors.StorageError(fmt.Sprintf("purge vector entries for %s", path), err)
	}
	return nil
}

// RenameFile moves a file whose content is unchanged to a new path. Chunk IDs
// incorporate the path, so they are recomputed and the keyword and vector
// entries re-keyed from the stored content and embeddings. Nothing is
// re-chunked or re-embedded.
func (s *IndexStore) RenameFile(ctx context.Context, oldPath, newPath string) error {
	renames, err := s.records.RenameFile(ctx, oldPath, newPath)
	if err != nil {
		return engerrors.StorageError(fmt.Sprintf("rename records %s -> %s", oldPath, newPath), err)
	}

	oldIDs := make([]string, 0, len(renames))
	docs := make([]*Document, 0, len(renames))
	var ids []string
	var vecs [][]float32
	for _, r := range renames {
		oldIDs = append(oldIDs, r.OldID)
		if r.Kind == string(chunk.KindFile) {
			continue
		}
		docs = append(docs, &Document{ID: r.NewID, Content: r.Content})
		if r.Embedding != nil {
			ids = append(ids, r.NewID)
			vecs = append(vecs, r.Embedding)
		}
	}

	if err := s.keyword.Delete(ctx, oldIDs); err != nil {
		return engerrors.StorageError(fmt.Sprintf("purge keyword entries for %s", oldPath), err)
	}
	if err := s.keyword.Index(ctx, docs); err != nil {
		return engerrors.StorageError(fmt.Sprintf("re-key keyword entries for %s", newPath), err)
	}
	if err := s.vectors.Delete(ctx, oldIDs); err != nil {
		return engerrors.StorageError(fmt.Sprintf("purge vector entries for %s", oldPath), err)
	}
	if err := s.vectors.Add(ctx, ids, vecs); err != nil {
		return engerrors.StorageError(fmt.Sprintf("re-key vector entries for %s", newPath), err)
	}

	return nil
}

// UpsertPatterns writes pattern records produced by an external mining pass.
func (s *IndexStore) UpsertPatterns(ctx context.Context, patterns []*PatternRecord) error {
	if err := s.records.UpsertPatterns(ctx, patterns); err != nil {
		return engerrors.StorageError("upsert patterns", err)
	}
	return nil
}

// DeletePatterns removes pattern records by ID.
func (s *IndexStore) DeletePatterns(ctx context.Context, ids []string) error {
	if err := s.records.DeletePatterns(ctx, ids); err != nil {
		return engerrors.StorageError("delete patterns", err)
	}
	return nil
}

// QueryKeyword searches the sparse leg of the Semantic collection.
func (s *IndexStore) QueryKeyword(ctx context.Context, query string, limit int) ([]*BM25Result, error) {
	return s.keyword.Search(ctx, query, limit)
}

// QuerySemantic searches the dense leg of the Semantic collection.
func (s *IndexStore) QuerySemantic(ctx context.Context, vector []float32, k int) ([]*VectorResult, error) {
	return s.vectors.Search(ctx, vector, k)
}

// QuerySymbols looks up the Symbols collection. Degraded chunks never reach
// this collection, so exact lookups only see parsed code.
func (s *IndexStore) QuerySymbols(ctx context.Context, q SymbolQuery) ([]*SymbolRecord, error) {
	return s.records.QuerySymbols(ctx, q)
}

// QueryFiles looks up the Files collection by path substring.
func (s *IndexStore) QueryFiles(ctx context.Context, pathQuery string, limit int) ([]*FileRecord, error) {
	return s.records.QueryFiles(ctx, pathQuery, limit)
}

// QueryPatterns looks up the Patterns collection.
func (s *IndexStore) QueryPatterns(ctx context.Context, patternType string, limit int) ([]*PatternRecord, error) {
	return s.records.QueryPatterns(ctx, patternType, limit)
}

// GetChunk returns a chunk by ID, or nil when absent.
func (s *IndexStore) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	return s.records.GetChunk(ctx, id)
}

// GetChunks returns chunks by ID, preserving the requested order.
func (s *IndexStore) GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	return s.records.GetChunks(ctx, ids)
}

// GetChunksByPath returns a file's chunks ordered by start line.
func (s *IndexStore) GetChunksByPath(ctx context.Context, path string) ([]*chunk.Chunk, error) {
	return s.records.GetChunksByPath(ctx, path)
}

// GetFile returns the file record for path, or nil when not indexed.
func (s *IndexStore) GetFile(ctx context.Context, path string) (*FileRecord, error) {
	return s.records.GetFile(ctx, path)
}

// ListFiles returns every indexed file.
func (s *IndexStore) ListFiles(ctx context.Context) ([]*FileRecord, error) {
	return s.records.ListFiles(ctx)
}

// GetState reads a record store state key.
func (s *IndexStore) GetState(ctx context.Context, key string) (string, error) {
	return s.records.GetState(ctx, key)
}

// SetState writes a record store state key.
func (s *IndexStore) SetState(ctx context.Context, key, value string) error {
	return s.records.SetState(ctx, key, value)
}

// Dimensions returns the embedding dimension the store was opened with.
func (s *IndexStore) Dimensions() int {
	return s.dims
}

// StoreStats summarizes the store for status reporting.
type StoreStats struct {
	Files    int
	Chunks   int
	Symbols  int
	Patterns int
	Vectors  int
	Keyword  int
}

// Stats returns row counts across all collections.
func (s *IndexStore) Stats(ctx context.Context) (StoreStats, error) {
	counts, err := s.records.Counts(ctx)
	if err != nil {
		return StoreStats{}, err
	}
	return StoreStats{
		Files:    counts.Files,
		Chunks:   counts.Chunks,
		Symbols:  counts.Symbols,
		Patterns: counts.Patterns,
		Vectors:  s.vectors.Count(),
		Keyword:  s.keyword.Stats().DocumentCount,
	}, nil
}

// Flush persists the in-memory vector store and checkpoints the keyword
// index. The record store is durable per transaction and needs no flush.
func (s *IndexStore) Flush() error {
	if s.vectorPath != "" {
		if err := s.vectors.Save(s.vectorPath); err != nil {
			return engerrors.StorageError("save vector store", err)
		}
	}
	if err := s.keyword.Save(""); err != nil {
		return engerrors.StorageError("checkpoint keyword index", err)
	}
	return nil
}

// Close flushes and closes all backends. Idempotent per backend.
func (s *IndexStore) Close() error {
	var firstErr error
	if s.vectorPath != "" {
		if err := s.vectors.Save(s.vectorPath); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.vectors.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.keyword.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.records.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
