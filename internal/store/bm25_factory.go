package store

import (
	"fmt"
	"os"
)

// BM25Backend names a keyword index backend.
type BM25Backend string

const (
	// BM25BackendSQLite backs the keyword collection with SQLite FTS5.
	// WAL mode allows concurrent multi-process readers. Default.
	BM25BackendSQLite BM25Backend = "sqlite"

	// BM25BackendBleve backs it with bleve v2. BoltDB holds an exclusive
	// file lock, so this is single-process.
	BM25BackendBleve BM25Backend = "bleve"
)

// NewBM25IndexWithBackend creates a keyword index at basePath. The extension
// follows the backend (.db for SQLite, .bleve for bleve). An empty basePath
// creates an in-memory index for tests.
func NewBM25IndexWithBackend(basePath string, config BM25Config, backend string) (BM25Index, error) {
	switch backend {
	case string(BM25BackendSQLite), "":
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteBM25Index(path, config)

	case string(BM25BackendBleve):
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveBM25Index(path, config)

	default:
		return nil, fmt.Errorf("unknown BM25 backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// DetectBM25Backend reports which backend an existing index at basePath
// uses, or "" when none exists. Lets Open reopen an index with the backend
// that wrote it regardless of the configured default.
func DetectBM25Backend(basePath string) BM25Backend {
	if info, err := os.Stat(basePath + ".db"); err == nil && !info.IsDir() {
		return BM25BackendSQLite
	}
	if info, err := os.Stat(basePath + ".bleve"); err == nil && info.IsDir() {
		return BM25BackendBleve
	}
	return ""
}
