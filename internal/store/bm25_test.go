package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both keyword backends must satisfy the same behavioral contract,
// so every test here runs against each of them.
func keywordBackends(t *testing.T) map[string]func(t *testing.T) BM25Index {
	t.Helper()
	return map[string]func(t *testing.T) BM25Index{
		"sqlite": func(t *testing.T) BM25Index {
			idx, err := NewSQLiteBM25Index("", DefaultBM25Config())
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
		"bleve": func(t *testing.T) BM25Index {
			idx, err := NewBleveBM25Index("", DefaultBM25Config())
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			return idx
		},
	}
}

func TestBM25_IndexAndSearch(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)
			ctx := context.Background()

			docs := []*Document{
				{ID: "doc1", Content: "func parseConfig(path string) loads the yaml configuration"},
				{ID: "doc2", Content: "func handleRequest(w http.ResponseWriter) serves search queries"},
				{ID: "doc3", Content: "type ConfigLoader struct wraps yaml parsing with validation"},
			}
			require.NoError(t, idx.Index(ctx, docs))

			results, err := idx.Search(ctx, "yaml configuration", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)

			ids := make(map[string]bool)
			for _, r := range results {
				assert.Greater(t, r.Score, 0.0)
				ids[r.DocID] = true
			}
			assert.True(t, ids["doc1"])
		})
	}
}

func TestBM25_CamelCaseQueryMatchesIdentifiers(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)
			ctx := context.Background()

			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "doc1", Content: "func getUserById(id string) (*User, error)"},
				{ID: "doc2", Content: "func deleteSession(token string) removes cached sessions"},
			}))

			// Split query terms should find the camelCase identifier.
			results, err := idx.Search(ctx, "user by id", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "doc1", results[0].DocID)
		})
	}
}

func TestBM25_EmptyQueryReturnsEmpty(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)
			ctx := context.Background()

			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "doc1", Content: "some indexed content"},
			}))

			for _, q := range []string{"", "   "} {
				results, err := idx.Search(ctx, q, 10)
				require.NoError(t, err)
				assert.Empty(t, results)
			}
		})
	}
}

func TestBM25_SearchEmptyIndex(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)

			results, err := idx.Search(context.Background(), "anything", 10)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestBM25_ReindexReplacesDocument(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)
			ctx := context.Background()

			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "doc1", Content: "original sqlite storage implementation"},
			}))
			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "doc1", Content: "rewritten postgres storage implementation"},
			}))

			results, err := idx.Search(ctx, "sqlite", 10)
			require.NoError(t, err)
			assert.Empty(t, results, "old content should no longer match")

			results, err = idx.Search(ctx, "postgres", 10)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "doc1", results[0].DocID)
		})
	}
}

func TestBM25_Delete(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)
			ctx := context.Background()

			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "doc1", Content: "keyword search tokenizer"},
				{ID: "doc2", Content: "keyword search analyzer"},
			}))
			require.NoError(t, idx.Delete(ctx, []string{"doc1"}))

			results, err := idx.Search(ctx, "keyword search", 10)
			require.NoError(t, err)
			for _, r := range results {
				assert.NotEqual(t, "doc1", r.DocID)
			}

			ids, err := idx.AllIDs()
			require.NoError(t, err)
			assert.Equal(t, []string{"doc2"}, ids)
		})
	}
}

func TestBM25_Stats(t *testing.T) {
	for name, newIndex := range keywordBackends(t) {
		t.Run(name, func(t *testing.T) {
			idx := newIndex(t)
			ctx := context.Background()

			assert.Equal(t, 0, idx.Stats().DocumentCount)

			require.NoError(t, idx.Index(ctx, []*Document{
				{ID: "doc1", Content: "alpha"},
				{ID: "doc2", Content: "beta"},
			}))
			assert.Equal(t, 2, idx.Stats().DocumentCount)
		})
	}
}

func TestSQLiteBM25_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), []*Document{
		{ID: "doc1", Content: "durable keyword entry"},
	}))
	require.NoError(t, idx.Close())

	reopened, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err)
	defer reopened.Close()

	results, err := reopened.Search(context.Background(), "durable", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1", results[0].DocID)
}

func TestSQLiteBM25_CorruptedFileIsCleared(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bm25.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database"), 0644))

	idx, err := NewSQLiteBM25Index(path, DefaultBM25Config())
	require.NoError(t, err, "corrupted index should be cleared and recreated")
	defer idx.Close()

	results, err := idx.Search(context.Background(), "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBM25Factory_SelectsBackend(t *testing.T) {
	dir := t.TempDir()

	idx, err := NewBM25IndexWithBackend(filepath.Join(dir, "bm25"), DefaultBM25Config(), "")
	require.NoError(t, err)
	_, ok := idx.(*SQLiteBM25Index)
	assert.True(t, ok, "default backend should be sqlite")
	require.NoError(t, idx.Close())

	idx, err = NewBM25IndexWithBackend(filepath.Join(dir, "bm25b"), DefaultBM25Config(), "bleve")
	require.NoError(t, err)
	_, ok = idx.(*BleveBM25Index)
	assert.True(t, ok)
	require.NoError(t, idx.Close())

	_, err = NewBM25IndexWithBackend(filepath.Join(dir, "bm25c"), DefaultBM25Config(), "bogus")
	require.Error(t, err)
}

func TestBM25Factory_DetectsExistingBackend(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "bm25")

	assert.Equal(t, BM25Backend(""), DetectBM25Backend(base))

	idx, err := NewBM25IndexWithBackend(base, DefaultBM25Config(), "sqlite")
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	assert.Equal(t, BM25BackendSQLite, DetectBM25Backend(base))
}
