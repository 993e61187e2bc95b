package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	engerrors "github.com/aptyp78/claude-auto-dev/internal/errors"
	"github.com/aptyp78/claude-auto-dev/internal/store"
	"github.com/aptyp78/claude-auto-dev/internal/vcs"
)

const testDims = 8

// stubDiffer scripts the version-control answers.
type stubDiffer struct {
	available bool
	head      string
	headErr   error
	changes   []vcs.Change
	diffErr   error
	untracked []string
}

func (d *stubDiffer) Available() bool { return d.available }

func (d *stubDiffer) HeadRevision(_ context.Context) (string, error) {
	return d.head, d.headErr
}

func (d *stubDiffer) Diff(_ context.Context, _, _ string) ([]vcs.Change, error) {
	return d.changes, d.diffErr
}

func (d *stubDiffer) UntrackedFiles(_ context.Context) ([]string, error) {
	return d.untracked, nil
}

// lineChunker produces one chunk per file with a symbol named after the
// first word of the content. Deterministic and cheap.
type lineChunker struct{}

func (lineChunker) Chunk(_ context.Context, file *chunk.FileInput) ([]*chunk.Chunk, error) {
	content := string(file.Content)
	lines := strings.Count(content, "\n") + 1
	hash := hashContent(file.Content)

	symbol := "anon"
	if fields := strings.Fields(content); len(fields) > 0 {
		symbol = fields[0]
	}

	c := &chunk.Chunk{
		ID:          chunk.ComputeID(file.Path, 1, lines, hash),
		FilePath:    file.Path,
		Content:     content,
		Kind:        chunk.KindFunction,
		Language:    file.Language,
		StartLine:   1,
		EndLine:     lines,
		SymbolName:  symbol,
		TokenCount:  len(content) / 4,
		ContentHash: hash,
		Symbols: []*chunk.Symbol{{
			Name:      symbol,
			Type:      chunk.SymbolTypeFunction,
			StartLine: 1,
			EndLine:   lines,
		}},
	}
	return []*chunk.Chunk{c}, nil
}

func (lineChunker) SupportedExtensions() []string { return []string{".go"} }

// countingEmbedder tracks how many texts it has embedded.
type countingEmbedder struct {
	mu       sync.Mutex
	embedded int
	fail     bool
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return nil, fmt.Errorf("embedder down")
	}
	e.embedded += len(texts)
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, testDims)
		v[i%testDims] = 1
		out[i] = v
	}
	return out, nil
}

func (e *countingEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.embedded
}

func (e *countingEmbedder) Dimensions() int                  { return testDims }
func (e *countingEmbedder) ModelName() string                { return "counting" }
func (e *countingEmbedder) Available(_ context.Context) bool { return true }
func (e *countingEmbedder) Close() error                     { return nil }

// ============================================================================
// Fixtures
// ============================================================================

type fixture struct {
	root     string
	dataDir  string
	store    *store.IndexStore
	embedder *countingEmbedder
	differ   *stubDiffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := store.OpenInMemory(testDims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	return &fixture{
		root:     t.TempDir(),
		dataDir:  t.TempDir(),
		store:    idx,
		embedder: &countingEmbedder{},
		differ:   &stubDiffer{},
	}
}

func (f *fixture) write(t *testing.T, path, content string) {
	t.Helper()
	abs := filepath.Join(f.root, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (f *fixture) indexer(t *testing.T, cfg Config) *Indexer {
	t.Helper()
	cfg.Root = f.root
	cfg.DataDir = f.dataDir
	ix, err := NewIndexer(f.store, lineChunker{}, f.embedder, f.differ, cfg)
	require.NoError(t, err)
	return ix
}

// ============================================================================
// Full reindex
// ============================================================================

func TestRun_FullReindexWithoutGit(t *testing.T) {
	f := newFixture(t)
	f.write(t, "auth.go", "HandleLogin checks credentials")
	f.write(t, "db/pool.go", "NewPool opens connections")

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Full)
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Equal(t, 2, result.ChunksIndexed)

	files, err := f.store.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 2)

	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Len(t, st.IndexedFiles, 2)
	assert.Equal(t, "counting", st.EmbedModel)
}

func TestRun_FullReindexRemovesVanishedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "keep.go", "Keep this")
	f.write(t, "drop.go", "Drop this")

	_, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "drop.go")))

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)

	got, err := f.store.GetFile(context.Background(), "drop.go")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRun_RerunSkipsUnchangedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha one")
	f.write(t, "b.go", "Beta two")

	_, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	embedsAfterFirst := f.embedder.count()

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.FilesIndexed)
	assert.Equal(t, 2, result.FilesSkipped)
	assert.Equal(t, embedsAfterFirst, f.embedder.count(), "unchanged files must not re-embed")
}

func TestRun_CorruptStateTriggersFullReindex(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	require.NoError(t, os.WriteFile(StatePath(f.dataDir), []byte("{broken"), 0o644))

	f.differ.available = true
	f.differ.head = "rev2"

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Full)

	// The reset snapshot is valid again.
	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "rev2", st.LastRevision)
}

// ============================================================================
// Incremental updates
// ============================================================================

// seedIndexed runs one full pass with git available so later runs take the
// incremental path.
func seedIndexed(t *testing.T, f *fixture, rev string) {
	t.Helper()
	f.differ.available = true
	f.differ.head = rev
	_, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
}

func TestRun_IncrementalAppliesOnlyDiff(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha one")
	f.write(t, "b.go", "Beta two")
	seedIndexed(t, f, "rev1")
	embedsAfterSeed := f.embedder.count()

	f.write(t, "a.go", "Alpha changed")
	f.differ.head = "rev2"
	f.differ.changes = []vcs.Change{{Path: "a.go", Kind: vcs.ChangeModified}}

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Full)
	assert.Equal(t, "rev2", result.Revision)
	assert.Equal(t, 1, result.FilesIndexed)
	assert.Equal(t, embedsAfterSeed+1, f.embedder.count())

	chunks, err := f.store.GetChunksByPath(context.Background(), "a.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "changed")
}

func TestRun_IncrementalDeletesRemovedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	f.write(t, "b.go", "Beta")
	seedIndexed(t, f, "rev1")

	require.NoError(t, os.Remove(filepath.Join(f.root, "b.go")))
	f.differ.head = "rev2"
	f.differ.changes = []vcs.Change{{Path: "b.go", Kind: vcs.ChangeDeleted}}

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)

	got, err := f.store.GetFile(context.Background(), "b.go")
	require.NoError(t, err)
	assert.Nil(t, got)

	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	assert.NotContains(t, st.IndexedFiles, "b.go")
}

func TestRun_IncrementalIndexesUntrackedFiles(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	seedIndexed(t, f, "rev1")

	f.write(t, "new.go", "Fresh file")
	f.differ.head = "rev2"
	f.differ.untracked = []string{"new.go"}

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesIndexed)

	got, err := f.store.GetFile(context.Background(), "new.go")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestRun_IdenticalRenameSkipsReembedding(t *testing.T) {
	f := newFixture(t)
	f.write(t, "old/name.go", "Renamed content stays identical")
	seedIndexed(t, f, "rev1")
	embedsAfterSeed := f.embedder.count()

	content, err := os.ReadFile(filepath.Join(f.root, "old/name.go"))
	require.NoError(t, err)
	f.write(t, "new/name.go", string(content))
	require.NoError(t, os.Remove(filepath.Join(f.root, "old/name.go")))

	f.differ.head = "rev2"
	f.differ.changes = []vcs.Change{{
		Path: "new/name.go", Kind: vcs.ChangeRenamed, OldPath: "old/name.go", Score: 100,
	}}

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesRenamed)
	assert.Equal(t, 0, result.FilesIndexed)
	assert.Equal(t, embedsAfterSeed, f.embedder.count(), "identical rename must not re-embed")

	ctx := context.Background()
	oldChunks, err := f.store.GetChunksByPath(ctx, "old/name.go")
	require.NoError(t, err)
	assert.Empty(t, oldChunks)

	newChunks, err := f.store.GetChunksByPath(ctx, "new/name.go")
	require.NoError(t, err)
	require.Len(t, newChunks, 1)

	// The moved chunk still answers vector queries.
	vec := make([]float32, testDims)
	vec[0] = 1
	hits, err := f.store.QuerySemantic(ctx, vec, 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, newChunks[0].ID, hits[0].ID)

	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	assert.Contains(t, st.IndexedFiles, "new/name.go")
	assert.NotContains(t, st.IndexedFiles, "old/name.go")
}

func TestRun_ModifiedRenameReindexesNewPath(t *testing.T) {
	f := newFixture(t)
	f.write(t, "old.go", "Original content")
	seedIndexed(t, f, "rev1")

	f.write(t, "new.go", "Edited during the move")
	require.NoError(t, os.Remove(filepath.Join(f.root, "old.go")))
	f.differ.head = "rev2"
	f.differ.changes = []vcs.Change{{
		Path: "new.go", Kind: vcs.ChangeRenamed, OldPath: "old.go", Score: 72,
	}}

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesDeleted)
	assert.Equal(t, 1, result.FilesIndexed)
	assert.Zero(t, result.FilesRenamed)
}

func TestRun_DiffUnavailableFallsBackToFull(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	seedIndexed(t, f, "rev1")

	f.differ.head = "rev9"
	f.differ.diffErr = engerrors.DiffUnavailableError("history rewritten", nil)

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Full)
	assert.Equal(t, 1, result.FilesSkipped, "full fallback still skips unchanged content")
}

func TestRun_ModelChangeForcesFullReindex(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	seedIndexed(t, f, "rev1")

	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	st.EmbedModel = "something-else"
	require.NoError(t, SaveState(StatePath(f.dataDir), st, st.Generation))

	f.differ.head = "rev2"
	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Full)
}

// ============================================================================
// Cancellation, locking, failures
// ============================================================================

func TestRun_CancellationStopsAtFileBoundary(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.write(t, fmt.Sprintf("f%d.go", i), fmt.Sprintf("File number %d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	applied := 0
	ix := f.indexer(t, Config{
		Progress: func(ev ProgressEvent) {
			if ev.Phase == "apply" {
				applied++
				if applied == 2 {
					cancel()
				}
			}
		},
	})

	_, err := ix.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// No snapshot was written; the next run redoes the work.
	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	assert.Nil(t, st)

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, result.FilesIndexed+result.FilesSkipped)
}

func TestRun_LockRefusesSecondRunner(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")

	held := flock.New(filepath.Join(f.dataDir, lockFileName))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = held.Unlock() }()

	_, err = f.indexer(t, Config{}).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodeConcurrentUpdate, engerrors.GetCode(err))
}

func TestRun_EmbedderFailureDegradesToKeywordOnly(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	f.embedder.fail = true

	result, err := f.indexer(t, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesIndexed)
	assert.Equal(t, 1, result.ChunksUnembedded)

	ctx := context.Background()
	hits, err := f.store.QueryKeyword(ctx, "Alpha", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)

	vecHits, err := f.store.QuerySemantic(ctx, make([]float32, testDims), 5)
	require.NoError(t, err)
	assert.Empty(t, vecHits)

	st, err := LoadState(StatePath(f.dataDir))
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Contains(t, st.IndexedFiles, "a.go")
}

func TestRun_ForceRebuildsEverything(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.go", "Alpha")
	seedIndexed(t, f, "rev1")

	f.differ.head = "rev1"
	result, err := f.indexer(t, Config{Force: true}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Full)
}
