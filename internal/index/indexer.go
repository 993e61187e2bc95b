package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	"github.com/aptyp78/claude-auto-dev/internal/embed"
	engerrors "github.com/aptyp78/claude-auto-dev/internal/errors"
	"github.com/aptyp78/claude-auto-dev/internal/scanner"
	"github.com/aptyp78/claude-auto-dev/internal/store"
	"github.com/aptyp78/claude-auto-dev/internal/vcs"
)

const (
	// DefaultEmbedBatchSize is how many chunk texts go to the embedder per call.
	DefaultEmbedBatchSize = 32

	// DefaultEmbedConcurrency bounds simultaneous embedding batches.
	DefaultEmbedConcurrency = 4

	lockFileName = ".index.lock"
)

// embedRetryConfig retries transient embedding failures before giving up on
// a batch. Kept short so a dead provider fails the run quickly.
var embedRetryConfig = engerrors.RetryConfig{
	MaxRetries:   2,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   2.0,
	Jitter:       true,
}

// Differ is the version-control surface the indexer needs. *vcs.Git
// satisfies it; tests substitute a stub.
type Differ interface {
	Available() bool
	HeadRevision(ctx context.Context) (string, error)
	Diff(ctx context.Context, revA, revB string) ([]vcs.Change, error)
	UntrackedFiles(ctx context.Context) ([]string, error)
}

// Config controls one indexing run.
type Config struct {
	Root    string // repository root
	DataDir string // index data directory

	// Force skips change detection and rebuilds from a tree walk.
	Force bool

	EmbedBatchSize   int
	EmbedConcurrency int
	MaxFileSize      int64

	// Progress, when set, receives per-phase updates.
	Progress func(ProgressEvent)
}

// ProgressEvent reports indexing progress to the caller.
type ProgressEvent struct {
	Phase string // detect, apply, save
	Path  string // file currently being processed
	Done  int
	Total int
}

// Result summarizes one indexing run.
type Result struct {
	Full          bool
	Revision      string
	FilesIndexed  int
	FilesDeleted  int
	FilesRenamed  int
	FilesSkipped  int
	ChunksIndexed int

	// ChunksUnembedded counts chunks indexed without vectors because their
	// embedding batches kept failing. They stay searchable by keyword and
	// symbol; semantic search skips them.
	ChunksUnembedded int

	Duration time.Duration
}

// Indexer drives the index through Load -> Detect -> Apply -> Save State.
// Each Apply step is a per-file atomic store operation, so interrupting a
// run leaves every file either fully indexed at the old version or fully
// indexed at the new one.
type Indexer struct {
	store    *store.IndexStore
	chunker  chunk.Chunker
	embedder embed.Embedder
	git      Differ
	scanner  *scanner.Scanner
	config   Config
}

// NewIndexer wires an indexer from its collaborators.
func NewIndexer(idx *store.IndexStore, chunker chunk.Chunker, embedder embed.Embedder, git Differ, config Config) (*Indexer, error) {
	if idx == nil || chunker == nil || embedder == nil {
		return nil, errors.New("index: store, chunker, and embedder are required")
	}
	if config.Root == "" || config.DataDir == "" {
		return nil, errors.New("index: root and data directory are required")
	}
	if config.EmbedBatchSize <= 0 {
		config.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if config.EmbedConcurrency <= 0 {
		config.EmbedConcurrency = DefaultEmbedConcurrency
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = scanner.DefaultMaxFileSize
	}

	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("create scanner: %w", err)
	}

	return &Indexer{
		store:    idx,
		chunker:  chunker,
		embedder: embedder,
		git:      git,
		scanner:  sc,
		config:   config,
	}, nil
}

// Run performs one indexing pass. It holds an exclusive file lock for the
// duration so two processes never apply changes to the same data directory
// at once.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	lock := flock.New(filepath.Join(ix.config.DataDir, lockFileName))
	if err := os.MkdirAll(ix.config.DataDir, 0o755); err != nil {
		return nil, engerrors.StorageError("create data directory", err)
	}
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, engerrors.StorageError("acquire index lock", err)
	}
	if !acquired {
		return nil, engerrors.ConcurrentUpdateError("this process", "another indexing process")
	}
	defer func() { _ = lock.Unlock() }()

	// Load. Corrupt state is reset, never repaired.
	statePath := StatePath(ix.config.DataDir)
	st, err := LoadState(statePath)
	if err != nil {
		slog.Warn("index state unreadable, rebuilding from scratch",
			slog.String("error", err.Error()))
		st = nil
	}
	var loadedGen int64
	if st != nil {
		loadedGen = st.Generation
	}

	result, newState, err := ix.run(ctx, st)
	if err != nil {
		return nil, err
	}

	// Save. The generation check refuses to clobber a snapshot written by
	// a process that slipped in despite the lock (stale NFS locks, manual
	// state edits).
	ix.progress(ProgressEvent{Phase: "save"})
	if err := SaveState(statePath, newState, loadedGen); err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	return result, nil
}

// run chooses between the incremental and full paths.
func (ix *Indexer) run(ctx context.Context, st *State) (*Result, *State, error) {
	gitReady := ix.git != nil && ix.git.Available()

	if !ix.config.Force && st != nil && st.LastRevision != "" && gitReady && !ix.modelChanged(st) {
		result, newState, err := ix.runIncremental(ctx, st)
		if err == nil {
			return result, newState, nil
		}
		if engerrors.GetCode(err) != engerrors.ErrCodeDiffUnavailable {
			return nil, nil, err
		}
		slog.Warn("revision diff unavailable, falling back to full reindex",
			slog.String("error", err.Error()))
	}

	return ix.runFull(ctx, gitReady)
}

// modelChanged reports whether the embedder no longer matches the state
// snapshot. Mixed-model vectors are not comparable, so this forces a rebuild.
func (ix *Indexer) modelChanged(st *State) bool {
	return st.EmbedModel != ix.embedder.ModelName() ||
		st.Dimensions != ix.embedder.Dimensions()
}

// runIncremental applies the classified diff between the indexed revision
// and HEAD, plus any untracked files.
func (ix *Indexer) runIncremental(ctx context.Context, st *State) (*Result, *State, error) {
	ix.progress(ProgressEvent{Phase: "detect"})

	head, err := ix.git.HeadRevision(ctx)
	if err != nil {
		return nil, nil, err
	}

	changes, err := ix.git.Diff(ctx, st.LastRevision, head)
	if err != nil {
		return nil, nil, err
	}

	untracked, err := ix.git.UntrackedFiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, path := range untracked {
		changes = append(changes, vcs.Change{Path: path, Kind: vcs.ChangeAdded})
	}

	newState := &State{
		LastRevision: head,
		IndexedFiles: make(map[string]string, len(st.IndexedFiles)),
		EmbedModel:   ix.embedder.ModelName(),
		Dimensions:   ix.embedder.Dimensions(),
	}
	for path, hash := range st.IndexedFiles {
		newState.IndexedFiles[path] = hash
	}

	result := &Result{Revision: head}
	for i, change := range changes {
		// Cancellation lands on file boundaries so no file is left half
		// replaced across collections.
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ix.progress(ProgressEvent{Phase: "apply", Path: change.Path, Done: i, Total: len(changes)})

		if err := ix.applyChange(ctx, change, newState, result); err != nil {
			return nil, nil, err
		}
	}

	return result, newState, nil
}

// applyChange applies one classified change to the store and the new state.
func (ix *Indexer) applyChange(ctx context.Context, change vcs.Change, st *State, result *Result) error {
	switch change.Kind {
	case vcs.ChangeDeleted:
		if _, known := st.IndexedFiles[change.Path]; !known {
			return nil
		}
		if err := ix.store.DeleteFile(ctx, change.Path); err != nil {
			return err
		}
		delete(st.IndexedFiles, change.Path)
		result.FilesDeleted++
		return nil

	case vcs.ChangeRenamed:
		if change.IdenticalRename() {
			// Content is byte-identical: move the entries, keep the
			// embeddings, skip chunking entirely.
			if err := ix.store.RenameFile(ctx, change.OldPath, change.Path); err != nil {
				return err
			}
			if hash, ok := st.IndexedFiles[change.OldPath]; ok {
				delete(st.IndexedFiles, change.OldPath)
				st.IndexedFiles[change.Path] = hash
			}
			result.FilesRenamed++
			return nil
		}
		// Content changed during the move: treat as delete plus add.
		if _, known := st.IndexedFiles[change.OldPath]; known {
			if err := ix.store.DeleteFile(ctx, change.OldPath); err != nil {
				return err
			}
			delete(st.IndexedFiles, change.OldPath)
			result.FilesDeleted++
		}
		return ix.indexFile(ctx, change.Path, st, result)

	default: // added, modified
		return ix.indexFile(ctx, change.Path, st, result)
	}
}

// runFull rebuilds from a tree walk, removing indexed files the walk no
// longer finds.
func (ix *Indexer) runFull(ctx context.Context, gitReady bool) (*Result, *State, error) {
	ix.progress(ProgressEvent{Phase: "detect"})

	newState := &State{
		IndexedFiles: make(map[string]string),
		EmbedModel:   ix.embedder.ModelName(),
		Dimensions:   ix.embedder.Dimensions(),
	}
	if gitReady {
		if head, err := ix.git.HeadRevision(ctx); err == nil {
			newState.LastRevision = head
		}
	}

	results, err := ix.scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          ix.config.Root,
		RespectGitignore: true,
		MaxFileSize:      ix.config.MaxFileSize,
	})
	if err != nil {
		return nil, nil, engerrors.StorageError("scan repository", err)
	}

	indexed, err := ix.store.ListFiles(ctx)
	if err != nil {
		return nil, nil, err
	}
	stale := make(map[string]bool, len(indexed))
	for _, f := range indexed {
		stale[f.Path] = true
	}

	result := &Result{Full: true, Revision: newState.LastRevision}
	for res := range results {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if res.Error != nil {
			slog.Warn("skipping unreadable file", slog.String("error", res.Error.Error()))
			continue
		}

		path := res.File.Path
		delete(stale, path)
		ix.progress(ProgressEvent{Phase: "apply", Path: path})

		if err := ix.indexFile(ctx, path, newState, result); err != nil {
			return nil, nil, err
		}
	}

	for path := range stale {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if err := ix.store.DeleteFile(ctx, path); err != nil {
			return nil, nil, err
		}
		result.FilesDeleted++
	}

	return result, newState, nil
}

// indexFile chunks, embeds, and stores one file. The store replacement is
// all-or-nothing per file.
func (ix *Indexer) indexFile(ctx context.Context, path string, st *State, result *Result) error {
	absPath := filepath.Join(ix.config.Root, path)
	content, err := os.ReadFile(absPath)
	if errors.Is(err, os.ErrNotExist) {
		// Diffed away between detect and apply. The next run picks it up.
		return nil
	}
	if err != nil {
		return engerrors.StorageError(fmt.Sprintf("read %s", path), err)
	}
	if int64(len(content)) > ix.config.MaxFileSize {
		slog.Debug("skipping oversized file", slog.String("path", path))
		return nil
	}

	hash := hashContent(content)
	if prev, ok := st.IndexedFiles[path]; ok && prev == hash {
		result.FilesSkipped++
		return nil
	}
	// The store, not the snapshot, decides whether work is needed: after a
	// crash the snapshot is stale, but files already replaced stay replaced,
	// so the re-run skips them instead of re-embedding.
	if existing, err := ix.store.GetFile(ctx, path); err == nil && existing != nil && existing.ContentHash == hash {
		st.IndexedFiles[path] = hash
		result.FilesSkipped++
		return nil
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return engerrors.StorageError(fmt.Sprintf("stat %s", path), err)
	}

	language := scanner.DetectLanguage(path)
	chunks, err := ix.chunker.Chunk(ctx, &chunk.FileInput{
		Path:     path,
		Content:  content,
		Language: language,
	})
	if err != nil {
		return fmt.Errorf("chunk %s: %w", path, err)
	}

	embeddings, err := ix.embedChunks(ctx, chunks)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Retries exhausted. Index the file without vectors so keyword and
		// symbol lookups still see it; semantic search skips these chunks
		// until the file changes or a forced rebuild re-embeds it.
		slog.Warn("embedding_failed",
			slog.String("path", path),
			slog.Int("chunks", len(chunks)),
			slog.Any("error", err))
		embeddings = nil
		result.ChunksUnembedded += len(chunks)
	}

	file := &store.FileRecord{
		Path:        path,
		Language:    language,
		ContentHash: hash,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ChunkCount:  len(chunks),
		IndexedAt:   time.Now().UTC(),
	}
	if err := ix.store.ReplaceFile(ctx, file, chunks, embeddings); err != nil {
		return err
	}

	st.IndexedFiles[path] = hash
	result.FilesIndexed++
	result.ChunksIndexed += len(chunks)
	return nil
}

// embedChunks produces embeddings for all chunks, batched and with bounded
// concurrency. A failed batch fails the whole set: the caller indexes the
// file with no vectors at all rather than leaving it half embedded.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []*chunk.Chunk) (map[string][]float32, error) {
	// File summaries never enter the vector index, so their embeddings
	// would be discarded by the store.
	embeddable := make([]*chunk.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.Kind != chunk.KindFile {
			embeddable = append(embeddable, c)
		}
	}
	chunks = embeddable
	if len(chunks) == 0 {
		return nil, nil
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(chunks); start += ix.config.EmbedBatchSize {
		end := start + ix.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.EmbeddingText())
		}
		batches = append(batches, batch{start: start, texts: texts})
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.config.EmbedConcurrency)
	for _, b := range batches {
		b := b
		g.Go(func() error {
			out, err := engerrors.RetryWithResult(gctx, embedRetryConfig, func() ([][]float32, error) {
				return ix.embedder.EmbedBatch(gctx, b.texts)
			})
			if err != nil {
				return engerrors.EmbeddingError("embed chunk batch", err)
			}
			copy(vectors[b.start:], out)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	embeddings := make(map[string][]float32, len(chunks))
	for i, c := range chunks {
		if vectors[i] != nil {
			embeddings[c.ID] = vectors[i]
		}
	}
	return embeddings, nil
}

func (ix *Indexer) progress(ev ProgressEvent) {
	if ix.config.Progress != nil {
		ix.config.Progress(ev)
	}
}

// hashContent returns the hex sha256 of file content.
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
