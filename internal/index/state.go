// Package index keeps the search index synchronized with a repository. The
// incremental path diffs the work tree against the last indexed revision and
// touches only changed files; anything that undermines that diff falls back
// to a full reindex.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	engerrors "github.com/aptyp78/claude-auto-dev/internal/errors"
)

// stateFileName is the snapshot file inside the data directory.
const stateFileName = "index_state.json"

// stateVersion guards against reading snapshots written by an incompatible
// layout. A mismatch is treated the same as corruption: full reindex.
const stateVersion = 1

// State is the persisted snapshot of what the index covers. It is the
// anchor for incremental updates: LastRevision feeds the diff, IndexedFiles
// makes re-runs idempotent.
type State struct {
	Version      int               `json:"version"`
	LastRevision string            `json:"last_revision"`
	IndexedFiles map[string]string `json:"indexed_files"` // path -> content hash
	EmbedModel   string            `json:"embed_model"`
	Dimensions   int               `json:"dimensions"`
	Generation   int64             `json:"generation"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewState returns an empty snapshot.
func NewState() *State {
	return &State{
		Version:      stateVersion,
		IndexedFiles: make(map[string]string),
	}
}

// StatePath returns the snapshot location for a data directory.
func StatePath(dataDir string) string {
	return filepath.Join(dataDir, stateFileName)
}

// LoadState reads the snapshot. A missing file returns (nil, nil): the
// caller starts fresh. Unreadable or structurally invalid content returns
// a state-corrupt error; the snapshot is never repaired in place.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, engerrors.StateCorruptError(
			fmt.Sprintf("cannot read index state %s", path), err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, engerrors.StateCorruptError(
			fmt.Sprintf("index state %s is not valid JSON", path), err)
	}
	if st.Version != stateVersion {
		return nil, engerrors.StateCorruptError(
			fmt.Sprintf("index state %s has unsupported version %d", path, st.Version), nil)
	}
	if st.IndexedFiles == nil {
		st.IndexedFiles = make(map[string]string)
	}
	return &st, nil
}

// SaveState writes the snapshot atomically: the new content lands in a
// temporary file that is renamed over the old snapshot, so a crash leaves
// either the previous state or the new one, never a torn write.
//
// loadedGeneration is the Generation observed when this update began. If
// the snapshot on disk has moved past it, another process finished an
// update in between and a concurrent-update error is returned instead of
// overwriting its work.
func SaveState(path string, st *State, loadedGeneration int64) error {
	current, err := LoadState(path)
	if err == nil && current != nil && current.Generation != loadedGeneration {
		return engerrors.ConcurrentUpdateError(
			fmt.Sprintf("generation %d", loadedGeneration),
			fmt.Sprintf("generation %d", current.Generation))
	}

	st.Version = stateVersion
	st.Generation = loadedGeneration + 1
	st.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return engerrors.StorageError("create state directory", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return engerrors.StorageError("write index state", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return engerrors.StorageError("replace index state", err)
	}
	return nil
}
