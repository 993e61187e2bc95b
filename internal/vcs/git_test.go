package vcs

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engerrors "github.com/aptyp78/claude-auto-dev/internal/errors"
)

// ============================================================================
// parseNameStatus Tests
// ============================================================================

func TestParseNameStatus_AllKinds(t *testing.T) {
	out := "A\tnew.go\n" +
		"M\tchanged.go\n" +
		"D\tgone.go\n" +
		"R100\told/name.go\tnew/name.go\n" +
		"R087\tutil.go\thelpers.go\n"

	changes, err := parseNameStatus(out)
	require.NoError(t, err)
	require.Len(t, changes, 5)

	assert.Equal(t, Change{Path: "new.go", Kind: ChangeAdded}, changes[0])
	assert.Equal(t, Change{Path: "changed.go", Kind: ChangeModified}, changes[1])
	assert.Equal(t, Change{Path: "gone.go", Kind: ChangeDeleted}, changes[2])

	rename := changes[3]
	assert.Equal(t, ChangeRenamed, rename.Kind)
	assert.Equal(t, "new/name.go", rename.Path)
	assert.Equal(t, "old/name.go", rename.OldPath)
	assert.Equal(t, 100, rename.Score)
	assert.True(t, rename.IdenticalRename())

	editedRename := changes[4]
	assert.Equal(t, 87, editedRename.Score)
	assert.False(t, editedRename.IdenticalRename(),
		"rename with edits must not be treated as identical")
}

func TestParseNameStatus_EmptyOutput(t *testing.T) {
	changes, err := parseNameStatus("")
	require.NoError(t, err)
	assert.Empty(t, changes)

	changes, err = parseNameStatus("\n\n")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestParseNameStatus_CopyAndTypeChange(t *testing.T) {
	out := "C090\torig.go\tcopy.go\nT\tlink.go\n"

	changes, err := parseNameStatus(out)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, ChangeAdded, changes[0].Kind, "copies index the new path as added")
	assert.Equal(t, "copy.go", changes[0].Path)
	assert.Equal(t, ChangeModified, changes[1].Kind, "type changes re-index as modified")
}

func TestParseNameStatus_MalformedLine(t *testing.T) {
	_, err := parseNameStatus("X\tweird.go\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized diff line")
}

// ============================================================================
// Git Command Tests (injected exec)
// ============================================================================

// fakeExec returns an execCommand override that prints the given output.
func fakeExec(output string) func(name string, args ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		return exec.Command("printf", "%s", output)
	}
}

// failExec returns an execCommand override that always exits nonzero.
func failExec() func(name string, args ...string) *exec.Cmd {
	return func(name string, args ...string) *exec.Cmd {
		return exec.Command("sh", "-c", "echo 'fatal: bad revision' >&2; exit 128")
	}
}

func TestGit_HeadRevision(t *testing.T) {
	g := NewGit(t.TempDir())
	g.execCommand = fakeExec("abc123def456\n")

	rev, err := g.HeadRevision(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", rev)
}

func TestGit_HeadRevision_NoRepo_DiffUnavailable(t *testing.T) {
	g := NewGit(t.TempDir())
	g.execCommand = failExec()

	_, err := g.HeadRevision(context.Background())
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodeDiffUnavailable, engerrors.GetCode(err))
}

func TestGit_Diff_SameRevision_NoChanges(t *testing.T) {
	g := NewGit(t.TempDir())
	g.execCommand = failExec() // must never be called

	changes, err := g.Diff(context.Background(), "rev1", "rev1")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestGit_Diff_EmptyRevision_DiffUnavailable(t *testing.T) {
	g := NewGit(t.TempDir())

	_, err := g.Diff(context.Background(), "", "rev2")
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodeDiffUnavailable, engerrors.GetCode(err))
}

func TestGit_Diff_UnknownRevision_DiffUnavailable(t *testing.T) {
	g := NewGit(t.TempDir())
	g.execCommand = failExec()

	_, err := g.Diff(context.Background(), "deadbeef", "cafebabe")
	require.Error(t, err)
	assert.Equal(t, engerrors.ErrCodeDiffUnavailable, engerrors.GetCode(err))
}

func TestGit_Diff_ParsesChanges(t *testing.T) {
	g := NewGit(t.TempDir())
	g.execCommand = fakeExec("A\treset.py\nM\tauth.py\n")

	changes, err := g.Diff(context.Background(), "rev1", "rev2")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeAdded, changes[0].Kind)
	assert.Equal(t, "reset.py", changes[0].Path)
	assert.Equal(t, ChangeModified, changes[1].Kind)
}

func TestGit_UntrackedFiles(t *testing.T) {
	g := NewGit(t.TempDir())
	g.execCommand = fakeExec("notes.go\nscratch/tmp.go\n")

	files, err := g.UntrackedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.go", "scratch/tmp.go"}, files)
}

func TestGit_Available_NoGitDir(t *testing.T) {
	g := NewGit(t.TempDir())
	g.lookPath = func(string) (string, error) { return "/usr/bin/git", nil }

	assert.False(t, g.Available(), "temp dir has no .git")
}
