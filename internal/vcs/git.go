// Package vcs provides the version-control collaborator for incremental
// indexing: revision lookup and classified diffs between revisions.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aptyp78/claude-auto-dev/internal/errors"
)

// ChangeKind classifies one path in a diff
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// Change is one classified path from a revision diff
type Change struct {
	Path    string     // Current path (new path for renames)
	Kind    ChangeKind // added, modified, deleted, renamed
	OldPath string     // Previous path, set only for renames
	Score   int        // Rename similarity 0-100, set only for renames
}

// IdenticalRename reports whether a rename kept the content byte-identical.
func (c Change) IdenticalRename() bool {
	return c.Kind == ChangeRenamed && c.Score == 100
}

// Git runs git against one repository root.
type Git struct {
	root string

	// For testing: override command execution
	execCommand func(name string, args ...string) *exec.Cmd
	lookPath    func(file string) (string, error)
}

// NewGit creates a git collaborator for the given repository root.
func NewGit(root string) *Git {
	return &Git{
		root:        root,
		execCommand: exec.Command,
		lookPath:    exec.LookPath,
	}
}

// Available reports whether git is installed and root is inside a work tree.
func (g *Git) Available() bool {
	if _, err := g.lookPath("git"); err != nil {
		return false
	}
	_, err := os.Stat(filepath.Join(g.root, ".git"))
	return err == nil
}

// HeadRevision returns the current HEAD commit hash.
func (g *Git) HeadRevision(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", errors.DiffUnavailableError("cannot resolve HEAD revision", err)
	}
	return strings.TrimSpace(out), nil
}

// Diff returns the classified changes between two revisions. Renames are
// detected with similarity scores so unchanged-content renames can skip
// re-embedding. An unknown or rewritten revision yields DiffUnavailable.
func (g *Git) Diff(ctx context.Context, revA, revB string) ([]Change, error) {
	if revA == "" || revB == "" {
		return nil, errors.DiffUnavailableError("empty revision identifier", nil)
	}
	if revA == revB {
		return nil, nil
	}

	// Verify both revisions exist before diffing; a rewritten history makes
	// the stored revision unknown to git
	for _, rev := range []string{revA, revB} {
		if _, err := g.run(ctx, "cat-file", "-e", rev+"^{commit}"); err != nil {
			return nil, errors.DiffUnavailableError(
				fmt.Sprintf("revision %s is unknown to the repository", rev), err)
		}
	}

	out, err := g.run(ctx, "diff", "--name-status", "-M", revA, revB)
	if err != nil {
		return nil, errors.DiffUnavailableError(
			fmt.Sprintf("cannot diff %s..%s", revA, revB), err)
	}
	return parseNameStatus(out)
}

// UntrackedFiles returns files present in the work tree but not in HEAD,
// so a fresh checkout with local additions still indexes completely.
func (g *Git) UntrackedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, errors.DiffUnavailableError("cannot list untracked files", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// run executes one git command under the repository root.
func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", g.root}, args...)
	cmd := g.execCommand("git", fullArgs...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	done := make(chan error, 1)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	go func() { done <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-done
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err,
				strings.TrimSpace(stderr.String()))
		}
	}
	return stdout.String(), nil
}

// parseNameStatus parses `git diff --name-status -M` output into Changes.
func parseNameStatus(out string) ([]Change, error) {
	var changes []Change
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		status := fields[0]

		switch {
		case status == "A" && len(fields) >= 2:
			changes = append(changes, Change{Path: fields[1], Kind: ChangeAdded})
		case status == "M" && len(fields) >= 2:
			changes = append(changes, Change{Path: fields[1], Kind: ChangeModified})
		case status == "D" && len(fields) >= 2:
			changes = append(changes, Change{Path: fields[1], Kind: ChangeDeleted})
		case strings.HasPrefix(status, "R") && len(fields) >= 3:
			score, err := strconv.Atoi(strings.TrimPrefix(status, "R"))
			if err != nil {
				score = 0
			}
			changes = append(changes, Change{
				Path:    fields[2],
				Kind:    ChangeRenamed,
				OldPath: fields[1],
				Score:   score,
			})
		case strings.HasPrefix(status, "C") && len(fields) >= 3:
			// Copies index the new path as an addition
			changes = append(changes, Change{Path: fields[2], Kind: ChangeAdded})
		case status == "T" && len(fields) >= 2:
			// Type change (file <-> symlink) re-indexes as a modification
			changes = append(changes, Change{Path: fields[1], Kind: ChangeModified})
		default:
			return nil, fmt.Errorf("unrecognized diff line: %q", line)
		}
	}
	return changes, nil
}
