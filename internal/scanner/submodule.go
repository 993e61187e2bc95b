package scanner

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aptyp78/claude-auto-dev/internal/config"
)

// SubmoduleInfo describes one git submodule found via .gitmodules.
type SubmoduleInfo struct {
	// Name from the [submodule "name"] section header.
	Name string
	// Path relative to the parent repository.
	Path string
	// URL of the submodule remote.
	URL string
	// Branch tracked by the submodule, when one is configured.
	Branch string
	// CommitHash currently checked out, when it could be resolved.
	CommitHash string
	// Initialized is true when the submodule directory has content.
	Initialized bool
}

// ParseGitmodules reads .gitmodules content. Entries without a path are
// dropped; a missing URL or branch is fine.
func ParseGitmodules(content []byte) ([]SubmoduleInfo, error) {
	var submodules []SubmoduleInfo
	var current *SubmoduleInfo

	flush := func() {
		if current != nil && current.Path != "" {
			submodules = append(submodules, *current)
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[submodule") {
			flush()
			current = &SubmoduleInfo{Name: extractSubmoduleName(line)}
			continue
		}

		if current == nil {
			continue
		}
		key, value := parseKeyValue(line)
		switch key {
		case "path":
			current.Path = value
		case "url":
			current.URL = value
		case "branch":
			current.Branch = value
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning .gitmodules: %w", err)
	}

	return submodules, nil
}

// extractSubmoduleName pulls the quoted name out of a section header like
// [submodule "libs/utils"].
func extractSubmoduleName(line string) string {
	start := strings.Index(line, "\"")
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(line, "\"")
	if end <= start {
		return ""
	}
	return line[start+1 : end]
}

func parseKeyValue(line string) (key, value string) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// IsInitialized reports whether the submodule directory has any content
// beyond a .git entry. An empty directory means "git submodule init" was
// never run.
func IsInitialized(submodulePath string) bool {
	info, err := os.Stat(submodulePath)
	if err != nil || !info.IsDir() {
		return false
	}

	entries, err := os.ReadDir(submodulePath)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.Name() != ".git" {
			return true
		}
	}
	return false
}

// GetCommitHash resolves the commit a submodule has checked out. Modern
// git stores the submodule gitdir under the parent's .git/modules and
// leaves a "gitdir:" pointer file in the submodule; both layouts are
// tried.
func GetCommitHash(rootPath, submodulePath string) (string, error) {
	gitFilePath := filepath.Join(submodulePath, ".git")
	gitFileContent, err := os.ReadFile(gitFilePath)
	if err != nil {
		// No pointer file: fall back to the conventional modules layout.
		relPath, err := filepath.Rel(rootPath, submodulePath)
		if err != nil {
			return "", fmt.Errorf("failed to get relative path: %w", err)
		}
		return readHEADFile(filepath.Join(rootPath, ".git", "modules", relPath, "HEAD"))
	}

	gitdir := parseGitdir(string(gitFileContent))
	if gitdir == "" {
		return "", fmt.Errorf("invalid .git file format")
	}

	headPath := filepath.Join(gitdir, "HEAD")
	if !filepath.IsAbs(gitdir) {
		headPath = filepath.Join(submodulePath, gitdir, "HEAD")
	}
	return readHEADFile(headPath)
}

// parseGitdir extracts the path from a "gitdir: ..." pointer file.
func parseGitdir(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "gitdir:") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(content, "gitdir:"))
}

// readHEADFile returns the commit hash in a HEAD file. Symbolic refs are
// not chased; callers treat that as "hash unknown".
func readHEADFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read HEAD: %w", err)
	}

	hash := strings.TrimSpace(string(content))
	if strings.HasPrefix(hash, "ref:") {
		return "", fmt.Errorf("HEAD is a symbolic ref, not a commit hash")
	}
	return hash, nil
}

// MatchesPattern decides whether a submodule passes the include/exclude
// filters. Excludes win over includes; an empty include list means
// everything not excluded is in.
func MatchesPattern(name, path string, include, exclude []string) bool {
	for _, pattern := range exclude {
		if matchPattern(name, pattern) || matchPattern(path, pattern) {
			return false
		}
	}

	if len(include) == 0 {
		return true
	}
	for _, pattern := range include {
		if matchPattern(name, pattern) || matchPattern(path, pattern) {
			return true
		}
	}
	return false
}

// matchPattern is a small glob: exact, "prefix/*", "*/suffix", and
// "*contains*" shapes.
func matchPattern(s, pattern string) bool {
	if s == pattern {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		if strings.HasPrefix(s, prefix+"/") || s == prefix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*/") {
		suffix := strings.TrimPrefix(pattern, "*/")
		if strings.HasSuffix(s, "/"+suffix) || s == suffix {
			return true
		}
	}

	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		if strings.Contains(s, middle) {
			return true
		}
	}

	return false
}

// DiscoverSubmodules walks .gitmodules files from the project root,
// recursing into initialized submodules when configured to.
func DiscoverSubmodules(rootPath string, cfg config.SubmoduleConfig) ([]SubmoduleInfo, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	// Visited set guards against circular submodule references.
	visited := make(map[string]bool)
	return discoverSubmodulesRecursive(rootPath, rootPath, "", cfg, visited)
}

func discoverSubmodulesRecursive(
	rootPath string,
	currentPath string,
	pathPrefix string,
	cfg config.SubmoduleConfig,
	visited map[string]bool,
) ([]SubmoduleInfo, error) {
	absPath, err := filepath.Abs(currentPath)
	if err != nil {
		return nil, err
	}
	if visited[absPath] {
		return nil, nil
	}
	visited[absPath] = true

	content, err := os.ReadFile(filepath.Join(currentPath, ".gitmodules"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read .gitmodules: %w", err)
	}

	parsed, err := ParseGitmodules(content)
	if err != nil {
		return nil, err
	}

	var result []SubmoduleInfo
	for _, sm := range parsed {
		// Nested submodule paths get their parent's prefix so everything
		// is root-relative.
		fullPath := sm.Path
		if pathPrefix != "" {
			fullPath = filepath.Join(pathPrefix, sm.Path)
		}

		if !MatchesPattern(sm.Name, fullPath, cfg.Include, cfg.Exclude) {
			continue
		}

		submoduleAbsPath := filepath.Join(currentPath, sm.Path)
		sm.Initialized = IsInitialized(submoduleAbsPath)
		if sm.Initialized {
			// Best effort: a detached or odd layout just leaves the hash empty.
			if hash, hashErr := GetCommitHash(rootPath, submoduleAbsPath); hashErr == nil {
				sm.CommitHash = hash
			}
		}

		sm.Path = fullPath
		result = append(result, sm)

		if cfg.Recursive && sm.Initialized {
			nested, nestedErr := discoverSubmodulesRecursive(rootPath, submoduleAbsPath, fullPath, cfg, visited)
			if nestedErr == nil && len(nested) > 0 {
				result = append(result, nested...)
			}
		}
	}

	return result, nil
}
