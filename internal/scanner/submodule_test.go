package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptyp78/claude-auto-dev/internal/config"
)

// gitmodulesEntry renders one [submodule] section the way git writes it.
func gitmodulesEntry(name, path, url, branch string) string {
	s := fmt.Sprintf("[submodule %q]\n\tpath = %s\n\turl = %s\n", name, path, url)
	if branch != "" {
		s += "\tbranch = " + branch + "\n"
	}
	return s + "\n"
}

func TestParseGitmodules(t *testing.T) {
	content := gitmodulesEntry("libs/shared-utils", "libs/shared-utils", "https://github.com/example/shared-utils.git", "main") +
		gitmodulesEntry("vendor/legacy", "vendor/legacy", "https://github.com/example/legacy.git", "")

	submodules, err := ParseGitmodules([]byte(content))
	require.NoError(t, err)
	require.Len(t, submodules, 2)

	assert.Equal(t, "libs/shared-utils", submodules[0].Name)
	assert.Equal(t, "libs/shared-utils", submodules[0].Path)
	assert.Equal(t, "https://github.com/example/shared-utils.git", submodules[0].URL)
	assert.Equal(t, "main", submodules[0].Branch)

	assert.Equal(t, "vendor/legacy", submodules[1].Name)
	assert.Equal(t, "", submodules[1].Branch)
}

func TestParseGitmodules_Empty(t *testing.T) {
	submodules, err := ParseGitmodules(nil)
	require.NoError(t, err)
	assert.Empty(t, submodules)
}

func TestParseGitmodules_MalformedEntriesSkipped(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing path", "[submodule \"test\"]\n\turl = https://example.com/test.git\n"},
		{"incomplete section header", "[submodule\n\tpath = test\n"},
		{"random text", "this is not a valid gitmodules file\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			submodules, err := ParseGitmodules([]byte(tt.content))
			require.NoError(t, err)
			for _, sm := range submodules {
				assert.NotEmpty(t, sm.Path)
			}
		})
	}
}

func TestParseGitmodules_SectionOrderPreserved(t *testing.T) {
	content := gitmodulesEntry("lib1", "lib1", "https://example.com/lib1.git", "") +
		gitmodulesEntry("lib2", "lib2", "https://example.com/lib2.git", "") +
		gitmodulesEntry("lib3", "lib3", "https://example.com/lib3.git", "")

	submodules, err := ParseGitmodules([]byte(content))
	require.NoError(t, err)
	require.Len(t, submodules, 3)
	assert.Equal(t, "lib1", submodules[0].Name)
	assert.Equal(t, "lib2", submodules[1].Name)
	assert.Equal(t, "lib3", submodules[2].Name)
}

func TestParseGitmodules_MixedIndentation(t *testing.T) {
	content := "[submodule \"test\"]\n" +
		"    path = test\n" +
		"\turl = https://example.com/test.git\n" +
		"  branch = main\n"

	submodules, err := ParseGitmodules([]byte(content))
	require.NoError(t, err)
	require.Len(t, submodules, 1)
	assert.Equal(t, "test", submodules[0].Path)
	assert.Equal(t, "https://example.com/test.git", submodules[0].URL)
	assert.Equal(t, "main", submodules[0].Branch)
}

func TestIsInitialized(t *testing.T) {
	t.Run("directory with content", func(t *testing.T) {
		dir := t.TempDir()
		writeTree(t, dir, map[string]string{"sub/README.md": "# Test"})
		assert.True(t, IsInitialized(filepath.Join(dir, "sub")))
	})

	t.Run("empty directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "sub")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		assert.False(t, IsInitialized(dir))
	})

	t.Run("missing directory", func(t *testing.T) {
		assert.False(t, IsInitialized(filepath.Join(t.TempDir(), "nonexistent")))
	})
}

func TestGetCommitHash(t *testing.T) {
	root := t.TempDir()
	subPath := filepath.Join(root, "submodule")
	require.NoError(t, os.MkdirAll(subPath, 0o755))

	// Initialized submodules carry a .git pointer file that names the
	// real gitdir under the superproject's .git/modules.
	const hash = "abc123def456789012345678901234567890abcd"
	writeTree(t, root, map[string]string{
		".git/modules/submodule/HEAD": hash + "\n",
		"submodule/.git":              "gitdir: ../.git/modules/submodule\n",
	})

	got, err := GetCommitHash(root, subPath)
	require.NoError(t, err)
	assert.Equal(t, hash, got)
}

func TestGetCommitHash_NoGitPointer(t *testing.T) {
	root := t.TempDir()
	subPath := filepath.Join(root, "submodule")
	require.NoError(t, os.MkdirAll(subPath, 0o755))

	got, err := GetCommitHash(root, subPath)
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		name    string
		smName  string
		include []string
		exclude []string
		want    bool
	}{
		{"include by exact name", "libs/shared", []string{"libs/shared"}, nil, true},
		{"include by prefix glob", "libs/shared", []string{"libs/*"}, nil, true},
		{"include misses", "vendor/legacy", []string{"libs/*"}, nil, false},
		{"empty include means all", "anything", nil, nil, true},
		{"exclude by exact name", "vendor/legacy", nil, []string{"vendor/legacy"}, false},
		{"exclude by prefix glob", "vendor/old-lib", nil, []string{"vendor/*"}, false},
		{"exclude misses", "libs/utils", nil, []string{"vendor/*"}, true},
		{"exclude beats include", "libs/deprecated", []string{"libs/*"}, []string{"libs/deprecated"}, false},
		{"included and not excluded", "libs/active", []string{"libs/*"}, []string{"libs/deprecated"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchesPattern(tt.smName, tt.smName, tt.include, tt.exclude)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscoverSubmodules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules":         gitmodulesEntry("libs/utils", "libs/utils", "https://example.com/utils.git", "main"),
		"libs/utils/utils.go": "package utils",
	})

	submodules, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true})
	require.NoError(t, err)
	require.Len(t, submodules, 1)
	assert.Equal(t, "libs/utils", submodules[0].Name)
	assert.Equal(t, "libs/utils", submodules[0].Path)
	assert.True(t, submodules[0].Initialized)
}

func TestDiscoverSubmodules_NoGitmodules(t *testing.T) {
	submodules, err := DiscoverSubmodules(t.TempDir(), config.SubmoduleConfig{Enabled: true})
	require.NoError(t, err)
	assert.Empty(t, submodules)
}

func TestDiscoverSubmodules_ExcludeFilter(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules": gitmodulesEntry("libs/good", "libs/good", "https://example.com/good.git", "") +
			gitmodulesEntry("vendor/legacy", "vendor/legacy", "https://example.com/legacy.git", ""),
		"libs/good/file.go":     "package good",
		"vendor/legacy/file.go": "package legacy",
	})

	submodules, err := DiscoverSubmodules(root, config.SubmoduleConfig{
		Enabled: true,
		Exclude: []string{"vendor/*"},
	})
	require.NoError(t, err)
	require.Len(t, submodules, 1)
	assert.Equal(t, "libs/good", submodules[0].Name)
}

func TestDiscoverSubmodules_UninitializedMarked(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules": gitmodulesEntry("libs/initialized", "libs/initialized", "https://example.com/init.git", "") +
			gitmodulesEntry("libs/empty", "libs/empty", "https://example.com/empty.git", ""),
		"libs/initialized/lib.go": "package lib",
	})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "libs", "empty"), 0o755))

	submodules, err := DiscoverSubmodules(root, config.SubmoduleConfig{Enabled: true})
	require.NoError(t, err)
	require.Len(t, submodules, 2)

	byName := make(map[string]SubmoduleInfo, len(submodules))
	for _, sm := range submodules {
		byName[sm.Name] = sm
	}
	assert.True(t, byName["libs/initialized"].Initialized)
	assert.False(t, byName["libs/empty"].Initialized)
}

func TestDiscoverSubmodules_Recursive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules":                      gitmodulesEntry("libs/outer", "libs/outer", "https://example.com/outer.git", ""),
		"libs/outer/outer.go":              "package outer",
		"libs/outer/.gitmodules":           gitmodulesEntry("nested/inner", "nested/inner", "https://example.com/inner.git", ""),
		"libs/outer/nested/inner/inner.go": "package inner",
	})

	submodules, err := DiscoverSubmodules(root, config.SubmoduleConfig{
		Enabled:   true,
		Recursive: true,
	})
	require.NoError(t, err)
	require.Len(t, submodules, 2)

	paths := []string{submodules[0].Path, submodules[1].Path}
	assert.Contains(t, paths, "libs/outer")
	assert.Contains(t, paths, "libs/outer/nested/inner")
}

func TestDiscoverSubmodules_SelfReference(t *testing.T) {
	// git refuses to create circular submodules but a hand-edited
	// .gitmodules can still reference a visited path. Discovery must
	// terminate instead of recursing forever.
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules":               gitmodulesEntry("libs/circular", "libs/circular", "https://example.com/parent.git", ""),
		"libs/circular/file.go":     "package circular",
		"libs/circular/.gitmodules": gitmodulesEntry("parent", "parent", "https://example.com/parent.git", ""),
	})

	submodules, err := DiscoverSubmodules(root, config.SubmoduleConfig{
		Enabled:   true,
		Recursive: true,
	})
	require.NoError(t, err)
	assert.NotNil(t, submodules)
}

func TestScanner_Scan_WithSubmodules(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules":          gitmodulesEntry("libs/utils", "libs/utils", "https://example.com/utils.git", ""),
		"src/main.go":          "package main",
		"libs/utils/utils.go":  "package utils",
		"libs/utils/helper.go": "package utils",
	})

	paths := scanPaths(t, &ScanOptions{
		RootDir:          root,
		RespectGitignore: true,
		Submodules:       &config.SubmoduleConfig{Enabled: true},
	})

	assert.Contains(t, paths, "src/main.go")
	assert.Contains(t, paths, "libs/utils/utils.go", "submodule files keep their root-relative paths")
	assert.Contains(t, paths, "libs/utils/helper.go")
}

func TestScanner_Scan_SubmodulesDisabled(t *testing.T) {
	// Without submodule config the walk still descends into the
	// directory; only structured discovery is skipped.
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules":         gitmodulesEntry("libs/utils", "libs/utils", "https://example.com/utils.git", ""),
		"src/main.go":         "package main",
		"libs/utils/utils.go": "package utils",
	})

	paths := scanPaths(t, &ScanOptions{RootDir: root})

	assert.Contains(t, paths, "src/main.go")
	assert.Contains(t, paths, "libs/utils/utils.go")
}

func TestScanner_Scan_SubmoduleExcludePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitmodules": gitmodulesEntry("libs/included", "libs/included", "https://example.com/included.git", "") +
			gitmodulesEntry("vendor/excluded", "vendor/excluded", "https://example.com/excluded.git", ""),
		"libs/included/file.go":   "package included",
		"vendor/excluded/file.go": "package excluded",
	})

	paths := scanPaths(t, &ScanOptions{
		RootDir: root,
		Submodules: &config.SubmoduleConfig{
			Enabled: true,
			Exclude: []string{"vendor/*"},
		},
	})

	assert.Contains(t, paths, "libs/included/file.go")
}

func BenchmarkParseGitmodules(b *testing.B) {
	var content string
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("lib%d", i)
		content += gitmodulesEntry(name, name, "https://example.com/"+name+".git", "main")
	}
	data := []byte(content)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ParseGitmodules(data); err != nil {
			b.Fatal(err)
		}
	}
}
