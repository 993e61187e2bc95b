package chunk

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkFile(t *testing.T, path, language, content string) []*Chunk {
	t.Helper()
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     path,
		Content:  []byte(content),
		Language: language,
	})
	require.NoError(t, err)
	return chunks
}

// ============================================================================
// Rule 1: small functions become single chunks
// ============================================================================

func TestChunk_GoFunctions_OneChunkEach(t *testing.T) {
	source := `package main

import "fmt"

// Greet returns a greeting.
func Greet(name string) string {
	return fmt.Sprintf("Hello, %s", name)
}

// Farewell returns a farewell.
func Farewell(name string) string {
	return fmt.Sprintf("Goodbye, %s", name)
}
`
	chunks := chunkFile(t, "main.go", "go", source)
	require.NotEmpty(t, chunks)

	var funcChunks []*Chunk
	for _, c := range chunks {
		if c.Kind == KindFunction {
			funcChunks = append(funcChunks, c)
		}
	}
	require.Len(t, funcChunks, 2)

	assert.Equal(t, "Greet", funcChunks[0].SymbolName)
	assert.Contains(t, funcChunks[0].Content, "func Greet")
	assert.Contains(t, funcChunks[0].Content, "Greet returns a greeting",
		"leading doc comment should be part of the chunk")
	assert.Equal(t, "Farewell", funcChunks[1].SymbolName)

	for _, c := range funcChunks {
		assert.False(t, c.Degraded)
		require.Len(t, c.Symbols, 1)
		assert.Equal(t, SymbolTypeFunction, c.Symbols[0].Type)
	}
}

func TestChunk_GoMethod_KindMethod(t *testing.T) {
	source := `package main

type Greeter struct{ prefix string }

func (g *Greeter) Greet(name string) string {
	return g.prefix + name
}
`
	chunks := chunkFile(t, "greeter.go", "go", source)

	var method *Chunk
	for _, c := range chunks {
		if c.Kind == KindMethod {
			method = c
		}
	}
	require.NotNil(t, method)
	assert.Equal(t, "Greet", method.SymbolName)
	require.Len(t, method.Symbols, 1)
	assert.Equal(t, SymbolTypeMethod, method.Symbols[0].Type)
}

// ============================================================================
// Rule 2: oversized functions split along control blocks
// ============================================================================

func TestChunk_OversizedFunction_SplitsWithOverlap(t *testing.T) {
	// Build a function well over the token threshold out of sequential
	// control blocks with realistic line lengths.
	var sb strings.Builder
	sb.WriteString("package main\n\nfunc Process(items []string) int {\n")
	sb.WriteString("\ttotal := 0\n")
	for i := 0; i < 12; i++ {
		sb.WriteString(fmt.Sprintf("\tfor j%d := 0; j%d < len(items); j%d++ {\n", i, i, i))
		for k := 0; k < 10; k++ {
			sb.WriteString(fmt.Sprintf("\t\ttotal += computeWeightedValue(items[j%d], %d) // accumulate stage %d\n", i, k, k))
		}
		sb.WriteString("\t}\n")
	}
	sb.WriteString("\treturn total\n}\n")
	source := sb.String()

	require.Greater(t, estimateTokens(source), DefaultMaxChunkTokens,
		"test source must exceed the chunk threshold")

	chunks := chunkFile(t, "process.go", "go", source)

	var split []*Chunk
	for _, c := range chunks {
		if c.SymbolName == "Process" {
			split = append(split, c)
		}
	}
	require.GreaterOrEqual(t, len(split), 2, "oversized function should split into multiple chunks")

	for _, c := range split {
		assert.LessOrEqual(t, c.TokenCount, DefaultMaxChunkTokens,
			"each split chunk must stay under the threshold")
		assert.Equal(t, KindBlock, c.Kind)
		assert.Equal(t, "Process", c.SymbolName, "split chunks keep the enclosing symbol")
	}

	// Consecutive chunks share the configured overlap
	for i := 1; i < len(split); i++ {
		overlap := split[i-1].EndLine - split[i].StartLine + 1
		assert.GreaterOrEqual(t, overlap, DefaultOverlapLines,
			"chunks %d and %d should overlap by at least %d lines", i-1, i, DefaultOverlapLines)
	}

	// The symbol record rides on the first split chunk
	require.NotEmpty(t, split[0].Symbols)
	assert.Equal(t, "Process", split[0].Symbols[0].Name)
}

// ============================================================================
// Rule 3: class header chunk plus independent method chunks
// ============================================================================

func TestChunk_PythonClass_HeaderAndMethods(t *testing.T) {
	source := `import os

class UserStore:
    """Stores users on disk."""

    def load(self, path):
        with open(path) as f:
            return f.read()

    def save(self, path, data):
        with open(path, "w") as f:
            f.write(data)
`
	chunks := chunkFile(t, "store.py", "python", source)

	var header *Chunk
	var methods []*Chunk
	for _, c := range chunks {
		switch c.Kind {
		case KindClass:
			header = c
		case KindMethod:
			methods = append(methods, c)
		}
	}

	require.NotNil(t, header, "class should produce a header chunk")
	assert.Equal(t, "UserStore", header.SymbolName)
	assert.Contains(t, header.Content, "class UserStore")

	require.Len(t, methods, 2, "each method chunked independently")
	assert.Equal(t, "load", methods[0].SymbolName)
	assert.Equal(t, "save", methods[1].SymbolName)
	for _, m := range methods {
		require.Len(t, m.Symbols, 1)
		assert.Equal(t, "UserStore", m.Symbols[0].Parent, "methods record their class as parent")
	}
}

// ============================================================================
// Rule 4: module prelude chunk
// ============================================================================

func TestChunk_ModulePrelude_OneChunk(t *testing.T) {
	source := `package search

import (
	"context"
	"fmt"
)

func Run(ctx context.Context) error {
	return fmt.Errorf("not implemented")
}
`
	chunks := chunkFile(t, "run.go", "go", source)
	require.NotEmpty(t, chunks)

	var module *Chunk
	for _, c := range chunks {
		if c.Kind == KindModule {
			module = c
			break
		}
	}
	require.NotNil(t, module)
	assert.Equal(t, 1, module.StartLine)
	assert.Contains(t, module.Content, "package search")
	assert.Contains(t, module.Content, `"context"`)
	assert.Empty(t, module.SymbolName)
}

func TestChunk_ContextHeader_CarriesFilePathAndImports(t *testing.T) {
	source := `package main

import "fmt"

func Hello() { fmt.Println("hi") }
`
	chunks := chunkFile(t, "cmd/hello.go", "go", source)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.Contains(t, c.Context, "// File: cmd/hello.go")
		assert.Contains(t, c.Context, `import "fmt"`)
	}

	last := chunks[len(chunks)-1]
	assert.Contains(t, last.EmbeddingText(), "// File: cmd/hello.go")
	assert.Contains(t, last.EmbeddingText(), "func Hello")
}

// ============================================================================
// Failure mode: degraded line-window fallback
// ============================================================================

func TestChunk_UnsupportedLanguage_DegradedWindows(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 300; i++ {
		sb.WriteString(fmt.Sprintf("SELECT * FROM users WHERE id = %d;\n", i))
	}

	chunks := chunkFile(t, "schema.sql", "sql", sb.String())
	require.GreaterOrEqual(t, len(chunks), 2)

	for _, c := range chunks {
		assert.True(t, c.Degraded, "fallback chunks must be marked degraded")
		assert.Equal(t, KindBlock, c.Kind)
		assert.Empty(t, c.SymbolName, "degraded chunks carry no symbol")
	}

	// Windows overlap by the standard amount
	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].EndLine - chunks[i].StartLine + 1
		assert.Equal(t, DefaultOverlapLines, overlap)
	}
}

func TestChunk_MalformedSource_DegradedWindows(t *testing.T) {
	source := "package main\n\nfunc Broken( {\n\tif x ==\n}\n"
	chunks := chunkFile(t, "broken.go", "go", source)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.True(t, c.Degraded)
	}
}

func TestChunk_EmptyFile_NoChunks(t *testing.T) {
	chunks := chunkFile(t, "empty.go", "go", "")
	assert.Empty(t, chunks)
}

// ============================================================================
// Identity and coverage properties
// ============================================================================

func TestChunk_IDs_StableAndUnique(t *testing.T) {
	source := `package main

func A() int { return 1 }

func B() int { return 2 }
`
	first := chunkFile(t, "ab.go", "go", source)
	second := chunkFile(t, "ab.go", "go", source)
	require.Equal(t, len(first), len(second))

	seen := make(map[string]bool)
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "same input must yield the same IDs")
		assert.False(t, seen[first[i].ID], "no two chunks from one file share an ID")
		seen[first[i].ID] = true
	}
}

func TestChunk_ID_ChangesWithContent(t *testing.T) {
	a := chunkFile(t, "f.go", "go", "package main\n\nfunc F() int { return 1 }\n")
	b := chunkFile(t, "f.go", "go", "package main\n\nfunc F() int { return 2 }\n")
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)

	assert.NotEqual(t, a[len(a)-1].ID, b[len(b)-1].ID)
}

func TestChunk_ID_DiffersAcrossFiles(t *testing.T) {
	source := "package main\n\nfunc F() int { return 1 }\n"
	a := chunkFile(t, "a.go", "go", source)
	b := chunkFile(t, "b.go", "go", source)
	require.NotEmpty(t, a)
	require.NotEmpty(t, b)

	assert.NotEqual(t, a[len(a)-1].ID, b[len(b)-1].ID,
		"same content in different files gets different IDs")
}

func TestChunk_LineRanges_WithinFile(t *testing.T) {
	source := `package main

import "strings"

// Upper uppercases.
func Upper(s string) string { return strings.ToUpper(s) }

type Pair struct {
	A, B string
}
`
	lines := strings.Count(source, "\n") + 1
	chunks := chunkFile(t, "pair.go", "go", source)
	require.NotEmpty(t, chunks)

	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.StartLine, 1)
		assert.LessOrEqual(t, c.EndLine, lines)
		assert.LessOrEqual(t, c.StartLine, c.EndLine)
		assert.Equal(t, hashContent(c.Content), c.ContentHash)
		assert.Equal(t, estimateTokens(c.Content), c.TokenCount)
	}
}

func TestChunk_Coverage_NoLargeGaps(t *testing.T) {
	source := `package main

import "fmt"

func One() { fmt.Println(1) }

func Two() { fmt.Println(2) }

func Three() { fmt.Println(3) }
`
	chunks := chunkFile(t, "cover.go", "go", source)
	require.GreaterOrEqual(t, len(chunks), 3)

	for i := 1; i < len(chunks); i++ {
		gap := chunks[i].StartLine - chunks[i-1].EndLine - 1
		assert.LessOrEqual(t, gap, DefaultOverlapLines,
			"gap between consecutive chunks must stay whitespace-sized")
	}
}

func TestChunk_MixedScript_TopLevelStatementsCovered(t *testing.T) {
	source := `"""CLI entry point."""
import sys


def parse_args(argv):
    return argv[1:]


args = parse_args(sys.argv)
verbose = "-v" in args
for arg in args:
    print(arg)

if __name__ == "__main__":
    if verbose:
        print("starting")
    sys.exit(0)
`
	total := strings.Count(strings.TrimRight(source, "\n"), "\n") + 1
	chunks := chunkFile(t, "cli.py", "python", source)
	require.NotEmpty(t, chunks)

	var body []*Chunk
	for _, c := range chunks {
		if c.Kind != KindFile {
			body = append(body, c)
		}
	}
	require.NotEmpty(t, body)

	var tail *Chunk
	for _, c := range body {
		if strings.Contains(c.Content, `if __name__ == "__main__":`) {
			tail = c
		}
	}
	require.NotNil(t, tail, "loose top-level statements must land in a chunk")
	assert.Equal(t, KindBlock, tail.Kind)
	assert.False(t, tail.Degraded)
	assert.Empty(t, tail.SymbolName)
	assert.Contains(t, tail.Content, "verbose = ")

	for i := 1; i < len(body); i++ {
		gap := body[i].StartLine - body[i-1].EndLine - 1
		assert.LessOrEqual(t, gap, DefaultOverlapLines,
			"script body must not open a gap wider than the overlap")
	}
	assert.GreaterOrEqual(t, body[len(body)-1].EndLine, total,
		"coverage must extend to the last line of the file")
}

func TestChunk_FileSummary_DescribesSymbolsAndImports(t *testing.T) {
	source := `package auth

import "errors"

// Store keeps sessions.
type Store struct{}

// Get loads one session.
func (s *Store) Get(id string) error { return errors.New("not found") }

// HashToken hashes an API token.
func HashToken(tok string) string { return tok }
`
	chunks := chunkFile(t, "auth/store.go", "go", source)
	require.NotEmpty(t, chunks)

	var summaries []*Chunk
	for _, c := range chunks {
		if c.Kind == KindFile {
			summaries = append(summaries, c)
		}
	}
	require.Len(t, summaries, 1, "exactly one summary per file")

	s := summaries[0]
	assert.Same(t, chunks[0], s, "summary leads the chunk list")
	assert.Equal(t, 1, s.StartLine)
	assert.Equal(t, strings.Count(source, "\n")+1, s.EndLine)
	assert.False(t, s.Degraded)
	assert.Empty(t, s.SymbolName)

	assert.Contains(t, s.Content, "auth/store.go")
	assert.Contains(t, s.Content, "errors")
	assert.Contains(t, s.Content, "Store")
	assert.Contains(t, s.Content, "HashToken")
	assert.Contains(t, s.Content, "Store.Get")
}

func TestChunk_FileSummary_AbsentForDegradedFiles(t *testing.T) {
	chunks := chunkFile(t, "schema.sql", "sql", "SELECT 1;\nSELECT 2;\n")
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEqual(t, KindFile, c.Kind)
	}
}

// ============================================================================
// Type declarations and symbol metadata
// ============================================================================

func TestChunk_GoTypeDeclaration_KindClass(t *testing.T) {
	source := `package main

// Config holds settings.
type Config struct {
	Name string
	Port int
}
`
	chunks := chunkFile(t, "config.go", "go", source)

	var typeChunk *Chunk
	for _, c := range chunks {
		if c.Kind == KindClass {
			typeChunk = c
		}
	}
	require.NotNil(t, typeChunk)
	assert.Equal(t, "Config", typeChunk.SymbolName)
	assert.Contains(t, typeChunk.Content, "type Config struct")
}

func TestChunk_GoConstBlock_KindBlock(t *testing.T) {
	source := `package main

const (
	StatusPending = "pending"
	StatusFailed  = "failed"
)
`
	chunks := chunkFile(t, "status.go", "go", source)

	var constChunk *Chunk
	for _, c := range chunks {
		if c.Kind == KindBlock {
			constChunk = c
		}
	}
	require.NotNil(t, constChunk)
	assert.Contains(t, constChunk.Content, "StatusPending")
	assert.Contains(t, constChunk.Content, "StatusFailed")
}

func TestChunk_SymbolComplexity_CountsBranches(t *testing.T) {
	source := `package main

func Classify(n int) string {
	if n < 0 {
		return "negative"
	}
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			continue
		}
	}
	return "done"
}
`
	chunks := chunkFile(t, "classify.go", "go", source)

	var sym *Symbol
	for _, c := range chunks {
		for _, s := range c.Symbols {
			if s.Name == "Classify" {
				sym = s
			}
		}
	}
	require.NotNil(t, sym)
	assert.Equal(t, 4, sym.Complexity, "two ifs, one for, plus one")
}

func TestChunk_JSArrowFunction_KindFunction(t *testing.T) {
	source := `import { api } from "./api";

const fetchUser = async (id) => {
	return api.get("/users/" + id);
};
`
	chunks := chunkFile(t, "user.js", "javascript", source)

	var fn *Chunk
	for _, c := range chunks {
		if c.Kind == KindFunction {
			fn = c
		}
	}
	require.NotNil(t, fn)
	assert.Equal(t, "fetchUser", fn.SymbolName)
}
