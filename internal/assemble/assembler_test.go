package assemble

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	"github.com/aptyp78/claude-auto-dev/internal/search"
	"github.com/aptyp78/claude-auto-dev/internal/store"
)

func codeResult(path string, start, end, tokens int, score float64) *search.Result {
	return &search.Result{
		Chunk: &chunk.Chunk{
			FilePath:   path,
			Kind:       chunk.KindFunction,
			StartLine:  start,
			EndLine:    end,
			TokenCount: tokens,
			Content:    strings.Repeat("x", tokens*chunk.TokensPerChar),
		},
		Score: score,
	}
}

func definitionResult(path string, start, end, tokens int, score float64) *search.Result {
	r := codeResult(path, start, end, tokens, score)
	r.Chunk.Kind = chunk.KindClass
	return r
}

func contextResult(path string, start, end, tokens int, score float64) *search.Result {
	r := codeResult(path, start, end, tokens, score)
	r.Chunk.Kind = chunk.KindModule
	return r
}

// abundant returns n disjoint code results from distinct files.
func abundant(n, tokens int) []*search.Result {
	results := make([]*search.Result, n)
	for i := range results {
		results[i] = codeResult(fmt.Sprintf("pkg/f%d.go", i), 1, 50, tokens, 1.0-float64(i)*0.001)
	}
	return results
}

func TestAssemble_SplitsBudgetAcrossCategories(t *testing.T) {
	results := []*search.Result{
		definitionResult("types.go", 1, 20, 100, 0.9),
		codeResult("handler.go", 1, 40, 200, 0.8),
		contextResult("handler.go", 100, 110, 50, 0.7),
	}
	patterns := []*store.PatternRecord{{
		ID: "p1", Type: "error-handling", Name: "wrap-and-return",
		Description: strings.Repeat("d", 200), Example: strings.Repeat("e", 200),
	}}

	out := Assemble(results, patterns, 8000)
	require.Len(t, out.Items, 4)

	// Output order is definitions, code, context, patterns.
	assert.Equal(t, CategoryDefinitions, out.Items[0].Category)
	assert.Equal(t, CategoryCode, out.Items[1].Category)
	assert.Equal(t, CategoryContext, out.Items[2].Category)
	assert.Equal(t, CategoryPatterns, out.Items[3].Category)
	assert.Equal(t, 450, out.TokensUsed)
}

func TestAssemble_UnusedPatternBudgetFlowsToCode(t *testing.T) {
	// 8000-token budget, abundant code, no patterns at all: the 5% pattern
	// share (400 tokens) must not sit idle.
	out := Assemble(abundant(100, 100), nil, 8000)

	assert.Zero(t, out.ByCategory[CategoryPatterns])
	assert.GreaterOrEqual(t, out.ByCategory[CategoryCode], 4800)
	assert.GreaterOrEqual(t, out.TokensUsed, 7900)
	assert.LessOrEqual(t, out.TokensUsed, 8000)
}

func TestAssemble_NeverTruncatesSkipsInstead(t *testing.T) {
	results := []*search.Result{
		codeResult("big.go", 1, 500, 5000, 0.9),   // exceeds the 55% share of 4400
		codeResult("small.go", 1, 30, 100, 0.8),   // fits, must still be packed
		codeResult("medium.go", 1, 80, 1000, 0.7), // fits after small
	}

	out := Assemble(results, nil, 8000)

	var files []string
	for _, item := range out.Items {
		files = append(files, item.Chunk.FilePath)
	}
	assert.Contains(t, files, "small.go")
	assert.Contains(t, files, "medium.go")
	// The oversized chunk fits once redistribution pools the unused
	// definitions/context/patterns shares on top of the code share.
	assert.Contains(t, files, "big.go")

	// A tighter budget drops it entirely rather than cutting it mid-chunk.
	tight := Assemble(results, nil, 2000)
	for _, item := range tight.Items {
		assert.NotEqual(t, "big.go", item.Chunk.FilePath)
	}
}

func TestAssemble_DedupsAcrossCategories(t *testing.T) {
	// The same region of handler.go arrives once as a definition hit and
	// once as a code hit; only the higher-ranked copy survives.
	def := definitionResult("handler.go", 10, 40, 100, 0.9)
	dup := codeResult("handler.go", 20, 50, 100, 0.8)

	out := Assemble([]*search.Result{def, dup}, nil, 8000)
	require.Len(t, out.Items, 1)
	assert.Equal(t, CategoryDefinitions, out.Items[0].Category)
}

func TestAssemble_SymbolBackedResultsAreDefinitions(t *testing.T) {
	r := codeResult("auth.go", 1, 20, 100, 0.9)
	r.Symbol = &store.SymbolRecord{Name: "HandleLogin", Kind: "function"}

	out := Assemble([]*search.Result{r}, nil, 1000)
	require.Len(t, out.Items, 1)
	assert.Equal(t, CategoryDefinitions, out.Items[0].Category)
}

func TestAssemble_ZeroBudgetPacksNothing(t *testing.T) {
	out := Assemble(abundant(5, 100), nil, 0)
	assert.Empty(t, out.Items)
	assert.Zero(t, out.TokensUsed)
}

func TestAssemble_MarkdownRendersSections(t *testing.T) {
	results := []*search.Result{
		codeResult("handler.go", 5, 25, 100, 0.8),
	}
	patterns := []*store.PatternRecord{{
		ID: "p1", Name: "wrap-and-return", Type: "error-handling",
		Description: "Wrap errors with context.", Example: "return fmt.Errorf(...)",
		UsageCount: 12,
	}}

	md := Assemble(results, patterns, 8000).Markdown()
	assert.Contains(t, md, "## code")
	assert.Contains(t, md, "handler.go:5-25")
	assert.Contains(t, md, "## patterns")
	assert.Contains(t, md, "wrap-and-return")
}
