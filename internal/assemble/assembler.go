// Package assemble packs ranked search results into a bounded token budget
// split across semantic categories, for handing to a downstream consumer
// (an LLM prompt, a review summary) that cannot take unbounded context.
package assemble

import (
	"fmt"
	"strings"

	"github.com/aptyp78/claude-auto-dev/internal/chunk"
	"github.com/aptyp78/claude-auto-dev/internal/search"
	"github.com/aptyp78/claude-auto-dev/internal/store"
)

// Category is one budget bucket of the assembled context.
type Category string

const (
	CategoryDefinitions Category = "definitions"
	CategoryCode        Category = "code"
	CategoryContext     Category = "context"
	CategoryPatterns    Category = "patterns"
)

// categoryOrder is both the output order and the redistribution priority:
// budget a category cannot use flows to the highest-priority category that
// still has candidates.
var categoryOrder = []Category{
	CategoryDefinitions,
	CategoryCode,
	CategoryContext,
	CategoryPatterns,
}

// categoryWeights carves the total budget: definitions 25%, code 55%,
// surrounding context 15%, patterns 5%.
var categoryWeights = map[Category]float64{
	CategoryDefinitions: 0.25,
	CategoryCode:        0.55,
	CategoryContext:     0.15,
	CategoryPatterns:    0.05,
}

// Item is one packed entry. Exactly one of Chunk or Pattern is set.
type Item struct {
	Category Category
	Chunk    *chunk.Chunk
	Pattern  *store.PatternRecord
	Score    float64
	Tokens   int
}

// Context is the assembled, budget-bounded payload. Items are ordered
// definitions first, then code, context, patterns.
type Context struct {
	Items      []*Item
	Budget     int
	TokensUsed int
	ByCategory map[Category]int // tokens packed per category
}

// Assemble packs ranked results and available patterns into the token
// budget. Results must arrive in descending rank order; the combined set is
// deduplicated by the same-file line-overlap rule before any packing, so a
// region that scored for two categories appears once. A candidate that does
// not fit in the remaining allotment is skipped whole, never truncated, and
// the next candidate is tried.
func Assemble(results []*search.Result, patterns []*store.PatternRecord, budget int) *Context {
	out := &Context{
		Budget:     budget,
		ByCategory: make(map[Category]int, len(categoryOrder)),
	}
	if budget <= 0 {
		return out
	}

	results = search.DedupOverlapping(results)

	candidates := make(map[Category][]*Item, len(categoryOrder))
	for _, r := range results {
		// Record hits without a chunk anchor have no text to pack.
		if r.Chunk == nil {
			continue
		}
		item := &Item{
			Category: categorize(r),
			Chunk:    r.Chunk,
			Score:    r.Score,
			Tokens:   chunkTokens(r.Chunk),
		}
		candidates[item.Category] = append(candidates[item.Category], item)
	}
	for _, p := range patterns {
		candidates[CategoryPatterns] = append(candidates[CategoryPatterns], &Item{
			Category: CategoryPatterns,
			Pattern:  p,
			Tokens:   patternTokens(p),
		})
	}

	// First pass: each category packs against its own allotment.
	packed := make(map[Category][]*Item, len(categoryOrder))
	spent := 0
	for _, cat := range categoryOrder {
		allotment := int(float64(budget) * categoryWeights[cat])
		used := pack(candidates, packed, cat, allotment)
		out.ByCategory[cat] += used
		spent += used
	}

	// Redistribution: the pooled leftover goes to categories in priority
	// order, so unused pattern budget ends up in definitions or code.
	leftover := budget - spent
	for _, cat := range categoryOrder {
		if leftover <= 0 {
			break
		}
		used := pack(candidates, packed, cat, leftover)
		out.ByCategory[cat] += used
		leftover -= used
	}

	for _, cat := range categoryOrder {
		out.Items = append(out.Items, packed[cat]...)
	}
	out.TokensUsed = budget - leftover
	return out
}

// pack moves candidates that fit into the packed set, consuming at most
// allotment tokens, and returns the tokens used. Oversized candidates are
// skipped in place so a later, cheaper candidate still gets its chance.
func pack(candidates, packed map[Category][]*Item, cat Category, allotment int) int {
	remaining := allotment
	var deferred []*Item
	for _, item := range candidates[cat] {
		if item.Tokens > remaining {
			deferred = append(deferred, item)
			continue
		}
		packed[cat] = append(packed[cat], item)
		remaining -= item.Tokens
	}
	candidates[cat] = deferred
	return allotment - remaining
}

// categorize maps a search result to its budget bucket. Symbol-backed hits
// and type headers are definitions; module preludes are surrounding
// context; everything else is code.
func categorize(r *search.Result) Category {
	if r.Symbol != nil || r.Chunk.Kind == chunk.KindClass {
		return CategoryDefinitions
	}
	if r.Chunk.Kind == chunk.KindModule {
		return CategoryContext
	}
	return CategoryCode
}

func chunkTokens(c *chunk.Chunk) int {
	if c.TokenCount > 0 {
		return c.TokenCount
	}
	return len(c.Content) / chunk.TokensPerChar
}

func patternTokens(p *store.PatternRecord) int {
	return (len(p.Description) + len(p.Example)) / chunk.TokensPerChar
}

// Markdown renders the context as fenced sections grouped by category,
// each chunk labeled with its file path and line range.
func (c *Context) Markdown() string {
	var b strings.Builder
	current := Category("")
	for _, item := range c.Items {
		if item.Category != current {
			current = item.Category
			fmt.Fprintf(&b, "## %s\n\n", current)
		}
		switch {
		case item.Chunk != nil:
			fmt.Fprintf(&b, "### %s:%d-%d\n\n```%s\n%s\n```\n\n",
				item.Chunk.FilePath, item.Chunk.StartLine, item.Chunk.EndLine,
				item.Chunk.Language, item.Chunk.Content)
		case item.Pattern != nil:
			fmt.Fprintf(&b, "### %s (used %d times)\n\n%s\n\n```\n%s\n```\n\n",
				item.Pattern.Name, item.Pattern.UsageCount,
				item.Pattern.Description, item.Pattern.Example)
		}
	}
	return b.String()
}
