package search

import (
	"sort"
	"strings"
)

// filterByPath keeps results whose file path matches an include prefix (when
// any are given) and matches no exclude prefix.
func filterByPath(results []*Result, include, exclude []string) []*Result {
	if len(include) == 0 && len(exclude) == 0 {
		return results
	}
	filtered := make([]*Result, 0, len(results))
	for _, r := range results {
		if pathAllowed(resultPath(r), include, exclude) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// resultPath returns the path a result is anchored to, or "" for hits with
// no file anchor (pattern hits).
func resultPath(r *Result) string {
	if r.Chunk != nil {
		return r.Chunk.FilePath
	}
	if r.File != nil {
		return r.File.Path
	}
	return ""
}

func pathAllowed(path string, include, exclude []string) bool {
	for _, prefix := range exclude {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if len(include) == 0 {
		return true
	}
	for _, prefix := range include {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// filterByScore drops results below the threshold. A zero threshold keeps
// everything.
func filterByScore(results []*Result, minScore float64) []*Result {
	if minScore <= 0 {
		return results
	}
	filtered := make([]*Result, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// DedupOverlapping removes results whose line range overlaps an
// already-kept result from the same file, keeping the earlier (higher
// ranked) one. Input order is preserved for the survivors.
//
// The assembler reuses this rule when merging retrieval sets before
// packing a context window.
func DedupOverlapping(results []*Result) []*Result {
	if len(results) < 2 {
		return results
	}

	type span struct{ start, end int }
	kept := make(map[string][]span, len(results))
	deduped := make([]*Result, 0, len(results))

	for _, r := range results {
		c := r.Chunk
		if c == nil {
			// Record hits have no line range to collide on.
			deduped = append(deduped, r)
			continue
		}
		overlapping := false
		for _, s := range kept[c.FilePath] {
			if c.StartLine <= s.end && c.EndLine >= s.start {
				overlapping = true
				break
			}
		}
		if overlapping {
			continue
		}
		kept[c.FilePath] = append(kept[c.FilePath], span{c.StartLine, c.EndLine})
		deduped = append(deduped, r)
	}
	return deduped
}

// SortByScore orders results by score descending, breaking ties by file
// path and start line so output stays deterministic.
func SortByScore(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if pi, pj := resultPath(results[i]), resultPath(results[j]); pi != pj {
			return pi < pj
		}
		if results[i].Chunk == nil || results[j].Chunk == nil {
			return false
		}
		return results[i].Chunk.StartLine < results[j].Chunk.StartLine
	})
}
