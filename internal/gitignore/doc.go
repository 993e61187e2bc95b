// Package gitignore implements gitignore pattern matching as documented at
// https://git-scm.com/docs/gitignore, including wildcards (*, ?, **), rooted
// patterns (/build), negation (!important.log), directory-only patterns
// (build/), and nested .gitignore files. Matchers are safe for concurrent
// use.
//
// The scanner consults a matcher while walking a repository:
//
//	m := gitignore.New()
//	m.AddFromFile("/repo/.gitignore", "")
//	m.AddFromFile("/repo/src/.gitignore", "src")
//	if m.Match("src/error.log", false) {
//		// skipped during indexing
//	}
package gitignore
