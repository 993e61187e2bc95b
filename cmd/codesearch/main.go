// Package main is the entry point for the codesearch CLI.
package main

import (
	"os"

	"github.com/aptyp78/claude-auto-dev/cmd/codesearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
