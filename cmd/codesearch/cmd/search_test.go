package cmd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchCmd_RequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	require.Error(t, err)
}

func TestSearchCmd_RejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "search", "--mode", "fuzzy", "query")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown search mode")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "func main() {", firstLine("func main() {\n\tfmt.Println()\n}"))
	assert.Equal(t, "one line", firstLine("  one line  "))

	long := strings.Repeat("x", 150)
	got := firstLine(long)
	assert.Len(t, got, 103)
	assert.True(t, strings.HasSuffix(got, "..."))
}
