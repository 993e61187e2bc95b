package errors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForUser(t *testing.T) {
	t.Run("code and message present", func(t *testing.T) {
		err := New(ErrCodeFileNotFound, "file 'config.yaml' not found", nil)
		out := FormatForUser(err, false)

		assert.Contains(t, out, "file 'config.yaml' not found")
		assert.Contains(t, out, "[ERR_201_FILE_NOT_FOUND]")
	})

	t.Run("suggestion rendered", func(t *testing.T) {
		err := New(ErrCodeEmbedUnavailable, "embedding provider is not running", nil).
			WithSuggestion("Start the embedding provider or use --offline flag")
		out := FormatForUser(err, false)

		assert.Contains(t, out, "Suggestion:")
		assert.Contains(t, out, "--offline")
	})

	t.Run("no stack trace outside verbose mode", func(t *testing.T) {
		out := FormatForUser(New(ErrCodeInternal, "unexpected error", nil), false)

		assert.NotContains(t, out, "Stack trace:")
		assert.NotContains(t, out, "goroutine")
	})

	t.Run("plain error passes through", func(t *testing.T) {
		out := FormatForUser(errors.New("something went wrong"), false)
		assert.Contains(t, out, "something went wrong")
	})

	t.Run("nil error yields empty string", func(t *testing.T) {
		assert.Empty(t, FormatForUser(nil, false))
	})
}

func formatJSONMap(t *testing.T, err error) map[string]any {
	t.Helper()
	data, jsonErr := FormatJSON(err)
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))
	return result
}

func TestFormatJSON(t *testing.T) {
	t.Run("full error", func(t *testing.T) {
		err := New(ErrCodeFileNotFound, "file not found", nil).
			WithDetail("path", "/foo/bar.txt").
			WithSuggestion("Check the file path")

		result := formatJSONMap(t, err)
		assert.Equal(t, ErrCodeFileNotFound, result["code"])
		assert.Equal(t, "file not found", result["message"])
		assert.Equal(t, string(CategoryIO), result["category"])
		assert.Equal(t, string(SeverityError), result["severity"])
		assert.Equal(t, "Check the file path", result["suggestion"])

		details, ok := result["details"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "/foo/bar.txt", details["path"])
	})

	t.Run("plain error gets internal code", func(t *testing.T) {
		result := formatJSONMap(t, errors.New("generic error"))
		assert.Equal(t, ErrCodeInternal, result["code"])
		assert.Equal(t, "generic error", result["message"])
	})

	t.Run("cause serialized", func(t *testing.T) {
		err := New(ErrCodeInternal, "operation failed", errors.New("underlying error"))
		result := formatJSONMap(t, err)
		assert.Equal(t, "underlying error", result["cause"])
	})

	t.Run("nil error", func(t *testing.T) {
		data, err := FormatJSON(nil)
		assert.NoError(t, err)
		assert.Equal(t, "null", strings.TrimSpace(string(data)))
	})
}

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeCorruptIndex, "index is corrupted", nil).
		WithSuggestion("Run 'codesearch index --force' to rebuild")

	out := FormatForCLI(err)
	assert.Contains(t, out, "index is corrupted")
	assert.Contains(t, out, "ERR_205_CORRUPT_INDEX")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.LessOrEqual(t, len(lines), 5)
}
