package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeCode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"whitespace", "hello world", []string{"hello", "world"}},
		{"parentheses", "func(arg)", []string{"func", "arg"}},
		{"brackets", "array[index]", []string{"array", "index"}},
		{"dots", "object.method", []string{"object", "method"}},
		{"mixed delimiters", "foo.bar(baz, qux)", []string{"foo", "bar", "baz", "qux"}},

		{"camelCase", "getUserById", []string{"get", "user", "by", "id"}},
		{"PascalCase", "UserAuthManager", []string{"user", "auth", "manager"}},
		{"embedded acronym", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"leading acronym", "HTTPHandler", []string{"http", "handler"}},
		{"single word", "hello", []string{"hello"}},

		{"snake_case", "get_user_by_id", []string{"get", "user", "by", "id"}},
		{"double underscore", "foo__bar", []string{"foo", "bar"}},
		{"leading underscore", "_private_method", []string{"private", "method"}},
		{"snake and camel mixed", "get_UserById", []string{"get", "user", "by", "id"}},

		{"single chars dropped", "a getUserById b", []string{"get", "user", "by", "id"}},
		{"two char tokens kept", "go is ok", []string{"go", "is", "ok"}},
		{"digits kept in tokens", "item1 item2", []string{"item1", "item2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TokenizeCode(tt.input))
		})
	}
}

func TestSplitCamelCase(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", []string{}},
		{"hello", []string{"hello"}},
		{"camelCase", []string{"camel", "Case"}},
		{"PascalCase", []string{"Pascal", "Case"}},
		{"getUserById", []string{"get", "User", "By", "Id"}},
		{"parseHTTPRequest", []string{"parse", "HTTP", "Request"}},
		{"HTTPHandler", []string{"HTTP", "Handler"}},
		{"HTTP", []string{"HTTP"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCamelCase(tt.input))
		})
	}
}

func TestSplitCodeToken(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"hello", []string{"hello"}},
		{"get_user", []string{"get", "user"}},
		{"getUser", []string{"get", "User"}},
		{"get_UserById", []string{"get", "User", "By", "Id"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitCodeToken(tt.input))
		})
	}
}

func TestFilterStopWords(t *testing.T) {
	tokens := []string{"func", "getUserById", "return", "data", "user", "name"}
	stopWords := map[string]struct{}{
		"func": {}, "return": {}, "data": {},
	}

	assert.Equal(t, []string{"getUserById", "user", "name"}, FilterStopWords(tokens, stopWords))
}

func BenchmarkTokenizeCode(b *testing.B) {
	input := "func getUserById(ctx context.Context, id string) (*User, error)"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		TokenizeCode(input)
	}
}
