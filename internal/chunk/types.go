package chunk

import (
	"context"
	"time"
)

// Chunk size defaults
const (
	DefaultMaxChunkTokens      = 500 // Target size threshold for a single chunk
	DefaultOverlapLines        = 3   // Line overlap between adjacent chunks
	DefaultFallbackWindowLines = 128 // Window size for degraded line chunking
	TokensPerChar              = 4   // Rough approximation: 4 chars = 1 token
)

// Kind represents the syntactic kind of a chunk
type Kind string

const (
	KindFile     Kind = "file"     // Synthesized summary of the file's imports and symbols
	KindModule   Kind = "module"   // Leading imports plus module-level documentation
	KindClass    Kind = "class"    // Class/type declaration header plus leading docs
	KindFunction Kind = "function" // Whole function body
	KindMethod   Kind = "method"   // Whole method body
	KindBlock    Kind = "block"    // Split piece of an oversized symbol, a loose-statement window, or a degraded window
)

// Chunk is the atomic indexed unit: a bounded region of one source file
// with stable identity derived from path, line range, and content.
type Chunk struct {
	ID          string            // SHA256(path:start:end:content_hash)[:16]
	FilePath    string            // Relative to project root
	Content     string            // Raw text of the covered lines
	Context     string            // File path marker plus imports, prepended for embedding
	Kind        Kind              // file, module, class, function, method, block
	Language    string            // go, typescript, python, etc.
	StartLine   int               // 1-indexed
	EndLine     int               // Inclusive
	SymbolName  string            // Enclosing symbol name, empty for module/degraded chunks
	TokenCount  int               // Estimated tokens in Content
	ContentHash string            // SHA256 of Content, hex
	Degraded    bool              // True when produced by the parse-failure fallback
	Symbols     []*Symbol         // Symbols declared within this chunk
	Metadata    map[string]string // Custom metadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmbeddingText returns the text to embed for this chunk: the file context
// header followed by the chunk content.
func (c *Chunk) EmbeddingText() string {
	if c.Context == "" {
		return c.Content
	}
	return c.Context + "\n\n" + c.Content
}

// FileInput is input for the Chunker interface
type FileInput struct {
	Path     string // Relative path
	Content  []byte // File content
	Language string // go, typescript, python, etc.
}

// Chunker is the interface for splitting files into chunks
type Chunker interface {
	// Chunk splits a file into semantic chunks
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)

	// SupportedExtensions returns file extensions this chunker handles
	SupportedExtensions() []string
}

// SymbolType represents the kind of code symbol
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol represents a named declaration extracted from parsing
type Symbol struct {
	Name       string
	Type       SymbolType
	Parent     string // Enclosing symbol name, empty for top-level declarations
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
	Complexity int // Count of control-flow branches plus one
}

// Tree represents a parsed AST
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node represents a node in the AST
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point represents a position in the source code
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds configuration for a supported language
type LanguageConfig struct {
	Name       string
	Extensions []string

	// Node types that indicate function declarations
	FunctionTypes []string

	// Node types that indicate class/struct definitions
	ClassTypes []string

	// Node types that indicate interface definitions
	InterfaceTypes []string

	// Node types that indicate method definitions
	MethodTypes []string

	// Node types that indicate type definitions
	TypeDefTypes []string

	// Node types that indicate constant declarations
	ConstantTypes []string

	// Node types that indicate variable declarations
	VariableTypes []string

	// Node types that indicate import/use statements
	ImportTypes []string

	// Node types that indicate control-flow blocks (split points for
	// oversized function bodies)
	ControlTypes []string

	// Node type of a function/class body
	BodyType string

	// Node type for name identifier
	NameField string
}
