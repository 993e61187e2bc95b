package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CodeChunkerOptions configures the code chunker behavior
type CodeChunkerOptions struct {
	MaxChunkTokens      int // Maximum tokens per chunk (default: DefaultMaxChunkTokens)
	OverlapLines        int // Line overlap between adjacent chunks (default: DefaultOverlapLines)
	FallbackWindowLines int // Window size for degraded line chunking (default: DefaultFallbackWindowLines)
}

// CodeChunker implements AST-aware code chunking using tree-sitter.
// Chunking rules, in priority order:
//  1. A function or method under the size threshold becomes one chunk.
//  2. An oversized function or method is split along its top-level control
//     blocks; each split chunk keeps the enclosing symbol name.
//  3. A class header plus leading docs becomes one chunk; methods are
//     chunked independently per rules 1-2.
//  4. The module's leading imports plus module docs become one chunk.
//  5. Adjacent chunks share a fixed line overlap.
//
// Top-level statements outside any declaration are windowed so the chunks
// cover the whole file, and every parsed file additionally gets a
// synthesized summary chunk describing its imports and symbols.
//
// If parsing fails the file is chunked into fixed line windows and the
// chunks are marked degraded.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapLines == 0 {
		opts.OverlapLines = DefaultOverlapLines
	}
	if opts.FallbackWindowLines == 0 {
		opts.FallbackWindowLines = DefaultFallbackWindowLines
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	lines := strings.Split(string(file.Content), "\n")

	config, supported := c.registry.GetByName(file.Language)
	if !supported {
		return c.chunkLineWindows(file, lines, true), nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil || tree.Root == nil || tree.Root.HasError {
		// Parse failure: degrade to fixed line windows, never fail the file
		return c.chunkLineWindows(file, lines, true), nil
	}

	fileContext := c.buildFileContext(tree, file, config)

	b := &chunkBuilder{
		chunker: c,
		file:    file,
		lines:   lines,
		context: fileContext,
		now:     time.Now(),
	}

	// Rule 4: module prelude (imports + module docs) as one chunk
	b.addModuleChunk(tree, config)

	// Rules 1-3: walk top-level declarations
	for _, node := range tree.Root.Children {
		b.addTopLevelNode(node, tree, config)
	}

	if len(b.chunks) == 0 {
		// Parsed but nothing recognizable (e.g. script with only loose
		// statements): keep the content searchable via line windows.
		return c.chunkLineWindows(file, lines, false), nil
	}

	// Loose top-level statements (script bodies, __main__ guards) are not
	// declarations, so the walk skips them. Window whatever it left
	// uncovered so every non-blank line stays retrievable.
	b.addUncoveredSpans()

	chunks := b.chunks
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].StartLine < chunks[j].StartLine
	})

	chunks = append([]*Chunk{b.fileSummaryChunk(tree, config)}, chunks...)
	return chunks, nil
}

// chunkBuilder accumulates chunks for one file, applying the overlap rule
// between consecutive chunks.
type chunkBuilder struct {
	chunker *CodeChunker
	file    *FileInput
	lines   []string
	context string
	now     time.Time
	chunks  []*Chunk
}

// addModuleChunk emits the module prelude chunk: package/import statements
// plus any module-level documentation before the first declaration.
func (b *chunkBuilder) addModuleChunk(tree *Tree, config *LanguageConfig) {
	preludeEnd := 0 // last line (1-indexed) belonging to the prelude

	importTypes := make(map[string]bool, len(config.ImportTypes)+1)
	for _, t := range config.ImportTypes {
		importTypes[t] = true
	}
	importTypes["package_clause"] = true

	for _, node := range tree.Root.Children {
		line := int(node.EndPoint.Row) + 1
		switch {
		case importTypes[node.Type]:
			if line > preludeEnd {
				preludeEnd = line
			}
		case node.Type == "comment":
			// Module doc comment before any declaration
			if len(b.chunks) == 0 && preludeEnd == 0 || line == preludeEnd+1 {
				if line > preludeEnd {
					preludeEnd = line
				}
			}
		case node.Type == "expression_statement" && preludeEnd == 0:
			// Python module docstring: a leading bare string
			if strings.HasPrefix(strings.TrimSpace(node.GetContent(tree.Source)), "\"") ||
				strings.HasPrefix(strings.TrimSpace(node.GetContent(tree.Source)), "'") {
				preludeEnd = line
			}
		}
	}

	if preludeEnd == 0 {
		return
	}
	b.emit(1, preludeEnd, KindModule, "", nil, false)
}

// addTopLevelNode dispatches one top-level declaration to the chunking rules.
func (b *chunkBuilder) addTopLevelNode(node *Node, tree *Tree, config *LanguageConfig) {
	c := b.chunker

	switch {
	case matchesAny(node.Type, config.ClassTypes), matchesAny(node.Type, config.InterfaceTypes):
		b.addClassNode(node, tree, config)

	case matchesAny(node.Type, config.FunctionTypes), matchesAny(node.Type, config.MethodTypes):
		kind := KindFunction
		symType := SymbolTypeFunction
		if matchesAny(node.Type, config.MethodTypes) {
			kind = KindMethod
			symType = SymbolTypeMethod
		}
		sym := c.buildSymbol(node, tree, config, symType, "")
		if sym != nil {
			b.addSymbolChunk(node, tree, config, sym, kind)
		}

	case matchesAny(node.Type, config.TypeDefTypes):
		// Go type declarations (structs, interfaces) read like class headers
		sym := c.buildSymbol(node, tree, config, SymbolTypeType, "")
		if sym != nil {
			b.addSymbolChunk(node, tree, config, sym, KindClass)
		}

	case node.Type == "lexical_declaration" || node.Type == "variable_declaration":
		// JS/TS: const f = () => {} is a function, not a variable
		if sym := c.extractor.extractSpecialSymbol(node, tree.Source, tree.Language); sym != nil {
			sym.Complexity = c.countComplexity(node, config) + 1
			b.addSymbolChunk(node, tree, config, sym, KindFunction)
			return
		}
		b.addDeclarationChunk(node, tree, config)

	case matchesAny(node.Type, config.ConstantTypes), matchesAny(node.Type, config.VariableTypes):
		b.addDeclarationChunk(node, tree, config)
	}
}

// addClassNode emits the class header chunk and chunks each method
// independently (rule 3).
func (b *chunkBuilder) addClassNode(node *Node, tree *Tree, config *LanguageConfig) {
	c := b.chunker

	sym := c.buildSymbol(node, tree, config, SymbolTypeClass, "")
	if sym == nil {
		return
	}

	body := node.FindChildByType(config.BodyType)
	if body == nil && config.BodyType != "class_body" {
		body = node.FindChildByType("class_body")
	}

	// Header chunk: leading docs through the line the body opens on
	headerStart := b.docStartLine(int(node.StartPoint.Row) + 1)
	headerEnd := int(node.EndPoint.Row) + 1
	if body != nil {
		headerEnd = int(body.StartPoint.Row) + 1
	}
	b.emit(headerStart, headerEnd, KindClass, sym.Name, []*Symbol{sym}, false)

	if body == nil {
		return
	}

	// Methods inside the body are chunked per rules 1-2
	for _, child := range body.Children {
		isMethod := matchesAny(child.Type, config.MethodTypes) ||
			matchesAny(child.Type, config.FunctionTypes)
		if !isMethod {
			continue
		}
		methodSym := c.buildSymbol(child, tree, config, SymbolTypeMethod, sym.Name)
		if methodSym != nil {
			b.addSymbolChunk(child, tree, config, methodSym, KindMethod)
		}
	}
}

// addSymbolChunk applies rules 1-2 to one function/method/type node.
func (b *chunkBuilder) addSymbolChunk(node *Node, tree *Tree, config *LanguageConfig, sym *Symbol, kind Kind) {
	c := b.chunker

	startLine := b.docStartLine(int(node.StartPoint.Row) + 1)
	endLine := int(node.EndPoint.Row) + 1

	if c.estimateLineTokens(b.lines, startLine, endLine) <= c.options.MaxChunkTokens {
		// Rule 1: fits in one chunk
		b.emit(startLine, endLine, kind, sym.Name, []*Symbol{sym}, false)
		return
	}

	// Rule 2: split along top-level control blocks
	segments := c.controlBlockSegments(node, config, startLine, endLine)
	if len(segments) < 2 {
		// No usable split points: fall back to line windows within the symbol
		b.emitWindows(startLine, endLine, sym.Name, false)
		return
	}

	for i, seg := range segments {
		segStart := seg.start
		if i > 0 {
			// Rule 5: adjacent split chunks share the overlap
			segStart = seg.start - c.options.OverlapLines
			if segStart < startLine {
				segStart = startLine
			}
		}
		if c.estimateLineTokens(b.lines, segStart, seg.end) > c.options.MaxChunkTokens {
			b.emitWindows(segStart, seg.end, sym.Name, false)
			continue
		}
		syms := []*Symbol{}
		if i == 0 {
			// First split chunk carries the symbol record so exact lookup
			// still finds the declaration
			syms = []*Symbol{sym}
		}
		b.emit(segStart, seg.end, KindBlock, sym.Name, syms, false)
	}
}

// addDeclarationChunk emits a chunk for a top-level const/var declaration.
func (b *chunkBuilder) addDeclarationChunk(node *Node, tree *Tree, config *LanguageConfig) {
	c := b.chunker

	symType := SymbolTypeConstant
	if matchesAny(node.Type, config.VariableTypes) {
		symType = SymbolTypeVariable
	}
	sym := c.buildSymbol(node, tree, config, symType, "")

	startLine := b.docStartLine(int(node.StartPoint.Row) + 1)
	endLine := int(node.EndPoint.Row) + 1

	name := ""
	var syms []*Symbol
	if sym != nil {
		name = sym.Name
		syms = []*Symbol{sym}
	}

	if c.estimateLineTokens(b.lines, startLine, endLine) <= c.options.MaxChunkTokens {
		b.emit(startLine, endLine, KindBlock, name, syms, false)
		return
	}
	b.emitWindows(startLine, endLine, name, false)
}

// emit materializes one chunk covering lines [start, end] (1-indexed, inclusive).
func (b *chunkBuilder) emit(start, end int, kind Kind, symbolName string, symbols []*Symbol, degraded bool) {
	if start < 1 {
		start = 1
	}
	if end > len(b.lines) {
		end = len(b.lines)
	}
	if start > end {
		return
	}

	content := strings.Join(b.lines[start-1:end], "\n")
	if strings.TrimSpace(content) == "" {
		return
	}

	contentHash := hashContent(content)
	b.chunks = append(b.chunks, &Chunk{
		ID:          ComputeID(b.file.Path, start, end, contentHash),
		FilePath:    b.file.Path,
		Content:     content,
		Context:     b.context,
		Kind:        kind,
		Language:    b.file.Language,
		StartLine:   start,
		EndLine:     end,
		SymbolName:  symbolName,
		TokenCount:  estimateTokens(content),
		ContentHash: contentHash,
		Degraded:    degraded,
		Symbols:     symbols,
		Metadata:    make(map[string]string),
		CreatedAt:   b.now,
		UpdatedAt:   b.now,
	})
}

// emitWindows splits lines [start, end] into fixed windows sized to the
// token threshold, with the standard overlap between consecutive windows.
func (b *chunkBuilder) emitWindows(start, end int, symbolName string, degraded bool) {
	c := b.chunker

	// Size windows so an average line keeps the window under the threshold
	window := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if window < 2*c.options.OverlapLines {
		window = 2 * c.options.OverlapLines
	}

	for cur := start; cur <= end; {
		winEnd := cur + window - 1
		if winEnd > end {
			winEnd = end
		}
		b.emit(cur, winEnd, KindBlock, symbolName, nil, degraded)
		if winEnd >= end {
			break
		}
		cur = winEnd + 1 - c.options.OverlapLines
		if cur <= start {
			cur = start + 1
		}
	}
}

// addUncoveredSpans windows the line ranges no emitted chunk covers.
// Script-style files mix declarations with loose top-level statements; the
// declaration walk skips those statements, and without this sweep they
// would be unsearchable.
func (b *chunkBuilder) addUncoveredSpans() {
	total := len(b.lines)
	covered := make([]bool, total+1)
	for _, ch := range b.chunks {
		start, end := ch.StartLine, ch.EndLine
		if start < 1 {
			start = 1
		}
		if end > total {
			end = total
		}
		for l := start; l <= end; l++ {
			covered[l] = true
		}
	}

	for cur := 1; cur <= total; {
		if covered[cur] {
			cur++
			continue
		}
		end := cur
		for end < total && !covered[end+1] {
			end++
		}
		// Blank-only spans produce no chunk; emit filters them.
		b.emitWindows(cur, end, "", false)
		cur = end + 1
	}
}

// fileSummaryChunk synthesizes one whole-file chunk describing the file:
// its path, language, imports, and declared symbols grouped by kind. It
// backs file-oriented lookups rather than line retrieval, so it never
// enters the keyword or vector indexes.
func (b *chunkBuilder) fileSummaryChunk(tree *Tree, config *LanguageConfig) *Chunk {
	var funcs, types, methods []string
	for _, ch := range b.chunks {
		for _, s := range ch.Symbols {
			switch s.Type {
			case SymbolTypeFunction:
				funcs = append(funcs, s.Name)
			case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
				types = append(types, s.Name)
			case SymbolTypeMethod:
				name := s.Name
				if s.Parent != "" {
					name = s.Parent + "." + s.Name
				}
				methods = append(methods, name)
			}
		}
	}

	desc := []string{fmt.Sprintf("File: %s (%s, %d lines)", b.file.Path, b.file.Language, len(b.lines))}
	if imports := importList(tree, config); len(imports) > 0 {
		desc = append(desc, "Imports: "+strings.Join(imports, ", "))
	}
	if len(types) > 0 {
		desc = append(desc, "Types: "+strings.Join(types, ", "))
	}
	if len(funcs) > 0 {
		desc = append(desc, "Functions: "+strings.Join(funcs, ", "))
	}
	if len(methods) > 0 {
		desc = append(desc, "Methods: "+strings.Join(methods, ", "))
	}

	content := strings.Join(desc, "\n")
	contentHash := hashContent(content)
	return &Chunk{
		ID:          ComputeID(b.file.Path, 1, len(b.lines), contentHash),
		FilePath:    b.file.Path,
		Content:     content,
		Context:     b.context,
		Kind:        KindFile,
		Language:    b.file.Language,
		StartLine:   1,
		EndLine:     len(b.lines),
		TokenCount:  estimateTokens(content),
		ContentHash: contentHash,
		Metadata:    make(map[string]string),
		CreatedAt:   b.now,
		UpdatedAt:   b.now,
	}
}

// importList collects the module names imported at the top level.
func importList(tree *Tree, config *LanguageConfig) []string {
	importTypes := make(map[string]bool, len(config.ImportTypes))
	for _, t := range config.ImportTypes {
		importTypes[t] = true
	}

	seen := make(map[string]bool)
	var names []string
	for _, node := range tree.Root.Children {
		if !importTypes[node.Type] {
			continue
		}
		for _, field := range strings.Fields(node.GetContent(tree.Source)) {
			name := strings.Trim(field, "\"'();,{}")
			switch name {
			case "", "import", "from", "as", "require", "use":
				continue
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// docStartLine walks upward from startLine collecting contiguous comment
// lines, returning the first line of the leading documentation block.
func (b *chunkBuilder) docStartLine(startLine int) int {
	prefixes := []string{"//", "/*", "*", "#"}
	line := startLine
	for line > 1 {
		prev := strings.TrimSpace(b.lines[line-2])
		isComment := false
		for _, p := range prefixes {
			if strings.HasPrefix(prev, p) {
				isComment = true
				break
			}
		}
		if !isComment {
			break
		}
		line--
	}
	return line
}

// lineSegment is a line range within a split symbol.
type lineSegment struct {
	start, end int
}

// controlBlockSegments splits a symbol's line range at its body's top-level
// control blocks, then coalesces adjacent segments that fit the threshold.
func (c *CodeChunker) controlBlockSegments(node *Node, config *LanguageConfig, startLine, endLine int) []lineSegment {
	body := node.FindChildByType(config.BodyType)
	if body == nil {
		return nil
	}

	controlTypes := make(map[string]bool, len(config.ControlTypes))
	for _, t := range config.ControlTypes {
		controlTypes[t] = true
	}

	// Collect split boundaries at each top-level control block
	var raw []lineSegment
	cursor := startLine
	for _, child := range body.Children {
		if !controlTypes[child.Type] {
			continue
		}
		blockStart := int(child.StartPoint.Row) + 1
		blockEnd := int(child.EndPoint.Row) + 1
		if blockStart > cursor {
			raw = append(raw, lineSegment{start: cursor, end: blockStart - 1})
		}
		raw = append(raw, lineSegment{start: blockStart, end: blockEnd})
		cursor = blockEnd + 1
	}
	if cursor <= endLine {
		raw = append(raw, lineSegment{start: cursor, end: endLine})
	}
	if len(raw) < 2 {
		return raw
	}
	return c.coalesceSegments(raw)
}

// coalesceSegments merges adjacent segments while the merged range stays
// under the token threshold, so tiny gaps don't become their own chunks.
func (c *CodeChunker) coalesceSegments(segments []lineSegment) []lineSegment {
	merged := []lineSegment{segments[0]}
	for _, seg := range segments[1:] {
		last := &merged[len(merged)-1]
		// Approximate tokens by line count against the window heuristic
		mergedLines := seg.end - last.start + 1
		if mergedLines*80/TokensPerChar <= c.options.MaxChunkTokens {
			last.end = seg.end
			continue
		}
		merged = append(merged, seg)
	}
	return merged
}

// buildSymbol extracts a Symbol record for a declaration node.
func (c *CodeChunker) buildSymbol(node *Node, tree *Tree, config *LanguageConfig, symType SymbolType, parent string) *Symbol {
	name := c.extractor.extractName(node, tree.Source, config, tree.Language)
	if name == "" {
		return nil
	}
	return &Symbol{
		Name:       name,
		Type:       symType,
		Parent:     parent,
		StartLine:  int(node.StartPoint.Row) + 1,
		EndLine:    int(node.EndPoint.Row) + 1,
		Signature:  c.extractor.extractSignature(node, tree.Source, symType, tree.Language),
		DocComment: c.extractor.extractDocComment(node, tree.Source, tree.Language),
		Complexity: c.countComplexity(node, config) + 1,
	}
}

// countComplexity counts control-flow nodes within a declaration.
func (c *CodeChunker) countComplexity(node *Node, config *LanguageConfig) int {
	controlTypes := make(map[string]bool, len(config.ControlTypes))
	for _, t := range config.ControlTypes {
		controlTypes[t] = true
	}
	count := 0
	node.Walk(func(n *Node) bool {
		if controlTypes[n.Type] {
			count++
		}
		return true
	})
	return count
}

// chunkLineWindows is the fallback for unsupported languages and parse
// failures: fixed-size line windows with the standard overlap.
func (c *CodeChunker) chunkLineWindows(file *FileInput, lines []string, degraded bool) []*Chunk {
	if strings.TrimSpace(string(file.Content)) == "" {
		return nil
	}

	b := &chunkBuilder{
		chunker: c,
		file:    file,
		lines:   lines,
		context: fileContextMarker(file.Path, file.Language),
		now:     time.Now(),
	}

	window := c.options.FallbackWindowLines
	for cur := 1; cur <= len(lines); {
		end := cur + window - 1
		if end > len(lines) {
			end = len(lines)
		}
		b.emit(cur, end, KindBlock, "", nil, degraded)
		if end >= len(lines) {
			break
		}
		cur = end + 1 - c.options.OverlapLines
	}
	return b.chunks
}

// estimateLineTokens estimates tokens for lines [start, end] (1-indexed).
func (c *CodeChunker) estimateLineTokens(lines []string, start, end int) int {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return 0
	}
	chars := 0
	for _, l := range lines[start-1 : end] {
		chars += len(l) + 1
	}
	return chars / TokensPerChar
}

// buildFileContext builds the context header prepended to every chunk's
// embedding text: a file path marker plus the import prelude.
func (c *CodeChunker) buildFileContext(tree *Tree, file *FileInput, config *LanguageConfig) string {
	parts := []string{fileContextMarker(file.Path, file.Language)}

	importTypes := make(map[string]bool, len(config.ImportTypes)+1)
	for _, t := range config.ImportTypes {
		importTypes[t] = true
	}
	importTypes["package_clause"] = true

	for _, node := range tree.Root.Children {
		if importTypes[node.Type] {
			parts = append(parts, node.GetContent(tree.Source))
		}
	}
	return strings.Join(parts, "\n")
}

// fileContextMarker returns a language-appropriate file path comment.
func fileContextMarker(filePath, language string) string {
	if filePath == "" {
		return ""
	}
	switch language {
	case "python":
		return fmt.Sprintf("# File: %s", filePath)
	default:
		return fmt.Sprintf("// File: %s", filePath)
	}
}

// matchesAny reports whether nodeType is in the list.
func matchesAny(nodeType string, types []string) bool {
	for _, t := range types {
		if nodeType == t {
			return true
		}
	}
	return false
}

// hashContent returns the hex SHA256 of content.
func hashContent(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// ComputeID derives a stable chunk ID from file path, line range, and content
// hash. Same content at the same location yields the same ID across runs;
// any edit to the covered lines yields a new ID. Exported so the store can
// recompute IDs when a file is renamed without re-chunking.
func ComputeID(filePath string, startLine, endLine int, contentHash string) string {
	input := fmt.Sprintf("%s:%d:%d:%s", filePath, startLine, endLine, contentHash[:16])
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// estimateTokens estimates the number of tokens in content
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}
