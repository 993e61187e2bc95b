package chunk

import (
	"strings"
)

// SymbolExtractor pulls symbol definitions out of a parsed tree. Which
// node types count as symbols, and what kind they map to, comes from the
// language registry.
type SymbolExtractor struct {
	registry *LanguageRegistry
}

// NewSymbolExtractor creates an extractor backed by the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return &SymbolExtractor{registry: DefaultRegistry()}
}

// NewSymbolExtractorWithRegistry creates an extractor with a custom registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{registry: registry}
}

// Extract walks the tree and returns every symbol found. The result is
// never nil.
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*Symbol {
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}

	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	symbols := []*Symbol{}
	tree.Root.Walk(func(n *Node) bool {
		if symbol := e.extractSymbolFromNode(n, source, config, tree.Language); symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true
	})

	return symbols
}

// classifyNode maps a node type to a symbol kind using the language
// config. Kinds are checked in precedence order so a node type listed
// under both functions and methods resolves as a function.
func classifyNode(nodeType string, config *LanguageConfig) (SymbolType, bool) {
	groups := []struct {
		types []string
		kind  SymbolType
	}{
		{config.FunctionTypes, SymbolTypeFunction},
		{config.MethodTypes, SymbolTypeMethod},
		{config.ClassTypes, SymbolTypeClass},
		{config.InterfaceTypes, SymbolTypeInterface},
		{config.TypeDefTypes, SymbolTypeType},
		{config.ConstantTypes, SymbolTypeConstant},
		{config.VariableTypes, SymbolTypeVariable},
	}
	for _, g := range groups {
		for _, t := range g.types {
			if nodeType == t {
				return g.kind, true
			}
		}
	}
	return "", false
}

func (e *SymbolExtractor) extractSymbolFromNode(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	symbolType, found := classifyNode(n.Type, config)
	if !found {
		// Arrow functions and function expressions hide inside variable
		// declarations and need their own handling.
		return e.extractSpecialSymbol(n, source, language)
	}

	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symbolType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  e.extractSignature(n, source, symbolType, language),
		DocComment: e.extractDocComment(n, source, language),
	}
}

func (e *SymbolExtractor) extractName(n *Node, source []byte, config *LanguageConfig, language string) string {
	switch language {
	case "go":
		return e.extractGoName(n, source)
	case "typescript", "tsx":
		return e.extractTypeScriptName(n, source)
	case "javascript", "jsx":
		return e.extractJavaScriptName(n, source)
	case "python":
		return e.extractPythonName(n, source)
	default:
		return firstChildContent(n, source, "identifier")
	}
}

// firstChildContent returns the text of the first direct child matching
// any of the given node types.
func firstChildContent(n *Node, source []byte, types ...string) string {
	for _, child := range n.Children {
		for _, t := range types {
			if child.Type == t {
				return child.GetContent(source)
			}
		}
	}
	return ""
}

// specIdentifier digs one level into grouped declarations: a spec node of
// specType holding an identifier of idType. Grouped const/var/type blocks
// yield the first name only.
func specIdentifier(n *Node, source []byte, specType, idType string) string {
	for _, child := range n.Children {
		if child.Type != specType {
			continue
		}
		if name := firstChildContent(child, source, idType); name != "" {
			return name
		}
	}
	return ""
}

func (e *SymbolExtractor) extractGoName(n *Node, source []byte) string {
	switch n.Type {
	case "function_declaration":
		return firstChildContent(n, source, "identifier")
	case "method_declaration":
		// Method names are field_identifier nodes, not identifier.
		return firstChildContent(n, source, "field_identifier")
	case "type_declaration":
		return specIdentifier(n, source, "type_spec", "type_identifier")
	case "const_declaration":
		return specIdentifier(n, source, "const_spec", "identifier")
	case "var_declaration":
		return specIdentifier(n, source, "var_spec", "identifier")
	}
	return ""
}

func (e *SymbolExtractor) extractTypeScriptName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		return specIdentifier(n, source, "variable_declarator", "identifier")
	}
	return firstChildContent(n, source, "identifier", "type_identifier")
}

func (e *SymbolExtractor) extractJavaScriptName(n *Node, source []byte) string {
	if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
		return specIdentifier(n, source, "variable_declarator", "identifier")
	}
	return firstChildContent(n, source, "identifier")
}

func (e *SymbolExtractor) extractPythonName(n *Node, source []byte) string {
	return firstChildContent(n, source, "identifier")
}

func (e *SymbolExtractor) extractSpecialSymbol(n *Node, source []byte, language string) *Symbol {
	switch language {
	case "typescript", "tsx", "javascript", "jsx":
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			return e.extractJSVariableFunctionSymbol(n, source)
		}
	}
	return nil
}

// extractJSVariableFunctionSymbol recognizes "const f = () => {}" and
// "const f = function() {}" shapes and records them as functions.
func (e *SymbolExtractor) extractJSVariableFunctionSymbol(n *Node, source []byte) *Symbol {
	for _, child := range n.Children {
		if child.Type != "variable_declarator" {
			continue
		}

		var name string
		var hasFunction bool
		for _, grandchild := range child.Children {
			switch grandchild.Type {
			case "identifier":
				name = grandchild.GetContent(source)
			case "arrow_function", "function", "function_expression":
				hasFunction = true
			}
		}

		if name != "" && hasFunction {
			return &Symbol{
				Name:      name,
				Type:      SymbolTypeFunction,
				StartLine: int(n.StartPoint.Row) + 1,
				EndLine:   int(n.EndPoint.Row) + 1,
				Signature: e.extractFunctionSignature(n.GetContent(source), "javascript"),
			}
		}
	}
	return nil
}

// extractDocComment looks at the single line immediately above the symbol
// for a line comment. Multi-line comment blocks and Python docstrings
// (which live inside the body) are not collected.
func (e *SymbolExtractor) extractDocComment(n *Node, source []byte, language string) string {
	if n.StartPoint.Row == 0 {
		return ""
	}

	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	prevLineEnd := lineStart - 1
	prevLineStart := prevLineEnd - 1
	for prevLineStart > 0 && source[prevLineStart-1] != '\n' {
		prevLineStart--
	}
	prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

	switch language {
	case "go", "javascript", "jsx", "typescript", "tsx":
		if strings.HasPrefix(prevLine, "//") {
			return strings.TrimPrefix(prevLine, "//")
		}
	}
	return ""
}

// extractSignature produces the declaration line for a symbol, the part
// an embedding can read without the body.
func (e *SymbolExtractor) extractSignature(n *Node, source []byte, symbolType SymbolType, language string) string {
	content := n.GetContent(source)
	if content == "" {
		return ""
	}

	switch symbolType {
	case SymbolTypeFunction, SymbolTypeMethod:
		return e.extractFunctionSignature(content, language)
	case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return e.extractTypeSignature(content, language)
	}
	return ""
}

func (e *SymbolExtractor) extractFunctionSignature(content, language string) string {
	firstLine := firstDeclarationLine(content)

	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx":
		// Everything before the opening brace. Brace-less arrow functions
		// keep the whole line.
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
	case "python":
		// "def name(params):" is already the signature.
	}
	return firstLine
}

func (e *SymbolExtractor) extractTypeSignature(content, language string) string {
	firstLine := firstDeclarationLine(content)

	switch language {
	case "go", "typescript", "tsx", "javascript", "jsx":
		// Go type aliases and TS interface one-liners have no brace and
		// keep the whole line.
		if idx := strings.Index(firstLine, "{"); idx != -1 {
			return strings.TrimSpace(firstLine[:idx])
		}
	case "python":
		// "class Name(Parent):" stands as is.
	}
	return firstLine
}

func firstDeclarationLine(content string) string {
	lines := strings.SplitN(content, "\n", 2)
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[0])
}
