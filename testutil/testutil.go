// Package testutil provides syntax tree fixtures shared by cstcache tests.
package testutil

import (
	"fmt"

	"github.com/hupe1980/cstcache/model"
)

// Node builds a syntax node with the given kind and byte range.
func Node(kind string, start, end uint32, children ...*model.SyntaxNode) *model.SyntaxNode {
	return &model.SyntaxNode{
		Kind:      kind,
		StartByte: start,
		EndByte:   end,
		IsNamed:   true,
		Children:  children,
	}
}

// Anon builds an anonymous (unnamed) node, e.g. punctuation.
func Anon(kind string, start, end uint32) *model.SyntaxNode {
	return &model.SyntaxNode{
		Kind:      kind,
		StartByte: start,
		EndByte:   end,
	}
}

// Field attaches a field name to a node and returns it.
func Field(name string, n *model.SyntaxNode) *model.SyntaxNode {
	n.FieldName = name
	return n
}

// FnMainSource is the source text matching the tree built by FnMainTree.
const FnMainSource = "fn main() {\n let x = 42;\n}"

// FnMainTree builds the syntax tree of FnMainSource the way a Rust grammar
// would shape it: a function item containing a block with one let
// declaration.
func FnMainTree() *model.SyntaxTree {
	letDecl := Node("let_declaration", 13, 24,
		Anon("let", 13, 16),
		Field("pattern", Node("identifier", 17, 18)),
		Anon("=", 19, 20),
		Field("value", Node("integer_literal", 21, 23)),
		Anon(";", 23, 24),
	)
	block := Field("body", Node("block", 10, 26,
		Anon("{", 10, 11),
		letDecl,
		Anon("}", 25, 26),
	))
	fn := Node("function_item", 0, 26,
		Anon("fn", 0, 2),
		Field("name", Node("identifier", 3, 7)),
		Field("parameters", Node("parameters", 7, 9,
			Anon("(", 7, 8),
			Anon(")", 8, 9),
		)),
		block,
	)
	root := Node("source_file", 0, 26, fn)
	return &model.SyntaxTree{Root: root}
}

// EditedFnMainSource is FnMainSource with the literal 42 changed to 43.
const EditedFnMainSource = "fn main() {\n let x = 43;\n}"

// FnMainEdit describes the 42 -> 43 replacement.
func FnMainEdit() model.Edit {
	return model.Edit{StartByte: 21, OldEndByte: 23, NewEndByte: 23}
}

// WideTree builds a flat tree with n leaf children under one root, useful
// for exercising checkpoints and budgets. Each leaf covers two source bytes.
func WideTree(n int) (*model.SyntaxTree, []byte) {
	children := make([]*model.SyntaxNode, n)
	for i := range children {
		start := uint32(i * 2)
		children[i] = Node(fmt.Sprintf("kind_%d", i%7), start, start+2)
	}
	root := Node("source_file", 0, uint32(n*2), children...)
	return &model.SyntaxTree{Root: root}, make([]byte, n*2)
}
