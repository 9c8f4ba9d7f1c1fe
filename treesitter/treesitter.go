// Package treesitter adapts go-tree-sitter parse results to the cache's
// input model. The cache itself never parses; this package is the bridge
// for embedders that use tree-sitter as their parser front-end.
package treesitter

import (
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/hupe1980/cstcache/model"
)

// ErrUnknownLanguage is returned by Parse when the file extension does not
// map to a bundled grammar.
var ErrUnknownLanguage = errors.New("treesitter: unknown language")

// FromTree converts a parsed tree into a model.SyntaxTree. The source bytes
// are not needed for the conversion: node kinds and byte ranges come from
// the tree itself.
func FromTree(tree *sitter.Tree) *model.SyntaxTree {
	if tree == nil {
		return nil
	}
	return &model.SyntaxTree{Root: FromNode(tree.RootNode(), "")}
}

// FromNode converts a subtree rooted at n. fieldName is the slot n fills in
// its parent, or "" for the root and anonymous children.
func FromNode(n *sitter.Node, fieldName string) *model.SyntaxNode {
	if n == nil {
		return nil
	}
	out := &model.SyntaxNode{
		Kind:      n.Type(),
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
		IsNamed:   n.IsNamed(),
		IsError:   n.IsError(),
		IsMissing: n.IsMissing(),
		IsExtra:   n.IsExtra(),
		FieldName: fieldName,
	}
	count := int(n.ChildCount())
	if count > 0 {
		out.Children = make([]*model.SyntaxNode, 0, count)
		for i := 0; i < count; i++ {
			child := FromNode(n.Child(i), n.FieldNameForChild(i))
			if child != nil {
				out.Children = append(out.Children, child)
			}
		}
	}
	return out
}

// Parse parses source with the grammar registered for path's extension and
// returns the converted tree. The caller stores the result together with
// the same source bytes.
func Parse(ctx context.Context, path string, source []byte) (*model.SyntaxTree, error) {
	lang, ok := LanguageForPath(path)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrUnknownLanguage, path)
	}
	return ParseWith(ctx, lang, source)
}

// ParseWith parses source with an explicit grammar.
func ParseWith(ctx context.Context, lang *sitter.Language, source []byte) (*model.SyntaxTree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("treesitter: parse: %w", err)
	}
	defer tree.Close()
	return FromTree(tree), nil
}
