package stableid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cstcache/bytecode"
	"github.com/hupe1980/cstcache/model"
	"github.com/hupe1980/cstcache/testutil"
)

func flatten(tree *model.SyntaxTree) []*model.SyntaxNode {
	var out []*model.SyntaxNode
	var walk func(n *model.SyntaxNode)
	walk = func(n *model.SyntaxNode) {
		out = append(out, n)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree.Root)
	return out
}

func decodedRecords(t *testing.T, tree *model.SyntaxTree, source []byte, ids []uint64) []bytecode.NodeRecord {
	t.Helper()
	stream, err := bytecode.NewEncoder().EncodeWithIDs(tree, source, ids)
	require.NoError(t, err)
	records, err := bytecode.NewDecoder(stream).Decode()
	require.NoError(t, err)
	return records
}

func TestAssignFresh(t *testing.T) {
	a := NewAssigner()
	tree := testutil.FnMainTree()

	ids := a.AssignFresh(tree)
	require.Len(t, ids, tree.NodeCount())
	require.Equal(t, uint64(tree.NodeCount()), a.LiveCount())

	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		require.NotZero(t, id)
		require.False(t, seen[id], "id %d issued twice", id)
		require.True(t, a.Contains(id))
		seen[id] = true
	}

	// A second fresh pass never reissues earlier values.
	again := a.AssignFresh(tree)
	for _, id := range again {
		require.False(t, seen[id], "id %d reissued", id)
	}
	require.Nil(t, a.AssignFresh(nil))
}

func TestAssign_LiteralEditPreservesEnclosingIDs(t *testing.T) {
	a := NewAssigner()

	prevTree := testutil.FnMainTree()
	prevIDs := a.AssignFresh(prevTree)
	prev := decodedRecords(t, prevTree, []byte(testutil.FnMainSource), prevIDs)

	// 42 -> 43 keeps the tree shape and every byte range; only the literal's
	// content changes.
	newTree := testutil.FnMainTree()
	newIDs := a.Assign(prev, newTree, testutil.FnMainEdit())
	require.Len(t, newIDs, len(prevIDs))

	prevByKind := make(map[string]uint64)
	for i, n := range flatten(prevTree) {
		prevByKind[n.Kind] = prevIDs[i]
	}
	newByKind := make(map[string]uint64)
	preserved := 0
	for i, n := range flatten(newTree) {
		newByKind[n.Kind] = newIDs[i]
		if newIDs[i] == prevIDs[i] {
			preserved++
		}
	}

	for _, kind := range []string{"function_item", "block", "let_declaration", "source_file"} {
		require.Equal(t, prevByKind[kind], newByKind[kind], "id of %s changed", kind)
	}

	// The edited literal lies inside the replaced region and gets a fresh id.
	require.NotEqual(t, prevByKind["integer_literal"], newByKind["integer_literal"])
	require.Greater(t, preserved, len(newIDs)-preserved, "unchanged ids must outnumber changed ones")

	// Ids of dropped nodes leave the live set; reused ones stay.
	require.False(t, a.Contains(prevByKind["integer_literal"]))
	require.True(t, a.Contains(prevByKind["function_item"]))
}

func TestAssign_InsertionShiftsTrailingNodes(t *testing.T) {
	a := NewAssigner()

	// "ab" -> "aXb": one byte inserted at offset 1.
	prevTree := &model.SyntaxTree{Root: testutil.Node("pair", 0, 2,
		testutil.Node("left", 0, 1),
		testutil.Node("right", 1, 2),
	)}
	prevIDs := a.AssignFresh(prevTree)
	prev := decodedRecords(t, prevTree, []byte("ab"), prevIDs)

	newTree := &model.SyntaxTree{Root: testutil.Node("pair", 0, 3,
		testutil.Node("left", 0, 1),
		testutil.Node("mid", 1, 2),
		testutil.Node("right", 2, 3),
	)}
	edit := model.Edit{StartByte: 1, OldEndByte: 1, NewEndByte: 2}
	newIDs := a.Assign(prev, newTree, edit)
	require.Len(t, newIDs, 4)

	// left is wholly before, right wholly after (shifted by +1); both reuse.
	require.Equal(t, prevIDs[1], newIDs[1])
	require.Equal(t, prevIDs[2], newIDs[3])
	// The root's end moved, so its pre-edit range still matches after the
	// shift and its id survives the growth.
	require.Equal(t, prevIDs[0], newIDs[0])
	// The inserted node is new.
	for _, id := range prevIDs {
		require.NotEqual(t, id, newIDs[2])
	}
}

func TestAssign_AmbiguityFallsBackToFresh(t *testing.T) {
	a := NewAssigner()

	prevTree := &model.SyntaxTree{Root: testutil.Node("root", 0, 2,
		testutil.Node("leaf", 0, 1),
	)}
	prevIDs := a.AssignFresh(prevTree)
	prev := decodedRecords(t, prevTree, []byte("xy"), prevIDs)

	// The new tree has two identical candidates for one previous leaf; the
	// first in preorder wins, the second gets a fresh id. Assignment must
	// not duplicate a live id.
	newTree := &model.SyntaxTree{Root: testutil.Node("root", 0, 2,
		testutil.Node("leaf", 0, 1),
		testutil.Node("leaf", 0, 1),
	)}
	edit := model.Edit{StartByte: 2, OldEndByte: 2, NewEndByte: 2}
	newIDs := a.Assign(prev, newTree, edit)
	require.Len(t, newIDs, 3)
	require.Equal(t, prevIDs[1], newIDs[1])
	require.NotEqual(t, newIDs[1], newIDs[2])
}

func TestAssign_KindChangeGetsFreshID(t *testing.T) {
	a := NewAssigner()

	prevTree := &model.SyntaxTree{Root: testutil.Node("root", 0, 1,
		testutil.Node("identifier", 0, 1),
	)}
	prevIDs := a.AssignFresh(prevTree)
	prev := decodedRecords(t, prevTree, []byte("x"), prevIDs)

	newTree := &model.SyntaxTree{Root: testutil.Node("root", 0, 1,
		testutil.Node("integer_literal", 0, 1),
	)}
	edit := model.Edit{StartByte: 1, OldEndByte: 1, NewEndByte: 1}
	newIDs := a.Assign(prev, newTree, edit)
	require.Equal(t, prevIDs[0], newIDs[0])
	require.NotEqual(t, prevIDs[1], newIDs[1])
}

func TestPreEditRange(t *testing.T) {
	edit := model.Edit{StartByte: 10, OldEndByte: 20, NewEndByte: 15}

	// Wholly before: unchanged.
	s, e, ok := preEditRange(&model.SyntaxNode{StartByte: 0, EndByte: 10}, edit)
	require.True(t, ok)
	require.Equal(t, uint32(0), s)
	require.Equal(t, uint32(10), e)

	// Wholly after: shifted back by the delta (-5 here).
	s, e, ok = preEditRange(&model.SyntaxNode{StartByte: 15, EndByte: 30}, edit)
	require.True(t, ok)
	require.Equal(t, uint32(20), s)
	require.Equal(t, uint32(35), e)

	// Enclosing: start stays, end shifts.
	s, e, ok = preEditRange(&model.SyntaxNode{StartByte: 0, EndByte: 40}, edit)
	require.True(t, ok)
	require.Equal(t, uint32(0), s)
	require.Equal(t, uint32(45), e)

	// Inside the replaced region: no pre-edit equivalent.
	_, _, ok = preEditRange(&model.SyntaxNode{StartByte: 11, EndByte: 14}, edit)
	require.False(t, ok)

	// Straddling the edit start without enclosing it: no equivalent.
	_, _, ok = preEditRange(&model.SyntaxNode{StartByte: 5, EndByte: 12}, edit)
	require.False(t, ok)
}
