// Package stableid assigns node identifiers that survive incremental
// re-parses. An identifier is reused when the node it named is provably
// unchanged by an edit; everything else gets a fresh value from a counter
// that never resets or reissues within a file's lifetime.
package stableid

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/cstcache/bytecode"
	"github.com/hupe1980/cstcache/model"
)

// Assigner allocates stable identifiers for successive parses of a single
// file. It is not safe for concurrent use; callers serialize per file.
type Assigner struct {
	next uint64
	live *roaring64.Bitmap
}

// NewAssigner returns an assigner whose first issued id is 1. Id 0 is
// reserved as "unassigned".
func NewAssigner() *Assigner {
	return &Assigner{next: 1, live: roaring64.New()}
}

// AssignFresh issues a new identifier for every node of tree in preorder,
// replacing the live set. Used on first parse and after invalidation.
func (a *Assigner) AssignFresh(tree *model.SyntaxTree) []uint64 {
	if tree == nil || tree.Root == nil {
		return nil
	}
	live := roaring64.New()
	ids := make([]uint64, 0, tree.NodeCount())

	var walk func(n *model.SyntaxNode)
	walk = func(n *model.SyntaxNode) {
		id := a.alloc()
		live.Add(id)
		ids = append(ids, id)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree.Root)

	a.live = live
	return ids
}

type matchKey struct {
	kind  string
	start uint32
	end   uint32
}

// Assign maps the nodes of a re-parsed tree onto the identifiers of the
// previous parse, in preorder. A node reuses its predecessor's id when its
// kind matches and its byte range, adjusted for the edit, coincides with a
// previous node's range. Nodes inside the replaced region and nodes without
// an unambiguous predecessor receive fresh ids; assignment never fails.
func (a *Assigner) Assign(prev []bytecode.NodeRecord, tree *model.SyntaxTree, edit model.Edit) []uint64 {
	if tree == nil || tree.Root == nil {
		return nil
	}

	// Candidate pool keyed by (kind, pre-edit range). Duplicate ranges are
	// consumed in preorder so repeated siblings pair up deterministically.
	pool := make(map[matchKey][]uint64, len(prev))
	for _, rec := range prev {
		if rec.StableID == 0 {
			continue
		}
		k := matchKey{kind: rec.Kind, start: rec.StartByte, end: rec.EndByte}
		pool[k] = append(pool[k], rec.StableID)
	}

	live := roaring64.New()
	ids := make([]uint64, 0, tree.NodeCount())

	var walk func(n *model.SyntaxNode)
	walk = func(n *model.SyntaxNode) {
		var id uint64
		if start, end, ok := preEditRange(n, edit); ok {
			k := matchKey{kind: n.Kind, start: start, end: end}
			if cands := pool[k]; len(cands) > 0 {
				id = cands[0]
				pool[k] = cands[1:]
			}
		}
		if id == 0 {
			id = a.alloc()
		}
		live.Add(id)
		ids = append(ids, id)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree.Root)

	a.live = live
	return ids
}

// Release drops ids from the live set, typically after the file's cache
// entry has been invalidated.
func (a *Assigner) Release(ids []uint64) {
	for _, id := range ids {
		a.live.Remove(id)
	}
}

// Contains reports whether id currently names a live node.
func (a *Assigner) Contains(id uint64) bool {
	return a.live.Contains(id)
}

// LiveCount returns the number of currently assigned ids.
func (a *Assigner) LiveCount() uint64 {
	return a.live.GetCardinality()
}

func (a *Assigner) alloc() uint64 {
	id := a.next
	a.next++
	return id
}

// preEditRange translates a post-edit node range back into pre-edit
// coordinates. Positions at or before the edit start are unchanged;
// positions at or past the end of the inserted text shift back by the
// length delta. Nodes that lie inside the replaced region, or that start
// or end within the inserted text, have no pre-edit equivalent.
func preEditRange(n *model.SyntaxNode, edit model.Edit) (uint32, uint32, bool) {
	if n.StartByte >= edit.StartByte && n.EndByte <= edit.NewEndByte {
		return 0, 0, false
	}
	delta := edit.Delta()

	start := int64(n.StartByte)
	switch {
	case n.StartByte <= edit.StartByte:
	case n.StartByte >= edit.NewEndByte:
		start -= delta
	default:
		return 0, 0, false
	}

	end := int64(n.EndByte)
	switch {
	case n.EndByte <= edit.StartByte:
	case n.EndByte >= edit.NewEndByte:
		end -= delta
	default:
		return 0, 0, false
	}

	const maxByte = int64(^uint32(0))
	if start < 0 || end < start || end > maxByte {
		return 0, 0, false
	}
	return uint32(start), uint32(end), true
}
