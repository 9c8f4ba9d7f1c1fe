package bytecode

import "sort"

// Navigator provides random access to the nodes of a stream without
// materializing all of them.
//
// Access is O(1) amortized: decoded records are memoized, and a cold lookup
// scans at most one checkpoint interval from the nearest anchor. The jump
// table, when present, resolves node byte offsets directly (for subtree
// slicing and integrity checks); positions still come from the anchored scan
// because starts are delta-encoded between checkpoints.
type Navigator struct {
	s       *Stream
	dec     *Decoder
	records map[uint32]NodeRecord
}

// NewNavigator creates a Navigator over s.
func NewNavigator(s *Stream) *Navigator {
	return &Navigator{
		s:       s,
		dec:     NewDecoder(s),
		records: make(map[uint32]NodeRecord),
	}
}

// Len returns the number of nodes in the stream.
func (n *Navigator) Len() uint32 { return n.s.NodeCount }

// Offset returns the byte offset of node i from the jump table, if present.
func (n *Navigator) Offset(i uint32) (uint32, bool) {
	if int(i) >= len(n.s.JumpTable) {
		return 0, false
	}
	return n.s.JumpTable[i], true
}

// Node returns the record for the node with preorder index i.
func (n *Navigator) Node(i uint32) (NodeRecord, error) {
	if i >= n.s.NodeCount {
		return NodeRecord{}, ErrNodeOutOfRange
	}
	if rec, ok := n.records[i]; ok {
		return rec, nil
	}

	anchorIndex, anchorOffset := n.anchor(i)
	n.dec.seekNode(int(anchorOffset), anchorIndex)

	for {
		rec, done, err := n.dec.Next()
		if err != nil {
			return NodeRecord{}, err
		}
		if done {
			return NodeRecord{}, ErrNodeOutOfRange
		}
		if rec == nil {
			continue
		}
		n.records[rec.Index] = *rec
		if rec.Index == i {
			return *rec, nil
		}
		if rec.Index > i {
			// Cannot happen on a well-formed stream; treat as corruption.
			return NodeRecord{}, decodeErr(0, ErrBadTableIndex)
		}
	}
}

// anchor returns the closest decode start point at or before node i: the
// last checkpoint with NodeIndex <= i, or the stream start.
func (n *Navigator) anchor(i uint32) (uint32, uint32) {
	cps := n.s.Checkpoints
	k := sort.Search(len(cps), func(j int) bool { return cps[j].NodeIndex > i })
	if k == 0 {
		return 0, 0
	}
	cp := cps[k-1]
	return cp.NodeIndex, cp.Offset
}
