package model

import (
	"fmt"
	"hash/fnv"
)

// SyntaxNode is one node of a parsed syntax tree as handed over by a parser
// front-end. Byte ranges refer to the exact source bytes the tree was parsed
// from.
type SyntaxNode struct {
	Kind      string
	StartByte uint32
	EndByte   uint32
	IsNamed   bool
	IsError   bool
	IsMissing bool
	IsExtra   bool
	// FieldName is the name of the slot this node fills in its parent,
	// or "" if it is an anonymous child.
	FieldName string
	Children  []*SyntaxNode
}

// SyntaxTree is a rooted syntax tree produced by an external parser.
type SyntaxTree struct {
	Root *SyntaxNode
}

// NodeCount returns the number of nodes in the tree, including the root.
func (t *SyntaxTree) NodeCount() int {
	if t == nil || t.Root == nil {
		return 0
	}
	return countNodes(t.Root)
}

func countNodes(n *SyntaxNode) int {
	count := 1
	for _, c := range n.Children {
		count += countNodes(c)
	}
	return count
}

// Edit describes a single contiguous source edit: the bytes in
// [StartByte, OldEndByte) were replaced by new content ending at NewEndByte.
type Edit struct {
	StartByte  uint32
	OldEndByte uint32
	NewEndByte uint32
}

// Delta returns the signed length change introduced by the edit.
func (e Edit) Delta() int64 {
	return int64(e.NewEndByte) - int64(e.OldEndByte)
}

// Key identifies a cache entry: the file path plus the content hash of the
// exact source bytes the stored tree was parsed from. An entry whose hash no
// longer matches the current source is treated as absent.
type Key struct {
	Path string
	Hash uint64
}

// String returns a human-readable representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("%s@%016x", k.Path, k.Hash)
}

// HashSource computes the content hash used in cache keys (FNV-1a 64).
func HashSource(source []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(source)
	return h.Sum64()
}

// Tier is a storage location with a distinct latency/capacity tradeoff.
type Tier uint8

const (
	// TierHot holds uncompressed streams in memory.
	TierHot Tier = iota
	// TierWarm holds compressed streams in memory.
	TierWarm
	// TierCold holds compressed streams on disk.
	TierCold
	// TierFrozen holds compressed streams on disk and is reclaimed first.
	TierFrozen
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	case TierFrozen:
		return "frozen"
	default:
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
}

// Stats is a point-in-time snapshot of cache state and lifetime counters.
type Stats struct {
	HotEntries    int
	WarmEntries   int
	ColdEntries   int
	FrozenEntries int

	HotBytes    int64
	WarmBytes   int64
	ColdBytes   int64
	FrozenBytes int64

	TotalHits   uint64
	TotalMisses uint64
	Promotions  uint64
	Demotions   uint64
	Evictions   uint64
}

// TotalEntries returns the number of live entries across all tiers.
func (s Stats) TotalEntries() int {
	return s.HotEntries + s.WarmEntries + s.ColdEntries + s.FrozenEntries
}

// HitRate returns hits/(hits+misses), or 0 when no lookups have happened.
func (s Stats) HitRate() float64 {
	total := s.TotalHits + s.TotalMisses
	if total == 0 {
		return 0
	}
	return float64(s.TotalHits) / float64(total)
}
