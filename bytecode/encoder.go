package bytecode

import (
	"errors"
	"math"

	"github.com/hupe1980/cstcache/model"
)

// DefaultCheckpointInterval is the default spacing between checkpoint
// opcodes, in nodes. Random access from a checkpoint scans at most this many
// nodes.
const DefaultCheckpointInterval = 64

// ErrNilTree is returned when encoding a tree without a root node.
var ErrNilTree = errors.New("bytecode: nil tree")

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithCheckpointInterval sets the checkpoint spacing in nodes. Values < 1
// fall back to the default.
func WithCheckpointInterval(k int) EncoderOption {
	return func(e *Encoder) {
		if k >= 1 {
			e.interval = uint32(k)
		}
	}
}

// Encoder serializes syntax trees into bytecode streams.
//
// Encoding is deterministic: the same (tree, source) input always produces a
// byte-identical stream regardless of prior Encode calls or allocation
// history. All per-call state lives in an encodeState.
type Encoder struct {
	interval uint32
}

// NewEncoder creates an Encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{interval: DefaultCheckpointInterval}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode serializes the tree with fresh sequential stable ids starting at 1.
func (e *Encoder) Encode(tree *model.SyntaxTree, source []byte) (*Stream, error) {
	return e.EncodeWithIDs(tree, source, nil)
}

// EncodeWithIDs serializes the tree using the given per-node stable ids in
// preorder. ids may be nil, in which case sequential ids are assigned. A
// non-nil ids slice must have exactly one id per node.
func (e *Encoder) EncodeWithIDs(tree *model.SyntaxTree, source []byte, ids []uint64) (*Stream, error) {
	if tree == nil || tree.Root == nil {
		return nil, ErrNilTree
	}
	count := tree.NodeCount()
	if count > math.MaxUint32 {
		return nil, ErrTooManyNodes
	}
	if ids != nil && len(ids) != count {
		return nil, errors.New("bytecode: stable id count does not match node count")
	}
	if ids == nil {
		ids = make([]uint64, count)
		for i := range ids {
			ids[i] = uint64(i) + 1
		}
	}

	st := &encodeState{
		interval: e.interval,
		buf:      make([]byte, 0, count*6),
		jump:     make([]uint32, 0, count),
		kindIDs:  make(map[string]uint32),
		fieldIDs: make(map[string]uint32),
	}
	st.node(tree.Root)
	st.buf = append(st.buf, byte(OpEnd))

	return &Stream{
		Bytes:       st.buf,
		JumpTable:   st.jump,
		Checkpoints: st.checkpoints,
		KindNames:   st.kinds,
		FieldNames:  st.fields,
		StableIDs:   ids,
		NodeCount:   uint32(count),
		SourceLen:   uint32(len(source)),
	}, nil
}

type encodeState struct {
	interval    uint32
	buf         []byte
	jump        []uint32
	checkpoints []Checkpoint

	kinds   []string
	kindIDs map[string]uint32

	fields   []string
	fieldIDs map[string]uint32

	index     uint32
	lastStart uint32
}

// node emits one node and its subtree in preorder. Interning is first-seen
// order, so output never depends on map iteration order.
func (st *encodeState) node(n *model.SyntaxNode) {
	idx := st.index
	st.index++

	anchored := idx%st.interval == 0
	if anchored && idx > 0 {
		st.buf = append(st.buf, byte(OpCheckpoint))
		st.buf = AppendUvarint(st.buf, uint64(idx))
		st.checkpoints = append(st.checkpoints, Checkpoint{
			NodeIndex: idx,
			Offset:    uint32(len(st.buf)),
		})
	}
	st.jump = append(st.jump, uint32(len(st.buf)))

	if n.FieldName != "" {
		st.buf = append(st.buf, byte(OpField))
		st.buf = AppendUvarint(st.buf, uint64(st.internField(n.FieldName)))
	}

	op := OpEnter
	if len(n.Children) == 0 {
		op = OpLeaf
	}
	st.buf = append(st.buf, byte(op))
	st.buf = AppendUvarint(st.buf, uint64(st.internKind(n.Kind)))
	st.buf = append(st.buf, flagByte(n))

	// Nodes at checkpoint boundaries carry absolute positions so a scan
	// started at any checkpoint can reconstruct positions without context.
	if anchored {
		st.buf = append(st.buf, byte(OpSetPos))
		st.buf = AppendUvarint(st.buf, uint64(n.StartByte))
	} else {
		st.buf = append(st.buf, byte(OpDeltaPos))
		st.buf = AppendVarint(st.buf, int64(n.StartByte)-int64(st.lastStart))
	}
	st.lastStart = n.StartByte

	var length uint64
	if n.EndByte > n.StartByte {
		length = uint64(n.EndByte - n.StartByte)
	}
	st.buf = AppendUvarint(st.buf, length)

	if op == OpLeaf {
		return
	}
	for _, c := range n.Children {
		st.node(c)
	}
	st.buf = append(st.buf, byte(OpExit))
}

func (st *encodeState) internKind(name string) uint32 {
	if id, ok := st.kindIDs[name]; ok {
		return id
	}
	id := uint32(len(st.kinds))
	st.kinds = append(st.kinds, name)
	st.kindIDs[name] = id
	return id
}

func (st *encodeState) internField(name string) uint32 {
	if id, ok := st.fieldIDs[name]; ok {
		return id
	}
	id := uint32(len(st.fields))
	st.fields = append(st.fields, name)
	st.fieldIDs[name] = id
	return id
}

func flagByte(n *model.SyntaxNode) byte {
	var f byte
	if n.IsNamed {
		f |= FlagNamed
	}
	if n.IsError {
		f |= FlagError
	}
	if n.IsMissing {
		f |= FlagMissing
	}
	if n.IsExtra {
		f |= FlagExtra
	}
	if n.FieldName != "" {
		f |= FlagHasField
	}
	return f
}
