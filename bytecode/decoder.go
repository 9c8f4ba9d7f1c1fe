package bytecode

import (
	"fmt"
	"math"
)

// NodeRecord is the decoded view of one node in preorder.
type NodeRecord struct {
	Index     uint32
	KindID    uint32
	Kind      string
	Flags     byte
	FieldName string
	StartByte uint32
	EndByte   uint32
	StableID  uint64
}

// IsNamed reports whether the node is a named grammar node.
func (r NodeRecord) IsNamed() bool { return r.Flags&FlagNamed != 0 }

// IsError reports whether the node is an error node.
func (r NodeRecord) IsError() bool { return r.Flags&FlagError != 0 }

// IsMissing reports whether the node was inserted by error recovery.
func (r NodeRecord) IsMissing() bool { return r.Flags&FlagMissing != 0 }

// IsExtra reports whether the node is an extra (e.g. a comment).
func (r NodeRecord) IsExtra() bool { return r.Flags&FlagExtra != 0 }

// Decoder reads a bytecode stream sequentially. The stream may be untrusted:
// the decoder never panics or reads out of bounds, it fails with a typed
// error instead.
type Decoder struct {
	s   *Stream
	pos int

	nextIndex uint32
	lastStart uint32
	depth     int
	field     string
	hasField  bool

	// relaxed disables the unbalanced-exit check for scans that start at a
	// checkpoint in the middle of the tree, where exits of enclosing nodes
	// are expected.
	relaxed bool
}

// NewDecoder creates a Decoder positioned at the start of the opcode section.
func NewDecoder(s *Stream) *Decoder {
	return &Decoder{s: s}
}

// Seek positions the decoder at pos, clamping to the stream length. Seeking
// resets position context; callers should seek only to node boundaries whose
// first position opcode is absolute (checkpoint anchors).
func (d *Decoder) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(d.s.Bytes) {
		pos = len(d.s.Bytes)
	}
	d.pos = pos
	d.nextIndex = 0
	d.lastStart = 0
	d.depth = 0
	d.field = ""
	d.hasField = false
	d.relaxed = false
}

// seekNode positions the decoder at a node boundary whose preorder index is
// known, e.g. a checkpoint anchor. The node at this offset must carry an
// absolute position.
func (d *Decoder) seekNode(pos int, index uint32) {
	d.Seek(pos)
	d.nextIndex = index
	d.relaxed = index > 0
}

// Decode materializes the full stream into an ordered preorder record slice.
func (d *Decoder) Decode() ([]NodeRecord, error) {
	d.Seek(0)
	// Every node costs at least one opcode byte; clamp the hint so a stream
	// with a corrupt header cannot force a huge allocation up front.
	hint := int(d.s.NodeCount)
	if hint > len(d.s.Bytes) {
		hint = len(d.s.Bytes)
	}
	records := make([]NodeRecord, 0, hint)
	for {
		rec, done, err := d.Next()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		if rec != nil {
			records = append(records, *rec)
		}
	}
	if uint32(len(records)) != d.s.NodeCount {
		return nil, decodeErr(d.pos, fmt.Errorf("%w: decoded %d nodes, header declares %d",
			ErrBadTableIndex, len(records), d.s.NodeCount))
	}
	return records, nil
}

// Next advances past the next opcode. It returns a record when the opcode
// opened a node, done=true on End, and (nil, false, nil) for structural
// opcodes. An Exit past the outermost Enter fails with ErrUnbalancedExit.
func (d *Decoder) Next() (*NodeRecord, bool, error) {
	if d.pos >= len(d.s.Bytes) {
		return nil, false, decodeErr(d.pos, ErrTruncated)
	}
	op := Opcode(d.s.Bytes[d.pos])
	d.pos++

	switch op {
	case OpEnter, OpLeaf:
		rec, err := d.readNode(op)
		if err != nil {
			return nil, false, err
		}
		return rec, false, nil

	case OpExit:
		if d.depth == 0 {
			if !d.relaxed {
				return nil, false, decodeErr(d.pos-1, ErrUnbalancedExit)
			}
		} else {
			d.depth--
		}
		return nil, false, nil

	case OpField:
		id, err := d.uvarint()
		if err != nil {
			return nil, false, err
		}
		if id >= uint64(len(d.s.FieldNames)) {
			return nil, false, decodeErr(d.pos, fmt.Errorf("%w: field id %d", ErrBadTableIndex, id))
		}
		d.field = d.s.FieldNames[id]
		d.hasField = true
		return nil, false, nil

	case OpNoField:
		d.field = ""
		d.hasField = false
		return nil, false, nil

	case OpSetPos:
		v, err := d.uvarint()
		if err != nil {
			return nil, false, err
		}
		if v > math.MaxUint32 {
			return nil, false, decodeErr(d.pos, ErrVarintOverflow)
		}
		d.lastStart = uint32(v)
		return nil, false, nil

	case OpDeltaPos:
		v, err := d.varint()
		if err != nil {
			return nil, false, err
		}
		start := int64(d.lastStart) + v
		if start < 0 || start > math.MaxUint32 {
			return nil, false, decodeErr(d.pos, ErrVarintOverflow)
		}
		d.lastStart = uint32(start)
		return nil, false, nil

	case OpCheckpoint:
		if _, err := d.uvarint(); err != nil {
			return nil, false, err
		}
		return nil, false, nil

	case OpRepeatLast:
		// Reserved, no payload.
		return nil, false, nil

	case OpSkip:
		n, err := d.uvarint()
		if err != nil {
			return nil, false, err
		}
		if n > uint64(len(d.s.Bytes)-d.pos) {
			return nil, false, decodeErr(d.pos, ErrTruncated)
		}
		d.pos += int(n)
		return nil, false, nil

	case OpEnd:
		if d.depth != 0 && !d.relaxed {
			return nil, false, decodeErr(d.pos-1, ErrTruncated)
		}
		return nil, true, nil

	default:
		return nil, false, decodeErr(d.pos-1, fmt.Errorf("%w: 0x%02x", ErrInvalidOpcode, byte(op)))
	}
}

// readNode parses kind, flags, position, and length for a node opened by op.
func (d *Decoder) readNode(op Opcode) (*NodeRecord, error) {
	index := d.nextIndex
	d.nextIndex++

	kindID, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	if kindID >= uint64(len(d.s.KindNames)) {
		return nil, decodeErr(d.pos, fmt.Errorf("%w: kind id %d", ErrBadTableIndex, kindID))
	}

	if d.pos >= len(d.s.Bytes) {
		return nil, decodeErr(d.pos, ErrTruncated)
	}
	flags := d.s.Bytes[d.pos]
	d.pos++

	if d.pos >= len(d.s.Bytes) {
		return nil, decodeErr(d.pos, ErrTruncated)
	}
	posOp := Opcode(d.s.Bytes[d.pos])
	d.pos++
	var start int64
	switch posOp {
	case OpSetPos:
		v, err := d.uvarint()
		if err != nil {
			return nil, err
		}
		if v > math.MaxUint32 {
			return nil, decodeErr(d.pos, ErrVarintOverflow)
		}
		start = int64(v)
	case OpDeltaPos:
		delta, err := d.varint()
		if err != nil {
			return nil, err
		}
		start = int64(d.lastStart) + delta
		if start < 0 || start > math.MaxUint32 {
			return nil, decodeErr(d.pos, ErrVarintOverflow)
		}
	default:
		return nil, decodeErr(d.pos-1, fmt.Errorf("%w: expected position opcode, got %s", ErrInvalidOpcode, posOp))
	}
	d.lastStart = uint32(start)

	length, err := d.uvarint()
	if err != nil {
		return nil, err
	}
	end := uint64(start) + length
	if end > math.MaxUint32 {
		return nil, decodeErr(d.pos, ErrVarintOverflow)
	}

	rec := &NodeRecord{
		Index:     index,
		KindID:    uint32(kindID),
		Kind:      d.s.KindNames[kindID],
		Flags:     flags,
		FieldName: d.field,
		StartByte: uint32(start),
		EndByte:   uint32(end),
	}
	d.field = ""
	d.hasField = false

	if int(index) < len(d.s.StableIDs) {
		rec.StableID = d.s.StableIDs[index]
	}

	if op == OpEnter {
		d.depth++
	}
	return rec, nil
}

func (d *Decoder) uvarint() (uint64, error) {
	v, n, err := Uvarint(d.s.Bytes[d.pos:])
	if err != nil {
		return 0, decodeErr(d.pos, err)
	}
	d.pos += n
	return v, nil
}

func (d *Decoder) varint() (int64, error) {
	v, n, err := Varint(d.s.Bytes[d.pos:])
	if err != nil {
		return 0, decodeErr(d.pos, err)
	}
	d.pos += n
	return v, nil
}
