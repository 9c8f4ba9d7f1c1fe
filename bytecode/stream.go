package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/cstcache/internal/hash"
)

// streamMagic identifies a serialized stream envelope.
var streamMagic = [4]byte{'C', 'S', 'T', 'B'}

// streamVersion is the current envelope version.
const streamVersion uint16 = 1

// envelope header: magic(4) version(2) flags(2) crc32c(4).
const headerSize = 12

// Checkpoint is a periodically recorded (node index, byte offset) pair that
// bounds random-access scan cost. Offsets point into the opcode section at
// the first byte of the node's encoding.
type Checkpoint struct {
	NodeIndex uint32
	Offset    uint32
}

// Stream is a self-describing serialized syntax tree. Bytes holds the opcode
// section; the side tables make decoding independent of any parser state.
type Stream struct {
	Bytes []byte

	// JumpTable maps node index (preorder) to the byte offset of the
	// node's first opcode. len(JumpTable) == NodeCount when present.
	JumpTable []uint32

	// Checkpoints is sparse and strictly increasing by node index.
	Checkpoints []Checkpoint

	KindNames  []string
	FieldNames []string

	// StableIDs holds one identifier per node in preorder.
	StableIDs []uint64

	NodeCount uint32
	SourceLen uint32
}

// Size returns the serialized size of the stream in bytes. This is the value
// the cache accounts against tier budgets.
func (s *Stream) Size() int64 {
	return int64(len(s.Marshal()))
}

// Marshal serializes the stream into its binary envelope. The output is
// deterministic: the same stream always yields byte-identical envelopes.
func (s *Stream) Marshal() []byte {
	payload := make([]byte, 0, len(s.Bytes)+len(s.StableIDs)*2+64)

	payload = AppendUvarint(payload, uint64(s.NodeCount))
	payload = AppendUvarint(payload, uint64(s.SourceLen))

	payload = AppendUvarint(payload, uint64(len(s.KindNames)))
	for _, name := range s.KindNames {
		payload = AppendUvarint(payload, uint64(len(name)))
		payload = append(payload, name...)
	}
	payload = AppendUvarint(payload, uint64(len(s.FieldNames)))
	for _, name := range s.FieldNames {
		payload = AppendUvarint(payload, uint64(len(name)))
		payload = append(payload, name...)
	}

	payload = AppendUvarint(payload, uint64(len(s.StableIDs)))
	for _, id := range s.StableIDs {
		payload = AppendUvarint(payload, id)
	}

	payload = AppendUvarint(payload, uint64(len(s.JumpTable)))
	for _, off := range s.JumpTable {
		payload = AppendUvarint(payload, uint64(off))
	}

	payload = AppendUvarint(payload, uint64(len(s.Checkpoints)))
	for _, cp := range s.Checkpoints {
		payload = AppendUvarint(payload, uint64(cp.NodeIndex))
		payload = AppendUvarint(payload, uint64(cp.Offset))
	}

	payload = AppendUvarint(payload, uint64(len(s.Bytes)))
	payload = append(payload, s.Bytes...)

	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out[0:4], streamMagic[:])
	binary.LittleEndian.PutUint16(out[4:6], streamVersion)
	binary.LittleEndian.PutUint16(out[6:8], 0)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	return append(out, payload...)
}

// Unmarshal parses a binary envelope, possibly read back from untrusted
// storage. It validates magic, version, checksum, table bounds, and the
// stream invariants before returning.
func Unmarshal(data []byte) (*Stream, error) {
	if len(data) < headerSize {
		return nil, ErrTruncated
	}
	if data[0] != streamMagic[0] || data[1] != streamMagic[1] ||
		data[2] != streamMagic[2] || data[3] != streamMagic[3] {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != streamVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	want := binary.LittleEndian.Uint32(data[8:12])
	payload := data[headerSize:]
	if got := hash.CRC32C(payload); got != want {
		return nil, &ChecksumMismatchError{Expected: want, Actual: got}
	}

	r := &sliceReader{buf: payload}
	s := &Stream{}

	nodeCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	sourceLen, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nodeCount > uint64(^uint32(0)) || sourceLen > uint64(^uint32(0)) {
		return nil, decodeErr(r.off, ErrVarintOverflow)
	}
	// Every node costs at least one payload byte, so a declared count past
	// the payload length cannot be satisfied. Rejecting it here bounds every
	// allocation sized from the header below.
	if nodeCount > uint64(len(payload)) {
		return nil, decodeErr(r.off, ErrTruncated)
	}
	s.NodeCount = uint32(nodeCount)
	s.SourceLen = uint32(sourceLen)

	if s.KindNames, err = r.stringTable(); err != nil {
		return nil, err
	}
	if s.FieldNames, err = r.stringTable(); err != nil {
		return nil, err
	}

	idCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if idCount != 0 && idCount != nodeCount {
		return nil, decodeErr(r.off, fmt.Errorf("%w: stable id count %d for %d nodes", ErrBadTableIndex, idCount, nodeCount))
	}
	if idCount > 0 {
		s.StableIDs = make([]uint64, idCount)
		for i := range s.StableIDs {
			if s.StableIDs[i], err = r.uvarint(); err != nil {
				return nil, err
			}
		}
	}

	jumpCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if jumpCount != 0 && jumpCount != nodeCount {
		return nil, decodeErr(r.off, fmt.Errorf("%w: jump table length %d for %d nodes", ErrBadTableIndex, jumpCount, nodeCount))
	}
	if jumpCount > 0 {
		if jumpCount > uint64(len(payload)) {
			return nil, decodeErr(r.off, ErrTruncated)
		}
		s.JumpTable = make([]uint32, jumpCount)
		for i := range s.JumpTable {
			v, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if v > uint64(^uint32(0)) {
				return nil, decodeErr(r.off, ErrVarintOverflow)
			}
			s.JumpTable[i] = uint32(v)
		}
	}

	cpCount, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if cpCount > uint64(len(payload)) {
		return nil, decodeErr(r.off, ErrTruncated)
	}
	if cpCount > 0 {
		s.Checkpoints = make([]Checkpoint, 0, cpCount)
	}
	var lastIndex uint64
	for i := uint64(0); i < cpCount; i++ {
		idx, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		off, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if idx > uint64(^uint32(0)) || off > uint64(^uint32(0)) {
			return nil, decodeErr(r.off, ErrVarintOverflow)
		}
		if i > 0 && idx <= lastIndex {
			return nil, decodeErr(r.off, fmt.Errorf("%w: checkpoint indexes not increasing", ErrBadTableIndex))
		}
		lastIndex = idx
		s.Checkpoints = append(s.Checkpoints, Checkpoint{NodeIndex: uint32(idx), Offset: uint32(off)})
	}

	codeLen, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	code, err := r.bytes(codeLen)
	if err != nil {
		return nil, err
	}
	s.Bytes = code

	return s, nil
}

// sliceReader is a bounds-checked cursor over the envelope payload.
type sliceReader struct {
	buf []byte
	off int
}

func (r *sliceReader) uvarint() (uint64, error) {
	v, n, err := Uvarint(r.buf[r.off:])
	if err != nil {
		return 0, decodeErr(r.off, err)
	}
	r.off += n
	return v, nil
}

func (r *sliceReader) bytes(n uint64) ([]byte, error) {
	if n > uint64(len(r.buf)-r.off) {
		return nil, decodeErr(r.off, ErrTruncated)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *sliceReader) stringTable() ([]string, error) {
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	if count > uint64(len(r.buf)) {
		return nil, decodeErr(r.off, ErrTruncated)
	}
	table := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return nil, err
		}
		table = append(table, string(b))
	}
	return table, nil
}
