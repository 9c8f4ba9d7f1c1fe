package bytecode

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/cstcache/internal/hash"
	"github.com/hupe1980/cstcache/model"
	"github.com/hupe1980/cstcache/testutil"
)

// envelope wraps an arbitrary payload in a valid header (magic, version,
// checksum) so tests can exercise the payload parser with inputs the encoder
// would never produce.
func envelope(payload []byte) []byte {
	out := make([]byte, headerSize, headerSize+len(payload))
	copy(out[0:4], streamMagic[:])
	binary.LittleEndian.PutUint16(out[4:6], streamVersion)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(payload))
	return append(out, payload...)
}

func flatten(root *model.SyntaxNode) []*model.SyntaxNode {
	out := []*model.SyntaxNode{root}
	for _, c := range root.Children {
		out = append(out, flatten(c)...)
	}
	return out
}

func TestEncoder_RoundTrip(t *testing.T) {
	tree := testutil.FnMainTree()
	source := []byte(testutil.FnMainSource)

	stream, err := NewEncoder().Encode(tree, source)
	require.NoError(t, err)
	require.Equal(t, uint32(tree.NodeCount()), stream.NodeCount)
	require.Equal(t, uint32(len(source)), stream.SourceLen)
	require.Equal(t, byte(OpEnd), stream.Bytes[len(stream.Bytes)-1])

	records, err := NewDecoder(stream).Decode()
	require.NoError(t, err)

	want := flatten(tree.Root)
	require.Len(t, records, len(want))
	for i, n := range want {
		rec := records[i]
		require.Equal(t, n.Kind, rec.Kind, "node %d", i)
		require.Equal(t, n.StartByte, rec.StartByte, "node %d", i)
		require.Equal(t, n.EndByte, rec.EndByte, "node %d", i)
		require.Equal(t, n.FieldName, rec.FieldName, "node %d", i)
		require.Equal(t, n.IsNamed, rec.IsNamed(), "node %d", i)
		require.Equal(t, n.IsError, rec.IsError(), "node %d", i)
		require.Equal(t, uint64(i)+1, rec.StableID, "node %d", i)
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	tree := testutil.FnMainTree()
	source := []byte(testutil.FnMainSource)

	first, err := NewEncoder().Encode(tree, source)
	require.NoError(t, err)
	base := first.Marshal()

	for i := 0; i < 8; i++ {
		// Interleave unrelated allocations between runs.
		_ = make([]byte, 1<<12)

		s, err := NewEncoder().Encode(tree, source)
		require.NoError(t, err)
		require.Equal(t, base, s.Marshal(), "run %d", i)
	}
}

func TestEncoder_InternsNames(t *testing.T) {
	tree, source := testutil.WideTree(200)
	stream, err := NewEncoder().Encode(tree, source)
	require.NoError(t, err)

	// 200 leaves cycle through 7 kinds plus the root kind.
	require.Len(t, stream.KindNames, 8)
	require.Empty(t, stream.FieldNames)
}

func TestEncoder_Checkpoints(t *testing.T) {
	tree, source := testutil.WideTree(500)
	stream, err := NewEncoder(WithCheckpointInterval(64)).Encode(tree, source)
	require.NoError(t, err)

	require.NotEmpty(t, stream.Checkpoints)
	require.Len(t, stream.JumpTable, int(stream.NodeCount))
	for i := 1; i < len(stream.Checkpoints); i++ {
		require.Greater(t, stream.Checkpoints[i].NodeIndex, stream.Checkpoints[i-1].NodeIndex)
		require.Greater(t, stream.Checkpoints[i].Offset, stream.Checkpoints[i-1].Offset)
	}
	// Checkpoint offsets agree with the jump table.
	for _, cp := range stream.Checkpoints {
		require.Equal(t, stream.JumpTable[cp.NodeIndex], cp.Offset)
	}
}

func TestEncoder_EmptySource(t *testing.T) {
	tree := &model.SyntaxTree{Root: testutil.Node("source_file", 0, 0)}

	stream, err := NewEncoder().Encode(tree, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(1), stream.NodeCount)
	require.Equal(t, uint32(0), stream.SourceLen)

	records, err := NewDecoder(stream).Decode()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "source_file", records[0].Kind)
}

func TestEncoder_NilTree(t *testing.T) {
	_, err := NewEncoder().Encode(nil, nil)
	require.ErrorIs(t, err, ErrNilTree)

	_, err = NewEncoder().Encode(&model.SyntaxTree{}, nil)
	require.ErrorIs(t, err, ErrNilTree)
}

func TestEncoder_WithIDs(t *testing.T) {
	tree := testutil.FnMainTree()
	source := []byte(testutil.FnMainSource)
	count := tree.NodeCount()

	ids := make([]uint64, count)
	for i := range ids {
		ids[i] = uint64(1000 + i)
	}
	stream, err := NewEncoder().EncodeWithIDs(tree, source, ids)
	require.NoError(t, err)

	records, err := NewDecoder(stream).Decode()
	require.NoError(t, err)
	for i, rec := range records {
		require.Equal(t, ids[i], rec.StableID)
	}

	_, err = NewEncoder().EncodeWithIDs(tree, source, ids[:count-1])
	require.Error(t, err)
}

func TestNavigator_RandomAccess(t *testing.T) {
	tree, source := testutil.WideTree(300)
	stream, err := NewEncoder(WithCheckpointInterval(32)).Encode(tree, source)
	require.NoError(t, err)

	records, err := NewDecoder(stream).Decode()
	require.NoError(t, err)

	nav := NewNavigator(stream)
	require.Equal(t, stream.NodeCount, nav.Len())

	// Out-of-order access across checkpoint boundaries.
	for _, i := range []uint32{299, 0, 150, 33, 32, 31, 1, 298, 64} {
		rec, err := nav.Node(i)
		require.NoError(t, err)
		require.Equal(t, records[i], rec, "node %d", i)
	}

	_, err = nav.Node(stream.NodeCount)
	require.ErrorIs(t, err, ErrNodeOutOfRange)

	off, ok := nav.Offset(150)
	require.True(t, ok)
	require.Equal(t, stream.JumpTable[150], off)
}

func TestNavigator_MemoizesRecords(t *testing.T) {
	tree, source := testutil.WideTree(100)
	stream, err := NewEncoder(WithCheckpointInterval(16)).Encode(tree, source)
	require.NoError(t, err)

	nav := NewNavigator(stream)
	first, err := nav.Node(57)
	require.NoError(t, err)

	// Repeat lookups are served from the memo, not a rescan: truncating the
	// opcode section after the fact does not disturb them.
	stream.Bytes = stream.Bytes[:1]
	again, err := nav.Node(57)
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestDecoder_SeekClamps(t *testing.T) {
	tree := testutil.FnMainTree()
	stream, err := NewEncoder().Encode(tree, []byte(testutil.FnMainSource))
	require.NoError(t, err)

	d := NewDecoder(stream)
	d.Seek(-5)
	require.Equal(t, 0, d.pos)
	d.Seek(len(stream.Bytes) + 100)
	require.Equal(t, len(stream.Bytes), d.pos)
}

func TestDecoder_TypedErrors(t *testing.T) {
	tree := testutil.FnMainTree()
	stream, err := NewEncoder().Encode(tree, []byte(testutil.FnMainSource))
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		s := *stream
		s.Bytes = s.Bytes[:len(s.Bytes)/2]
		_, err := NewDecoder(&s).Decode()
		require.Error(t, err)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
	})

	t.Run("invalid opcode", func(t *testing.T) {
		s := *stream
		s.Bytes = append([]byte{0x7E}, s.Bytes...)
		_, err := NewDecoder(&s).Decode()
		require.ErrorIs(t, err, ErrInvalidOpcode)
	})

	t.Run("unbalanced exit", func(t *testing.T) {
		s := *stream
		s.Bytes = append([]byte{byte(OpExit)}, s.Bytes...)
		_, err := NewDecoder(&s).Decode()
		require.ErrorIs(t, err, ErrUnbalancedExit)
	})

	t.Run("bad kind id", func(t *testing.T) {
		s := *stream
		s.KindNames = s.KindNames[:1]
		_, err := NewDecoder(&s).Decode()
		require.ErrorIs(t, err, ErrBadTableIndex)
	})
}

func TestDecoder_ReservedOpcodes(t *testing.T) {
	tree := testutil.FnMainTree()
	stream, err := NewEncoder().Encode(tree, []byte(testutil.FnMainSource))
	require.NoError(t, err)

	// RepeatLast is a bare no-op; Skip consumes its count varint.
	prefix := []byte{byte(OpRepeatLast), byte(OpSkip), 0x00}
	s := *stream
	s.Bytes = append(prefix, s.Bytes...)

	records, err := NewDecoder(&s).Decode()
	require.NoError(t, err)
	require.Len(t, records, int(stream.NodeCount))
}

func TestStream_EnvelopeRoundTrip(t *testing.T) {
	tree, source := testutil.WideTree(100)
	stream, err := NewEncoder().Encode(tree, source)
	require.NoError(t, err)

	data := stream.Marshal()
	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, stream, got)
}

func TestStream_EnvelopeValidation(t *testing.T) {
	tree := testutil.FnMainTree()
	stream, err := NewEncoder().Encode(tree, []byte(testutil.FnMainSource))
	require.NoError(t, err)
	data := stream.Marshal()

	t.Run("short", func(t *testing.T) {
		_, err := Unmarshal(data[:8])
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("bad magic", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[0] = 'X'
		_, err := Unmarshal(bad)
		require.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[4] = 0xEE
		_, err := Unmarshal(bad)
		require.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("corrupt payload", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(bad)-1] ^= 0xFF
		_, err := Unmarshal(bad)
		require.True(t, IsChecksumMismatch(err))
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := Unmarshal(data[:len(data)-3])
		require.Error(t, err)
	})
}

func TestStream_HugeDeclaredCountsRejected(t *testing.T) {
	// A tiny checksummed envelope claiming millions of nodes must fail with
	// a typed error before any table is sized from the header; each node
	// needs at least one payload byte.
	t.Run("node count past payload", func(t *testing.T) {
		payload := AppendUvarint(nil, 200_000_000) // node count
		payload = AppendUvarint(payload, 0)        // source length
		_, err := Unmarshal(envelope(payload))
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("max node count", func(t *testing.T) {
		payload := AppendUvarint(nil, math.MaxUint32)
		payload = AppendUvarint(payload, 0)
		_, err := Unmarshal(envelope(payload))
		require.ErrorIs(t, err, ErrTruncated)
	})

	t.Run("stable id count bounded by node count", func(t *testing.T) {
		payload := AppendUvarint(nil, 4)             // node count
		payload = AppendUvarint(payload, 0)          // source length
		payload = AppendUvarint(payload, 0)          // kind table
		payload = AppendUvarint(payload, 0)          // field table
		payload = AppendUvarint(payload, 20_000_000) // stable ids
		_, err := Unmarshal(envelope(payload))
		require.ErrorIs(t, err, ErrBadTableIndex)
	})
}

func TestDecoder_ClampsCorruptNodeCount(t *testing.T) {
	// A stream whose header declares far more nodes than its opcode section
	// could hold must fail without allocating record capacity for the
	// declared count.
	s := &Stream{Bytes: []byte{byte(OpEnd)}, NodeCount: math.MaxUint32}
	_, err := NewDecoder(s).Decode()
	require.ErrorIs(t, err, ErrBadTableIndex)

	allocs := testing.AllocsPerRun(10, func() {
		_, _ = NewDecoder(s).Decode()
	})
	require.Less(t, allocs, 16.0)
}
