package bytecode

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUvarint_RoundTrip(t *testing.T) {
	tests := []struct {
		value uint64
		bytes int
	}{
		{0, 1},
		{1, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{math.MaxUint32, 5},
		{math.MaxUint64, 10},
	}
	for _, tt := range tests {
		buf := AppendUvarint(nil, tt.value)
		require.Len(t, buf, tt.bytes, "value %d", tt.value)

		got, n, err := Uvarint(buf)
		require.NoError(t, err)
		require.Equal(t, tt.bytes, n)
		require.Equal(t, tt.value, got)
	}
}

func TestUvarint_Truncated(t *testing.T) {
	buf := AppendUvarint(nil, math.MaxUint64)
	for i := 0; i < len(buf); i++ {
		_, _, err := Uvarint(buf[:i])
		require.ErrorIs(t, err, ErrTruncated, "prefix of %d bytes", i)
	}

	// A lone continuation byte is truncated, not overflow.
	_, _, err := Uvarint([]byte{0x80})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestUvarint_Overflow(t *testing.T) {
	// Ten continuation bytes push the shift past 64 bits.
	over := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	_, _, err := Uvarint(over)
	require.ErrorIs(t, err, ErrVarintOverflow)

	// Tenth byte may only contribute one bit.
	tooBig := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02}
	_, _, err = Uvarint(tooBig)
	require.ErrorIs(t, err, ErrVarintOverflow)
}

func TestZigzag_ExactMapping(t *testing.T) {
	// Even encoded value 2n -> +n, odd encoded value 2n+1 -> -(n+1).
	// The two conventions are easy to swap by accident; pin the mapping.
	tests := []struct {
		signed  int64
		encoded uint64
	}{
		{0, 0},
		{-1, 1},
		{1, 2},
		{-2, 3},
		{2, 4},
		{math.MaxInt64, math.MaxUint64 - 1},
		{math.MinInt64, math.MaxUint64},
	}
	for _, tt := range tests {
		require.Equal(t, tt.encoded, ZigzagEncode(tt.signed), "encode %d", tt.signed)
		require.Equal(t, tt.signed, ZigzagDecode(tt.encoded), "decode %d", tt.encoded)
	}
}

func TestVarint_RoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 63, -64, 64, -65, math.MaxInt64, math.MinInt64} {
		buf := AppendVarint(nil, v)
		got, n, err := Varint(buf)
		require.NoError(t, err)
		require.Equal(t, len(buf), n)
		require.Equal(t, v, got)
	}
}
