package bytecode

// Unsigned integers are encoded as LEB128: seven payload bits per byte,
// continuation bit 0x80, least significant group first. Signed integers are
// mapped through zigzag first so that small magnitudes stay small:
//
//	+n -> 2n
//	-(n+1) -> 2n+1

// MaxUvarintLen is the maximum encoded length of a 64-bit varint.
const MaxUvarintLen = 10

// AppendUvarint appends the LEB128 encoding of v to dst.
func AppendUvarint(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Uvarint decodes a LEB128 value from the start of buf. It returns the value
// and the number of bytes consumed. It fails with ErrTruncated when the
// continuation bit is set through the end of the buffer and with
// ErrVarintOverflow when the value does not fit in 64 bits.
func Uvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if i == MaxUvarintLen-1 && b > 1 {
			return 0, 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, ErrVarintOverflow
		}
	}
	return 0, 0, ErrTruncated
}

// ZigzagEncode maps a signed integer onto an unsigned one.
func ZigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

// ZigzagDecode is the inverse of ZigzagEncode: even values 2n decode to +n,
// odd values 2n+1 decode to -(n+1).
func ZigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// AppendVarint appends the zigzag LEB128 encoding of v to dst.
func AppendVarint(dst []byte, v int64) []byte {
	return AppendUvarint(dst, ZigzagEncode(v))
}

// Varint decodes a zigzag LEB128 value from the start of buf.
func Varint(buf []byte) (int64, int, error) {
	u, n, err := Uvarint(buf)
	if err != nil {
		return 0, 0, err
	}
	return ZigzagDecode(u), n, nil
}
