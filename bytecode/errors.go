package bytecode

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated is returned when the stream ends in the middle of a
	// varint, payload, or unterminated node.
	ErrTruncated = errors.New("bytecode: truncated stream")
	// ErrVarintOverflow is returned when a varint does not fit in 64 bits.
	ErrVarintOverflow = errors.New("bytecode: varint overflow")
	// ErrInvalidOpcode is returned on an unrecognized opcode byte.
	ErrInvalidOpcode = errors.New("bytecode: invalid opcode")
	// ErrUnbalancedExit is returned on an Exit without a matching open Enter.
	ErrUnbalancedExit = errors.New("bytecode: unbalanced exit")
	// ErrBadTableIndex is returned when a kind or field id points outside
	// the stream's side tables.
	ErrBadTableIndex = errors.New("bytecode: table index out of range")
	// ErrBadMagic is returned when the envelope does not start with the
	// stream magic.
	ErrBadMagic = errors.New("bytecode: bad magic")
	// ErrUnsupportedVersion is returned on an unknown envelope version.
	ErrUnsupportedVersion = errors.New("bytecode: unsupported version")
	// ErrTooManyNodes is returned by the encoder when the tree exceeds the
	// 32-bit node index space of the wire format.
	ErrTooManyNodes = errors.New("bytecode: too many nodes")
	// ErrNodeOutOfRange is returned by the navigator for node indexes past
	// the end of the stream.
	ErrNodeOutOfRange = errors.New("bytecode: node index out of range")
)

// DecodeError annotates a decoding failure with the byte offset (relative to
// the opcode section) at which it was detected.
type DecodeError struct {
	Offset int
	Err    error
}

// Error implements error.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode at offset %d: %v", e.Offset, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErr(offset int, err error) error {
	return &DecodeError{Offset: offset, Err: err}
}

// ChecksumMismatchError is returned when the envelope checksum does not match
// the payload.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

// Error implements error.
func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("bytecode: checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// IsChecksumMismatch reports whether err is a checksum mismatch.
func IsChecksumMismatch(err error) bool {
	var cm *ChecksumMismatchError
	return errors.As(err, &cm)
}
