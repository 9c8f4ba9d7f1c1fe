// Package compress provides the byte compressors used by the non-Hot cache
// tiers.
//
// Two real backends are provided: Zstd (better ratio, used for Cold/Frozen
// payloads) and LZ4 (faster, a good fit for the in-memory Warm tier). Noop
// passes bytes through unchanged and is useful for tests.
package compress

import "errors"

// ErrMalformed is returned when decompression input is not a valid frame or
// block produced by the matching Compress.
var ErrMalformed = errors.New("compress: malformed input")

// Compressor compresses and decompresses byte slices. Implementations must
// be safe for concurrent use.
type Compressor interface {
	// Compress returns a self-describing compressed representation of src.
	Compress(src []byte) ([]byte, error)
	// Decompress reverses Compress. It fails with an error wrapping
	// ErrMalformed on input that was not produced by Compress.
	Decompress(src []byte) ([]byte, error)
	// Name identifies the algorithm, e.g. for logs.
	Name() string
}

// Noop is a pass-through Compressor.
type Noop struct{}

// Compress returns a copy of src.
func (Noop) Compress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// Decompress returns a copy of src.
func (Noop) Decompress(src []byte) ([]byte, error) {
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

// Name implements Compressor.
func (Noop) Name() string { return "noop" }
