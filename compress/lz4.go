package compress

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// LZ4 block header: [UncompressedSize uint32][CompressedSize uint32][Data].
// CompressedSize == 0 means the data is stored raw, which happens when
// compression would not shrink the input enough to be worth it.
const lz4HeaderSize = 8

// maxLZ4Payload bounds the uncompressed size accepted on decompress so a
// corrupted header cannot trigger a giant allocation.
const maxLZ4Payload = 1 << 31

// LZ4 compresses with LZ4 blocks. It trades ratio for speed, which suits the
// in-memory Warm tier where decompression sits on the read path.
type LZ4 struct{}

// NewLZ4 creates an LZ4 compressor.
func NewLZ4() *LZ4 { return &LZ4{} }

// Compress implements Compressor.
func (l *LZ4) Compress(src []byte) ([]byte, error) {
	bound := lz4.CompressBlockBound(len(src))
	buf := make([]byte, lz4HeaderSize+bound)

	var c lz4.Compressor
	n, err := c.CompressBlock(src, buf[lz4HeaderSize:])
	if err != nil || n == 0 || float64(n) > float64(len(src))*0.9 {
		// Incompressible: store raw.
		out := make([]byte, lz4HeaderSize+len(src))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(src)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[lz4HeaderSize:], src)
		return out, nil
	}

	binary.LittleEndian.PutUint32(buf[0:], uint32(len(src)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(n))
	return buf[:lz4HeaderSize+n], nil
}

// Decompress implements Compressor.
func (l *LZ4) Decompress(src []byte) ([]byte, error) {
	if len(src) < lz4HeaderSize {
		return nil, fmt.Errorf("%w: short lz4 block header", ErrMalformed)
	}
	uncompressedSize := binary.LittleEndian.Uint32(src[0:])
	compressedSize := binary.LittleEndian.Uint32(src[4:])
	body := src[lz4HeaderSize:]

	if uncompressedSize > maxLZ4Payload {
		return nil, fmt.Errorf("%w: implausible uncompressed size %d", ErrMalformed, uncompressedSize)
	}

	if compressedSize == 0 {
		if uint32(len(body)) != uncompressedSize {
			return nil, fmt.Errorf("%w: raw block size mismatch", ErrMalformed)
		}
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}

	if uint32(len(body)) != compressedSize {
		return nil, fmt.Errorf("%w: compressed block size mismatch", ErrMalformed)
	}
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if uint32(n) != uncompressedSize {
		return nil, fmt.Errorf("%w: decompressed %d bytes, header declares %d", ErrMalformed, n, uncompressedSize)
	}
	return out, nil
}

// Name implements Compressor.
func (l *LZ4) Name() string { return "lz4" }
