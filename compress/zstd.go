package compress

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Encoder/decoder instances are pooled: zstd contexts are expensive to build
// and safe to reuse via EncodeAll/DecodeAll.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder(level zstd.EncoderLevel) *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Zstd compresses with Zstandard frames. Frames are self-describing, so no
// extra header is required.
type Zstd struct {
	level zstd.EncoderLevel
}

// NewZstd creates a Zstd compressor at the default level, which balances
// ratio against speed for cold payloads.
func NewZstd() *Zstd {
	return &Zstd{level: zstd.SpeedDefault}
}

// NewZstdLevel creates a Zstd compressor at the given level.
func NewZstdLevel(level zstd.EncoderLevel) *Zstd {
	return &Zstd{level: level}
}

// Compress implements Compressor.
func (z *Zstd) Compress(src []byte) ([]byte, error) {
	enc := getZstdEncoder(z.level)
	out := enc.EncodeAll(src, make([]byte, 0, len(src)/2+16))
	zstdEncoderPool.Put(enc)
	return out, nil
}

// Decompress implements Compressor.
func (z *Zstd) Decompress(src []byte) ([]byte, error) {
	dec := getZstdDecoder()
	out, err := dec.DecodeAll(src, nil)
	zstdDecoderPool.Put(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return out, nil
}

// Name implements Compressor.
func (z *Zstd) Name() string { return "zstd" }
