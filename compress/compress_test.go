package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func compressors() map[string]Compressor {
	return map[string]Compressor{
		"zstd": NewZstd(),
		"lz4":  NewLZ4(),
		"noop": Noop{},
	}
}

func TestCompressors_RoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("x"),
		bytes.Repeat([]byte("syntax tree bytecode "), 512),
		{0x00, 0xFF, 0x80, 0x7F},
	}

	for name, c := range compressors() {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, name, c.Name())
			for _, in := range inputs {
				out, err := c.Compress(in)
				require.NoError(t, err)

				back, err := c.Decompress(out)
				require.NoError(t, err)
				if len(in) == 0 {
					require.Empty(t, back)
				} else {
					require.Equal(t, in, back)
				}
			}
		})
	}
}

func TestCompressors_Shrink(t *testing.T) {
	in := bytes.Repeat([]byte("aaaabbbbccccdddd"), 1024)
	for name, c := range compressors() {
		if name == "noop" {
			continue
		}
		out, err := c.Compress(in)
		require.NoError(t, err)
		require.Less(t, len(out), len(in), name)
	}
}

func TestCompressors_Malformed(t *testing.T) {
	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03}
	for _, c := range []Compressor{NewZstd(), NewLZ4()} {
		_, err := c.Decompress(garbage)
		require.ErrorIs(t, err, ErrMalformed, c.Name())
	}

	// LZ4 header declaring more data than present.
	_, err := NewLZ4().Decompress([]byte{0xff, 0xff, 0xff, 0x0f, 0x10, 0x00, 0x00, 0x00, 0xaa})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLZ4_IncompressibleStoredRaw(t *testing.T) {
	// High-entropy input: every byte value once, shuffled deterministically.
	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i*167 + 13)
	}
	out, err := NewLZ4().Compress(in)
	require.NoError(t, err)

	back, err := NewLZ4().Decompress(out)
	require.NoError(t, err)
	require.Equal(t, in, back)
}

func TestCompressors_Concurrent(t *testing.T) {
	in := bytes.Repeat([]byte("concurrent payload "), 256)
	c := NewZstd()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 50; j++ {
				out, err := c.Compress(in)
				if err != nil {
					done <- err
					return
				}
				back, err := c.Decompress(out)
				if err != nil {
					done <- err
					return
				}
				if !bytes.Equal(in, back) {
					done <- ErrMalformed
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
}
