package sink

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a record payload is compressed.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecZstd
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "none"
	}
}

func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return CodecNone, fmt.Errorf("unknown codec %q", s)
	}
}

var (
	zstdEncoders = sync.Pool{New: func() any {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderCRC(false))
		if err != nil {
			panic(fmt.Sprintf("zstd encoder: %v", err))
		}
		return enc
	}}
	zstdDecoders = sync.Pool{New: func() any {
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			panic(fmt.Sprintf("zstd decoder: %v", err))
		}
		return dec
	}}
	lz4Compressors = sync.Pool{New: func() any { return &lz4.Compressor{} }}
)

// compress returns the encoded payload and the codec actually used; data
// that lz4 cannot shrink is stored as is.
func compress(c Codec, data []byte) ([]byte, Codec, error) {
	switch c {
	case CodecNone:
		return data, CodecNone, nil
	case CodecZstd:
		enc := zstdEncoders.Get().(*zstd.Encoder)
		defer zstdEncoders.Put(enc)
		return enc.EncodeAll(data, nil), CodecZstd, nil
	case CodecLZ4:
		// uncompressed length first, so decoding can size its buffer
		dst := make([]byte, 4+lz4.CompressBlockBound(len(data)))
		binary.LittleEndian.PutUint32(dst, uint32(len(data)))
		lc := lz4Compressors.Get().(*lz4.Compressor)
		defer lz4Compressors.Put(lc)
		n, err := lc.CompressBlock(data, dst[4:])
		if err != nil {
			return nil, c, err
		}
		if n == 0 {
			return data, CodecNone, nil
		}
		return dst[:4+n], CodecLZ4, nil
	default:
		return nil, c, fmt.Errorf("unknown codec %d", c)
	}
}

func decompress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecZstd:
		dec := zstdDecoders.Get().(*zstd.Decoder)
		defer zstdDecoders.Put(dec)
		return dec.DecodeAll(data, nil)
	case CodecLZ4:
		if len(data) < 4 {
			return nil, fmt.Errorf("lz4 payload too short: %d bytes", len(data))
		}
		out := make([]byte, binary.LittleEndian.Uint32(data))
		n, err := lz4.UncompressBlock(data[4:], out)
		if err != nil {
			return nil, err
		}
		if n != len(out) {
			return nil, fmt.Errorf("lz4 payload decoded to %d bytes, want %d", n, len(out))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown codec %d", c)
	}
}
