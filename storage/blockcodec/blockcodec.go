// Package blockcodec frames block values for key/value backends.
//
// A frame is a 1-byte compression tag, the uncompressed length as an
// unsigned varint, and the payload. Digests are always computed over
// the uncompressed bytes; the frame is purely a storage concern.
package blockcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-varint"
	"github.com/pierrec/lz4/v4"

	"xdao.co/cadstore/storage"
)

// Compression identifies the payload encoding. Values are persisted;
// never renumber them.
type Compression uint8

const (
	None Compression = 0
	LZ4  Compression = 1
	Zstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("blockcodec: unknown compression %q", name)
	}
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blockcodec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blockcodec: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode frames data, compressing it with c when that makes it smaller.
// Incompressible data is stored with None.
func Encode(data []byte, c Compression) ([]byte, error) {
	payload, used, err := compress(data, c)
	if err != nil {
		return nil, err
	}
	hdr := varint.ToUvarint(uint64(len(data)))
	out := make([]byte, 0, 1+len(hdr)+len(payload))
	out = append(out, byte(used))
	out = append(out, hdr...)
	return append(out, payload...), nil
}

func compress(data []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case None:
		return data, None, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("blockcodec: lz4 compress: %w", err)
		}
		// CompressBlock returns 0 for incompressible input.
		if n == 0 || n >= len(data) {
			return data, None, nil
		}
		return dst[:n], LZ4, nil
	case Zstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return data, None, nil
		}
		return out, Zstd, nil
	default:
		return nil, 0, fmt.Errorf("blockcodec: unsupported compression %s", c)
	}
}

func header(frame []byte) (Compression, int, int, error) {
	if len(frame) < 2 {
		return 0, 0, 0, fmt.Errorf("%w: frame too short", storage.ErrCorrupted)
	}
	n, w, err := varint.FromUvarint(frame[1:])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("%w: frame length: %v", storage.ErrCorrupted, err)
	}
	if n > 1<<31 {
		return 0, 0, 0, fmt.Errorf("%w: frame length %d", storage.ErrCorrupted, n)
	}
	return Compression(frame[0]), int(n), 1 + w, nil
}

// DecodedLen reports the uncompressed length recorded in a frame without
// decompressing it.
func DecodedLen(frame []byte) (int, error) {
	_, n, _, err := header(frame)
	return n, err
}

// Decode unframes and decompresses. Malformed frames are reported as
// storage.ErrCorrupted.
func Decode(frame []byte) ([]byte, error) {
	c, n, off, err := header(frame)
	if err != nil {
		return nil, err
	}
	payload := frame[off:]
	switch c {
	case None:
		if len(payload) != n {
			return nil, fmt.Errorf("%w: payload %d bytes, header says %d", storage.ErrCorrupted, len(payload), n)
		}
		return payload, nil
	case LZ4:
		dst := make([]byte, n)
		read, err := lz4.UncompressBlock(payload, dst)
		if err != nil || read != n {
			return nil, fmt.Errorf("%w: lz4 payload", storage.ErrCorrupted)
		}
		return dst, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, n))
		if err != nil || len(out) != n {
			return nil, fmt.Errorf("%w: zstd payload", storage.ErrCorrupted)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression tag %d", storage.ErrCorrupted, frame[0])
	}
}
