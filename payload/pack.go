package payload

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the compression applied by Pack.
type Compression uint8

const (
	// NoCompression leaves the payload as is.
	NoCompression Compression = iota
	// LZ4 favours speed.
	LZ4
	// Zstd favours ratio.
	Zstd
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// PackOptions controls Pack.
type PackOptions struct {
	Compression Compression
	Checksum    bool
}

// Packing errors
var (
	ErrBadSignature = errors.New("payload: bad signature")
	ErrBadVersion   = errors.New("payload: unsupported version")
	ErrBadChecksum  = errors.New("payload: checksum mismatch")
	ErrTruncated    = errors.New("payload: truncated")
)

const (
	signature   = "rdst"
	packVersion = 1
	prefixLen   = 8
	sumLen      = 8

	flagChecksum = 1 << 7
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// Pack wraps data in a self-describing frame:
//
//	[ "rdst" | version | flags | 2 reserved ][ xxhash64 (optional) ][ body ]
//
// The checksum covers the body as written (after compression).
func Pack(data []byte, opts PackOptions) ([]byte, error) {
	body, err := compress(data, opts.Compression)
	if err != nil {
		return nil, err
	}

	var prefix [prefixLen]byte
	copy(prefix[:], signature)
	prefix[4] = packVersion
	prefix[5] = byte(opts.Compression)
	if opts.Checksum {
		prefix[5] |= flagChecksum
	}

	out := make([]byte, 0, prefixLen+sumLen+len(body))
	out = append(out, prefix[:]...)
	if opts.Checksum {
		out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(body))
	}
	return append(out, body...), nil
}

// Unpack reverses Pack. The frame carries its own options.
func Unpack(packed []byte) ([]byte, error) {
	if len(packed) < prefixLen {
		return nil, ErrTruncated
	}
	if string(packed[:4]) != signature {
		return nil, ErrBadSignature
	}
	if packed[4] != packVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, packed[4])
	}
	flags := packed[5]
	body := packed[prefixLen:]
	if flags&flagChecksum != 0 {
		if len(body) < sumLen {
			return nil, ErrTruncated
		}
		expected := binary.BigEndian.Uint64(body[:sumLen])
		body = body[sumLen:]
		if actual := xxhash.Sum64(body); actual != expected {
			return nil, fmt.Errorf("%w: expected %x, got %x", ErrBadChecksum, expected, actual)
		}
	}
	return decompress(body, Compression(flags&^flagChecksum))
}

// IsPacked reports whether b starts with a Pack frame.
func IsPacked(b []byte) bool {
	return len(b) >= prefixLen && string(b[:4]) == signature
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return data, nil
	case LZ4:
		var buf bytes.Buffer
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("payload: unknown compression %s", c)
	}
}

func decompress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case NoCompression:
		return body, nil
	case LZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out, nil
	case Zstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("zstd init: %w", err)
		}
		out, err := dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("payload: unknown compression %s", c)
	}
}
