package saveload

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/planlines/server/internal/tile"
)

// Save versions. Versions below VersionTable store plans in the legacy
// two-chunk layout and can only be read.
const (
	VersionLegacy  uint16 = 1
	VersionTable   uint16 = 2
	CurrentVersion        = VersionTable
)

var magic = [4]byte{'P', 'L', 'N', 'S'}

var (
	ErrBadMagic           = errors.New("saveload: not a plan save")
	ErrUnsupportedVersion = errors.New("saveload: unsupported save version")
	ErrCorrupt            = errors.New("saveload: corrupt save")
)

// Compression identifies how the save body is compressed. The values are
// stored in the header and must not change.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Meta is the CBOR block at the start of every save.
type Meta struct {
	Tick      uint64      `cbor:"tick"`
	Seq       uint64      `cbor:"seq"`
	SavedAt   int64       `cbor:"saved_at"`
	Server    string      `cbor:"server,omitempty"`
	Layout    tile.Layout `cbor:"layout"`
	PlanCount int         `cbor:"plan_count"`
}

var (
	metaEnc cbor.EncMode
	metaDec cbor.DecMode

	zstdEnc *zstd.Encoder
	zstdDec *zstd.Decoder
)

func init() {
	var err error
	metaEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("saveload: cbor encoder: " + err.Error())
	}
	metaDec, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("saveload: cbor decoder: " + err.Error())
	}
	zstdEnc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("saveload: zstd encoder: " + err.Error())
	}
	zstdDec, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodySize))
	if err != nil {
		panic("saveload: zstd decoder: " + err.Error())
	}
}

// header is the uncompressed prefix: magic, version, compression.
type header struct {
	Version     uint16
	Compression Compression
}

const headerSize = 4 + 2 + 1

// MaxBodySize bounds the uncompressed body a save may claim.
const MaxBodySize = 256 << 20

// An lz4 block never expands by more than this factor.
const lz4MaxRatio = 255

func writeHeader(w io.Writer, h header) error {
	var buf [headerSize]byte
	copy(buf[:4], magic[:])
	binary.LittleEndian.PutUint16(buf[4:], h.Version)
	buf[6] = byte(h.Compression)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return header{}, fmt.Errorf("read header: %w", err)
	}
	if [4]byte(buf[:4]) != magic {
		return header{}, ErrBadMagic
	}
	h := header{
		Version:     binary.LittleEndian.Uint16(buf[4:]),
		Compression: Compression(buf[6]),
	}
	if h.Version == 0 || h.Version > CurrentVersion {
		return header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return h, nil
}

// compress returns the framed body for c: the raw length as u32 followed by
// the compressed block. When the block would not be smaller, the body is
// stored uncompressed and CompressionNone is returned instead.
func compress(body []byte, c Compression) ([]byte, Compression, error) {
	var packed []byte
	switch c {
	case CompressionNone:
		return body, CompressionNone, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		packed = dst[:n]
	case CompressionZstd:
		packed = zstdEnc.EncodeAll(body, nil)
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", c)
	}
	if len(packed) == 0 || len(packed)+4 >= len(body) {
		return body, CompressionNone, nil
	}
	out := make([]byte, 4, 4+len(packed))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	return append(out, packed...), c, nil
}

func decompress(data []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: short compressed body", ErrCorrupt)
	}
	size := int(binary.LittleEndian.Uint32(data))
	data = data[4:]
	if size > MaxBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes", ErrCorrupt, size)
	}
	switch c {
	case CompressionLZ4:
		if size > lz4MaxRatio*len(data) {
			return nil, fmt.Errorf("%w: lz4 block of %d bytes claims %d", ErrCorrupt, len(data), size)
		}
		dst := make([]byte, size)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: lz4 got %d bytes, want %d", ErrCorrupt, n, size)
		}
		return dst, nil
	case CompressionZstd:
		out, err := zstdDec.DecodeAll(data, make([]byte, 0, min(size, 8*len(data))))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: zstd got %d bytes, want %d", ErrCorrupt, len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: compression %s", ErrUnsupportedVersion, c)
	}
}
