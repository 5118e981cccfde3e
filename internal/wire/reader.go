package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortRead is recorded when a field runs past the end of the data.
var ErrShortRead = errors.New("wire: short read")

// ErrOverflow is recorded when a uvarint does not fit in 64 bits.
var ErrOverflow = errors.New("wire: varint overflow")

// Reader decodes fields written by Writer. The first failure sticks: every
// later read returns zero values and Err reports the failure.
type Reader struct {
	data []byte
	off  int
	err  error
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Err returns the first decoding failure, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = ErrShortRead
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// ReadC reads 1 unsigned byte.
func (r *Reader) ReadC() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// ReadBool reads 1 byte; any non-zero value is true.
func (r *Reader) ReadBool() bool { return r.ReadC() != 0 }

// ReadH reads 2 bytes as little-endian uint16.
func (r *Reader) ReadH() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// ReadD reads 4 bytes as little-endian int32.
func (r *Reader) ReadD() int32 { return int32(r.ReadDU()) }

// ReadDU reads 4 bytes as little-endian uint32.
func (r *Reader) ReadDU() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadQU reads 8 bytes as little-endian uint64.
func (r *Reader) ReadQU() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadUvarint reads a variable-length unsigned integer.
func (r *Reader) ReadUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.off:])
	switch {
	case n == 0:
		r.err = ErrShortRead
		r.off = len(r.data)
		return 0
	case n < 0:
		r.err = ErrOverflow
		r.off = len(r.data)
		return 0
	}
	r.off += n
	return v
}

// ReadS reads a length-prefixed UTF-8 string.
func (r *Reader) ReadS() string {
	return string(r.ReadBlob())
}

// ReadBytes reads n raw bytes. The result is a copy.
func (r *Reader) ReadBytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadBlob reads a length-prefixed byte string.
func (r *Reader) ReadBlob() []byte {
	n := r.ReadUvarint()
	if n > uint64(r.Remaining()) {
		if r.err == nil {
			r.err = ErrShortRead
		}
		r.off = len(r.data)
		return nil
	}
	return r.ReadBytes(int(n))
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) { r.take(n) }
