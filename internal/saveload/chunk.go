package saveload

import (
	"fmt"

	"github.com/planlines/server/internal/wire"
)

// ChunkType says how a chunk's records are described.
type ChunkType byte

const (
	// ChunkArray records carry a payload whose layout is implied by the
	// chunk tag and save version.
	ChunkArray ChunkType = 1
	// ChunkTable chunks start with a field header; every record is a
	// struct laid out in header order.
	ChunkTable ChunkType = 2
)

var endTag = [4]byte{}

// FieldType tags a table field. Every type has a self-delimiting encoding
// so readers can skip fields they do not know.
type FieldType byte

const (
	fieldEnd FieldType = iota
	FieldU8
	FieldBool
	FieldI32
	FieldU32
	FieldU64
	FieldString
	FieldU32List
	FieldStructList
)

// Field is one column of a table header. Struct lists carry the header of
// their element type in Sub.
type Field struct {
	Type FieldType
	Name string
	Sub  []Field
}

const maxFieldDepth = 4

type record struct {
	Index   uint64
	Payload []byte
}

type chunk struct {
	Tag     [4]byte
	Type    ChunkType
	Fields  []Field
	Records []record
}

type chunkWriter struct {
	w *wire.Writer
}

func (cw chunkWriter) begin(tag [4]byte, typ ChunkType, fields []Field) {
	cw.w.WriteBytes(tag[:])
	cw.w.WriteC(byte(typ))
	if typ == ChunkTable {
		writeFields(cw.w, fields)
	}
}

func (cw chunkWriter) record(index uint64, payload []byte) {
	cw.w.WriteUvarint(uint64(len(payload)) + 1)
	cw.w.WriteUvarint(index)
	cw.w.WriteBytes(payload)
}

func (cw chunkWriter) end() { cw.w.WriteUvarint(0) }

func (cw chunkWriter) finish() { cw.w.WriteBytes(endTag[:]) }

func writeFields(w *wire.Writer, fields []Field) {
	for _, f := range fields {
		w.WriteC(byte(f.Type))
		w.WriteS(f.Name)
		if f.Type == FieldStructList {
			writeFields(w, f.Sub)
		}
	}
	w.WriteC(byte(fieldEnd))
}

func readFields(r *wire.Reader, depth int) ([]Field, error) {
	if depth > maxFieldDepth {
		return nil, fmt.Errorf("%w: table header nested too deep", ErrCorrupt)
	}
	var fields []Field
	for {
		t := FieldType(r.ReadC())
		if err := r.Err(); err != nil {
			return nil, err
		}
		if t == fieldEnd {
			return fields, nil
		}
		if t > FieldStructList {
			return nil, fmt.Errorf("%w: field type %d", ErrCorrupt, t)
		}
		f := Field{Type: t, Name: r.ReadS()}
		if t == FieldStructList {
			sub, err := readFields(r, depth+1)
			if err != nil {
				return nil, err
			}
			f.Sub = sub
		}
		fields = append(fields, f)
	}
}

// readChunks parses every chunk up to the end tag. Chunks with unknown
// tags are parsed too, so the caller can simply ignore them.
func readChunks(r *wire.Reader) ([]chunk, error) {
	var chunks []chunk
	for {
		var c chunk
		copy(c.Tag[:], r.ReadBytes(4))
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("read chunk tag: %w", err)
		}
		if c.Tag == endTag {
			return chunks, nil
		}
		c.Type = ChunkType(r.ReadC())
		switch c.Type {
		case ChunkArray:
		case ChunkTable:
			fields, err := readFields(r, 0)
			if err != nil {
				return nil, fmt.Errorf("chunk %q header: %w", c.Tag[:], err)
			}
			c.Fields = fields
		default:
			return nil, fmt.Errorf("%w: chunk %q type %d", ErrCorrupt, c.Tag[:], c.Type)
		}
		for {
			size := r.ReadUvarint()
			if err := r.Err(); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", c.Tag[:], err)
			}
			if size == 0 {
				break
			}
			if size-1 > uint64(r.Remaining()) {
				return nil, fmt.Errorf("%w: chunk %q record of %d bytes", ErrCorrupt, c.Tag[:], size-1)
			}
			idx := r.ReadUvarint()
			payload := r.ReadBytes(int(size - 1))
			if err := r.Err(); err != nil {
				return nil, fmt.Errorf("chunk %q: %w", c.Tag[:], err)
			}
			c.Records = append(c.Records, record{Index: idx, Payload: payload})
		}
		chunks = append(chunks, c)
	}
}

// skipValue consumes one encoded value of f.
func skipValue(r *wire.Reader, f Field) {
	switch f.Type {
	case FieldU8, FieldBool:
		r.Skip(1)
	case FieldI32, FieldU32:
		r.Skip(4)
	case FieldU64:
		r.Skip(8)
	case FieldString:
		r.ReadS()
	case FieldU32List:
		n := r.ReadUvarint()
		if n > uint64(r.Remaining())/4 {
			r.Skip(r.Remaining() + 1)
			return
		}
		r.Skip(int(n) * 4)
	case FieldStructList:
		n := r.ReadUvarint()
		for i := uint64(0); i < n && r.Err() == nil; i++ {
			for _, sf := range f.Sub {
				skipValue(r, sf)
			}
		}
	}
}

// readStruct walks one struct laid out per fields, handing each field to
// set. Fields set does not claim are skipped.
func readStruct(r *wire.Reader, fields []Field, set func(f Field) bool) {
	for _, f := range fields {
		if r.Err() != nil {
			return
		}
		if !set(f) {
			skipValue(r, f)
		}
	}
}
