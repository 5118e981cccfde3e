// Package saveload writes the plan set to a versioned, chunked binary
// stream and reads it back, including saves from older schema versions.
//
// Stream layout:
//
//	"PLNS" | u16 version | u8 compression | body
//	body = uvarint len | CBOR meta | chunks... | "\0\0\0\0"
//
// A compressed body is prefixed by its uncompressed length (u32).
package saveload

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/tile"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

// Options controls Save.
type Options struct {
	Compression Compression
	Seq         uint64
	Server      string
	Now         func() time.Time
}

// Snapshot copies the live plan set, in id order, into records.
func Snapshot(w *world.State) []PlanRecord {
	out := make([]PlanRecord, 0, w.Plans.Len())
	for id, p := range w.Plans.All() {
		rec := PlanRecord{
			ID:           id,
			Owner:        p.Owner,
			Visible:      p.Visible,
			VisibleByAll: p.VisibleByAll,
			CreationDate: p.CreationDate,
			Lines:        make([]LineRecord, len(p.Lines)),
		}
		for i, l := range p.Lines {
			rec.Lines[i] = LineRecord{Visible: l.Visible, Tiles: slices.Clone(l.Tiles)}
		}
		out = append(out, rec)
	}
	return out
}

// Save writes the world's plans in the current format. It must not run
// while commands are executing.
func Save(out io.Writer, w *world.State, opts Options) error {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	plans := Snapshot(w)
	meta := Meta{
		Tick:      w.Clock.Tick(),
		Seq:       opts.Seq,
		SavedAt:   now().Unix(),
		Server:    opts.Server,
		Layout:    w.Env().Layout,
		PlanCount: len(plans),
	}
	return Encode(out, meta, plans, opts.Compression)
}

// Encode writes meta and plans as a current-version stream.
func Encode(out io.Writer, meta Meta, plans []PlanRecord, c Compression) error {
	body, err := encodeBody(meta, func(cw chunkWriter) {
		cw.begin(tagPlan, ChunkTable, planFields)
		rec := wire.NewWriter()
		for _, p := range plans {
			rec.Reset()
			encodePlan(rec, p)
			cw.record(uint64(p.ID), rec.Bytes())
		}
		cw.end()
	})
	if err != nil {
		return err
	}
	return writeStream(out, CurrentVersion, body, c)
}

func encodeBody(meta Meta, chunks func(cw chunkWriter)) ([]byte, error) {
	mb, err := metaEnc.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}
	w := wire.NewWriter()
	w.WriteBlob(mb)
	cw := chunkWriter{w: w}
	chunks(cw)
	cw.finish()
	return w.Bytes(), nil
}

func writeStream(out io.Writer, version uint16, body []byte, c Compression) error {
	packed, used, err := compress(body, c)
	if err != nil {
		return err
	}
	if err := writeHeader(out, header{Version: version, Compression: used}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := out.Write(packed); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// Decode parses a stream of any supported version into current records.
// Legacy saves are upgraded on the way.
func Decode(in io.Reader) (Meta, []PlanRecord, error) {
	h, err := readHeader(in)
	if err != nil {
		return Meta{}, nil, err
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return Meta{}, nil, fmt.Errorf("read body: %w", err)
	}
	body, err := decompress(raw, h.Compression)
	if err != nil {
		return Meta{}, nil, err
	}

	r := wire.NewReader(body)
	var meta Meta
	mb := r.ReadBlob()
	if err := r.Err(); err != nil {
		return Meta{}, nil, fmt.Errorf("read meta: %w", err)
	}
	if err := metaDec.Unmarshal(mb, &meta); err != nil {
		return Meta{}, nil, fmt.Errorf("decode meta: %w", err)
	}
	chunks, err := readChunks(r)
	if err != nil {
		return Meta{}, nil, err
	}

	var plans []PlanRecord
	if h.Version < VersionTable {
		plans, err = decodeLegacy(chunks)
	} else {
		plans, err = decodeTable(chunks)
	}
	if err != nil {
		return Meta{}, nil, err
	}
	return meta, plans, nil
}

func decodeTable(chunks []chunk) ([]PlanRecord, error) {
	var plans []PlanRecord
	for _, c := range chunks {
		if c.Tag != tagPlan {
			continue
		}
		if c.Type != ChunkTable {
			return nil, fmt.Errorf("%w: PLAN is not a table", ErrCorrupt)
		}
		for _, rec := range c.Records {
			if rec.Index >= uint64(ecs.InvalidID) {
				return nil, fmt.Errorf("%w: plan index %d", ErrCorrupt, rec.Index)
			}
			r := wire.NewReader(rec.Payload)
			p := decodePlan(r, c.Fields)
			if err := r.Err(); err != nil {
				return nil, fmt.Errorf("plan %d: %w", rec.Index, err)
			}
			p.ID = ecs.ID(rec.Index)
			plans = append(plans, p)
		}
	}
	return plans, nil
}

func decodeLegacy(chunks []chunk) ([]PlanRecord, error) {
	var (
		plans []legacyPlan
		lines []legacyLine
	)
	for _, c := range chunks {
		switch c.Tag {
		case tagPlan:
			for _, rec := range c.Records {
				lp, err := decodeLegacyPlan(rec)
				if err != nil {
					return nil, err
				}
				plans = append(plans, lp)
			}
		case tagLines:
			for _, rec := range c.Records {
				ll, err := decodeLegacyLine(rec)
				if err != nil {
					return nil, err
				}
				lines = append(lines, ll)
			}
		}
	}
	return upgradeV1(plans, lines)
}

// Restore replaces the world's plans with records, keeping their ids, and
// then hides every plan and line. Stored visibility is deliberately
// discarded; each viewer starts from a hidden plan set.
func Restore(w *world.State, plans []PlanRecord) error {
	w.Reset()
	for _, rec := range plans {
		p, err := w.Plans.Restore(rec.ID, rec.Owner)
		if err != nil {
			w.Reset()
			return fmt.Errorf("%w: restore plan %d: %v", ErrCorrupt, rec.ID, err)
		}
		p.Visible = rec.Visible
		p.VisibleByAll = rec.VisibleByAll
		p.CreationDate = rec.CreationDate
		for i, lr := range rec.Lines {
			if len(lr.Tiles) > plan.MaxLineLength {
				w.Reset()
				return fmt.Errorf("%w: plan %d line %d has %d tiles", ErrCorrupt, rec.ID, i, len(lr.Tiles))
			}
			l, ok := p.NewLine()
			if !ok {
				w.Reset()
				return fmt.Errorf("%w: plan %d has too many lines", ErrCorrupt, rec.ID)
			}
			l.Visible = lr.Visible
			l.Tiles = slices.Clone(lr.Tiles)
		}
	}
	for _, p := range w.Plans.All() {
		p.SetVisibility(false, true)
	}
	return nil
}

// Load reads a save into w. The layout recorded in the save must match the
// world's.
func Load(in io.Reader, w *world.State) (Meta, error) {
	meta, plans, err := Decode(in)
	if err != nil {
		return Meta{}, err
	}
	if meta.Layout != (tile.Layout{}) && meta.Layout != w.Env().Layout {
		return Meta{}, fmt.Errorf("save map %dx%d does not match %dx%d",
			meta.Layout.SizeX(), meta.Layout.SizeY(), w.Env().Layout.SizeX(), w.Env().Layout.SizeY())
	}
	if err := Restore(w, plans); err != nil {
		return Meta{}, err
	}
	w.Clock.SetTick(meta.Tick)
	return meta, nil
}

// LoadBytes is Load over an in-memory save.
func LoadBytes(data []byte, w *world.State) (Meta, error) {
	return Load(bytes.NewReader(data), w)
}

// SaveBytes is Save into memory.
func SaveBytes(w *world.State, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Save(&buf, w, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Inspect reads only the stream header of a save.
func Inspect(data []byte) (version uint16, c Compression, err error) {
	h, err := readHeader(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return h.Version, h.Compression, nil
}
