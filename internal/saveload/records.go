package saveload

import (
	"fmt"
	"sort"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/tile"
	"github.com/planlines/server/internal/wire"
)

var (
	tagPlan  = [4]byte{'P', 'L', 'A', 'N'}
	tagLines = [4]byte{'P', 'L', 'L', 'N'}
)

// LineRecord is the stored form of one line.
type LineRecord struct {
	Visible bool
	Tiles   []tile.Index
}

// PlanRecord is the stored form of one plan in the current schema.
type PlanRecord struct {
	ID           ecs.ID
	Owner        plan.Owner
	Visible      bool
	VisibleByAll bool
	CreationDate int32
	Lines        []LineRecord
}

var lineFields = []Field{
	{Type: FieldBool, Name: "visible"},
	{Type: FieldU32List, Name: "tiles"},
}

var planFields = []Field{
	{Type: FieldU8, Name: "owner"},
	{Type: FieldBool, Name: "visible"},
	{Type: FieldBool, Name: "visible_by_all"},
	{Type: FieldI32, Name: "creation_date"},
	{Type: FieldStructList, Name: "lines", Sub: lineFields},
}

func encodePlan(w *wire.Writer, p PlanRecord) {
	w.WriteC(byte(p.Owner))
	w.WriteBool(p.Visible)
	w.WriteBool(p.VisibleByAll)
	w.WriteD(p.CreationDate)
	w.WriteUvarint(uint64(len(p.Lines)))
	for _, l := range p.Lines {
		w.WriteBool(l.Visible)
		w.WriteUvarint(uint64(len(l.Tiles)))
		for _, t := range l.Tiles {
			w.WriteDU(uint32(t))
		}
	}
}

// decodePlan reads a plan laid out per fields. Fields this version does not
// know are skipped; fields missing from the header stay zero.
func decodePlan(r *wire.Reader, fields []Field) PlanRecord {
	var p PlanRecord
	readStruct(r, fields, func(f Field) bool {
		switch {
		case f.Name == "owner" && f.Type == FieldU8:
			p.Owner = plan.Owner(r.ReadC())
		case f.Name == "visible" && f.Type == FieldBool:
			p.Visible = r.ReadBool()
		case f.Name == "visible_by_all" && f.Type == FieldBool:
			p.VisibleByAll = r.ReadBool()
		case f.Name == "creation_date" && f.Type == FieldI32:
			p.CreationDate = r.ReadD()
		case f.Name == "lines" && f.Type == FieldStructList:
			n := r.ReadUvarint()
			if n > plan.MaxPlanLines {
				r.Skip(r.Remaining() + 1)
				return true
			}
			p.Lines = make([]LineRecord, 0, n)
			for i := uint64(0); i < n && r.Err() == nil; i++ {
				p.Lines = append(p.Lines, decodeLine(r, f.Sub))
			}
		default:
			return false
		}
		return true
	})
	return p
}

func decodeLine(r *wire.Reader, fields []Field) LineRecord {
	var l LineRecord
	readStruct(r, fields, func(f Field) bool {
		switch {
		case f.Name == "visible" && f.Type == FieldBool:
			l.Visible = r.ReadBool()
		case f.Name == "tiles" && f.Type == FieldU32List:
			n := r.ReadUvarint()
			if n > uint64(r.Remaining())/4 {
				r.Skip(r.Remaining() + 1)
				return true
			}
			l.Tiles = make([]tile.Index, n)
			for i := range l.Tiles {
				l.Tiles[i] = tile.Index(r.ReadDU())
			}
		default:
			return false
		}
		return true
	})
	return l
}

// legacyPlan is a row of the version 1 PLAN array.
type legacyPlan struct {
	ID           ecs.ID
	Owner        plan.Owner
	Visible      bool
	VisibleByAll bool
	CreationDate int32
}

// legacyLine is a row of the version 1 PLLN array, keyed plan<<16|line.
type legacyLine struct {
	Plan  ecs.ID
	Index uint16
	Tiles []tile.Index
}

const legacyPlanSize = 1 + 1 + 1 + 4

func decodeLegacyPlan(rec record) (legacyPlan, error) {
	if len(rec.Payload) != legacyPlanSize {
		return legacyPlan{}, fmt.Errorf("%w: PLAN row %d is %d bytes", ErrCorrupt, rec.Index, len(rec.Payload))
	}
	if rec.Index >= uint64(ecs.InvalidID) {
		return legacyPlan{}, fmt.Errorf("%w: PLAN row index %d", ErrCorrupt, rec.Index)
	}
	r := wire.NewReader(rec.Payload)
	return legacyPlan{
		ID:           ecs.ID(rec.Index),
		Owner:        plan.Owner(r.ReadC()),
		Visible:      r.ReadBool(),
		VisibleByAll: r.ReadBool(),
		CreationDate: r.ReadD(),
	}, nil
}

func decodeLegacyLine(rec record) (legacyLine, error) {
	if len(rec.Payload)%4 != 0 {
		return legacyLine{}, fmt.Errorf("%w: PLLN row %#x is %d bytes", ErrCorrupt, rec.Index, len(rec.Payload))
	}
	if rec.Index>>16 >= uint64(ecs.InvalidID) {
		return legacyLine{}, fmt.Errorf("%w: PLLN row index %#x", ErrCorrupt, rec.Index)
	}
	r := wire.NewReader(rec.Payload)
	tiles := make([]tile.Index, len(rec.Payload)/4)
	for i := range tiles {
		tiles[i] = tile.Index(r.ReadDU())
	}
	return legacyLine{
		Plan:  ecs.ID(rec.Index >> 16),
		Index: uint16(rec.Index & 0xFFFF),
		Tiles: tiles,
	}, nil
}

// upgradeV1 folds the two legacy tables into current records. Lines are
// placed at their stored index; gaps become empty lines. The legacy format
// has no per-line visibility, so every line starts visible and the load
// normalization hides it like any other.
func upgradeV1(plans []legacyPlan, lines []legacyLine) ([]PlanRecord, error) {
	out := make([]PlanRecord, len(plans))
	byID := make(map[ecs.ID]int, len(plans))
	for i, lp := range plans {
		if _, dup := byID[lp.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate plan %d", ErrCorrupt, lp.ID)
		}
		byID[lp.ID] = i
		out[i] = PlanRecord{
			ID:           lp.ID,
			Owner:        lp.Owner,
			Visible:      lp.Visible,
			VisibleByAll: lp.VisibleByAll,
			CreationDate: lp.CreationDate,
		}
	}
	for _, ll := range lines {
		i, ok := byID[ll.Plan]
		if !ok {
			return nil, fmt.Errorf("%w: line %d of missing plan %d", ErrCorrupt, ll.Index, ll.Plan)
		}
		p := &out[i]
		for len(p.Lines) <= int(ll.Index) {
			p.Lines = append(p.Lines, LineRecord{Visible: true})
		}
		p.Lines[ll.Index] = LineRecord{Visible: true, Tiles: ll.Tiles}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}
