package saveload

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/tile"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

var fixedNow = func() time.Time { return time.Unix(1700000000, 0) }

// buildWorld creates three plans and removes the middle one so the saved
// ids have a gap.
func buildWorld(t *testing.T) *world.State {
	t.Helper()
	w := world.NewState(world.Options{Viewer: 1})
	for i := 0; i < 40; i++ {
		w.Clock.Advance()
	}
	owners := []plan.Owner{1, 2, 3}
	for _, o := range owners {
		p, err := w.Plans.Create(o)
		require.NoError(t, err)
		p.SetVisibility(true, false)
		for j := 0; j < int(o); j++ {
			l, ok := p.NewLine()
			require.True(t, ok)
			for k := 0; k < 5+j; k++ {
				l.Tiles = append(l.Tiles, tile.Index(uint32(o)<<12|uint32(j)<<6|uint32(k)))
			}
		}
	}
	require.NoError(t, w.Plans.Remove(1))
	p, err := w.Plans.Get(2)
	require.NoError(t, err)
	p.VisibleByAll = true
	return w
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			src := buildWorld(t)
			data, err := SaveBytes(src, Options{Compression: c, Seq: 17, Server: "test", Now: fixedNow})
			require.NoError(t, err)

			dst := world.NewState(world.Options{Viewer: 1})
			meta, err := LoadBytes(data, dst)
			require.NoError(t, err)
			assert.Equal(t, uint64(17), meta.Seq)
			assert.Equal(t, int64(1700000000), meta.SavedAt)
			assert.Equal(t, 2, meta.PlanCount)
			assert.Equal(t, src.Clock.Tick(), dst.Clock.Tick())

			assert.Equal(t, src.Digest(), dst.Digest())
			assert.False(t, dst.Plans.Exists(1))
			for id, p := range dst.Plans.All() {
				orig, err := src.Plans.Get(id)
				require.NoError(t, err)
				assert.Equal(t, orig.Owner, p.Owner)
				assert.Equal(t, orig.CreationDate, p.CreationDate)
				assert.Equal(t, orig.VisibleByAll, p.VisibleByAll)
				assert.False(t, p.Visible)
				require.Len(t, p.Lines, len(orig.Lines))
				for i, l := range p.Lines {
					assert.Equal(t, orig.Lines[i].Tiles, l.Tiles)
					assert.False(t, l.Visible)
				}
			}
		})
	}
}

func TestLoadKeepsIDsForNewCreates(t *testing.T) {
	data, err := SaveBytes(buildWorld(t), Options{Now: fixedNow})
	require.NoError(t, err)

	dst := world.NewState(world.Options{Viewer: 1})
	_, err = LoadBytes(data, dst)
	require.NoError(t, err)

	p, err := dst.Plans.Create(9)
	require.NoError(t, err)
	assert.Equal(t, ecs.ID(1), p.ID)
}

func TestZstdShrinksLargeSave(t *testing.T) {
	w := world.NewState(world.Options{Viewer: 1})
	p, err := w.Plans.Create(1)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		l, _ := p.NewLine()
		for k := 0; k < 100; k++ {
			l.Tiles = append(l.Tiles, tile.Index(k))
		}
	}
	plain, err := SaveBytes(w, Options{Now: fixedNow})
	require.NoError(t, err)
	packed, err := SaveBytes(w, Options{Compression: CompressionZstd, Now: fixedNow})
	require.NoError(t, err)

	ver, c, err := Inspect(packed)
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, ver)
	assert.Equal(t, CompressionZstd, c)
	assert.Less(t, len(packed), len(plain))

	_, _, err = Inspect([]byte("PLNX\x02\x00\x00"))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestIncompressibleBodyStoredPlain(t *testing.T) {
	body := []byte{9, 1, 7, 3, 5}
	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		packed, used, err := compress(body, c)
		require.NoError(t, err)
		assert.Equal(t, CompressionNone, used)
		assert.Equal(t, body, packed)
	}
}

// legacySave writes plans in the version 1 layout: a PLAN array with fixed
// rows and a PLLN array keyed plan<<16|line.
func legacySave(t *testing.T, plans []PlanRecord) []byte {
	t.Helper()
	body, err := encodeBody(Meta{Layout: tile.DefaultLayout}, func(cw chunkWriter) {
		cw.begin(tagPlan, ChunkArray, nil)
		for _, p := range plans {
			w := wire.NewWriter()
			w.WriteC(byte(p.Owner))
			w.WriteBool(p.Visible)
			w.WriteBool(p.VisibleByAll)
			w.WriteD(p.CreationDate)
			cw.record(uint64(p.ID), w.Bytes())
		}
		cw.end()
		cw.begin(tagLines, ChunkArray, nil)
		for _, p := range plans {
			for i, l := range p.Lines {
				w := wire.NewWriter()
				for _, tl := range l.Tiles {
					w.WriteDU(uint32(tl))
				}
				cw.record(uint64(p.ID)<<16|uint64(i), w.Bytes())
			}
		}
		cw.end()
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, writeStream(&buf, VersionLegacy, body, CompressionNone))
	return buf.Bytes()
}

func TestLegacyAndTableLoadAlike(t *testing.T) {
	logical := []PlanRecord{
		{ID: 0, Owner: 1, Visible: true, CreationDate: 3, Lines: []LineRecord{
			{Visible: true, Tiles: []tile.Index{1, 2, 3}},
			{Visible: true, Tiles: []tile.Index{300, 301}},
		}},
		{ID: 4, Owner: 2, VisibleByAll: true, CreationDate: 9, Lines: []LineRecord{
			{Visible: true, Tiles: []tile.Index{70000}},
		}},
	}

	var current bytes.Buffer
	require.NoError(t, Encode(&current, Meta{Layout: tile.DefaultLayout}, logical, CompressionNone))

	fromTable := world.NewState(world.Options{Viewer: 1})
	_, err := LoadBytes(current.Bytes(), fromTable)
	require.NoError(t, err)
	fromLegacy := world.NewState(world.Options{Viewer: 1})
	_, err = LoadBytes(legacySave(t, logical), fromLegacy)
	require.NoError(t, err)

	assert.Equal(t, fromTable.Digest(), fromLegacy.Digest())
	for _, s := range []*world.State{fromTable, fromLegacy} {
		require.Equal(t, 2, s.Plans.Len())
		p, err := s.Plans.Get(0)
		require.NoError(t, err)
		require.Len(t, p.Lines, 2)
		assert.Equal(t, []tile.Index{300, 301}, p.Lines[1].Tiles)
		for _, pp := range s.Plans.All() {
			assert.False(t, pp.Visible)
			for _, l := range pp.Lines {
				assert.False(t, l.Visible)
			}
		}
	}
}

func TestUpgradeV1(t *testing.T) {
	plans := []legacyPlan{{ID: 5, Owner: 2, CreationDate: 1}, {ID: 1, Owner: 3}}
	lines := []legacyLine{
		{Plan: 5, Index: 2, Tiles: []tile.Index{9}},
		{Plan: 5, Index: 0, Tiles: []tile.Index{7, 8}},
	}
	got, err := upgradeV1(plans, lines)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ecs.ID(1), got[0].ID)
	assert.Empty(t, got[0].Lines)

	p := got[1]
	assert.Equal(t, ecs.ID(5), p.ID)
	require.Len(t, p.Lines, 3)
	assert.Equal(t, []tile.Index{7, 8}, p.Lines[0].Tiles)
	assert.Empty(t, p.Lines[1].Tiles)
	assert.Equal(t, []tile.Index{9}, p.Lines[2].Tiles)

	_, err = upgradeV1(plans, []legacyLine{{Plan: 2, Index: 0}})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = upgradeV1([]legacyPlan{{ID: 1}, {ID: 1}}, nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTableToleratesSchemaChanges(t *testing.T) {
	// A writer that added a "name" column and a per-line "color" column and
	// dropped creation_date.
	lineCols := []Field{
		{Type: FieldU32List, Name: "tiles"},
		{Type: FieldU8, Name: "color"},
		{Type: FieldBool, Name: "visible"},
	}
	cols := []Field{
		{Type: FieldString, Name: "name"},
		{Type: FieldU8, Name: "owner"},
		{Type: FieldStructList, Name: "lines", Sub: lineCols},
		{Type: FieldU64, Name: "flags"},
		{Type: FieldBool, Name: "visible_by_all"},
	}
	body, err := encodeBody(Meta{}, func(cw chunkWriter) {
		cw.begin([4]byte{'X', 'T', 'R', 'A'}, ChunkArray, nil)
		cw.record(0, []byte{1, 2, 3})
		cw.end()
		cw.begin(tagPlan, ChunkTable, cols)
		w := wire.NewWriter()
		w.WriteS("harbour")
		w.WriteC(4)
		w.WriteUvarint(1)
		w.WriteUvarint(2)
		w.WriteDU(11)
		w.WriteDU(12)
		w.WriteC(200)
		w.WriteBool(true)
		w.WriteQU(0xFFFF)
		w.WriteBool(true)
		cw.record(3, w.Bytes())
		cw.end()
	})
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, writeStream(&buf, CurrentVersion, body, CompressionNone))

	_, plans, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	p := plans[0]
	assert.Equal(t, ecs.ID(3), p.ID)
	assert.Equal(t, plan.Owner(4), p.Owner)
	assert.True(t, p.VisibleByAll)
	assert.Zero(t, p.CreationDate)
	require.Len(t, p.Lines, 1)
	assert.Equal(t, []tile.Index{11, 12}, p.Lines[0].Tiles)
	assert.True(t, p.Lines[0].Visible)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("NOPE\x02\x00\x00")))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, _, err = Decode(bytes.NewReader([]byte("PLNS\x09\x00\x00")))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	data, err := SaveBytes(buildWorld(t), Options{Now: fixedNow})
	require.NoError(t, err)
	_, _, err = Decode(bytes.NewReader(data[:len(data)-6]))
	assert.Error(t, err)

	// size claims far beyond the block are refused before allocating
	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		_, _, err = Decode(bytes.NewReader([]byte{'P', 'L', 'N', 'S', 2, 0, byte(c), 0xff, 0xff, 0xff, 0x7f, 0}))
		assert.ErrorIs(t, err, ErrCorrupt, c.String())
	}
	_, _, err = Decode(bytes.NewReader([]byte{'P', 'L', 'N', 'S', 2, 0, byte(CompressionLZ4), 0, 0, 0x10, 0, 1, 2, 3, 4}))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsOverlongLine(t *testing.T) {
	long := make([]tile.Index, 300)
	for i := range long {
		long[i] = tile.DefaultLayout.At(i%200, i/200)
	}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, Meta{}, []PlanRecord{
		{ID: 0, Owner: 1, Lines: []LineRecord{{Tiles: long[:plan.MaxLineLength]}}},
		{ID: 1, Owner: 2, Lines: []LineRecord{{Tiles: long}}},
	}, CompressionNone))

	w := world.NewState(world.Options{Viewer: 1})
	_, err := LoadBytes(buf.Bytes(), w)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Zero(t, w.Plans.Len())

	legacy := world.NewState(world.Options{Viewer: 1})
	_, err = LoadBytes(legacySave(t, []PlanRecord{{ID: 3, Owner: 1, Lines: []LineRecord{{Tiles: long}}}}), legacy)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Zero(t, legacy.Plans.Len())
}

func TestLoadRejectsOtherMapSize(t *testing.T) {
	data, err := SaveBytes(buildWorld(t), Options{Now: fixedNow})
	require.NoError(t, err)

	dst := world.NewState(world.Options{Viewer: 1, Layout: tile.Layout{LogX: 9, LogY: 9}})
	_, err = LoadBytes(data, dst)
	assert.Error(t, err)
	assert.Zero(t, dst.Plans.Len())
}

func TestRestoreRejectsOutOfRangeID(t *testing.T) {
	w := world.NewState(world.Options{Viewer: 1, MaxPlans: 4})
	err := Restore(w, []PlanRecord{{ID: 0}, {ID: 10}})
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.Zero(t, w.Plans.Len())
}
