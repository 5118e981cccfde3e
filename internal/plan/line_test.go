package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/tile"
)

type segment struct{ from, to tile.Index }

type recorder struct {
	segments []segment
	lists    []ecs.ID
}

func (r *recorder) LineChanged(from, to tile.Index) {
	r.segments = append(r.segments, segment{from, to})
}

func (r *recorder) ListChanged(id ecs.ID) { r.lists = append(r.lists, id) }

var wide = tile.Layout{LogX: 9, LogY: 8}

func testEnv() (*Env, *recorder) {
	rec := &recorder{}
	return &Env{Layout: wide, Notify: rec, Viewer: LocalViewer(1)}, rec
}

func TestAppendTileMergesCollinear(t *testing.T) {
	env, _ := testEnv()
	l := newLine(env)
	assert.True(t, l.AppendTile(wide.At(0, 0)))
	assert.True(t, l.AppendTile(wide.At(1, 1)))
	assert.True(t, l.AppendTile(wide.At(2, 2)))
	assert.Equal(t, []tile.Index{wide.At(0, 0), wide.At(2, 2)}, l.Tiles)
}

func TestAppendTileRejectsDuplicate(t *testing.T) {
	env, rec := testEnv()
	l := newLine(env)
	require.True(t, l.AppendTile(wide.At(0, 0)))
	require.True(t, l.AppendTile(wide.At(1, 1)))
	notified := len(rec.segments)

	assert.False(t, l.AppendTile(wide.At(1, 1)))
	assert.Equal(t, []tile.Index{wide.At(0, 0), wide.At(1, 1)}, l.Tiles)
	assert.Len(t, rec.segments, notified)
}

func TestAppendTileDoesNotMergeOvershoot(t *testing.T) {
	env, _ := testEnv()
	l := newLine(env)
	l.AppendTile(wide.At(5, 5))
	l.AppendTile(wide.At(8, 5))
	// Collinear, but doubles back past the second-to-last tile.
	assert.True(t, l.AppendTile(wide.At(2, 5)))
	assert.Equal(t, []tile.Index{wide.At(5, 5), wide.At(8, 5), wide.At(2, 5)}, l.Tiles)
}

func TestAppendTileCapsLength(t *testing.T) {
	env, _ := testEnv()
	l := newLine(env)
	for i := 0; i < MaxLineLength; i++ {
		require.True(t, l.AppendTile(wide.At(i, i%2)), "tile %d", i)
	}
	require.Equal(t, MaxLineLength, l.Len())

	assert.False(t, l.AppendTile(wide.At(MaxLineLength, MaxLineLength%2)))
	assert.Equal(t, MaxLineLength, l.Len())

	// A collinear continuation still replaces the last tile when full.
	assert.True(t, l.AppendTile(wide.At(MaxLineLength, 2)))
	assert.Equal(t, MaxLineLength, l.Len())
}

func TestExportImportRoundTrip(t *testing.T) {
	env, _ := testEnv()
	for _, n := range []int{0, 1, 2, 17, MaxLineLength} {
		src := newLine(env)
		for i := 0; i < n; i++ {
			src.Tiles = append(src.Tiles, tile.Index(0xA0000000+uint32(i)*7919))
		}
		buf := src.Export()
		assert.Len(t, buf, 4*n)

		dst := newLine(env)
		dst.Import(buf)
		assert.Equal(t, len(src.Tiles), len(dst.Tiles))
		for i := range src.Tiles {
			assert.Equal(t, src.Tiles[i], dst.Tiles[i])
		}
	}
}

func TestExportByteOrder(t *testing.T) {
	env, _ := testEnv()
	l := newLine(env)
	l.Tiles = []tile.Index{0x01020304}
	assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, l.Export())
}

func TestLineVisibilityNotifiesOnTransitionOnly(t *testing.T) {
	env, rec := testEnv()
	l := newLine(env)
	l.Tiles = []tile.Index{wide.At(0, 0), wide.At(4, 0)}
	l.Visible = false

	l.SetVisibility(true)
	l.SetVisibility(true)
	assert.Len(t, rec.segments, 1)

	l.SetFocus(true)
	l.SetFocus(true)
	assert.Len(t, rec.segments, 2)
}
