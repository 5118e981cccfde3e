package plan

import (
	"encoding/binary"

	"github.com/planlines/server/internal/tile"
)

// MaxLineLength is the maximum number of tiles in one line.
const MaxLineLength = 256

// Line is an ordered run of map tiles drawn as connected segments.
type Line struct {
	Visible bool
	Focused bool
	Tiles   []tile.Index

	env *Env
}

func newLine(env *Env) *Line {
	return &Line{Visible: true, env: env}
}

// Clear drops every tile.
func (l *Line) Clear() {
	l.Tiles = l.Tiles[:0]
}

func (l *Line) Len() int { return len(l.Tiles) }

// AppendTile extends the line towards t. A tile that continues the last
// segment in the same direction replaces the last tile instead of adding a
// vertex. Returns false when t repeats the last tile or the line is full.
func (l *Line) AppendTile(t tile.Index) bool {
	cnt := len(l.Tiles)
	if cnt > 0 {
		last := l.Tiles[cnt-1]
		if last == t {
			return false
		}
		if cnt > 1 {
			g := l.env.layout()
			t0 := l.Tiles[cnt-2]
			x0, y0 := g.X(t0), g.Y(t0)
			x1, y1 := g.X(last), g.Y(last)
			x2, y2 := g.X(t), g.Y(t)

			if (y1-y0)*(x2-x1) == (y2-y1)*(x1-x0) &&
				abs(x2-x1) <= abs(x2-x0) && abs(y2-y1) <= abs(y2-y0) {
				l.Tiles[cnt-1] = t
				l.env.lineChanged(t0, t)
				return true
			}
		}
	}

	if cnt >= MaxLineLength {
		return false
	}
	l.Tiles = append(l.Tiles, t)
	if cnt > 0 {
		l.env.lineChanged(l.Tiles[cnt-1], t)
	}
	return true
}

func (l *Line) SetFocus(focused bool) {
	if l.Focused != focused {
		l.MarkDirty()
	}
	l.Focused = focused
}

func (l *Line) SetVisibility(visible bool) {
	if l.Visible != visible {
		l.MarkDirty()
	}
	l.Visible = visible
}

func (l *Line) ToggleVisibility() bool {
	l.SetVisibility(!l.Visible)
	return l.Visible
}

// MarkDirty requests a redraw of every segment.
func (l *Line) MarkDirty() {
	for i := 1; i < len(l.Tiles); i++ {
		l.env.lineChanged(l.Tiles[i-1], l.Tiles[i])
	}
}

// Export encodes the tiles as consecutive little-endian uint32 values.
func (l *Line) Export() []byte {
	buf := make([]byte, 0, 4*len(l.Tiles))
	for _, t := range l.Tiles {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(t))
	}
	return buf
}

// Import appends tiles decoded from an Export buffer. Trailing bytes that do
// not form a whole tile are ignored.
func (l *Line) Import(data []byte) {
	n := len(data) / 4
	if cap(l.Tiles)-len(l.Tiles) < n {
		tiles := make([]tile.Index, len(l.Tiles), len(l.Tiles)+n)
		copy(tiles, l.Tiles)
		l.Tiles = tiles
	}
	for i := 0; i < n; i++ {
		l.Tiles = append(l.Tiles, tile.Index(binary.LittleEndian.Uint32(data[4*i:])))
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
