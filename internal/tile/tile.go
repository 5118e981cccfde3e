package tile

import "fmt"

// Index is a map coordinate packed into 32 bits: y<<LogX | x.
type Index uint32

// Layout describes the map dimensions as powers of two.
type Layout struct {
	LogX uint `toml:"log_x" yaml:"log_x"`
	LogY uint `toml:"log_y" yaml:"log_y"`
}

// DefaultLayout is a 256x256 map.
var DefaultLayout = Layout{LogX: 8, LogY: 8}

// Validate rejects layouts that cannot be packed into 32 bits.
func (l Layout) Validate() error {
	if l.LogX < 6 || l.LogY < 6 || l.LogX+l.LogY > 32 {
		return fmt.Errorf("map layout %dx%d out of range", l.SizeX(), l.SizeY())
	}
	return nil
}

func (l Layout) SizeX() uint32 { return 1 << l.LogX }
func (l Layout) SizeY() uint32 { return 1 << l.LogY }

func (l Layout) X(t Index) int { return int(uint32(t) & (l.SizeX() - 1)) }
func (l Layout) Y(t Index) int { return int(uint32(t) >> l.LogX) }

// At packs x, y into an Index. Coordinates are not range checked.
func (l Layout) At(x, y int) Index {
	return Index(uint32(y)<<l.LogX | uint32(x))
}

// Contains reports whether t lies on the map.
func (l Layout) Contains(t Index) bool {
	return l.Y(t) < int(l.SizeY())
}
