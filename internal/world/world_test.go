package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/tile"
)

func TestClockDate(t *testing.T) {
	c := NewClock(10)
	for i := 0; i < 25; i++ {
		c.Advance()
	}
	assert.Equal(t, uint64(25), c.Tick())
	assert.Equal(t, int32(2), c.Date())
}

func TestSelectionGoesStale(t *testing.T) {
	s := NewState(Options{Viewer: 1})
	p, err := s.Plans.Create(1)
	require.NoError(t, err)

	s.Selection.Select(p.ID)
	cur, ok := s.Selection.Current()
	require.True(t, ok)
	assert.Same(t, p, cur)

	require.NoError(t, s.Plans.Remove(p.ID))
	_, ok = s.Selection.Current()
	assert.False(t, ok)
	_, ok = s.Selection.ID()
	assert.False(t, ok)
}

func TestSelectionClearIf(t *testing.T) {
	var sel Selection
	sel.Select(4)
	assert.False(t, sel.ClearIf(5))
	assert.True(t, sel.ClearIf(4))
	_, ok := sel.ID()
	assert.False(t, ok)
}

func TestDigestIgnoresDisplayState(t *testing.T) {
	a := NewState(Options{Viewer: 1})
	b := NewState(Options{Viewer: 2})
	for _, s := range []*State{a, b} {
		p, err := s.Plans.Create(1)
		require.NoError(t, err)
		l, _ := p.NewLine()
		l.Tiles = []tile.Index{10, 20, 30}
	}
	pa, _ := a.Plans.Get(0)
	pa.SetVisibility(true, true)
	pa.StoreScratchTile(99)

	assert.Equal(t, a.Digest(), b.Digest())

	pb, _ := b.Plans.Get(0)
	pb.VisibleByAll = true
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestDesyncFirstErrorWins(t *testing.T) {
	s := NewState(Options{Viewer: plan.OwnerNone})
	assert.NoError(t, s.Desynced())
	s.MarkDesynced(assert.AnError)
	s.MarkDesynced(nil)
	assert.ErrorIs(t, s.Desynced(), assert.AnError)
}

func TestResetForgetsDesync(t *testing.T) {
	s := NewState(Options{})
	s.MarkDesynced(assert.AnError)
	s.Clock.SetTick(40)
	s.Reset()
	assert.NoError(t, s.Desynced())
	assert.Equal(t, uint64(40), s.Clock.Tick())
}
