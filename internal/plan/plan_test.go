package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/tile"
)

type fixedDate int32

func (d fixedDate) Date() int32 { return int32(d) }

type posted struct {
	plan    ecs.ID
	count   uint32
	payload []byte
	vis     []bool
}

func (p *posted) PostAddLine(plan ecs.ID, count uint32, payload []byte) bool {
	p.plan, p.count, p.payload = plan, count, payload
	return true
}

func (p *posted) PostChangeVisibility(plan ecs.ID, v bool) bool {
	p.plan = plan
	p.vis = append(p.vis, v)
	return true
}

func TestStoreCreateStampsDate(t *testing.T) {
	env, _ := testEnv()
	env.Clock = fixedDate(731)
	s := NewStore(8, env)

	p, err := s.Create(3)
	require.NoError(t, err)
	assert.Equal(t, ecs.ID(0), p.ID)
	assert.Equal(t, int32(731), p.CreationDate)
	assert.Equal(t, Owner(3), p.Owner)
	assert.NotNil(t, p.Scratch)
	assert.False(t, p.Visible)
}

func TestStoreRemoveReusesID(t *testing.T) {
	env, _ := testEnv()
	s := NewStore(8, env)
	for i := 0; i < 4; i++ {
		_, err := s.Create(1)
		require.NoError(t, err)
	}
	require.NoError(t, s.Remove(2))
	assert.False(t, s.Exists(2))
	assert.ErrorIs(t, s.Remove(2), ecs.ErrInvalidHandle)

	p, err := s.Create(1)
	require.NoError(t, err)
	assert.Equal(t, ecs.ID(2), p.ID)
}

func TestPlanSetVisibilityIdempotent(t *testing.T) {
	env, rec := testEnv()
	s := NewStore(8, env)
	p, err := s.Create(1)
	require.NoError(t, err)
	l, ok := p.NewLine()
	require.True(t, ok)
	l.Tiles = []tile.Index{wide.At(1, 1), wide.At(1, 9)}
	l.Visible = false

	p.SetVisibility(true, true)
	p.SetVisibility(true, true)
	assert.Len(t, rec.segments, 1)
	assert.True(t, p.Visible)
	assert.True(t, l.Visible)

	p.SetVisibility(false, false)
	assert.False(t, p.Visible)
	assert.True(t, l.Visible)
}

func TestPlanListable(t *testing.T) {
	env, _ := testEnv()
	s := NewStore(8, env)
	mine, _ := s.Create(1)
	theirs, _ := s.Create(2)

	assert.True(t, mine.IsListable())
	assert.False(t, mine.IsVisible())
	mine.Visible = true
	assert.True(t, mine.IsVisible())

	theirs.Visible = true
	assert.False(t, theirs.IsListable())
	assert.False(t, theirs.IsVisible())
	theirs.VisibleByAll = true
	assert.True(t, theirs.IsVisible())
}

func TestPlanRemoveLineKeepsIndicesDense(t *testing.T) {
	env, _ := testEnv()
	s := NewStore(8, env)
	p, _ := s.Create(1)
	for i := 0; i < 3; i++ {
		l, ok := p.NewLine()
		require.True(t, ok)
		l.Tiles = []tile.Index{tile.Index(i)}
	}

	require.True(t, p.RemoveLine(1))
	require.Len(t, p.Lines, 2)
	assert.Equal(t, []tile.Index{0}, p.Lines[0].Tiles)
	assert.Equal(t, []tile.Index{2}, p.Lines[1].Tiles)
	assert.False(t, p.RemoveLine(2))
}

func TestCommitScratchLine(t *testing.T) {
	env, _ := testEnv()
	s := NewStore(8, env)
	p, _ := s.Create(1)
	post := &posted{}

	p.StoreScratchTile(wide.At(0, 0))
	assert.False(t, p.CommitScratchLine(post))
	assert.Zero(t, p.Scratch.Len())

	p.StoreScratchTile(wide.At(0, 0))
	p.StoreScratchTile(wide.At(0, 6))
	p.StoreScratchTile(wide.At(3, 6))
	assert.True(t, p.CommitScratchLine(post))
	assert.Equal(t, p.ID, post.plan)
	assert.Equal(t, uint32(3), post.count)
	assert.Len(t, post.payload, 12)
	assert.True(t, p.Visible)
	assert.Zero(t, p.Scratch.Len())
}

func TestToggleVisibilityByAllOwnerOnly(t *testing.T) {
	env, _ := testEnv()
	s := NewStore(8, env)
	mine, _ := s.Create(1)
	theirs, _ := s.Create(2)
	post := &posted{}

	mine.ToggleVisibilityByAll(post)
	theirs.ToggleVisibilityByAll(post)
	assert.Equal(t, []bool{true}, post.vis)
	assert.Equal(t, mine.ID, post.plan)
}
