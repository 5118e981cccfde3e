package plan

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/tile"
)

// MaxPlanLines bounds the lines of one plan to the 16-bit line index space
// used by the legacy save layout.
const MaxPlanLines = 1 << 16

// Poster submits commands on behalf of the local viewer. Implementations
// dry-run the command and report whether it was accepted for execution.
type Poster interface {
	PostAddLine(plan ecs.ID, count uint32, payload []byte) bool
	PostChangeVisibility(plan ecs.ID, visibleByAll bool) bool
}

// Plan is a pooled set of lines drawn by one owner.
type Plan struct {
	ID           ecs.ID
	Owner        Owner
	Visible      bool
	VisibleByAll bool
	ShowLines    bool
	CreationDate int32
	Lines        []*Line

	// Scratch accumulates tiles while the viewer drags a new line. It is
	// never persisted or replicated.
	Scratch *Line

	env *Env
}

func newPlan(owner Owner, env *Env) *Plan {
	return &Plan{
		ID:           ecs.InvalidID,
		Owner:        owner,
		CreationDate: env.date(),
		Scratch:      newLine(env),
		env:          env,
	}
}

func (p *Plan) SetFocus(focused bool) {
	for _, l := range p.Lines {
		l.SetFocus(focused)
	}
}

// SetVisibility sets the plan's own visibility and, with cascade, that of
// every line.
func (p *Plan) SetVisibility(visible, cascade bool) {
	p.Visible = visible
	if !cascade {
		return
	}
	for _, l := range p.Lines {
		l.SetVisibility(visible)
	}
}

func (p *Plan) ToggleVisibility() bool {
	p.SetVisibility(!p.Visible, true)
	return p.Visible
}

// NewLine appends an empty line. Returns false once MaxPlanLines is reached.
func (p *Plan) NewLine() (*Line, bool) {
	if len(p.Lines) >= MaxPlanLines {
		return nil, false
	}
	l := newLine(p.env)
	p.Lines = append(p.Lines, l)
	return l, true
}

// RemoveLine deletes line i and shifts the following lines down.
func (p *Plan) RemoveLine(i int) bool {
	if i < 0 || i >= len(p.Lines) {
		return false
	}
	p.Lines[i].SetVisibility(false)
	copy(p.Lines[i:], p.Lines[i+1:])
	p.Lines[len(p.Lines)-1] = nil
	p.Lines = p.Lines[:len(p.Lines)-1]
	return true
}

func (p *Plan) StoreScratchTile(t tile.Index) bool {
	return p.Scratch.AppendTile(t)
}

// CommitScratchLine posts the scratch line as a new line of this plan when
// it has at least two tiles. The scratch line is redrawn and cleared either
// way. Returns whether a command was posted.
func (p *Plan) CommitScratchLine(post Poster) bool {
	posted := false
	if p.Scratch.Len() > 1 {
		p.SetVisibility(true, false)
		posted = post.PostAddLine(p.ID, uint32(p.Scratch.Len()), p.Scratch.Export())
	}
	p.Scratch.MarkDirty()
	p.Scratch.Clear()
	return posted
}

// IsListable reports whether the local viewer may see this plan in lists.
// Advisory only, not an access check.
func (p *Plan) IsListable() bool {
	return p.Owner == p.env.viewer() || p.VisibleByAll
}

func (p *Plan) IsVisible() bool {
	return p.IsListable() && p.Visible
}

// ToggleVisibilityByAll asks to flip VisibleByAll. Only the owner may ask;
// the flag changes when the command executes.
func (p *Plan) ToggleVisibilityByAll(post Poster) bool {
	if p.Owner == p.env.viewer() {
		post.PostChangeVisibility(p.ID, !p.VisibleByAll)
	}
	return p.VisibleByAll
}
