package world

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/tile"
)

// Options configures a replica.
type Options struct {
	Layout      tile.Layout
	MaxPlans    int
	TicksPerDay int
	// Viewer is the owner this replica displays plans for. A dedicated
	// server uses plan.OwnerNone.
	Viewer plan.Owner
	Notify plan.Invalidator
}

// State is one replica of the shared plan simulation. It is owned by the
// game loop goroutine; nothing here is safe for concurrent use.
type State struct {
	Plans     *plan.Store
	Selection Selection
	Clock     *Clock

	viewer   plan.Owner
	desynced error
}

func NewState(opts Options) *State {
	if opts.Layout == (tile.Layout{}) {
		opts.Layout = tile.DefaultLayout
	}
	if opts.Notify == nil {
		opts.Notify = plan.NopInvalidator{}
	}
	clock := NewClock(opts.TicksPerDay)
	s := &State{Clock: clock, viewer: opts.Viewer}
	env := &plan.Env{
		Layout: opts.Layout,
		Notify: opts.Notify,
		Viewer: s,
		Clock:  clock,
	}
	s.Plans = plan.NewStore(opts.MaxPlans, env)
	s.Selection.plans = s.Plans
	return s
}

// CurrentViewer implements plan.Viewer.
func (s *State) CurrentViewer() plan.Owner { return s.viewer }

// SetViewer switches the local viewer, e.g. when a client joins a company.
func (s *State) SetViewer(o plan.Owner) {
	s.viewer = o
	s.Plans.Env().Notify.ListChanged(ecs.InvalidID)
}

func (s *State) Env() *plan.Env { return s.Plans.Env() }

// Notify returns the replica's invalidation sink.
func (s *State) Notify() plan.Invalidator { return s.Plans.Env().Notify }

// MarkDesynced records a fatal consistency violation. The first one wins.
func (s *State) MarkDesynced(err error) {
	if s.desynced == nil {
		s.desynced = err
	}
}

// Desynced returns the recorded consistency violation, or nil.
func (s *State) Desynced() error { return s.desynced }

// CommitScratchLine commits the scratch line of the selected plan.
func (s *State) CommitScratchLine(post plan.Poster) bool {
	p, ok := s.Selection.Current()
	if !ok {
		return false
	}
	return p.CommitScratchLine(post)
}

// Reset empties the replica but keeps the clock. It also forgets a recorded
// desync, since recovery means loading a fresh snapshot.
func (s *State) Reset() {
	s.Plans.Reset()
	s.Selection.Clear()
	s.desynced = nil
}
