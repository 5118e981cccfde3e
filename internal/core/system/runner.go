package system

import (
	"sort"
	"time"
)

// Runner executes systems in phase order each tick. Once halted it keeps
// running only the input and output phases: sessions are still served, but
// the simulation no longer advances and nothing is persisted.
type Runner struct {
	systems []System
	sorted  bool
	halted  error
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Halt stops simulation phases. The first reason is kept.
func (r *Runner) Halt(reason error) {
	if r.halted == nil {
		r.halted = reason
	}
}

// Halted returns the reason passed to Halt, or nil.
func (r *Runner) Halted() error { return r.halted }

func (r *Runner) Tick(dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if r.halted != nil && !servesWhileHalted(s.Phase()) {
			continue
		}
		s.Update(dt)
	}
}

// TickPhase runs only the systems of one phase, for polling input between
// full ticks.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() == phase {
			s.Update(dt)
		}
	}
}

func servesWhileHalted(p Phase) bool {
	return p == PhaseInput || p == PhaseOutput
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
