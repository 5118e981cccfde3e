package world

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
)

// Selection is the replica's "current plan". It holds an id, not the plan,
// and may go stale; every lookup checks that the plan still exists.
type Selection struct {
	id    ecs.ID
	set   bool
	plans *plan.Store
}

// Select makes id the current plan.
func (s *Selection) Select(id ecs.ID) {
	s.id, s.set = id, true
}

func (s *Selection) ID() (ecs.ID, bool) {
	if !s.set {
		return ecs.InvalidID, false
	}
	return s.id, true
}

// Current resolves the selected plan, dropping a stale selection.
func (s *Selection) Current() (*plan.Plan, bool) {
	if !s.set {
		return nil, false
	}
	p, err := s.plans.Get(s.id)
	if err != nil {
		s.Clear()
		return nil, false
	}
	return p, true
}

func (s *Selection) Clear() {
	s.id, s.set = ecs.InvalidID, false
}

// ClearIf drops the selection when it refers to id.
func (s *Selection) ClearIf(id ecs.ID) bool {
	if s.set && s.id == id {
		s.Clear()
		return true
	}
	return false
}
