package plan

import (
	"iter"

	"github.com/planlines/server/internal/core/ecs"
)

// MaxPlans is the default plan pool capacity.
const MaxPlans = 64000

// Store owns every plan of one replica.
type Store struct {
	pool *ecs.Pool[Plan]
	env  *Env
}

func NewStore(max int, env *Env) *Store {
	if max <= 0 {
		max = MaxPlans
	}
	return &Store{pool: ecs.NewPool[Plan](max), env: env}
}

func (s *Store) Env() *Env { return s.env }

func (s *Store) CanCreate() bool { return s.pool.CanAllocate() }

func (s *Store) Len() int { return s.pool.Len() }

func (s *Store) Cap() int { return s.pool.Cap() }

// Create allocates a plan for owner, dated from the replica clock.
func (s *Store) Create(owner Owner) (*Plan, error) {
	p := newPlan(owner, s.env)
	id, err := s.pool.Allocate(p)
	if err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

// Restore places a loaded plan at its saved id.
func (s *Store) Restore(id ecs.ID, owner Owner) (*Plan, error) {
	p := newPlan(owner, s.env)
	if err := s.pool.AllocateAt(id, p); err != nil {
		return nil, err
	}
	p.ID = id
	return p, nil
}

func (s *Store) Get(id ecs.ID) (*Plan, error) {
	return s.pool.Get(id)
}

func (s *Store) Exists(id ecs.ID) bool {
	return s.pool.IsValid(id)
}

// Remove releases the plan's slot. The id may be reused by the next Create.
func (s *Store) Remove(id ecs.ID) error {
	p, err := s.pool.Get(id)
	if err != nil {
		return err
	}
	if err := s.pool.Release(id); err != nil {
		return err
	}
	p.ID = ecs.InvalidID
	return nil
}

// All yields live plans in ascending id order.
func (s *Store) All() iter.Seq2[ecs.ID, *Plan] {
	return s.pool.Iterate()
}

// Reset drops every plan.
func (s *Store) Reset() {
	s.pool.Clear()
}
