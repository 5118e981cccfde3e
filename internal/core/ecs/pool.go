package ecs

import "iter"

// GrowthStep is the number of slots added each time a pool grows.
const GrowthStep = 16

// Pool is a fixed-capacity slot allocator. Slots are handed out lowest-free
// first so that replicas replaying the same commands assign the same ids.
// Single-goroutine access only (game loop).
type Pool[T any] struct {
	items     []*T
	firstFree int // no free slot exists below this index
	count     int
	max       int
}

// NewPool creates a pool that holds at most max entities.
func NewPool[T any](max int) *Pool[T] {
	if max <= 0 || max > int(InvalidID) {
		panic("ecs: pool capacity out of range")
	}
	return &Pool[T]{max: max}
}

// Cap returns the fixed maximum number of live entities.
func (p *Pool[T]) Cap() int { return p.max }

// Len returns the number of live entities.
func (p *Pool[T]) Len() int { return p.count }

// CanAllocate reports whether Allocate would succeed.
func (p *Pool[T]) CanAllocate() bool { return p.count < p.max }

// Allocate stores v in the lowest free slot and returns its id.
func (p *Pool[T]) Allocate(v *T) (ID, error) {
	if v == nil {
		panic("ecs: allocate nil entity")
	}
	if !p.CanAllocate() {
		return InvalidID, ErrCapacityExceeded
	}
	idx := p.firstFree
	for idx < len(p.items) && p.items[idx] != nil {
		idx++
	}
	if idx == len(p.items) {
		p.grow(idx + 1)
	}
	p.items[idx] = v
	p.firstFree = idx + 1
	p.count++
	return ID(idx), nil
}

// AllocateAt places v at an exact slot. Used when restoring saved entities,
// which must keep the ids they were saved with.
func (p *Pool[T]) AllocateAt(id ID, v *T) error {
	if v == nil {
		panic("ecs: allocate nil entity")
	}
	idx := int(id)
	if id == InvalidID || idx >= p.max {
		return ErrInvalidHandle
	}
	if idx >= len(p.items) {
		p.grow(idx + 1)
	}
	if p.items[idx] != nil {
		return ErrInvalidHandle
	}
	p.items[idx] = v
	p.count++
	if idx == p.firstFree {
		p.firstFree++
	}
	return nil
}

// Get returns the live entity for id.
func (p *Pool[T]) Get(id ID) (*T, error) {
	idx := int(id)
	if id == InvalidID || idx >= len(p.items) || p.items[idx] == nil {
		return nil, ErrInvalidHandle
	}
	return p.items[idx], nil
}

// IsValid reports whether id denotes a live entity.
func (p *Pool[T]) IsValid(id ID) bool {
	_, err := p.Get(id)
	return err == nil
}

// Release frees the slot of id for future reuse.
func (p *Pool[T]) Release(id ID) error {
	if !p.IsValid(id) {
		return ErrInvalidHandle
	}
	idx := int(id)
	p.items[idx] = nil
	p.count--
	if idx < p.firstFree {
		p.firstFree = idx
	}
	return nil
}

// Iterate yields live entities in ascending id order. The sequence is lazy
// and may be ranged over any number of times.
func (p *Pool[T]) Iterate() iter.Seq2[ID, *T] {
	return func(yield func(ID, *T) bool) {
		for idx := 0; idx < len(p.items); idx++ {
			v := p.items[idx]
			if v == nil {
				continue
			}
			if !yield(ID(idx), v) {
				return
			}
		}
	}
}

// Clear releases every entity and shrinks the pool back to zero slots.
func (p *Pool[T]) Clear() {
	p.items = nil
	p.firstFree = 0
	p.count = 0
}

// grow extends the backing slice to hold at least n slots, in whole blocks.
func (p *Pool[T]) grow(n int) {
	size := (n + GrowthStep - 1) / GrowthStep * GrowthStep
	if size > p.max {
		size = p.max
	}
	if size <= len(p.items) {
		return
	}
	items := make([]*T, size)
	copy(items, p.items)
	p.items = items
}
