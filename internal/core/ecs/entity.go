package ecs

import (
	"errors"
	"fmt"
)

// ID is a pooled entity identity. It is unique among live entities of one
// pool and may be handed out again after the entity is released.
type ID uint32

// InvalidID is never assigned to a live entity.
const InvalidID ID = 0xFFFFFFFF

func (id ID) Valid() bool { return id != InvalidID }

func (id ID) String() string {
	if id == InvalidID {
		return "ID(invalid)"
	}
	return fmt.Sprintf("ID(%d)", uint32(id))
}

var (
	// ErrCapacityExceeded is returned when a pool has no free slot left.
	ErrCapacityExceeded = errors.New("pool capacity exceeded")
	// ErrInvalidHandle is returned for ids that do not denote a live entity.
	ErrInvalidHandle = errors.New("invalid entity handle")
)
