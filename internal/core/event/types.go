package event

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/tile"
)

// LineDirty asks viewers to redraw the segment between two tiles.
type LineDirty struct {
	From, To tile.Index
}

// PlanListChanged reports a change in the plan list. Plan is ecs.InvalidID
// when the change is not tied to a single plan.
type PlanListChanged struct {
	Plan ecs.ID
}

// CommandApplied is emitted for every executed command.
type CommandApplied struct {
	Seq   uint64
	Tick  uint64
	Kind  uint8
	Owner uint8
	Frame []byte
}

// SessionClosed is emitted when a client connection goes away.
type SessionClosed struct {
	SessionID uint64
}
