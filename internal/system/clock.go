package system

import (
	"time"

	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/world"
)

// ClockSystem advances the simulation clock once per tick. Phase 2.
type ClockSystem struct {
	world *world.State
}

func NewClockSystem(ws *world.State) *ClockSystem { return &ClockSystem{world: ws} }

func (s *ClockSystem) Phase() coresys.Phase { return coresys.PhaseClock }

func (s *ClockSystem) Update(_ time.Duration) { s.world.Clock.Advance() }
