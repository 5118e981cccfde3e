package event

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/tile"
)

// Notifier turns plan invalidations into bus events. Successive duplicate
// list notifications within one tick are folded into one.
type Notifier struct {
	bus      *Bus
	lastList ecs.ID
	listSeen bool
}

func NewNotifier(b *Bus) *Notifier { return &Notifier{bus: b} }

func (n *Notifier) LineChanged(from, to tile.Index) {
	Emit(n.bus, LineDirty{From: from, To: to})
}

func (n *Notifier) ListChanged(plan ecs.ID) {
	if n.listSeen && n.lastList == plan {
		return
	}
	n.listSeen, n.lastList = true, plan
	Emit(n.bus, PlanListChanged{Plan: plan})
}

// EndTick resets duplicate folding. Called when the bus swaps.
func (n *Notifier) EndTick() { n.listSeen = false }
