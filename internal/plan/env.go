package plan

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/tile"
)

// Owner identifies the company (or other party) a plan belongs to.
type Owner uint8

const (
	OwnerDeity Owner = 0x12
	OwnerNone  Owner = 0xFF
)

// Invalidator receives redraw notifications. Calls are fire-and-forget and
// nothing in this package depends on them for correctness.
type Invalidator interface {
	LineChanged(from, to tile.Index)
	// ListChanged reports a change to the plan list; plan is ecs.InvalidID
	// when the change is not tied to one plan.
	ListChanged(plan ecs.ID)
}

// Viewer reports the owner on whose behalf this replica displays plans.
type Viewer interface {
	CurrentViewer() Owner
}

// Clock is the replicated simulation date, consulted at plan creation.
type Clock interface {
	Date() int32
}

// LocalViewer is a fixed Viewer.
type LocalViewer Owner

func (v LocalViewer) CurrentViewer() Owner { return Owner(v) }

// NopInvalidator drops every notification.
type NopInvalidator struct{}

func (NopInvalidator) LineChanged(tile.Index, tile.Index) {}
func (NopInvalidator) ListChanged(ecs.ID)                 {}

// Env bundles the collaborators a replica hands to its plans and lines.
type Env struct {
	Layout tile.Layout
	Notify Invalidator
	Viewer Viewer
	Clock  Clock
}

func (e *Env) viewer() Owner {
	if e == nil || e.Viewer == nil {
		return OwnerNone
	}
	return e.Viewer.CurrentViewer()
}

func (e *Env) lineChanged(from, to tile.Index) {
	if e != nil && e.Notify != nil {
		e.Notify.LineChanged(from, to)
	}
}

func (e *Env) listChanged(id ecs.ID) {
	if e != nil && e.Notify != nil {
		e.Notify.ListChanged(id)
	}
}

func (e *Env) date() int32 {
	if e == nil || e.Clock == nil {
		return 0
	}
	return e.Clock.Date()
}

func (e *Env) layout() tile.Layout {
	if e == nil {
		return tile.DefaultLayout
	}
	return e.Layout
}
