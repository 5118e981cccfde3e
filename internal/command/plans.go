package command

import (
	"encoding/binary"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

// CreatePlan allocates a new, empty plan.
type CreatePlan struct {
	Owner plan.Owner
}

func (CreatePlan) Kind() Kind { return KindCreatePlan }

func (c CreatePlan) Check(w *world.State) *Error {
	if !w.Plans.CanCreate() {
		return newError(CapacityExceeded)
	}
	return nil
}

func (c CreatePlan) Apply(w *world.State) (ecs.ID, error) {
	p, err := w.Plans.Create(c.Owner)
	if err != nil {
		return ecs.InvalidID, err
	}
	if c.Owner == w.CurrentViewer() {
		p.SetVisibility(true, true)
		w.Notify().ListChanged(ecs.InvalidID)
	}
	return p.ID, nil
}

func (c CreatePlan) Encode(wr *wire.Writer) {
	wr.WriteC(byte(c.Owner))
}

// AddLine appends a line, given as exported tiles, to a plan.
type AddLine struct {
	Plan    ecs.ID
	Count   uint32
	Payload []byte
}

func (AddLine) Kind() Kind { return KindAddLine }

func (c AddLine) Check(w *world.State) *Error {
	p, err := w.Plans.Get(c.Plan)
	if err != nil {
		return newError(InvalidHandle)
	}
	if c.Count > plan.MaxLineLength {
		return newError(TooManyPoints)
	}
	if uint64(len(c.Payload)) != 4*uint64(c.Count) {
		return newError(MalformedPayload)
	}
	// no point may repeat the one before it
	for i := 4; i < len(c.Payload); i += 4 {
		if binary.LittleEndian.Uint32(c.Payload[i:]) == binary.LittleEndian.Uint32(c.Payload[i-4:]) {
			return newError(MalformedPayload)
		}
	}
	if len(p.Lines) >= plan.MaxPlanLines {
		return newError(NoSpaceForLine)
	}
	return nil
}

func (c AddLine) Apply(w *world.State) (ecs.ID, error) {
	p, err := w.Plans.Get(c.Plan)
	if err != nil {
		return ecs.InvalidID, err
	}
	l, ok := p.NewLine()
	if !ok {
		return ecs.InvalidID, newError(NoSpaceForLine)
	}
	l.Import(c.Payload)
	if p.IsListable() {
		l.SetVisibility(p.Visible)
		if p.Visible {
			l.MarkDirty()
		}
		w.Notify().ListChanged(ecs.InvalidID)
	}
	return ecs.InvalidID, nil
}

func (c AddLine) Encode(wr *wire.Writer) {
	wr.WriteDU(uint32(c.Plan))
	wr.WriteDU(c.Count)
	wr.WriteBlob(c.Payload)
}

// ChangeVisibility sets whether a plan is shown to every viewer.
type ChangeVisibility struct {
	Plan         ecs.ID
	VisibleByAll bool
}

func (ChangeVisibility) Kind() Kind { return KindChangeVisibility }

func (c ChangeVisibility) Check(w *world.State) *Error {
	if !w.Plans.Exists(c.Plan) {
		return newError(InvalidHandle)
	}
	return nil
}

func (c ChangeVisibility) Apply(w *world.State) (ecs.ID, error) {
	p, err := w.Plans.Get(c.Plan)
	if err != nil {
		return ecs.InvalidID, err
	}
	p.VisibleByAll = c.VisibleByAll
	w.Notify().ListChanged(ecs.InvalidID)
	return ecs.InvalidID, nil
}

func (c ChangeVisibility) Encode(wr *wire.Writer) {
	wr.WriteDU(uint32(c.Plan))
	wr.WriteBool(c.VisibleByAll)
}

// RemovePlan deletes a plan and all of its lines.
type RemovePlan struct {
	Plan ecs.ID
}

func (RemovePlan) Kind() Kind { return KindRemovePlan }

func (c RemovePlan) Check(w *world.State) *Error {
	if !w.Plans.Exists(c.Plan) {
		return newError(InvalidHandle)
	}
	return nil
}

func (c RemovePlan) Apply(w *world.State) (ecs.ID, error) {
	p, err := w.Plans.Get(c.Plan)
	if err != nil {
		return ecs.InvalidID, err
	}
	if p.IsListable() {
		p.SetVisibility(false, true)
		w.Notify().ListChanged(c.Plan)
	}
	w.Selection.ClearIf(c.Plan)
	return ecs.InvalidID, w.Plans.Remove(c.Plan)
}

func (c RemovePlan) Encode(wr *wire.Writer) {
	wr.WriteDU(uint32(c.Plan))
}

// RemoveLine deletes one line of a plan; later lines move down one index.
type RemoveLine struct {
	Plan  ecs.ID
	Index uint32
}

func (RemoveLine) Kind() Kind { return KindRemoveLine }

func (c RemoveLine) Check(w *world.State) *Error {
	p, err := w.Plans.Get(c.Plan)
	if err != nil {
		return newError(InvalidHandle)
	}
	if uint64(c.Index) >= uint64(len(p.Lines)) {
		return newError(IndexOutOfRange)
	}
	return nil
}

func (c RemoveLine) Apply(w *world.State) (ecs.ID, error) {
	p, err := w.Plans.Get(c.Plan)
	if err != nil {
		return ecs.InvalidID, err
	}
	if !p.RemoveLine(int(c.Index)) {
		return ecs.InvalidID, newError(IndexOutOfRange)
	}
	if p.IsListable() {
		w.Notify().ListChanged(c.Plan)
	}
	return ecs.InvalidID, nil
}

func (c RemoveLine) Encode(wr *wire.Writer) {
	wr.WriteDU(uint32(c.Plan))
	wr.WriteDU(c.Index)
}
