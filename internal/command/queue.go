package command

import (
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/world"
)

// Callback runs on the issuing replica after its command executed.
type Callback func(w *world.State, res Result)

// SelectCreated selects the plan a successful CreatePlan produced.
func SelectCreated(w *world.State, res Result) {
	if res.Succeeded() && res.NewID.Valid() {
		w.Selection.Select(res.NewID)
	}
}

// Entry is one admitted command waiting for the next tick.
type Entry struct {
	Seq      uint64
	Actor    Actor
	Cmd      Command
	Callback Callback
	// Token is an opaque client tag echoed back with a late rejection.
	Token    uint16
}

// Executed is an entry that has been applied, along with its result.
type Executed struct {
	Entry
	Result Result
}

// Queue serializes commands into one ordered stream. Post dry-runs a
// command and admits it only when it validates; Flush then executes
// everything admitted so far, in admission order.
type Queue struct {
	d       *Dispatcher
	local   Actor
	pending []Entry
	seq     uint64
}

// NewQueue returns a queue feeding d. local is the actor used for commands
// posted through the plan.Poster methods.
func NewQueue(d *Dispatcher, local Actor) *Queue {
	local.Local = true
	return &Queue{d: d, local: local}
}

// Post validates cmd and, if it passes, admits it.
func (q *Queue) Post(actor Actor, cmd Command, cb Callback) Result {
	return q.Admit(Entry{Actor: actor, Cmd: cmd, Callback: cb})
}

// Admit is Post for a prepared entry. Its Seq is ignored.
func (q *Queue) Admit(e Entry) Result {
	res := q.d.Validate(e.Actor, e.Cmd)
	if res.Succeeded() {
		e.Seq = 0
		q.pending = append(q.pending, e)
	}
	return res
}

// Pending reports the number of admitted, not yet executed commands.
func (q *Queue) Pending() int { return len(q.pending) }

// Seq is the sequence number of the last executed command.
func (q *Queue) Seq() uint64 { return q.seq }

// SetSeq restores the sequence counter, e.g. after loading a save.
func (q *Queue) SetSeq(seq uint64) { q.seq = seq }

// Flush runs every admitted command. Each one is re-validated right before
// execution because earlier commands in the same batch may have changed the
// state; those rejected now are reported with their error and no sequence
// number. A desync aborts the flush.
func (q *Queue) Flush(fn func(Executed)) error {
	batch := q.pending
	q.pending = nil
	for _, e := range batch {
		res, err := q.d.Run(e.Actor, e.Cmd)
		if err != nil {
			return err
		}
		if res.Succeeded() {
			q.seq++
			e.Seq = q.seq
			if e.Callback != nil && e.Actor.Local {
				e.Callback(q.d.world, res)
			}
		}
		if fn != nil {
			fn(Executed{Entry: e, Result: res})
		}
	}
	return nil
}

// PostAddLine implements plan.Poster.
func (q *Queue) PostAddLine(id ecs.ID, count uint32, payload []byte) bool {
	return q.Post(q.local, AddLine{Plan: id, Count: count, Payload: payload}, nil).Succeeded()
}

// PostChangeVisibility implements plan.Poster.
func (q *Queue) PostChangeVisibility(id ecs.ID, visibleByAll bool) bool {
	return q.Post(q.local, ChangeVisibility{Plan: id, VisibleByAll: visibleByAll}, nil).Succeeded()
}

// PostCreatePlan creates a plan for the local actor and selects it once
// created.
func (q *Queue) PostCreatePlan() Result {
	return q.Post(q.local, CreatePlan{Owner: q.local.Owner}, SelectCreated)
}
