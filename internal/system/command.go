package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/core/event"
	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/handler"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/world"
)

// Halter stops the simulation phases. *coresys.Runner implements it.
type Halter interface {
	Halt(reason error)
}

// CommandSystem executes the commands admitted during input, in admission
// order, and announces each result. Phase 1 (Command).
type CommandSystem struct {
	world  *world.State
	queue  *command.Queue
	store  *net.SessionStore
	bus    *event.Bus
	halter Halter
	log    *zap.Logger
}

func NewCommandSystem(ws *world.State, q *command.Queue, store *net.SessionStore, bus *event.Bus, halter Halter, log *zap.Logger) *CommandSystem {
	return &CommandSystem{world: ws, queue: q, store: store, bus: bus, halter: halter, log: log}
}

func (s *CommandSystem) Phase() coresys.Phase { return coresys.PhaseCommand }

func (s *CommandSystem) Update(_ time.Duration) {
	if s.queue.Pending() == 0 {
		return
	}
	tick := s.world.Clock.Tick()
	err := s.queue.Flush(func(e command.Executed) {
		if !e.Result.Succeeded() {
			// Lost a race against an earlier command of this tick.
			if sess := s.store.Get(e.Actor.Session); sess != nil {
				sess.Send(handler.BuildCommandError(e.Token, e.Result.Err))
			}
			return
		}
		frame := command.Encode(e.Cmd)
		handler.BroadcastJoined(s.store, handler.BuildCommandApplied(e.Seq, tick, byte(e.Actor.Owner), e.Cmd))
		event.Emit(s.bus, event.CommandApplied{
			Seq:   e.Seq,
			Tick:  tick,
			Kind:  uint8(e.Cmd.Kind()),
			Owner: uint8(e.Actor.Owner),
			Frame: frame,
		})
	})
	if err != nil {
		s.log.Error("模擬已停止", zap.Uint64("tick", tick), zap.Error(err))
		s.halter.Halt(err)
		handler.BroadcastJoined(s.store, handler.BuildDesync(err.Error()))
	}
}
