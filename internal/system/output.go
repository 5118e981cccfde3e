package system

import (
	"time"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/core/event"
	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/handler"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/world"
)

// OutputSystem dispatches this tick's events, turns plan list changes into
// packets and flushes every session. Phase 3 (Output).
type OutputSystem struct {
	store    *net.SessionStore
	bus      *event.Bus
	notifier *event.Notifier
}

func NewOutputSystem(store *net.SessionStore, bus *event.Bus, notifier *event.Notifier) *OutputSystem {
	s := &OutputSystem{store: store, bus: bus, notifier: notifier}
	event.Subscribe(bus, func(e event.PlanListChanged) {
		handler.BroadcastJoined(s.store, handler.BuildPlanListChanged(e.Plan))
	})
	return s
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.notifier.EndTick()
	s.bus.DispatchAll()
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

// DigestSystem broadcasts a state digest every interval ticks so clients
// can detect divergence. Registered before OutputSystem so the digest
// leaves in the same tick. Phase 3 (Output).
type DigestSystem struct {
	world    *world.State
	queue    *command.Queue
	store    *net.SessionStore
	interval int
	count    int
}

func NewDigestSystem(ws *world.State, q *command.Queue, store *net.SessionStore, interval int) *DigestSystem {
	return &DigestSystem{world: ws, queue: q, store: store, interval: interval}
}

func (s *DigestSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *DigestSystem) Update(_ time.Duration) {
	if s.interval <= 0 || s.world.Desynced() != nil {
		return
	}
	s.count++
	if s.count < s.interval {
		return
	}
	s.count = 0
	handler.BroadcastJoined(s.store, handler.BuildDigest(s.world.Clock.Tick(), s.queue.Seq(), s.world.Digest()))
}
