package system

import (
	"time"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/core/event"
	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/handler"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
)

// SessionSource delivers connection lifecycle changes to the game loop.
// *net.Server implements it.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
}

// InputSystem drains packet queues from all sessions and dispatches them
// through the packet registry. Phase 0 (Input).
type InputSystem struct {
	source     SessionSource
	registry   *packet.Registry
	store      *net.SessionStore
	limits     *handler.Limits
	bus        *event.Bus
	maxPerTick int
	log        *zap.Logger
}

func NewInputSystem(
	source SessionSource,
	registry *packet.Registry,
	store *net.SessionStore,
	limits *handler.Limits,
	bus *event.Bus,
	maxPerTick int,
	log *zap.Logger,
) *InputSystem {
	if maxPerTick <= 0 {
		maxPerTick = 32
	}
	return &InputSystem{
		source:     source,
		registry:   registry,
		store:      store,
		limits:     limits,
		bus:        bus,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.source.NewSessions():
			s.store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	// Process dead sessions
	for {
		select {
		case id := <-s.source.DeadSessions():
			s.drop(id)
		default:
			goto doneDead
		}
	}
doneDead:

	// Drain packets from each session (up to maxPerTick per session).
	// Packets still queued on a closed session are discarded: a command
	// from a client that is gone is not worth admitting.
	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() {
			s.drop(sess.ID)
			return
		}
		for i := 0; i < s.maxPerTick; i++ {
			select {
			case data := <-sess.InQueue:
				if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
					s.log.Debug("封包分派錯誤",
						zap.Uint64("session", sess.ID),
						zap.Error(err),
					)
				}
			default:
				return
			}
		}
	})
}

func (s *InputSystem) drop(id uint64) {
	if s.store.Get(id) == nil {
		return
	}
	s.store.Remove(id)
	s.limits.Forget(id)
	event.Emit(s.bus, event.SessionClosed{SessionID: id})
	s.log.Info("客戶端斷線", zap.Uint64("session", id))
}

// SessionCount returns the current number of active sessions.
func (s *InputSystem) SessionCount() int {
	return s.store.Count()
}
