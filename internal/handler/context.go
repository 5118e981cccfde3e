package handler

import (
	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/config"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	World    *world.State
	Queue    *command.Queue
	Sessions *net.SessionStore
	Limits   *Limits
}

// RegisterAll registers all packet handlers into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	reg.Register(packet.C_HELLO,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *wire.Reader) {
			HandleHello(sess.(*net.Session), r, deps)
		},
	)

	joined := []packet.SessionState{packet.StateJoined}

	reg.Register(packet.C_COMMAND, joined,
		func(sess any, r *wire.Reader) {
			HandleCommand(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_RESYNC, joined,
		func(sess any, r *wire.Reader) {
			HandleResync(sess.(*net.Session), r, deps)
		},
	)

	// Ping and quit are valid at any point of the session.
	always := []packet.SessionState{packet.StateHandshake, packet.StateJoined}
	reg.Register(packet.C_PING, always,
		func(sess any, r *wire.Reader) {
			HandlePing(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.C_QUIT, always,
		func(sess any, r *wire.Reader) {
			HandleQuit(sess.(*net.Session), r, deps)
		},
	)
}
