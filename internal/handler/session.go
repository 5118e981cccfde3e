package handler

import (
	"go.uber.org/zap"

	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/wire"
)

// HandlePing processes C_PING. Format: [DU nonce]
func HandlePing(sess *net.Session, r *wire.Reader, deps *Deps) {
	nonce := r.ReadDU()
	if r.Err() != nil {
		return
	}
	w := wire.NewWriterWithOpcode(packet.S_PONG)
	w.WriteDU(nonce)
	w.WriteQU(deps.World.Clock.Tick())
	sess.Send(w.Bytes())
}

// HandleQuit processes C_QUIT. Cleanup happens when InputSystem sees the
// closed session.
func HandleQuit(sess *net.Session, _ *wire.Reader, deps *Deps) {
	deps.Log.Info("客戶端離開", zap.Uint64("session", sess.ID), zap.String("name", sess.Name))
	sess.Close()
}
