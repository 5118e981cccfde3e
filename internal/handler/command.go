package handler

import (
	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/wire"
)

// HandleCommand processes C_COMMAND.
// Format: [H client token][C kind][H version][params]
// Accepted commands wait in the queue until the command phase; rejections
// are answered right away.
func HandleCommand(sess *net.Session, r *wire.Reader, deps *Deps) {
	token := r.ReadH()
	if err := r.Err(); err != nil {
		deps.Log.Debug("指令封包過短", zap.Uint64("session", sess.ID))
		return
	}
	cmd, err := command.Decode(r.ReadBytes(r.Remaining()))
	if err != nil {
		deps.Log.Debug("指令封包無法解析", zap.Uint64("session", sess.ID), zap.Error(err))
		sendCommandError(sess, token, command.ErrorFromKind(command.MalformedPayload))
		return
	}

	if err := deps.World.Desynced(); err != nil {
		sess.Send(BuildDesync(err.Error()))
		return
	}
	if !deps.Limits.AllowCommand(sess.ID) {
		deps.Log.Warn("指令速率超限", zap.Uint64("session", sess.ID))
		sendCommandError(sess, token, command.ErrorFromKind(command.NotAuthorized))
		return
	}

	res := deps.Queue.Admit(command.Entry{Actor: sess.Actor(), Cmd: cmd, Token: token})
	if !res.Succeeded() {
		sendCommandError(sess, token, res.Err)
	}
}
