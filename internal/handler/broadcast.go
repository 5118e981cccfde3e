package handler

import (
	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

// BroadcastJoined buffers data for every session that finished its hello.
func BroadcastJoined(store *net.SessionStore, data []byte) {
	store.ForEach(func(s *net.Session) {
		if s.State() == packet.StateJoined {
			s.Send(data)
		}
	})
}

// BuildCommandApplied builds S_COMMAND_APPLIED for one executed command.
func BuildCommandApplied(seq, tick uint64, owner byte, cmd command.Command) []byte {
	w := wire.NewWriterWithOpcode(packet.S_COMMAND_APPLIED)
	w.WriteQU(seq)
	w.WriteQU(tick)
	w.WriteC(owner)
	w.WriteBlob(command.Encode(cmd))
	return w.Bytes()
}

// BuildPlanListChanged builds S_PLAN_LIST_CHANGED. ecs.InvalidID goes out
// as 0xFFFFFFFF, a change not tied to one plan.
func BuildPlanListChanged(plan ecs.ID) []byte {
	w := wire.NewWriterWithOpcode(packet.S_PLAN_LIST_CHANGED)
	w.WriteDU(uint32(plan))
	return w.Bytes()
}

// BuildDigest builds S_DIGEST.
func BuildDigest(tick, seq uint64, d world.Digest) []byte {
	w := wire.NewWriterWithOpcode(packet.S_DIGEST)
	w.WriteQU(tick)
	w.WriteQU(seq)
	w.WriteBytes(d[:])
	return w.Bytes()
}

// BuildDesync builds S_DESYNC.
func BuildDesync(reason string) []byte {
	w := wire.NewWriterWithOpcode(packet.S_DESYNC)
	w.WriteS(reason)
	return w.Bytes()
}

// sendCommandError sends S_COMMAND_ERROR.
func sendCommandError(sess *net.Session, token uint16, e *command.Error) {
	sess.Send(BuildCommandError(token, e))
}

// BuildCommandError builds S_COMMAND_ERROR.
func BuildCommandError(token uint16, e *command.Error) []byte {
	w := wire.NewWriterWithOpcode(packet.S_COMMAND_ERROR)
	w.WriteH(token)
	w.WriteC(byte(e.Kind))
	w.WriteS(e.MessageKey)
	return w.Bytes()
}

// sendDisconnect sends S_DISCONNECT and closes the session once it is out.
func sendDisconnect(sess *net.Session, reason string) {
	w := wire.NewWriterWithOpcode(packet.S_DISCONNECT)
	w.WriteS(reason)
	sess.Send(w.Bytes())
	sess.CloseAfterFlush()
}
