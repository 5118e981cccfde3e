package handler

import (
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/wire"
)

// snapshotPiece bounds one S_SNAPSHOT payload so it fits a frame.
const snapshotPiece = 60000

// HandleHello processes C_HELLO.
// Format: [S name][C owner][S admin password, may be empty]
func HandleHello(sess *net.Session, r *wire.Reader, deps *Deps) {
	name := strings.TrimSpace(r.ReadS())
	owner := plan.Owner(r.ReadC())
	password := r.ReadS()
	if err := r.Err(); err != nil {
		deps.Log.Warn("C_HELLO 格式錯誤", zap.Uint64("session", sess.ID), zap.Error(err))
		sess.Close()
		return
	}

	if !deps.Limits.AllowHello(sess.IP) {
		deps.Log.Warn("加入頻率超限", zap.String("ip", sess.IP))
		sendDisconnect(sess, "too many join attempts")
		return
	}

	perm, ok := resolvePermission(owner, password, deps.Config.Server.AdminPasswordHash)
	if !ok {
		deps.Log.Warn("加入被拒",
			zap.Uint64("session", sess.ID),
			zap.String("name", name),
			zap.Uint8("owner", uint8(owner)),
		)
		sendDisconnect(sess, "not allowed")
		return
	}

	sess.Name = name
	sess.Owner = owner
	sess.Permission = perm
	if err := sendSnapshot(sess, deps); err != nil {
		deps.Log.Error("快照建立失敗", zap.Error(err))
		sendDisconnect(sess, "snapshot failed")
		return
	}
	sess.SetState(packet.StateJoined)

	deps.Log.Info("客戶端加入",
		zap.Uint64("session", sess.ID),
		zap.String("name", name),
		zap.Uint8("owner", uint8(owner)),
		zap.Stringer("perm", perm),
	)
}

// resolvePermission maps a join request to the permission its session acts
// with. A password, when given, must match the admin hash.
func resolvePermission(owner plan.Owner, password, hash string) (command.Permission, bool) {
	if owner >= plan.OwnerDeity && owner != plan.OwnerDeity && owner != plan.OwnerNone {
		return 0, false
	}
	if password != "" {
		if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
			return 0, false
		}
		return command.PermDeity, true
	}
	switch owner {
	case plan.OwnerNone:
		return command.PermAny, true
	case plan.OwnerDeity:
		return 0, false
	default:
		return command.PermCompany, true
	}
}

// sendSnapshot sends S_WELCOME followed by the current state as a save
// stream split into S_SNAPSHOT pieces. Commands executed after this point
// reach the session as S_COMMAND_APPLIED.
func sendSnapshot(sess *net.Session, deps *Deps) error {
	c, err := saveload.ParseCompression(deps.Config.Save.Compression)
	if err != nil {
		return err
	}
	data, err := saveload.SaveBytes(deps.World, saveload.Options{
		Compression: c,
		Seq:         deps.Queue.Seq(),
		Server:      deps.Config.Server.Name,
	})
	if err != nil {
		return err
	}

	w := wire.NewWriterWithOpcode(packet.S_WELCOME)
	w.WriteQU(sess.ID)
	w.WriteC(byte(sess.Owner))
	w.WriteC(byte(sess.Permission))
	w.WriteQU(deps.World.Clock.Tick())
	w.WriteQU(deps.Queue.Seq())
	sess.Send(w.Bytes())

	for off := 0; off < len(data); off += snapshotPiece {
		end := min(off+snapshotPiece, len(data))
		sess.Send(BuildSnapshotPiece(uint32(len(data)), uint32(off), data[off:end]))
	}
	return nil
}

// BuildSnapshotPiece builds one S_SNAPSHOT packet.
// Format: [DU total length][DU offset][blob piece]
func BuildSnapshotPiece(total, off uint32, piece []byte) []byte {
	w := wire.NewWriterWithOpcode(packet.S_SNAPSHOT)
	w.WriteDU(total)
	w.WriteDU(off)
	w.WriteBlob(piece)
	return w.Bytes()
}

// HandleResync processes C_RESYNC: the client lost sync and wants the
// state again.
func HandleResync(sess *net.Session, _ *wire.Reader, deps *Deps) {
	deps.Log.Info("客戶端要求重新同步", zap.Uint64("session", sess.ID))
	if err := sendSnapshot(sess, deps); err != nil {
		deps.Log.Error("快照建立失敗", zap.Error(err))
		sendDisconnect(sess, "snapshot failed")
	}
}
