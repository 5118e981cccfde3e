// Package replica follows a server's packet stream with a local world: it
// loads the join snapshot, executes every applied command in sequence and
// checks the periodic digests.
package replica

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/wire"
	"github.com/planlines/server/internal/world"
)

var (
	ErrSequenceGap    = errors.New("replica: command sequence gap")
	ErrDigestMismatch = errors.New("replica: digest mismatch")
	ErrServerDesync   = errors.New("replica: server halted on desync")
	ErrDisconnected   = errors.New("replica: disconnected by server")
)

// Rejection is a S_COMMAND_ERROR received for one of our commands.
type Rejection struct {
	Token uint16
	Kind  command.ErrorKind
	Key   string
}

// Replica is a client-side copy of the plan state. Not safe for concurrent
// use.
type Replica struct {
	World *world.State
	d     *command.Dispatcher
	log   *zap.Logger

	Session    uint64
	Owner      plan.Owner
	Permission command.Permission

	seq    uint64
	synced bool
	snap   bytes.Buffer

	Rejections []Rejection
	Digests    int // digests checked so far
}

// New wraps w. Commands are executed without authorization; the server
// already decided them.
func New(w *world.State, log *zap.Logger) *Replica {
	if log == nil {
		log = zap.NewNop()
	}
	return &Replica{
		World: w,
		d:     command.NewDispatcher(w, nil, log),
		log:   log,
		Owner: plan.OwnerNone,
	}
}

// Seq is the sequence number of the last command applied locally.
func (r *Replica) Seq() uint64 { return r.seq }

// Synced reports whether a full snapshot has been loaded.
func (r *Replica) Synced() bool { return r.synced }

// Handle consumes one server packet. A returned error means the replica can
// no longer follow the stream and should request C_RESYNC.
func (r *Replica) Handle(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty packet")
	}
	rd := wire.NewReader(data[1:])
	switch data[0] {
	case packet.S_WELCOME:
		r.Session = rd.ReadQU()
		r.Owner = plan.Owner(rd.ReadC())
		r.Permission = command.Permission(rd.ReadC())
		rd.ReadQU() // tick, carried again by the snapshot
		rd.ReadQU()
		r.synced = false
		r.snap.Reset()
		return rd.Err()

	case packet.S_SNAPSHOT:
		total, off, piece := rd.ReadDU(), rd.ReadDU(), rd.ReadBlob()
		if err := rd.Err(); err != nil {
			return err
		}
		if int(off) != r.snap.Len() {
			return fmt.Errorf("snapshot piece at %d, have %d bytes", off, r.snap.Len())
		}
		r.snap.Write(piece)
		if r.snap.Len() < int(total) {
			return nil
		}
		return r.loadSnapshot()

	case packet.S_COMMAND_APPLIED:
		seq, tick := rd.ReadQU(), rd.ReadQU()
		rd.ReadC()
		frame := rd.ReadBlob()
		if err := rd.Err(); err != nil {
			return err
		}
		return r.apply(seq, tick, frame)

	case packet.S_DIGEST:
		tick, seq := rd.ReadQU(), rd.ReadQU()
		var want world.Digest
		copy(want[:], rd.ReadBytes(len(want)))
		if err := rd.Err(); err != nil {
			return err
		}
		return r.check(tick, seq, want)

	case packet.S_COMMAND_ERROR:
		rej := Rejection{Token: rd.ReadH(), Kind: command.ErrorKind(rd.ReadC()), Key: rd.ReadS()}
		if err := rd.Err(); err != nil {
			return err
		}
		r.Rejections = append(r.Rejections, rej)
		return nil

	case packet.S_DESYNC:
		return fmt.Errorf("%w: %s", ErrServerDesync, rd.ReadS())

	case packet.S_DISCONNECT:
		return fmt.Errorf("%w: %s", ErrDisconnected, rd.ReadS())

	default:
		// S_PLAN_LIST_CHANGED and S_PONG carry nothing the replica needs.
		return nil
	}
}

func (r *Replica) loadSnapshot() error {
	meta, err := saveload.LoadBytes(r.snap.Bytes(), r.World)
	r.snap.Reset()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	r.seq = meta.Seq
	r.synced = true
	r.World.SetViewer(r.Owner)
	r.log.Info("快照已載入",
		zap.Uint64("tick", meta.Tick),
		zap.Uint64("seq", meta.Seq),
		zap.Int("plans", meta.PlanCount),
	)
	return nil
}

func (r *Replica) apply(seq, tick uint64, frame []byte) error {
	if !r.synced || seq <= r.seq {
		return nil
	}
	if seq != r.seq+1 {
		err := fmt.Errorf("%w: got %d after %d", ErrSequenceGap, seq, r.seq)
		r.World.MarkDesynced(err)
		return err
	}
	cmd, err := command.Decode(frame)
	if err != nil {
		r.World.MarkDesynced(err)
		return err
	}
	r.World.Clock.SetTick(tick)
	if _, err := r.d.Execute(cmd); err != nil {
		return err
	}
	r.seq = seq
	return nil
}

func (r *Replica) check(tick, seq uint64, want world.Digest) error {
	if !r.synced || seq != r.seq {
		return nil
	}
	r.World.Clock.SetTick(tick)
	got := r.World.Digest()
	r.Digests++
	if got != want {
		err := fmt.Errorf("%w at tick %d: have %s, server %s", ErrDigestMismatch, tick, got, want)
		r.World.MarkDesynced(err)
		r.log.Error("狀態摘要不符", zap.Error(err))
		return err
	}
	return nil
}

// Hello builds C_HELLO.
func Hello(name string, owner plan.Owner, password string) []byte {
	w := wire.NewWriterWithOpcode(packet.C_HELLO)
	w.WriteS(name)
	w.WriteC(byte(owner))
	w.WriteS(password)
	return w.Bytes()
}

// Command builds C_COMMAND for cmd.
func Command(token uint16, cmd command.Command) []byte {
	w := wire.NewWriterWithOpcode(packet.C_COMMAND)
	w.WriteH(token)
	command.Append(w, cmd)
	return w.Bytes()
}
