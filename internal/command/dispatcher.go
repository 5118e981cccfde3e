package command

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/world"
)

// Authorizer decides whether actor may issue cmd at all. It runs before the
// command's own checks and only on the replica that admits commands.
type Authorizer interface {
	Authorize(actor Actor, tr Traits, cmd Command) bool
}

// PermissionAuthorizer admits an actor whose permission meets the command's.
type PermissionAuthorizer struct{}

func (PermissionAuthorizer) Authorize(actor Actor, tr Traits, _ Command) bool {
	return actor.Permission >= tr.Permission
}

// Dispatcher runs commands against one replica in two phases: Validate is a
// pure dry run, Execute mutates.
type Dispatcher struct {
	world *world.State
	auth  Authorizer
	log   *zap.Logger
}

func NewDispatcher(w *world.State, auth Authorizer, log *zap.Logger) *Dispatcher {
	if auth == nil {
		auth = PermissionAuthorizer{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{world: w, auth: auth, log: log}
}

func (d *Dispatcher) World() *world.State { return d.world }

// Validate authorizes and checks cmd without touching state.
func (d *Dispatcher) Validate(actor Actor, cmd Command) Result {
	tr, ok := TraitsOf(cmd.Kind())
	if !ok {
		return Result{Err: newError(MalformedPayload), NewID: ecs.InvalidID}
	}
	res := Result{Cost: Cost{Category: tr.Category}, NewID: ecs.InvalidID}
	if !d.auth.Authorize(actor, tr, cmd) {
		res.Err = newError(NotAuthorized)
		d.log.Debug("指令未授權",
			zap.String("cmd", tr.Name),
			zap.Uint8("owner", uint8(actor.Owner)),
			zap.Stringer("perm", actor.Permission),
		)
		return res
	}
	if e := cmd.Check(d.world); e != nil {
		res.Err = e
		d.log.Debug("指令驗證失敗",
			zap.String("cmd", tr.Name),
			zap.String("reason", e.MessageKey),
		)
	}
	return res
}

// Execute applies cmd. The command must already have passed Validate
// against the same state; a failing re-check here means the replicas have
// diverged, so the world is flagged and ErrDesync returned.
func (d *Dispatcher) Execute(cmd Command) (Result, error) {
	if err := d.world.Desynced(); err != nil {
		return Result{NewID: ecs.InvalidID}, err
	}
	tr, ok := TraitsOf(cmd.Kind())
	if !ok {
		return d.desync(cmd, fmt.Errorf("unknown command kind %d", cmd.Kind()))
	}
	res := Result{Cost: Cost{Category: tr.Category}, NewID: ecs.InvalidID}
	if e := cmd.Check(d.world); e != nil {
		return d.desync(cmd, e)
	}
	id, err := cmd.Apply(d.world)
	if err != nil {
		return d.desync(cmd, err)
	}
	res.NewID = id
	return res, nil
}

// Run validates and, on success, immediately executes cmd. Nothing can run
// between the two phases, so a validation failure is an ordinary rejection.
func (d *Dispatcher) Run(actor Actor, cmd Command) (Result, error) {
	res := d.Validate(actor, cmd)
	if !res.Succeeded() {
		return res, nil
	}
	return d.Execute(cmd)
}

func (d *Dispatcher) desync(cmd Command, cause error) (Result, error) {
	err := fmt.Errorf("%w: %s: %v", ErrDesync, cmd.Kind(), cause)
	d.world.MarkDesynced(err)
	d.log.Error("指令執行失敗，狀態不同步",
		zap.Stringer("cmd", cmd.Kind()),
		zap.Uint64("tick", d.world.Clock.Tick()),
		zap.Error(cause),
	)
	return Result{NewID: ecs.InvalidID}, err
}
