package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/data"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/world"
)

// report summarizes one replay.
type report struct {
	Steps    int
	Applied  int
	Rejected int
	Failures []error

	ServerDigest world.Digest
	ClientDigest world.Digest
}

// Converged reports whether both replicas ended identical and every step
// met its expectation.
func (r report) Converged() bool {
	return len(r.Failures) == 0 && r.ServerDigest == r.ClientDigest
}

// replayer drives a scenario through a server replica that validates and
// orders commands, and a client replica that only executes the encoded
// stream the server would broadcast.
type replayer struct {
	server *world.State
	client *world.State
	queue  *command.Queue
	remote *command.Dispatcher
	log    *zap.Logger
}

func newReplayer(sc *data.Scenario, auth command.Authorizer, log *zap.Logger) *replayer {
	if log == nil {
		log = zap.NewNop()
	}
	opts := world.Options{
		Layout:      sc.Map,
		MaxPlans:    sc.MaxPlans,
		TicksPerDay: sc.TicksPerDay,
		Viewer:      plan.OwnerNone,
	}
	server := world.NewState(opts)
	client := world.NewState(opts)
	if auth == nil {
		auth = command.PermissionAuthorizer{}
	}
	d := command.NewDispatcher(server, auth, log)
	return &replayer{
		server: server,
		client: client,
		queue:  command.NewQueue(d, command.Actor{Owner: plan.OwnerDeity, Permission: command.PermDeity}),
		remote: command.NewDispatcher(client, nil, log),
		log:    log,
	}
}

// load seeds both replicas from the same save.
func (r *replayer) load(save []byte) error {
	meta, err := saveload.LoadBytes(save, r.server)
	if err != nil {
		return fmt.Errorf("server load: %w", err)
	}
	if _, err := saveload.LoadBytes(save, r.client); err != nil {
		return fmt.Errorf("client load: %w", err)
	}
	r.queue.SetSeq(meta.Seq)
	return nil
}

// run replays sc. Step ticks count from the replicas' current tick.
func (r *replayer) run(sc *data.Scenario) (report, error) {
	rep := report{Steps: len(sc.Steps)}
	layout := r.server.Plans.Env().Layout
	base := r.server.Clock.Tick()

	next := 0
	for offset := uint64(0); offset <= sc.LastTick(); offset++ {
		for ; next < len(sc.Steps) && sc.Steps[next].Tick == offset; next++ {
			st := &sc.Steps[next]
			actor, err := st.Actor.Resolve()
			if err != nil {
				return rep, fmt.Errorf("step %d: %w", next, err)
			}
			cmd, err := st.Command(layout)
			if err != nil {
				return rep, fmt.Errorf("step %d: %w", next, err)
			}
			res := r.queue.Admit(command.Entry{Actor: actor, Cmd: cmd, Token: uint16(next)})
			if !res.Succeeded() {
				rep.Rejected++
				if err := st.Check(res); err != nil {
					rep.Failures = append(rep.Failures, err)
				}
			}
		}

		tick := r.server.Clock.Tick()
		var execErr error
		err := r.queue.Flush(func(e command.Executed) {
			st := &sc.Steps[e.Token]
			if err := st.Check(e.Result); err != nil {
				rep.Failures = append(rep.Failures, err)
			}
			if !e.Result.Succeeded() {
				rep.Rejected++
				return
			}
			rep.Applied++
			if execErr != nil {
				return
			}
			execErr = r.mirror(tick, e)
		})
		if err != nil {
			return rep, fmt.Errorf("server tick %d: %w", tick, err)
		}
		if execErr != nil {
			return rep, fmt.Errorf("client tick %d: %w", tick, execErr)
		}

		r.server.Clock.Advance()
		r.client.Clock.Advance()
		r.log.Debug("tick",
			zap.Uint64("tick", base+offset),
			zap.Uint64("seq", r.queue.Seq()),
			zap.Int("plans", r.server.Plans.Len()),
		)
	}

	rep.ServerDigest = r.server.Digest()
	rep.ClientDigest = r.client.Digest()
	return rep, nil
}

// mirror sends one executed command through the wire encoding and applies
// it on the client replica.
func (r *replayer) mirror(tick uint64, e command.Executed) error {
	cmd, err := command.Decode(command.Encode(e.Cmd))
	if err != nil {
		return err
	}
	r.client.Clock.SetTick(tick)
	res, err := r.remote.Execute(cmd)
	if err != nil {
		return err
	}
	if res.NewID != e.Result.NewID {
		return fmt.Errorf("seq %d: client allocated %d, server %d", e.Seq, res.NewID, e.Result.NewID)
	}
	return nil
}
