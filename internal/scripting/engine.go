package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/world"
)

// Engine wraps a single gopher-lua VM holding the command policy.
// Single-goroutine access only (game loop).
type Engine struct {
	vm    *lua.LState
	log   *zap.Logger
	world *world.State
}

// NewEngine creates a Lua engine and loads all scripts from the policy
// subdirectory of scriptsDir. A missing directory leaves the engine with
// no policy, which falls back to the permission check.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.loadDir(filepath.Join(scriptsDir, "policy")); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load policy scripts: %w", err)
	}
	return e, nil
}

// NewEngineFromString loads a policy from source.
func NewEngineFromString(src string, log *zap.Logger) (*Engine, error) {
	e := newEngine(log)
	if err := e.vm.DoString(src); err != nil {
		e.vm.Close()
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return e, nil
}

func newEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("OWNER_DEITY", lua.LNumber(plan.OwnerDeity))
	vm.SetGlobal("OWNER_NONE", lua.LNumber(plan.OwnerNone))
	for name, p := range map[string]command.Permission{
		"PERM_ANY":     command.PermAny,
		"PERM_COMPANY": command.PermCompany,
		"PERM_SERVER":  command.PermServer,
		"PERM_DEITY":   command.PermDeity,
	} {
		vm.SetGlobal(name, lua.LNumber(p))
	}
	return &Engine{vm: vm, log: log}
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// BindWorld lets the policy see per-owner plan counts.
func (e *Engine) BindWorld(w *world.State) { e.world = w }

// Authorize implements command.Authorizer by calling the Lua function
// authorize(ctx). Without that function the actor's permission must meet
// the command's. A script error denies the command.
func (e *Engine) Authorize(actor command.Actor, tr command.Traits, cmd command.Command) bool {
	fn := e.vm.GetGlobal("authorize")
	if fn == lua.LNil {
		return command.PermissionAuthorizer{}.Authorize(actor, tr, cmd)
	}

	ctx := e.vm.NewTable()
	ctx.RawSetString("command", lua.LString(tr.Name))
	ctx.RawSetString("version", lua.LNumber(tr.Version))
	ctx.RawSetString("required", lua.LNumber(tr.Permission))
	ctx.RawSetString("owner", lua.LNumber(actor.Owner))
	ctx.RawSetString("permission", lua.LNumber(actor.Permission))
	ctx.RawSetString("local", lua.LBool(actor.Local))
	if id, ok := targetPlan(cmd); ok {
		ctx.RawSetString("plan", lua.LNumber(id))
		if e.world != nil {
			if p, err := e.world.Plans.Get(id); err == nil {
				ctx.RawSetString("plan_owner", lua.LNumber(p.Owner))
				ctx.RawSetString("plan_lines", lua.LNumber(len(p.Lines)))
			}
		}
	}
	switch c := cmd.(type) {
	case command.AddLine:
		ctx.RawSetString("points", lua.LNumber(c.Count))
	case command.CreatePlan:
		ctx.RawSetString("plan_owner", lua.LNumber(c.Owner))
	}
	if e.world != nil {
		ctx.RawSetString("owned_plans", lua.LNumber(e.ownedPlans(actor.Owner)))
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, ctx); err != nil {
		e.log.Error("lua authorize error", zap.String("cmd", tr.Name), zap.Error(err))
		return false
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return lua.LVAsBool(result)
}

func (e *Engine) ownedPlans(owner plan.Owner) int {
	n := 0
	for _, p := range e.world.Plans.All() {
		if p.Owner == owner {
			n++
		}
	}
	return n
}

func targetPlan(cmd command.Command) (ecs.ID, bool) {
	switch c := cmd.(type) {
	case command.AddLine:
		return c.Plan, true
	case command.ChangeVisibility:
		return c.Plan, true
	case command.RemovePlan:
		return c.Plan, true
	case command.RemoveLine:
		return c.Plan, true
	}
	return ecs.InvalidID, false
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
