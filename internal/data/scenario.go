package data

import (
	"encoding/binary"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/core/ecs"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/tile"
)

// Scenario is a scripted command stream, replayed against replicas to check
// that they converge.
type Scenario struct {
	Name        string      `yaml:"name"`
	Map         tile.Layout `yaml:"map"`
	MaxPlans    int         `yaml:"max_plans"`
	TicksPerDay int         `yaml:"ticks_per_day"`
	Steps       []Step      `yaml:"steps"`
}

// ActorSpec names who issues a step.
type ActorSpec struct {
	Owner      int    `yaml:"owner"`
	Permission string `yaml:"permission"` // any, company, server or deity
}

// Step is one command posted at Tick. Exactly one command field is set.
type Step struct {
	Tick  uint64    `yaml:"tick"`
	Actor ActorSpec `yaml:"actor"`
	// Expect is empty or "ok" for an accepted command, otherwise the
	// message key of the expected rejection.
	Expect string `yaml:"expect"`

	CreatePlan       *CreatePlanStep       `yaml:"create_plan"`
	AddLine          *AddLineStep          `yaml:"add_line"`
	ChangeVisibility *ChangeVisibilityStep `yaml:"change_visibility"`
	RemovePlan       *PlanRef              `yaml:"remove_plan"`
	RemoveLine       *RemoveLineStep       `yaml:"remove_line"`
}

type CreatePlanStep struct {
	Owner int `yaml:"owner"`
}

type AddLineStep struct {
	Plan  uint32  `yaml:"plan"`
	Tiles [][]int `yaml:"tiles"` // [x, y] pairs
	// Count overrides the point count, to script malformed payloads.
	Count *uint32 `yaml:"count"`
}

type ChangeVisibilityStep struct {
	Plan         uint32 `yaml:"plan"`
	VisibleByAll bool   `yaml:"visible_by_all"`
}

type PlanRef struct {
	Plan uint32 `yaml:"plan"`
}

type RemoveLineStep struct {
	Plan  uint32 `yaml:"plan"`
	Index uint32 `yaml:"index"`
}

// LoadScenario loads a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario parses and checks scenario YAML.
func ParseScenario(raw []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Map == (tile.Layout{}) {
		sc.Map = tile.DefaultLayout
	}
	if err := sc.Map.Validate(); err != nil {
		return nil, err
	}
	var last uint64
	for i := range sc.Steps {
		st := &sc.Steps[i]
		if st.Tick < last {
			return nil, fmt.Errorf("step %d: tick %d before %d", i, st.Tick, last)
		}
		last = st.Tick
		if _, err := st.Command(sc.Map); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if _, err := st.Actor.Resolve(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return &sc, nil
}

// LastTick is the tick of the final step.
func (sc *Scenario) LastTick() uint64 {
	if len(sc.Steps) == 0 {
		return 0
	}
	return sc.Steps[len(sc.Steps)-1].Tick
}

// Resolve converts a scenario actor to a command actor.
func (a ActorSpec) Resolve() (command.Actor, error) {
	actor := command.Actor{Owner: plan.Owner(a.Owner)}
	if a.Owner < 0 || a.Owner > 0xFF {
		return actor, fmt.Errorf("owner %d out of range", a.Owner)
	}
	switch a.Permission {
	case "", "company":
		actor.Permission = command.PermCompany
	case "any":
		actor.Permission = command.PermAny
	case "server":
		actor.Permission = command.PermServer
	case "deity":
		actor.Permission = command.PermDeity
	default:
		return actor, fmt.Errorf("unknown permission %q", a.Permission)
	}
	return actor, nil
}

// Command builds the step's command.
func (st *Step) Command(layout tile.Layout) (command.Command, error) {
	var cmds []command.Command
	if c := st.CreatePlan; c != nil {
		cmds = append(cmds, command.CreatePlan{Owner: plan.Owner(c.Owner)})
	}
	if c := st.AddLine; c != nil {
		payload := make([]byte, 0, 4*len(c.Tiles))
		for _, xy := range c.Tiles {
			if len(xy) != 2 || xy[0] < 0 || xy[1] < 0 ||
				uint32(xy[0]) >= layout.SizeX() || uint32(xy[1]) >= layout.SizeY() {
				return nil, fmt.Errorf("bad tile %v", xy)
			}
			payload = binary.LittleEndian.AppendUint32(payload, uint32(layout.At(xy[0], xy[1])))
		}
		count := uint32(len(c.Tiles))
		if c.Count != nil {
			count = *c.Count
		}
		cmds = append(cmds, command.AddLine{Plan: ecs.ID(c.Plan), Count: count, Payload: payload})
	}
	if c := st.ChangeVisibility; c != nil {
		cmds = append(cmds, command.ChangeVisibility{Plan: ecs.ID(c.Plan), VisibleByAll: c.VisibleByAll})
	}
	if c := st.RemovePlan; c != nil {
		cmds = append(cmds, command.RemovePlan{Plan: ecs.ID(c.Plan)})
	}
	if c := st.RemoveLine; c != nil {
		cmds = append(cmds, command.RemoveLine{Plan: ecs.ID(c.Plan), Index: c.Index})
	}
	if len(cmds) != 1 {
		return nil, fmt.Errorf("want exactly one command, have %d", len(cmds))
	}
	return cmds[0], nil
}

// Check compares a result with the step's expectation.
func (st *Step) Check(res command.Result) error {
	want := st.Expect
	if want == "" {
		want = "ok"
	}
	got := "ok"
	if !res.Succeeded() {
		got = res.Err.MessageKey
	}
	if got != want {
		return fmt.Errorf("tick %d: got %s, want %s", st.Tick, got, want)
	}
	return nil
}
