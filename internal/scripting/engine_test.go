package scripting

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/world"
)

func bundledPolicy(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join("..", "..", "scripts"), nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestBundledPolicyLetsCompaniesManageOwnPlans(t *testing.T) {
	e := bundledPolicy(t)
	w := world.NewState(world.Options{Viewer: plan.OwnerNone})
	e.BindWorld(w)
	d := command.NewDispatcher(w, e, nil)

	company := command.Actor{Owner: 2, Permission: command.PermCompany}
	res := d.Validate(company, command.CreatePlan{Owner: 2})
	require.True(t, res.Succeeded())
	res = d.Validate(company, command.CreatePlan{Owner: 3})
	require.NotNil(t, res.Err)
	assert.Equal(t, command.NotAuthorized, res.Err.Kind)

	own, err := w.Plans.Create(2)
	require.NoError(t, err)
	other, err := w.Plans.Create(3)
	require.NoError(t, err)

	assert.True(t, d.Validate(company, command.RemovePlan{Plan: own.ID}).Succeeded())
	assert.False(t, d.Validate(company, command.RemovePlan{Plan: other.ID}).Succeeded())

	spectator := command.Actor{Owner: plan.OwnerNone, Permission: command.PermAny}
	assert.False(t, d.Validate(spectator, command.RemovePlan{Plan: own.ID}).Succeeded())

	deity := command.Actor{Owner: plan.OwnerDeity, Permission: command.PermDeity}
	assert.True(t, d.Validate(deity, command.RemovePlan{Plan: other.ID}).Succeeded())
}

func TestPolicyFromString(t *testing.T) {
	e, err := NewEngineFromString(`
function authorize(ctx)
  return ctx.command == "AddLine" and ctx.points <= 4
end
`, nil)
	require.NoError(t, err)
	defer e.Close()

	tr, _ := command.TraitsOf(command.KindAddLine)
	actor := command.Actor{Owner: 1}
	assert.True(t, e.Authorize(actor, tr, command.AddLine{Plan: 0, Count: 4}))
	assert.False(t, e.Authorize(actor, tr, command.AddLine{Plan: 0, Count: 5}))
}

func TestScriptErrorDenies(t *testing.T) {
	e, err := NewEngineFromString(`function authorize(ctx) error("boom") end`, nil)
	require.NoError(t, err)
	defer e.Close()

	tr, _ := command.TraitsOf(command.KindRemovePlan)
	deity := command.Actor{Owner: plan.OwnerDeity, Permission: command.PermDeity}
	assert.False(t, e.Authorize(deity, tr, command.RemovePlan{Plan: 0}))
}

func TestMissingPolicyFallsBackToPermission(t *testing.T) {
	e, err := NewEngine(t.TempDir(), nil)
	require.NoError(t, err)
	defer e.Close()

	tr, _ := command.TraitsOf(command.KindCreatePlan)
	assert.False(t, e.Authorize(command.Actor{Permission: command.PermCompany}, tr, command.CreatePlan{}))
	assert.True(t, e.Authorize(command.Actor{Permission: command.PermDeity}, tr, command.CreatePlan{}))
}

func TestBrokenScriptFailsToLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "policy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy", "bad.lua"), []byte("function ("), 0o644))

	_, err := NewEngine(dir, nil)
	assert.Error(t, err)
}
