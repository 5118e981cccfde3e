package handler

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/config"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/wire"
)

func TestResolvePermission(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	cases := []struct {
		name     string
		owner    plan.Owner
		password string
		hash     string
		want     command.Permission
		ok       bool
	}{
		{"company", 3, "", "", command.PermCompany, true},
		{"spectator", plan.OwnerNone, "", "", command.PermAny, true},
		{"deity without password", plan.OwnerDeity, "", string(hash), 0, false},
		{"deity with password", plan.OwnerDeity, "hunter2", string(hash), command.PermDeity, true},
		{"company admin", 1, "hunter2", string(hash), command.PermDeity, true},
		{"wrong password", 1, "hunter3", string(hash), 0, false},
		{"admin disabled", 1, "hunter2", "", 0, false},
		{"unknown owner", 0x40, "", "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := resolvePermission(tc.owner, tc.password, tc.hash)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestLimits(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimits(config.RateLimitConfig{Enabled: true, HelloPerMinute: 2, CommandsPerSecond: 3})
	l.now = func() time.Time { return now }

	assert.True(t, l.AllowHello("10.0.0.1:5000"))
	assert.True(t, l.AllowHello("10.0.0.1:5001"))
	assert.False(t, l.AllowHello("10.0.0.1:5002"))
	assert.True(t, l.AllowHello("10.0.0.2:5000"))

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowCommand(1))
	}
	assert.False(t, l.AllowCommand(1))
	assert.True(t, l.AllowCommand(2))
	now = now.Add(time.Second)
	assert.True(t, l.AllowCommand(1))

	l.Forget(1)
	assert.NotContains(t, l.commands, uint64(1))

	var off *Limits
	assert.True(t, off.AllowHello("x"))
	assert.True(t, off.AllowCommand(1))
}

func TestLimitsDropIdleHosts(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimits(config.RateLimitConfig{Enabled: true, HelloPerMinute: 2})
	l.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		assert.True(t, l.AllowHello(fmt.Sprintf("10.1.0.%d:4000", i)))
	}
	assert.Len(t, l.hello, 50)

	now = now.Add(50 * time.Second)
	assert.True(t, l.AllowHello("10.2.0.1:4000"))
	assert.True(t, l.AllowHello("10.2.0.1:4001"))
	assert.Len(t, l.hello, 51)

	// a minute on, only the host still short of tokens is kept
	now = now.Add(11 * time.Second)
	assert.True(t, l.AllowHello("10.3.0.1:4000"))
	assert.Len(t, l.hello, 2)
	assert.Contains(t, l.hello, "10.2.0.1")
	assert.False(t, l.AllowHello("10.2.0.1:4002"))
}

func TestPacketBuilders(t *testing.T) {
	b := BuildCommandError(9, command.ErrorFromKind(command.TooManyPoints))
	assert.Equal(t, packet.S_COMMAND_ERROR, b[0])
	r := wire.NewReader(b[1:])
	assert.Equal(t, uint16(9), r.ReadH())
	assert.Equal(t, byte(command.TooManyPoints), r.ReadC())
	assert.Equal(t, "STR_ERROR_TOO_MANY_NODES", r.ReadS())
	require.NoError(t, r.Err())

	b = BuildCommandApplied(4, 120, 2, command.RemovePlan{Plan: 5})
	r = wire.NewReader(b[1:])
	assert.Equal(t, uint64(4), r.ReadQU())
	assert.Equal(t, uint64(120), r.ReadQU())
	assert.Equal(t, byte(2), r.ReadC())
	cmd, err := command.Decode(r.ReadBlob())
	require.NoError(t, err)
	assert.Equal(t, command.RemovePlan{Plan: 5}, cmd)

	b = BuildPlanListChanged(0xFFFFFFFF)
	assert.Equal(t, []byte{packet.S_PLAN_LIST_CHANGED, 0xFF, 0xFF, 0xFF, 0xFF}, b)
}
