package system

import (
	"context"
	"encoding/binary"
	gonet "net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/planlines/server/internal/command"
	"github.com/planlines/server/internal/config"
	"github.com/planlines/server/internal/core/event"
	coresys "github.com/planlines/server/internal/core/system"
	"github.com/planlines/server/internal/handler"
	"github.com/planlines/server/internal/net"
	"github.com/planlines/server/internal/net/packet"
	"github.com/planlines/server/internal/persist"
	"github.com/planlines/server/internal/plan"
	"github.com/planlines/server/internal/replica"
	"github.com/planlines/server/internal/saveload"
	"github.com/planlines/server/internal/scripting"
	"github.com/planlines/server/internal/world"
)

type fakeSource struct {
	newCh  chan *net.Session
	deadCh chan uint64
}

func (f fakeSource) NewSessions() <-chan *net.Session { return f.newCh }
func (f fakeSource) DeadSessions() <-chan uint64      { return f.deadCh }

type harness struct {
	world   *world.State
	queue   *command.Queue
	store   *net.SessionStore
	runner  *coresys.Runner
	src     fakeSource
	persist *PersistenceSystem
	db      persist.SaveStore
	nextID  uint64
}

func worldOptions() world.Options {
	return world.Options{MaxPlans: 16, TicksPerDay: 10, Viewer: plan.OwnerNone}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Save.Compression = "zstd"

	bus := event.NewBus()
	notifier := event.NewNotifier(bus)
	opts := worldOptions()
	opts.Notify = notifier
	ws := world.NewState(opts)

	policy, err := scripting.NewEngine(filepath.Join("..", "..", "scripts"), nil)
	require.NoError(t, err)
	t.Cleanup(policy.Close)
	policy.BindWorld(ws)

	d := command.NewDispatcher(ws, policy, nil)
	q := command.NewQueue(d, command.Actor{Owner: plan.OwnerDeity, Permission: command.PermDeity})

	db, err := persist.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "planlines.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := net.NewSessionStore()
	limits := handler.NewLimits(cfg.RateLimit)
	reg := packet.NewRegistry(nil)
	handler.RegisterAll(reg, &handler.Deps{
		Config:   cfg,
		Log:      zap.NewNop(),
		World:    ws,
		Queue:    q,
		Sessions: store,
		Limits:   limits,
	})

	src := fakeSource{newCh: make(chan *net.Session, 8), deadCh: make(chan uint64, 8)}
	runner := coresys.NewRunner()
	ps := NewPersistenceSystem(ws, q, bus, PersistenceOptions{
		Store:       db,
		Compression: saveload.CompressionLZ4,
		Server:      "test",
	}, zap.NewNop())
	runner.Register(ps)
	runner.Register(NewInputSystem(src, reg, store, limits, bus, 32, zap.NewNop()))
	runner.Register(NewCommandSystem(ws, q, store, bus, runner, zap.NewNop()))
	runner.Register(NewClockSystem(ws))
	runner.Register(NewDigestSystem(ws, q, store, 1))
	runner.Register(NewOutputSystem(store, bus, notifier))

	return &harness{world: ws, queue: q, store: store, runner: runner, src: src, persist: ps, db: db}
}

func (h *harness) tick() { h.runner.Tick(30 * time.Millisecond) }

type client struct {
	conn gonet.Conn
	sess *net.Session
	in   chan []byte
}

func (h *harness) connect(t *testing.T) *client {
	t.Helper()
	c, s := gonet.Pipe()
	h.nextID++
	sess := net.NewSession(s, h.nextID, net.Options{}, nil)
	sess.Start()
	h.src.newCh <- sess

	cl := &client{conn: c, sess: sess, in: make(chan []byte, 256)}
	go func() {
		defer close(cl.in)
		for {
			b, err := net.ReadFrame(c)
			if err != nil {
				return
			}
			cl.in <- b
		}
	}()
	t.Cleanup(func() {
		c.Close()
		sess.Close()
	})
	return cl
}

// send writes one frame and waits until the session has queued it.
func (c *client) send(t *testing.T, data []byte) {
	t.Helper()
	before := len(c.sess.InQueue)
	require.NoError(t, net.WriteFrame(c.conn, data))
	require.Eventually(t, func() bool { return len(c.sess.InQueue) > before }, 2*time.Second, time.Millisecond)
}

// until feeds received packets to r up to and including one with opcode op.
func (c *client) until(t *testing.T, r *replica.Replica, op byte) {
	t.Helper()
	for {
		select {
		case b, ok := <-c.in:
			require.True(t, ok, "connection closed")
			require.NoError(t, r.Handle(b))
			if b[0] == op {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", packet.OpcodeName(op))
		}
	}
}

func tiles(ts ...uint32) []byte {
	var b []byte
	for _, v := range ts {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

func TestClientsFollowServer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	alice := h.connect(t)
	ra := replica.New(world.NewState(worldOptions()), nil)
	alice.send(t, replica.Hello("alice", 1, ""))
	h.tick()
	alice.until(t, ra, packet.S_DIGEST)
	require.True(t, ra.Synced())
	assert.Equal(t, command.PermCompany, ra.Permission)
	assert.Equal(t, packet.StateJoined, alice.sess.State())

	alice.send(t, replica.Command(1, command.CreatePlan{Owner: 1}))
	alice.send(t, replica.Command(2, command.CreatePlan{Owner: 2}))
	h.tick()
	alice.until(t, ra, packet.S_DIGEST)
	require.Len(t, ra.Rejections, 1)
	assert.Equal(t, uint16(2), ra.Rejections[0].Token)
	assert.Equal(t, command.NotAuthorized, ra.Rejections[0].Kind)
	assert.Equal(t, uint64(1), ra.Seq())
	assert.True(t, ra.World.Plans.Exists(0))

	// A late joiner starts from a snapshot.
	bob := h.connect(t)
	rb := replica.New(world.NewState(worldOptions()), nil)
	bob.send(t, replica.Hello("bob", 2, ""))
	h.tick()
	bob.until(t, rb, packet.S_DIGEST)
	alice.until(t, ra, packet.S_DIGEST)
	assert.Equal(t, uint64(1), rb.Seq())
	assert.Equal(t, h.world.Digest(), rb.World.Digest())

	bob.send(t, replica.Command(7, command.AddLine{Plan: 0, Count: 2, Payload: tiles(3, 4)}))
	alice.send(t, replica.Command(3, command.AddLine{Plan: 0, Count: 2, Payload: tiles(3, 4)}))
	h.tick()
	alice.until(t, ra, packet.S_DIGEST)
	bob.until(t, rb, packet.S_DIGEST)

	require.Len(t, rb.Rejections, 1)
	assert.Equal(t, uint16(7), rb.Rejections[0].Token)
	assert.Equal(t, uint64(2), ra.Seq())
	assert.Equal(t, uint64(2), rb.Seq())
	assert.Equal(t, h.world.Digest(), ra.World.Digest())
	assert.Equal(t, h.world.Digest(), rb.World.Digest())
	assert.GreaterOrEqual(t, ra.Digests, 4)

	// The journal alone rebuilds the state.
	journal, err := h.db.JournalAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, journal, 2)
	fromJournal := world.NewState(worldOptions())
	q := command.NewQueue(command.NewDispatcher(fromJournal, nil, nil), command.Actor{})
	info, err := RestoreState(ctx, fromJournal, q, h.db, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "", info.Source)
	assert.Equal(t, 2, info.Replayed)
	assert.Equal(t, h.world.Digest(), fromJournal.Digest())

	// A save prunes the journal and restores on its own.
	require.NoError(t, h.persist.SaveNow())
	journal, err = h.db.JournalAfter(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, journal)

	fromSave := world.NewState(worldOptions())
	q = command.NewQueue(command.NewDispatcher(fromSave, nil, nil), command.Actor{})
	info, err = RestoreState(ctx, fromSave, q, h.db, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "store", info.Source)
	assert.Equal(t, uint64(2), info.SaveSeq)
	assert.Equal(t, uint64(2), q.Seq())
	assert.Equal(t, h.world.Digest(), fromSave.Digest())
}

func TestDisconnectDropsSession(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	r := replica.New(world.NewState(worldOptions()), nil)
	c.send(t, replica.Hello("carol", 3, ""))
	h.tick()
	c.until(t, r, packet.S_DIGEST)
	require.Equal(t, 1, h.store.Count())

	c.sess.Close()
	h.tick()
	assert.Zero(t, h.store.Count())
}

func TestBadHelloIsRefused(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	// Deity without the admin password.
	c.send(t, replica.Hello("mallory", plan.OwnerDeity, ""))
	h.tick()

	select {
	case b := <-c.in:
		assert.Equal(t, packet.S_DISCONNECT, b[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect")
	}
	require.Eventually(t, c.sess.IsClosed, 2*time.Second, 5*time.Millisecond)
	h.tick()
	assert.Zero(t, h.store.Count())
}

func TestDesyncHaltsSimulation(t *testing.T) {
	h := newHarness(t)
	c := h.connect(t)
	r := replica.New(world.NewState(worldOptions()), nil)
	c.send(t, replica.Hello("dave", 1, ""))
	h.tick()
	c.until(t, r, packet.S_DIGEST)

	deity := command.Actor{Owner: plan.OwnerDeity, Permission: command.PermDeity}
	require.True(t, h.queue.Post(deity, command.CreatePlan{Owner: 1}, nil).Succeeded())
	h.world.MarkDesynced(assert.AnError)
	tick := h.world.Clock.Tick()
	h.tick()

	expectDesync := func() {
		t.Helper()
		select {
		case b := <-c.in:
			assert.Equal(t, packet.S_DESYNC, b[0])
		case <-time.After(2 * time.Second):
			t.Fatal("no desync notice")
		}
	}
	expectDesync()
	assert.ErrorIs(t, h.runner.Halted(), assert.AnError)
	assert.Equal(t, tick, h.world.Clock.Tick())

	// Sessions are still served, but new commands are turned away.
	c.send(t, replica.Command(2, command.CreatePlan{Owner: 1}))
	h.tick()
	expectDesync()
	assert.Zero(t, h.queue.Pending())
	assert.Equal(t, tick, h.world.Clock.Tick())
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saves", "game.sav")
	ws := world.NewState(worldOptions())
	p, err := ws.Plans.Create(4)
	require.NoError(t, err)
	l, _ := p.NewLine()
	l.Tiles = append(l.Tiles, 10, 11)

	q := command.NewQueue(command.NewDispatcher(ws, nil, nil), command.Actor{})
	q.SetSeq(9)
	ps := NewPersistenceSystem(ws, q, event.NewBus(), PersistenceOptions{Path: path, Interval: 2}, zap.NewNop())
	ps.Update(0)
	assert.NoFileExists(t, path)
	ps.Update(0)
	require.FileExists(t, path)

	dst := world.NewState(worldOptions())
	q2 := command.NewQueue(command.NewDispatcher(dst, nil, nil), command.Actor{})
	info, err := RestoreState(context.Background(), dst, q2, nil, path, nil)
	require.NoError(t, err)
	assert.Equal(t, "file", info.Source)
	assert.Equal(t, uint64(9), q2.Seq())
	assert.Equal(t, ws.Digest(), dst.Digest())

	ws.MarkDesynced(assert.AnError)
	assert.Error(t, ps.SaveNow())
}
