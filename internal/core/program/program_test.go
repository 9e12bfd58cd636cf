package program

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/l1jgo/ecsrt/internal/core/barrier"
	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/l1jgo/ecsrt/internal/core/event"
	"github.com/l1jgo/ecsrt/internal/core/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type position struct{ X, Y int }

// health keeps Mirror equal to HP outside a write.
type health struct{ HP, Mirror int }

type env struct {
	types *ecs.Types
	state *ecs.GameState
	pos   ecs.Component[position]
	hp    ecs.Component[health]
	sched *Scheduler
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	e := &env{types: ecs.NewTypes()}
	var err error
	e.pos, err = ecs.Register[position](e.types, ecs.ComponentConfig{Name: "position"})
	require.NoError(t, err)
	e.hp, err = ecs.Register[health](e.types, ecs.ComponentConfig{Name: "health", Shared: true})
	require.NoError(t, err)
	e.state = ecs.NewGameState(e.types, 32)
	e.sched = NewScheduler(opts, zaptest.NewLogger(t))
	t.Cleanup(e.sched.Stop)
	return e
}

func (e *env) system(t *testing.T, cfg system.Config) *system.System {
	t.Helper()
	s, err := system.New(e.types, cfg)
	require.NoError(t, err)
	return s
}

type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestLoopRunsByPriority(t *testing.T) {
	e := newEnv(t, Options{})
	p := e.sched.NewProgram("main")
	require.True(t, p.Primary())

	var rec recorder
	add := func(name string, prio int) {
		require.NoError(t, p.AddSystem(e.system(t, system.Config{
			Name:      name,
			Priority:  prio,
			Transform: func(*system.Context) { rec.add(name) },
		})))
	}
	add("update", system.PriorityUpdate)
	add("cleanup", system.PriorityCleanup)
	add("input", system.PriorityInput)
	add("update2", system.PriorityUpdate)

	require.NoError(t, e.sched.Frame(e.state))
	require.Equal(t, []string{"input", "update", "update2", "cleanup"}, rec.list())
	require.EqualValues(t, 1, p.Frames())
}

func TestEnableDisable(t *testing.T) {
	e := newEnv(t, Options{})
	p := e.sched.NewProgram("main")
	calls := 0
	s := e.system(t, system.Config{Name: "count", Transform: func(*system.Context) { calls++ }})
	require.NoError(t, p.AddSystem(s))

	require.NoError(t, p.Disable(s))
	require.NoError(t, e.sched.Frame(e.state))
	require.Zero(t, calls)

	require.NoError(t, p.Enable(s))
	require.NoError(t, e.sched.Frame(e.state))
	require.Equal(t, 1, calls)

	stranger := e.system(t, system.Config{Transform: func(*system.Context) {}})
	require.ErrorIs(t, p.Disable(stranger), ErrNotMember)
	require.ErrorIs(t, p.AddSystem(s), ErrDuplicateSystem)
}

func TestEventSystemRunsOnFlush(t *testing.T) {
	e := newEnv(t, Options{})
	p := e.sched.NewProgram("main")
	damage := event.Define[int](p.Pipeline(), "damage")

	target := e.state.CreateEntity()
	require.NoError(t, ecs.Create(e.state, e.hp, target, health{HP: 100}))

	s := e.system(t, system.Config{
		Name:    "apply-damage",
		Trigger: system.TriggerEvent,
		Source:  damage,
		Deps:    []system.Dep{system.Writes(e.hp)},
		Transform: func(ctx *system.Context) {
			n, _ := system.Message[int](ctx)
			system.Get[health](ctx, 0).HP -= n
		},
	})
	require.NoError(t, p.AddSystem(s))

	damage.Send(10)
	damage.Send(5)
	require.Equal(t, 100, ecs.Get(e.state, e.hp, target).HP, "async sends wait for the flush")
	require.NoError(t, e.sched.Frame(e.state))
	require.Equal(t, 85, ecs.Get(e.state, e.hp, target).HP)

	require.NoError(t, p.Disable(s))
	damage.Send(50)
	require.NoError(t, e.sched.Frame(e.state))
	require.Equal(t, 85, ecs.Get(e.state, e.hp, target).HP, "disabled system is unsubscribed")
}

func TestForeignChannelRejected(t *testing.T) {
	e := newEnv(t, Options{})
	main := e.sched.NewProgram("main")
	other := e.sched.NewProgram("other")
	ch := event.Define[int](other.Pipeline(), "ping")
	s := e.system(t, system.Config{Trigger: system.TriggerEvent, Source: ch, Transform: func(*system.Context) {}})
	require.ErrorIs(t, main.AddSystem(s), ErrForeignChannel)
	require.NoError(t, other.AddSystem(s))
}

func TestExclusiveComponentStaysInOneProgram(t *testing.T) {
	e := newEnv(t, Options{})
	main := e.sched.NewProgram("main")
	other := e.sched.NewProgram("other")

	require.NoError(t, main.AddSystem(e.system(t, system.Config{
		Deps: []system.Dep{system.Writes(e.pos)}, Transform: func(*system.Context) {},
	})))
	err := other.AddSystem(e.system(t, system.Config{
		Deps: []system.Dep{system.Reads(e.pos)}, Transform: func(*system.Context) {},
	}))
	require.ErrorIs(t, err, ErrExclusiveShared)

	// shared components may be used from any program
	require.NoError(t, main.AddSystem(e.system(t, system.Config{
		Deps: []system.Dep{system.Writes(e.hp)}, Transform: func(*system.Context) {},
	})))
	require.NoError(t, other.AddSystem(e.system(t, system.Config{
		Deps: []system.Dep{system.Reads(e.hp)}, Transform: func(*system.Context) {},
	})))
}

func TestWorkersShareLockedColumns(t *testing.T) {
	e := newEnv(t, Options{LockOSThread: true})
	main := e.sched.NewProgram("main")
	ids := make([]ecs.EntityID, 64)
	for i := range ids {
		ids[i] = e.state.CreateEntity()
		require.NoError(t, ecs.Create(e.state, e.hp, ids[i], health{}))
	}

	require.NoError(t, main.AddSystem(e.system(t, system.Config{
		Name: "heal",
		Deps: []system.Dep{system.Writes(e.hp)},
		Transform: func(ctx *system.Context) {
			h := system.Get[health](ctx, 0)
			h.HP++
			runtime.Gosched()
			h.Mirror = h.HP
		},
	})))

	var readerSums, torn atomic.Int64
	for i := 0; i < 3; i++ {
		r := e.sched.NewProgram("reader")
		require.NoError(t, r.AddSystem(e.system(t, system.Config{
			Deps: []system.Dep{system.Reads(e.hp)},
			Transform: func(ctx *system.Context) {
				h := system.Get[health](ctx, 0)
				if h.HP != h.Mirror {
					torn.Add(1)
				}
				readerSums.Add(int64(h.HP))
			},
		})))
	}

	completed := 0
	main.OnComplete(func(*ecs.GameState) { completed++ })

	const frames = 20
	for i := 0; i < frames; i++ {
		require.NoError(t, e.sched.Frame(e.state))
	}
	for _, id := range ids {
		require.Equal(t, health{HP: frames, Mirror: frames}, *ecs.Get(e.state, e.hp, id))
	}
	require.Equal(t, frames, completed)
	for _, p := range e.sched.Programs() {
		require.EqualValues(t, frames, p.Frames(), p.Name())
	}
	assert.Positive(t, readerSums.Load())
	assert.Zero(t, torn.Load(), "readers never observe a write in progress")
}

func TestReadOnlyProgramsOverlap(t *testing.T) {
	e := newEnv(t, Options{})
	e.sched.NewProgram("main")
	id := e.state.CreateEntity()
	require.NoError(t, ecs.Create(e.state, e.hp, id, health{HP: 1, Mirror: 1}))

	var arrived sync.WaitGroup
	arrived.Add(2)
	var met atomic.Int32
	for _, name := range []string{"left", "right"} {
		r := e.sched.NewProgram(name)
		require.NoError(t, r.AddSystem(e.system(t, system.Config{
			Name: name,
			Deps: []system.Dep{system.Reads(e.hp)},
			Transform: func(*system.Context) {
				// both readers must be inside the column at the same time
				arrived.Done()
				all := make(chan struct{})
				go func() {
					arrived.Wait()
					close(all)
				}()
				select {
				case <-all:
					met.Add(1)
				case <-time.After(2 * time.Second):
				}
			},
		})))
	}

	require.NoError(t, e.sched.Frame(e.state))
	require.EqualValues(t, 2, met.Load())
}

func TestBarrierOrdersProgramsEveryFrame(t *testing.T) {
	e := newEnv(t, Options{})
	main := e.sched.NewProgram("main")
	side := e.sched.NewProgram("side")

	b := barrier.New("io")
	first, second := b.NewTicket(), b.NewTicket()
	var rec recorder
	// the worker holds the first ticket, so the primary waits for it
	require.NoError(t, main.AddSystem(e.system(t, system.Config{
		Tickets:   []*barrier.Ticket{second},
		Transform: func(*system.Context) { rec.add("main") },
	})))
	require.NoError(t, side.AddSystem(e.system(t, system.Config{
		Tickets:   []*barrier.Ticket{first},
		Transform: func(*system.Context) { rec.add("side") },
	})))

	for i := 0; i < 5; i++ {
		require.NoError(t, e.sched.Frame(e.state))
	}
	want := make([]string, 0, 10)
	for i := 0; i < 5; i++ {
		want = append(want, "side", "main")
	}
	require.Equal(t, want, rec.list())
	require.Zero(t, b.Serving())
}

func TestDetachAndJoin(t *testing.T) {
	e := newEnv(t, Options{DetachedInterval: time.Millisecond})
	main := e.sched.NewProgram("main")
	bg := e.sched.NewProgram("background")
	bgState := ecs.NewGameState(e.types, 8)
	require.NoError(t, bg.AddSystem(e.system(t, system.Config{Transform: func(*system.Context) {}})))

	require.ErrorIs(t, e.sched.Detach(main, func() *ecs.GameState { return bgState }), ErrPrimaryProgram)
	require.ErrorIs(t, e.sched.Detach(bg, nil), ErrNoStateProvider)
	require.ErrorIs(t, e.sched.Join(bg), ErrNotDetached)

	require.NoError(t, e.sched.Frame(e.state))
	require.EqualValues(t, 1, bg.Frames())

	require.NoError(t, e.sched.Detach(bg, func() *ecs.GameState { return bgState }))
	require.True(t, e.sched.Detached(bg))
	require.ErrorIs(t, e.sched.Detach(bg, func() *ecs.GameState { return bgState }), ErrAlreadyDetached)
	require.Eventually(t, func() bool { return bg.Frames() >= 4 }, 2*time.Second, time.Millisecond)

	// detached programs are not part of the synchronous frame
	require.NoError(t, e.sched.Frame(e.state))
	require.EqualValues(t, 2, main.Frames())

	require.NoError(t, e.sched.Join(bg))
	require.False(t, e.sched.Detached(bg))
	before := bg.Frames()
	require.NoError(t, e.sched.Frame(e.state))
	require.Equal(t, before+1, bg.Frames())
}

func TestDetachedProgramOnFrameState(t *testing.T) {
	e := newEnv(t, Options{})
	e.sched.NewProgram("main")
	mover := e.sched.NewProgram("mover")
	require.NoError(t, mover.AddSystem(e.system(t, system.Config{
		Name: "drift",
		Deps: []system.Dep{system.Writes(e.pos)},
		Transform: func(ctx *system.Context) {
			system.Get[position](ctx, 0).X++
		},
	})))

	ids := make([]ecs.EntityID, 200)
	for i := range ids {
		ids[i] = e.state.CreateEntity()
		require.NoError(t, ecs.Create(e.state, e.pos, ids[i], position{}))
	}
	require.NoError(t, e.sched.Detach(mover, func() *ecs.GameState { return e.state }))
	require.Eventually(t, func() bool { return mover.Frames() > 0 }, 2*time.Second, time.Millisecond)

	// flush erases from the column the detached program iterates
	for _, id := range ids {
		e.state.DestroyEntity(id)
		require.NoError(t, e.sched.Frame(e.state))
		_, destroyed := e.state.Flush()
		require.Equal(t, 1, destroyed)
	}
	require.NoError(t, e.sched.Join(mover))
	require.Zero(t, ecs.StoreOf(e.state, e.pos).Len())
	require.Empty(t, e.state.Entities())
}

func TestStoppedSchedulerRefusesFrames(t *testing.T) {
	e := newEnv(t, Options{})
	e.sched.NewProgram("main")
	e.sched.NewProgram("worker")
	require.NoError(t, e.sched.Frame(e.state))
	e.sched.Stop()
	e.sched.Stop()
	require.ErrorIs(t, e.sched.Frame(e.state), ErrSchedulerStopped)
}
