package main

import (
	"math/rand"
	"sync/atomic"

	"github.com/l1jgo/ecsrt/internal/core/barrier"
	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/l1jgo/ecsrt/internal/core/engine"
	"github.com/l1jgo/ecsrt/internal/core/event"
	"github.com/l1jgo/ecsrt/internal/core/program"
	"github.com/l1jgo/ecsrt/internal/core/system"
	"github.com/l1jgo/ecsrt/internal/core/task"
	"github.com/l1jgo/ecsrt/internal/core/value"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Position struct{ X, Y float32 }

type Velocity struct{ DX, DY float32 }

type Health struct{ HP, Max int32 }

// Squad owns its members: destroying the leader destroys the squad.
type Squad struct{ Members []ecs.EntityID }

func (s *Squad) ChildEntities() []ecs.EntityID { return s.Members }

// Sprite stands in for a renderer-side resource.
type Sprite struct{ handle *spriteHandle }

type spriteHandle struct {
	id       int
	released *atomic.Int64
}

func (s *Sprite) Release() {
	if s.handle != nil {
		s.handle.released.Add(1)
		s.handle = nil
	}
}

// Clone gives a scene branch its own handle.
func (s *Sprite) Clone() Sprite {
	if s.handle == nil {
		return Sprite{}
	}
	h := *s.handle
	return Sprite{handle: &h}
}

type Damage struct {
	Target ecs.EntityID
	Amount int32
}

const (
	arenaSize    = 100
	squads       = 4
	squadSize    = 5
	raidInterval = 20
	checkpointAt = 50
)

type arena struct {
	eng *engine.Engine
	sim *program.Program
	aud *program.Program

	pos    ecs.Component[Position]
	vel    ecs.Component[Velocity]
	hp     ecs.Component[Health]
	squad  ecs.Component[Squad]
	sprite ecs.Component[Sprite]

	damage    event.Channel[Damage]
	obituary  event.Channel[value.Value]
	leaders   []ecs.EntityID
	checkpt   engine.SceneID
	rng       *rand.Rand
	released  atomic.Int64
	deaths    atomic.Int64
	census    atomic.Int64
	published atomic.Uint64
}

func buildArena(eng *engine.Engine) (*arena, error) {
	a := &arena{eng: eng, rng: rand.New(rand.NewSource(1))}
	if err := a.registerTypes(); err != nil {
		return nil, err
	}

	var err error
	if a.sim, err = eng.NewProgram("sim"); err != nil {
		return nil, err
	}
	if a.aud, err = eng.NewProgram("audit"); err != nil {
		return nil, err
	}
	a.damage = event.Define[Damage](a.sim.Pipeline(), "damage")
	a.obituary = event.Define[value.Value](a.aud.Pipeline(), "obituary")

	if err := a.addSystems(); err != nil {
		return nil, err
	}

	log := eng.Logger()
	id, err := eng.NewScene(engine.SceneHooks{
		OnActivate: func(id engine.SceneID, st *ecs.GameState) error {
			log.Info("arena opened", zap.Stringer("scene", id), zap.Int("entities", len(st.Entities())))
			return nil
		},
		OnDestroy: func(id engine.SceneID, st *ecs.GameState) error {
			log.Info("arena closed", zap.Stringer("scene", id), zap.Int("entities", len(st.Entities())))
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if err := a.populate(eng.Scene(id)); err != nil {
		return nil, err
	}
	if err := eng.SceneActivate(id); err != nil {
		return nil, err
	}

	eng.Tasks().Spawn("raid", every(raidInterval, a.raid))
	eng.Tasks().Spawn("checkpoint", every(checkpointAt, a.checkpoint))
	return a, nil
}

func (a *arena) registerTypes() error {
	types := a.eng.Types()
	var err error
	if a.pos, err = ecs.Register[Position](types, ecs.ComponentConfig{Name: "position"}); err != nil {
		return err
	}
	if a.vel, err = ecs.Register[Velocity](types, ecs.ComponentConfig{Name: "velocity"}); err != nil {
		return err
	}
	if a.hp, err = ecs.Register[Health](types, ecs.ComponentConfig{Name: "health", Shared: true}); err != nil {
		return err
	}
	if a.squad, err = ecs.Register[Squad](types, ecs.ComponentConfig{Name: "squad", Ownership: ecs.OwnChildren}); err != nil {
		return err
	}
	a.sprite, err = ecs.Register[Sprite](types, ecs.ComponentConfig{Name: "sprite", Ownership: ecs.OwnPointer})
	return err
}

func (a *arena) addSystems() error {
	report := barrier.New("report")
	publishTicket, censusTicket := report.NewTicket(), report.NewTicket()

	sim := []system.Config{
		{
			Name:     "move",
			Priority: system.PriorityUpdate,
			Deps:     []system.Dep{system.Writes(a.pos), system.Reads(a.vel)},
			Transform: func(ctx *system.Context) {
				p, v := system.Get[Position](ctx, 0), system.Get[Velocity](ctx, 1)
				p.X, p.Y = wrap(p.X+v.DX), wrap(p.Y+v.DY)
			},
		},
		{
			Name:     "regen",
			Priority: system.PriorityPostUpdate,
			Deps:     []system.Dep{system.Writes(a.hp)},
			Transform: func(ctx *system.Context) {
				if h := system.Get[Health](ctx, 0); h.HP > 0 && h.HP < h.Max {
					h.HP++
				}
			},
		},
		{
			Name:    "apply-damage",
			Trigger: system.TriggerEvent,
			Source:  a.damage,
			Deps:    []system.Dep{system.Writes(a.hp)},
			Transform: func(ctx *system.Context) {
				d, ok := system.Message[Damage](ctx)
				if !ok || ctx.Entity != d.Target {
					return
				}
				system.Get[Health](ctx, 0).HP -= d.Amount
			},
		},
		{
			Name:     "reaper",
			Priority: system.PriorityCleanup,
			Deps:     []system.Dep{system.Reads(a.hp)},
			Transform: func(ctx *system.Context) {
				if system.Get[Health](ctx, 0).HP > 0 {
					return
				}
				ctx.State.DestroyEntity(ctx.Entity)
				a.deaths.Add(1)
				a.obituary.Send(value.List{value.Entity(ctx.Entity), value.String("fell")})
			},
		},
		{
			Name:      "publish",
			Priority:  system.PriorityOutput,
			Tickets:   []*barrier.Ticket{publishTicket},
			Transform: func(*system.Context) { a.published.Add(1) },
		},
	}
	aud := []system.Config{
		{
			Name:    "census",
			Deps:    []system.Dep{system.Reads(a.hp)},
			Tickets: []*barrier.Ticket{censusTicket},
			Transform: func(ctx *system.Context) {
				a.census.Add(int64(system.Get[Health](ctx, 0).HP))
			},
		},
		{
			Name:    "obituary",
			Trigger: system.TriggerEvent,
			Source:  a.obituary,
			Transform: func(ctx *system.Context) {
				if v, ok := system.Message[value.Value](ctx); ok {
					a.eng.Logger().Info("obituary", value.Field("entry", v))
				}
			},
		},
	}

	for _, cfg := range sim {
		if err := a.add(a.sim, cfg); err != nil {
			return err
		}
	}
	for _, cfg := range aud {
		if err := a.add(a.aud, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (a *arena) add(p *program.Program, cfg system.Config) error {
	s, err := system.New(a.eng.Types(), cfg)
	if err != nil {
		return err
	}
	return p.AddSystem(s)
}

func (a *arena) populate(st *ecs.GameState) error {
	for i := 0; i < squads; i++ {
		leader := st.CreateEntity()
		members := make([]ecs.EntityID, squadSize)
		for j := range members {
			m := st.CreateEntity()
			members[j] = m
			if err := a.spawnUnit(st, m, i*squadSize+j); err != nil {
				return err
			}
		}
		if err := a.spawnUnit(st, leader, -1-i); err != nil {
			return err
		}
		if err := ecs.Create(st, a.squad, leader, Squad{Members: members}); err != nil {
			return err
		}
		a.leaders = append(a.leaders, leader)
	}
	return nil
}

func (a *arena) spawnUnit(st *ecs.GameState, e ecs.EntityID, sprite int) error {
	return multierr.Combine(
		ecs.Create(st, a.pos, e, Position{X: a.rng.Float32() * arenaSize, Y: a.rng.Float32() * arenaSize}),
		ecs.Create(st, a.vel, e, Velocity{DX: a.rng.Float32() - 0.5, DY: a.rng.Float32() - 0.5}),
		ecs.Create(st, a.hp, e, Health{HP: 20, Max: 20}),
		ecs.Create(st, a.sprite, e, Sprite{handle: &spriteHandle{id: sprite, released: &a.released}}),
	)
}

// raid hits a random leader harder than its full health.
func (a *arena) raid() {
	st := a.eng.WorkingState()
	alive := a.leaders[:0]
	for _, l := range a.leaders {
		if st.Alive(l) {
			alive = append(alive, l)
		}
	}
	a.leaders = alive
	if len(alive) == 0 {
		return
	}
	target := alive[a.rng.Intn(len(alive))]
	a.damage.Send(Damage{Target: target, Amount: 25})
}

// checkpoint keeps one branch of the active scene, replacing the previous.
func (a *arena) checkpoint() {
	log := a.eng.Logger()
	if a.checkpt != 0 {
		if err := a.eng.DestroyScene(a.checkpt); err != nil {
			log.Warn("drop checkpoint", zap.Error(err))
		}
	}
	id, err := a.eng.Branch(a.eng.Active())
	if err != nil {
		log.Warn("checkpoint", zap.Error(err))
		return
	}
	a.checkpt = id
	log.Debug("checkpoint", zap.Stringer("scene", id), zap.Uint64("frame", a.eng.Frames()))
}

func (a *arena) report(log *zap.Logger) {
	st := a.eng.WorkingState()
	if st == nil {
		return
	}
	log.Info("arena report",
		zap.Uint64("frames", a.eng.Frames()),
		zap.Int("entities", len(st.Entities())),
		zap.Int64("deaths", a.deaths.Load()),
		zap.Int64("sprites_released", a.released.Load()),
		zap.Int64("census_hp", a.census.Load()),
		zap.Uint64("published", a.published.Load()))
}

func wrap(v float32) float32 {
	switch {
	case v < 0:
		return v + arenaSize
	case v >= arenaSize:
		return v - arenaSize
	}
	return v
}

// every runs fn each n ticks, forever.
func every(n uint64, fn func()) task.Future {
	var cur task.Future
	return task.FutureFunc(func(w task.Waker) task.Status {
		for {
			if cur == nil {
				cur = task.Then(task.Sleep(n), fn)
			}
			if cur.Poll(w) == task.Pending {
				return task.Pending
			}
			cur = nil
		}
	})
}
