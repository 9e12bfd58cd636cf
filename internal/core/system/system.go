package system

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/TheBitDrifter/mask"
	"github.com/l1jgo/ecsrt/internal/core/barrier"
	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/l1jgo/ecsrt/internal/core/event"
)

var (
	ErrMissingTransform  = errors.New("system: transform required")
	ErrUnknownTrigger    = errors.New("system: unknown trigger policy")
	ErrUnknownJoin       = errors.New("system: unknown join policy")
	ErrUnknownAccess     = errors.New("system: unknown access mode")
	ErrMissingSource     = errors.New("system: event trigger without source channel")
	ErrConflictingAccess = errors.New("system: component declared twice with conflicting access")
	ErrUnknownComponent  = errors.New("system: unknown component type")
)

// Join selects which entities a multi-dependency system iterates.
type Join uint8

const (
	JoinInner Join = iota // driver = smallest column, skip when any dep is missing
	JoinLeft              // driver = first dependency, skip when any dep is missing
	JoinCross             // Cartesian product of every column
	JoinUnion             // union of every column, missing deps bound as nil
)

func (j Join) String() string {
	switch j {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	case JoinCross:
		return "cross"
	case JoinUnion:
		return "union"
	}
	return fmt.Sprintf("Join(%d)", uint8(j))
}

// Trigger decides when a program runs the system.
type Trigger uint8

const (
	TriggerLoop  Trigger = iota // every frame, in priority order
	TriggerEvent                // once per message delivered on Config.Source
)

// Access is the capability a system requests on one dependency.
type Access uint8

const (
	Read Access = iota
	Write
)

// Dep is one declared dependency.
type Dep struct {
	Type   ecs.TypeID
	Access Access
}

// Reads declares read-only access to c.
func Reads[T any](c ecs.Component[T]) Dep { return Dep{Type: c.ID(), Access: Read} }

// Writes declares mutable access to c.
func Writes[T any](c ecs.Component[T]) Dep { return Dep{Type: c.ID(), Access: Write} }

// Transform is the per-invocation callback. It must not retain ctx.
type Transform func(ctx *Context)

// Config is the immutable description of a system, passed once to New.
type Config struct {
	Name     string
	Deps     []Dep
	Join     Join
	Trigger  Trigger
	Source   event.Source
	Priority int

	Transform  Transform
	Guard      func(s *ecs.GameState) bool
	OnComplete func(s *ecs.GameState)
	// Tickets are locked in order before any component lock and released
	// in reverse after the completion callback.
	Tickets []*barrier.Ticket
}

type lockStep struct {
	dep   int
	write bool
}

// System is a validated Config bound to a component type registry.
type System struct {
	id    uint64
	cfg   Config
	infos []*ecs.TypeInfo
	locks []lockStep

	reads     mask.Mask
	writes    mask.Mask
	exclusive mask.Mask

	enabled     atomic.Bool
	invocations atomic.Uint64
}

var nextID atomic.Uint64

// New validates cfg against types. Every problem found at creation time is
// reported here; nothing about the configuration fails later.
func New(types *ecs.Types, cfg Config) (*System, error) {
	if cfg.Transform == nil && (cfg.OnComplete == nil || len(cfg.Deps) == 0) {
		return nil, fmt.Errorf("system %q: %w", cfg.Name, ErrMissingTransform)
	}
	switch cfg.Trigger {
	case TriggerLoop:
	case TriggerEvent:
		if cfg.Source == nil || cfg.Source.Pipeline() == nil {
			return nil, fmt.Errorf("system %q: %w", cfg.Name, ErrMissingSource)
		}
	default:
		return nil, fmt.Errorf("system %q: %w", cfg.Name, ErrUnknownTrigger)
	}
	if cfg.Join > JoinUnion {
		return nil, fmt.Errorf("system %q: %w", cfg.Name, ErrUnknownJoin)
	}

	s := &System{
		id:    nextID.Add(1),
		cfg:   cfg,
		infos: make([]*ecs.TypeInfo, len(cfg.Deps)),
	}
	s.cfg.Deps = append([]Dep(nil), cfg.Deps...)
	s.cfg.Tickets = append([]*barrier.Ticket(nil), cfg.Tickets...)

	seen := make(map[ecs.TypeID]Access, len(cfg.Deps))
	for i, d := range s.cfg.Deps {
		if d.Access > Write {
			return nil, fmt.Errorf("system %q dep %d: %w", cfg.Name, i, ErrUnknownAccess)
		}
		info := types.Info(d.Type)
		if info == nil {
			return nil, fmt.Errorf("system %q dep %d: %w", cfg.Name, i, ErrUnknownComponent)
		}
		s.infos[i] = info
		if prev, dup := seen[d.Type]; dup {
			if prev != d.Access {
				return nil, fmt.Errorf("system %q: %s: %w", cfg.Name, info.Name, ErrConflictingAccess)
			}
			continue
		}
		seen[d.Type] = d.Access
		s.locks = append(s.locks, lockStep{dep: i, write: d.Access == Write})

		bit := uint32(d.Type)
		if d.Access == Write {
			s.writes.Mark(bit)
		} else {
			s.reads.Mark(bit)
		}
		if !info.Shared {
			s.exclusive.Mark(bit)
		}
	}
	s.enabled.Store(true)
	return s, nil
}

func (s *System) ID() uint64           { return s.id }
func (s *System) Name() string         { return s.cfg.Name }
func (s *System) Priority() int        { return s.cfg.Priority }
func (s *System) Trigger() Trigger     { return s.cfg.Trigger }
func (s *System) Join() Join           { return s.cfg.Join }
func (s *System) Source() event.Source { return s.cfg.Source }
func (s *System) Deps() []Dep          { return s.cfg.Deps }

func (s *System) Tickets() []*barrier.Ticket { return s.cfg.Tickets }

// Infos returns the type metadata of each declared dependency.
func (s *System) Infos() []*ecs.TypeInfo { return s.infos }

// Reads and Writes are the access masks requested at creation, indexed by
// TypeID.
func (s *System) Reads() mask.Mask  { return s.reads }
func (s *System) Writes() mask.Mask { return s.writes }

// Exclusive is the mask of non-shared types the system touches.
func (s *System) Exclusive() mask.Mask { return s.exclusive }

// Touches reports whether the system declared any type in m.
func (s *System) Touches(m mask.Mask) bool {
	return s.reads.ContainsAny(m) || s.writes.ContainsAny(m)
}

func (s *System) Enabled() bool { return s.enabled.Load() }

// SetEnabled is called by the owning program; use Program.Enable/Disable.
func (s *System) SetEnabled(on bool) { s.enabled.Store(on) }

// Invocations is the total number of transform calls so far.
func (s *System) Invocations() uint64 { return s.invocations.Load() }
