package program

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/TheBitDrifter/mask"
	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/l1jgo/ecsrt/internal/core/event"
	"github.com/l1jgo/ecsrt/internal/core/system"
	"go.uber.org/zap"
)

var (
	ErrForeignChannel   = errors.New("program: event source belongs to another program")
	ErrDuplicateSystem  = errors.New("program: system already added")
	ErrExclusiveShared  = errors.New("program: exclusive component used by another program")
	ErrNotMember        = errors.New("program: system not part of this program")
	ErrPrimaryProgram   = errors.New("program: primary program runs inline")
	ErrAlreadyDetached  = errors.New("program: already detached")
	ErrNotDetached      = errors.New("program: not detached")
	ErrUnknownProgram   = errors.New("program: unknown program")
	ErrNoStateProvider  = errors.New("program: detach needs a state provider")
	ErrSchedulerStopped = errors.New("program: scheduler stopped")
)

// Program bundles loop systems, event-triggered systems and its own event
// pipeline. The first program of a Scheduler runs inline on the
// orchestrating goroutine; every other one runs on a worker.
type Program struct {
	id      int
	name    string
	primary bool
	sched   *Scheduler
	log     *zap.Logger

	pipeline *event.Pipeline

	mu      sync.Mutex
	systems []*system.System
	// loop holds the enabled loop systems, priority-sorted; replaced, never
	// mutated, so Run can iterate a snapshot without the lock
	loop   []*system.System
	sorted bool
	subs   map[*system.System]event.SubscriptionID

	// guarded by sched.mu
	touched   mask.Mask
	exclusive mask.Mask

	onComplete func(*ecs.GameState)
	frames     atomic.Uint64
}

func (p *Program) ID() int                   { return p.id }
func (p *Program) Name() string              { return p.name }
func (p *Program) Primary() bool             { return p.primary }
func (p *Program) Pipeline() *event.Pipeline { return p.pipeline }

// Frames is the number of completed Run calls.
func (p *Program) Frames() uint64 { return p.frames.Load() }

// OnComplete sets the hook the scheduler calls after every synchronous
// frame, once all programs have finished.
func (p *Program) OnComplete(fn func(*ecs.GameState)) {
	p.mu.Lock()
	p.onComplete = fn
	p.mu.Unlock()
}

// AddSystem makes s a member of p. Loop systems join the priority-sorted
// loop set; event systems subscribe to their source channel, which must
// belong to p's pipeline.
func (p *Program) AddSystem(s *system.System) error {
	if s.Trigger() == system.TriggerEvent && s.Source().Pipeline() != p.pipeline {
		return fmt.Errorf("%s: system %q: %w", p.name, s.Name(), ErrForeignChannel)
	}
	if err := p.sched.claim(p, s); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.systems = append(p.systems, s)
	if s.Enabled() {
		p.activateLocked(s)
	}
	p.log.Debug("system added",
		zap.String("program", p.name),
		zap.String("system", s.Name()),
		zap.Int("priority", s.Priority()),
		zap.Stringer("join", s.Join()))
	return nil
}

// Enable puts s back into p's active sets.
func (p *Program) Enable(s *system.System) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.memberLocked(s) {
		return ErrNotMember
	}
	if !s.Enabled() {
		s.SetEnabled(true)
		p.activateLocked(s)
	}
	return nil
}

// Disable removes s from p's active sets; it stays a member.
func (p *Program) Disable(s *system.System) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.memberLocked(s) {
		return ErrNotMember
	}
	if s.Enabled() {
		s.SetEnabled(false)
		p.deactivateLocked(s)
	}
	return nil
}

// Systems returns every member in insertion order.
func (p *Program) Systems() []*system.System {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*system.System(nil), p.systems...)
}

func (p *Program) memberLocked(s *system.System) bool {
	for _, m := range p.systems {
		if m == s {
			return true
		}
	}
	return false
}

func (p *Program) activateLocked(s *system.System) {
	if s.Trigger() == system.TriggerEvent {
		src := s.Source()
		p.subs[s] = p.pipeline.SubscribeRaw(src.ID(), func(st *ecs.GameState, msg any) {
			s.Execute(st, msg)
		})
		return
	}
	loop := make([]*system.System, len(p.loop), len(p.loop)+1)
	copy(loop, p.loop)
	p.loop = append(loop, s)
	p.sorted = false
}

func (p *Program) deactivateLocked(s *system.System) {
	if s.Trigger() == system.TriggerEvent {
		if id, ok := p.subs[s]; ok {
			p.pipeline.Unsubscribe(s.Source().ID(), id)
			delete(p.subs, s)
		}
		return
	}
	loop := make([]*system.System, 0, len(p.loop))
	for _, m := range p.loop {
		if m != s {
			loop = append(loop, m)
		}
	}
	p.loop = loop
}

func (p *Program) loopSnapshot() []*system.System {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sorted {
		loop := append([]*system.System(nil), p.loop...)
		sort.Slice(loop, func(i, j int) bool {
			if loop[i].Priority() != loop[j].Priority() {
				return loop[i].Priority() > loop[j].Priority()
			}
			return loop[i].ID() < loop[j].ID()
		})
		p.loop = loop
		p.sorted = true
	}
	return p.loop
}

// Run executes one frame of p against st: flush the pipeline, then every
// enabled loop system in descending priority order.
func (p *Program) Run(st *ecs.GameState) {
	p.pipeline.FlushAll(st)
	for _, s := range p.loopSnapshot() {
		s.Execute(st, nil)
	}
	p.frames.Add(1)
}

func (p *Program) complete(st *ecs.GameState) {
	p.mu.Lock()
	fn := p.onComplete
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}
