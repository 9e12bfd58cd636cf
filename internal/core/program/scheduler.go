package program

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/l1jgo/ecsrt/internal/core/event"
	"github.com/l1jgo/ecsrt/internal/core/system"
	"go.uber.org/zap"
)

// Options tunes worker behaviour.
type Options struct {
	// LockOSThread pins every worker goroutine to its own OS thread.
	LockOSThread bool
	// DetachedInterval paces free-running programs; zero runs them back to
	// back, yielding the processor between frames.
	DetachedInterval time.Duration
}

// StateProvider hands a detached program the state to run its next frame on.
// Returning nil skips that frame. The state may be the one handed to Frame:
// each detached run holds it between Enter and Exit, so the end-of-frame
// Flush waits for the run in progress. Orchestrator code that writes the
// detached program's exclusive types directly must do so from a system or
// while the program is joined.
type StateProvider func() *ecs.GameState

// worker runs one secondary program, one frame per handoff.
type worker struct {
	prog    *Program
	handoff chan *ecs.GameState
	done    chan struct{}
	exited  chan struct{}
}

func (w *worker) loop(lockThread bool) {
	defer close(w.exited)
	if lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	for st := range w.handoff {
		w.prog.Run(st)
		w.done <- struct{}{}
	}
}

func (w *worker) stop() {
	close(w.handoff)
	<-w.exited
}

// freeRunner runs a detached program continuously against a provider.
type freeRunner struct {
	prog     *Program
	provider StateProvider
	interval time.Duration
	stopCh   chan struct{}
	exited   chan struct{}
}

func (f *freeRunner) loop(lockThread bool) {
	defer close(f.exited)
	if lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	var tick <-chan time.Time
	if f.interval > 0 {
		t := time.NewTicker(f.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}
		if st := f.provider(); st != nil {
			st.Enter()
			f.prog.Run(st)
			st.Exit()
		}
		if tick == nil {
			runtime.Gosched()
			continue
		}
		select {
		case <-f.stopCh:
			return
		case <-tick:
		}
	}
}

func (f *freeRunner) stop() {
	close(f.stopCh)
	<-f.exited
}

// Scheduler owns the programs and their workers.
type Scheduler struct {
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	programs []*Program
	owner    map[*system.System]*Program
	workers  map[*Program]*worker
	detached map[*Program]*freeRunner
	started  bool
	stopped  bool
}

func NewScheduler(opts Options, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		opts:     opts,
		log:      log,
		owner:    make(map[*system.System]*Program),
		workers:  make(map[*Program]*worker),
		detached: make(map[*Program]*freeRunner),
	}
}

// NewProgram creates a program with its own pipeline. The first program is
// the primary one.
func (sc *Scheduler) NewProgram(name string) *Program {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	p := &Program{
		id:       len(sc.programs),
		name:     name,
		primary:  len(sc.programs) == 0,
		sched:    sc,
		log:      sc.log,
		pipeline: event.NewPipeline(name, sc.log),
		subs:     make(map[*system.System]event.SubscriptionID),
	}
	sc.programs = append(sc.programs, p)
	if sc.started && !p.primary {
		sc.spawnLocked(p)
	}
	sc.log.Debug("program created", zap.String("program", name), zap.Bool("primary", p.primary))
	return p
}

// Programs returns every program in creation order.
func (sc *Scheduler) Programs() []*Program {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]*Program(nil), sc.programs...)
}

// claim records s as a member of p after checking that no exclusive type is
// touched by systems of two programs.
func (sc *Scheduler) claim(p *Program, s *system.System) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.owner[s]; ok {
		return fmt.Errorf("%s: system %q: %w", p.name, s.Name(), ErrDuplicateSystem)
	}
	for _, o := range sc.programs {
		if o == p {
			continue
		}
		if s.Exclusive().ContainsAny(o.touched) || s.Touches(o.exclusive) {
			return fmt.Errorf("%s: system %q conflicts with %s: %w", p.name, s.Name(), o.name, ErrExclusiveShared)
		}
	}
	for _, info := range s.Infos() {
		p.touched.Mark(uint32(info.ID))
		if !info.Shared {
			p.exclusive.Mark(uint32(info.ID))
		}
	}
	sc.owner[s] = p
	return nil
}

func (sc *Scheduler) spawnLocked(p *Program) {
	w := &worker{
		prog:    p,
		handoff: make(chan *ecs.GameState, 1),
		done:    make(chan struct{}, 1),
		exited:  make(chan struct{}),
	}
	sc.workers[p] = w
	go w.loop(sc.opts.LockOSThread)
	sc.log.Debug("worker started", zap.String("program", p.name))
}

// Start readies a worker for every secondary program. Frame calls it on
// first use.
func (sc *Scheduler) Start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.startLocked()
}

func (sc *Scheduler) startLocked() {
	if sc.started {
		return
	}
	sc.started = true
	for _, p := range sc.programs {
		if p.primary {
			continue
		}
		if _, free := sc.detached[p]; free {
			continue
		}
		if _, ok := sc.workers[p]; !ok {
			sc.spawnLocked(p)
		}
	}
}

// Frame runs one synchronous frame: hand st to every worker, run the primary
// program inline, wait for every worker, then call each program's completion
// hook. Detached programs are not part of the frame.
func (sc *Scheduler) Frame(st *ecs.GameState) error {
	sc.mu.Lock()
	if sc.stopped {
		sc.mu.Unlock()
		return ErrSchedulerStopped
	}
	sc.startLocked()
	var primary *Program
	running := make([]*Program, 0, len(sc.programs))
	workers := make([]*worker, 0, len(sc.workers))
	for _, p := range sc.programs {
		if p.primary {
			primary = p
			running = append(running, p)
			continue
		}
		if w, ok := sc.workers[p]; ok {
			workers = append(workers, w)
			running = append(running, p)
		}
	}
	sc.mu.Unlock()

	for _, w := range workers {
		w.handoff <- st
	}
	if primary != nil {
		primary.Run(st)
	}
	for _, w := range workers {
		<-w.done
	}
	for _, p := range running {
		p.complete(st)
	}
	return nil
}

// Detach moves p off the synchronous frame onto a free-running loop against
// provider. It must not be called from inside p's own frame.
func (sc *Scheduler) Detach(p *Program, provider StateProvider) error {
	if provider == nil {
		return ErrNoStateProvider
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.checkLocked(p); err != nil {
		return err
	}
	if _, ok := sc.detached[p]; ok {
		return fmt.Errorf("%s: %w", p.name, ErrAlreadyDetached)
	}
	if w, ok := sc.workers[p]; ok {
		w.stop()
		delete(sc.workers, p)
	}
	f := &freeRunner{
		prog:     p,
		provider: provider,
		interval: sc.opts.DetachedInterval,
		stopCh:   make(chan struct{}),
		exited:   make(chan struct{}),
	}
	sc.detached[p] = f
	go f.loop(sc.opts.LockOSThread)
	sc.log.Info("program detached", zap.String("program", p.name), zap.Duration("interval", f.interval))
	return nil
}

// Join stops p's free-running loop and returns it to the synchronous frame.
func (sc *Scheduler) Join(p *Program) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.checkLocked(p); err != nil {
		return err
	}
	f, ok := sc.detached[p]
	if !ok {
		return fmt.Errorf("%s: %w", p.name, ErrNotDetached)
	}
	f.stop()
	delete(sc.detached, p)
	if sc.started {
		sc.spawnLocked(p)
	}
	sc.log.Info("program joined", zap.String("program", p.name), zap.Uint64("frames", p.Frames()))
	return nil
}

func (sc *Scheduler) checkLocked(p *Program) error {
	if sc.stopped {
		return ErrSchedulerStopped
	}
	if p == nil || p.sched != sc {
		return ErrUnknownProgram
	}
	if p.primary {
		return fmt.Errorf("%s: %w", p.name, ErrPrimaryProgram)
	}
	return nil
}

// Detached reports whether p is free-running.
func (sc *Scheduler) Detached(p *Program) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.detached[p]
	return ok
}

// Stop ends every worker and free-running loop. It is idempotent.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.stopped {
		return
	}
	sc.stopped = true
	for p, f := range sc.detached {
		f.stop()
		delete(sc.detached, p)
	}
	for p, w := range sc.workers {
		w.stop()
		delete(sc.workers, p)
	}
	sc.log.Debug("scheduler stopped", zap.Int("programs", len(sc.programs)))
}
