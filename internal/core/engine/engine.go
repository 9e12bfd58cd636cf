// Package engine ties the runtime together: component types, scenes,
// programs and cooperative tasks, driven one frame at a time.
//
// An Engine is owned by the orchestrating goroutine; its methods are not
// safe for concurrent use. Systems run on program workers and reach the
// engine only through the state they are handed.
package engine

import (
	"context"
	"time"

	"github.com/l1jgo/ecsrt/internal/config"
	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"github.com/l1jgo/ecsrt/internal/core/program"
	"github.com/l1jgo/ecsrt/internal/core/task"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Engine struct {
	cfg   config.Config
	log   *zap.Logger
	state State

	types *ecs.Types
	sched *program.Scheduler
	tasks *task.Scheduler

	scenes     []sceneSlot
	freeScenes []uint32
	baseline   SceneID
	active     SceneID
	working    SceneID

	frames uint64
}

// Init builds an engine from cfg. The baseline scene is created at once and
// is both active and working.
func Init(cfg *config.Config, log *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:   *cfg,
		log:   log,
		state: StateInitialized,
		types: ecs.NewTypes(),
		sched: program.NewScheduler(program.Options{
			LockOSThread:     cfg.Scheduler.LockOSThread,
			DetachedInterval: cfg.Scheduler.DetachedInterval,
		}, log.Named("sched")),
		tasks: task.NewScheduler(log.Named("task")),
	}
	e.baseline = e.addScene(ecs.NewGameState(e.types, cfg.Storage.InitialCapacity), SceneHooks{})
	e.active, e.working = e.baseline, e.baseline
	log.Info("engine initialized",
		zap.Int("frame_rate", cfg.Engine.FrameRate),
		zap.Bool("debug", cfg.Engine.Debug),
		zap.Bool("lock_os_thread", cfg.Scheduler.LockOSThread))
	return e, nil
}

func (e *Engine) Config() config.Config         { return e.cfg }
func (e *Engine) Logger() *zap.Logger           { return e.log }
func (e *Engine) Types() *ecs.Types             { return e.types }
func (e *Engine) Scheduler() *program.Scheduler { return e.sched }
func (e *Engine) Tasks() *task.Scheduler        { return e.tasks }

// Frames is the number of completed frames.
func (e *Engine) Frames() uint64 { return e.frames }

// NewProgram creates a program. The first one runs inline on the
// orchestrating goroutine.
func (e *Engine) NewProgram(name string) (*program.Program, error) {
	if err := e.expect("new program", StateInitialized, StateStarted, StateRunning); err != nil {
		return nil, err
	}
	return e.sched.NewProgram(name), nil
}

// Start spins up the program workers.
func (e *Engine) Start() error {
	if err := e.expect("start", StateInitialized); err != nil {
		return err
	}
	e.sched.Start()
	e.state = StateStarted
	e.log.Info("engine started", zap.Int("programs", len(e.sched.Programs())))
	return nil
}

// Frame runs one frame: reset working to active, run pending tasks, run
// every program, then flush the staged removals and destroys.
func (e *Engine) Frame() error {
	if err := e.expect("frame", StateStarted, StateRunning); err != nil {
		return err
	}
	e.state = StateRunning
	return e.frame()
}

func (e *Engine) frame() error {
	e.working = e.active
	e.tasks.RunPending()
	st := e.WorkingState()
	if err := e.sched.Frame(st); err != nil {
		return err
	}
	removed, destroyed := st.Flush()
	e.frames++
	if removed > 0 || destroyed > 0 {
		e.log.Debug("frame flushed",
			zap.Uint64("frame", e.frames),
			zap.Int("removed", removed),
			zap.Int("destroyed", destroyed))
	}
	return nil
}

// Loop runs frames at the configured rate until ctx is done or
// engine.max_frames frames have run in total.
func (e *Engine) Loop(ctx context.Context) error {
	if err := e.expect("loop", StateStarted, StateRunning); err != nil {
		return err
	}
	e.state = StateLooping
	defer func() {
		if e.state == StateLooping {
			e.state = StateRunning
		}
	}()

	interval := e.cfg.Engine.FrameInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.log.Info("loop started", zap.Duration("interval", interval), zap.Uint64("max_frames", e.cfg.Engine.MaxFrames))

	for {
		if limit := e.cfg.Engine.MaxFrames; limit > 0 && e.frames >= limit {
			e.log.Info("loop finished", zap.Uint64("frames", e.frames))
			return nil
		}
		select {
		case <-ctx.Done():
			e.log.Info("loop cancelled", zap.Uint64("frames", e.frames))
			return nil
		case <-ticker.C:
			if err := e.frame(); err != nil {
				return err
			}
		}
	}
}

// Stop ends every worker, deactivates the active scene and destroys every
// scene. Hook errors are collected; the engine stops regardless.
func (e *Engine) Stop() error {
	if e.state == StateStopped {
		return nil
	}
	e.sched.Stop()

	var errs error
	if s, err := e.slot(e.active); err == nil {
		errs = multierr.Append(errs, call(s.hooks.OnDeactivate, e.active, s.state))
	}
	for i := range e.scenes {
		s := &e.scenes[i]
		if s.state == nil {
			continue
		}
		id := SceneID(uint64(s.gen)<<32 | uint64(i))
		errs = multierr.Append(errs, call(s.hooks.OnDestroy, id, s.state))
		e.release(id)
	}
	e.baseline, e.active, e.working = 0, 0, 0
	e.state = StateStopped
	e.log.Info("engine stopped", zap.Uint64("frames", e.frames), zap.Int("errors", len(multierr.Errors(errs))))
	return errs
}
