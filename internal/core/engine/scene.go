package engine

import (
	"errors"
	"fmt"

	"github.com/l1jgo/ecsrt/internal/core/ecs"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrUnknownScene = errors.New("engine: unknown scene")
	ErrSceneInUse   = errors.New("engine: scene is baseline, active or working")
)

// SceneID is a scene handle: slot index in the low 32 bits, slot
// generation in the high 32 bits. The zero value names no scene.
type SceneID uint64

func (id SceneID) index() uint32      { return uint32(id) }
func (id SceneID) generation() uint32 { return uint32(id >> 32) }

func (id SceneID) String() string {
	return fmt.Sprintf("scene(%d/%d)", id.index(), id.generation())
}

// Hook is a scene lifecycle callback, used to attach or release external
// resources bound to one scene.
type Hook func(id SceneID, st *ecs.GameState) error

type SceneHooks struct {
	OnActivate   Hook
	OnDeactivate Hook
	OnDestroy    Hook
}

type sceneSlot struct {
	gen   uint32
	state *ecs.GameState
	hooks SceneHooks
}

func call(h Hook, id SceneID, st *ecs.GameState) error {
	if h == nil {
		return nil
	}
	if err := h(id, st); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

// NewScene creates an empty scene sharing the engine's component types.
func (e *Engine) NewScene(hooks SceneHooks) (SceneID, error) {
	if err := e.expect("new scene", StateInitialized, StateStarted, StateRunning, StateLooping); err != nil {
		return 0, err
	}
	return e.addScene(ecs.NewGameState(e.types, e.cfg.Storage.InitialCapacity), hooks), nil
}

func (e *Engine) addScene(st *ecs.GameState, hooks SceneHooks) SceneID {
	var idx uint32
	if n := len(e.freeScenes); n > 0 {
		idx = e.freeScenes[n-1]
		e.freeScenes = e.freeScenes[:n-1]
	} else {
		idx = uint32(len(e.scenes))
		e.scenes = append(e.scenes, sceneSlot{})
	}
	slot := &e.scenes[idx]
	slot.gen++
	if slot.gen == 0 {
		slot.gen = 1
	}
	slot.state = st
	slot.hooks = hooks
	id := SceneID(uint64(slot.gen)<<32 | uint64(idx))
	e.log.Debug("scene created", zap.Stringer("scene", id))
	return id
}

func (e *Engine) slot(id SceneID) (*sceneSlot, error) {
	if e.state == StateError {
		return nil, ErrInternalState
	}
	idx := id.index()
	if id == 0 || int(idx) >= len(e.scenes) {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownScene)
	}
	s := &e.scenes[idx]
	if s.state == nil || s.gen != id.generation() {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownScene)
	}
	return s, nil
}

// Scene returns the state behind id, or nil for a stale handle.
func (e *Engine) Scene(id SceneID) *ecs.GameState {
	s, err := e.slot(id)
	if err != nil {
		return nil
	}
	return s.state
}

func (e *Engine) Baseline() SceneID { return e.baseline }
func (e *Engine) Active() SceneID   { return e.active }
func (e *Engine) Working() SceneID  { return e.working }

// WorkingState is the state systems run against this frame.
func (e *Engine) WorkingState() *ecs.GameState { return e.Scene(e.working) }

// SceneSet retargets the working scene only. The next frame resets it to
// the active scene.
func (e *Engine) SceneSet(id SceneID) error {
	if _, err := e.slot(id); err != nil {
		return err
	}
	e.working = id
	return nil
}

// SceneActivate makes id the active and working scene, firing
// on-deactivate for the old scene and then on-activate for the new one.
// Hook errors are returned but do not undo the switch.
func (e *Engine) SceneActivate(id SceneID) error {
	next, err := e.slot(id)
	if err != nil {
		return err
	}
	if id == e.active {
		e.working = id
		return nil
	}
	var errs error
	if prev, perr := e.slot(e.active); perr == nil {
		errs = multierr.Append(errs, call(prev.hooks.OnDeactivate, e.active, prev.state))
	}
	old := e.active
	e.active, e.working = id, id
	errs = multierr.Append(errs, call(next.hooks.OnActivate, id, next.state))
	e.log.Info("scene activated", zap.Stringer("from", old), zap.Stringer("to", id))
	return errs
}

// Branch clones a scene into a new one without hooks.
func (e *Engine) Branch(id SceneID) (SceneID, error) {
	src, err := e.slot(id)
	if err != nil {
		return 0, err
	}
	return e.addScene(src.state.Clone(), SceneHooks{}), nil
}

// MergeScene diff-merges src into dst and returns the number of instances
// written.
func (e *Engine) MergeScene(dst, src SceneID) (int, error) {
	d, err := e.slot(dst)
	if err != nil {
		return 0, err
	}
	s, err := e.slot(src)
	if err != nil {
		return 0, err
	}
	n := d.state.Merge(s.state)
	e.log.Debug("scene merged", zap.Stringer("dst", dst), zap.Stringer("src", src), zap.Int("written", n))
	return n, nil
}

// DestroyScene fires on-destroy and frees the handle. The baseline, active
// and working scenes cannot be destroyed.
func (e *Engine) DestroyScene(id SceneID) error {
	s, err := e.slot(id)
	if err != nil {
		return err
	}
	if id == e.baseline || id == e.active || id == e.working {
		return fmt.Errorf("%s: %w", id, ErrSceneInUse)
	}
	err = call(s.hooks.OnDestroy, id, s.state)
	e.release(id)
	return err
}

func (e *Engine) release(id SceneID) {
	s := &e.scenes[id.index()]
	s.state = nil
	s.hooks = SceneHooks{}
	e.freeScenes = append(e.freeScenes, id.index())
	e.log.Debug("scene destroyed", zap.Stringer("scene", id))
}
