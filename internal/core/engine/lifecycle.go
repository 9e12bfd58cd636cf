package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrInternalState is returned by every call once the engine has seen a
// lifecycle violation outside debug mode.
var ErrInternalState = errors.New("engine: internal state error")

type State uint8

const (
	StateStopped State = iota
	StateInitialized
	StateStarted
	StateRunning
	StateLooping
	StateError
)

var stateNames = [...]string{"stopped", "initialized", "started", "running", "looping", "error"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// expect checks that op is legal in the current state. A violation panics
// in debug mode and otherwise latches StateError.
func (e *Engine) expect(op string, allowed ...State) error {
	if e.state == StateError {
		return fmt.Errorf("%s: %w", op, ErrInternalState)
	}
	for _, s := range allowed {
		if e.state == s {
			return nil
		}
	}
	msg := fmt.Sprintf("engine: %s not allowed while %s", op, e.state)
	if e.cfg.Engine.Debug {
		panic(msg)
	}
	e.log.Error("lifecycle violation", zap.String("op", op), zap.Stringer("state", e.state))
	e.state = StateError
	return fmt.Errorf("%s: %w", op, ErrInternalState)
}

// State reports the lifecycle state.
func (e *Engine) State() State { return e.state }
