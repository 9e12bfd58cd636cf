package system

import "github.com/l1jgo/ecsrt/internal/core/ecs"

// Context is the binding handed to a transform for one invocation. The
// executor reuses it between invocations.
type Context struct {
	State  *ecs.GameState
	System *System
	// Entity is the driven entity; the first dependency's entity for CROSS
	// and the null entity for systems without dependencies.
	Entity ecs.EntityID
	// Entities[i] is the entity bound for dependency i; Values[i] holds a
	// *T for it, or nil when UNION found it absent.
	Entities []ecs.EntityID
	Values   []any
	// Message is the delivered payload for event-triggered systems.
	Message any
}

// Get returns dependency i as *T, or nil when it is absent or of another
// type.
func Get[T any](ctx *Context, i int) *T {
	if i < 0 || i >= len(ctx.Values) {
		return nil
	}
	p, _ := ctx.Values[i].(*T)
	return p
}

// Message returns the event payload as T.
func Message[T any](ctx *Context) (T, bool) {
	v, ok := ctx.Message.(T)
	return v, ok
}
