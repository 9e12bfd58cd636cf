package ecs

import (
	"bytes"
	"fmt"
	"sync"
	"unsafe"
)

// Ownership is the closed set of destruction behaviours a component type can
// have. Each variant dispatches to its own destructor; nothing is inferred
// from the stored bytes.
type Ownership uint8

const (
	OwnPlain    Ownership = iota // plain data, nothing to release
	OwnPointer                   // *T implements Releaser and Cloner[T]
	OwnChildren                  // *T implements ChildLister
)

func (o Ownership) String() string {
	switch o {
	case OwnPlain:
		return "plain"
	case OwnPointer:
		return "pointer"
	case OwnChildren:
		return "children"
	}
	return fmt.Sprintf("Ownership(%d)", uint8(o))
}

// Releaser is implemented by OwnPointer components.
type Releaser interface {
	Release()
}

// Cloner copies an instance for a scene snapshot. OwnPointer components must
// implement it so a branch never shares the resource it releases.
type Cloner[T any] interface {
	Clone() T
}

// ChildLister is implemented by OwnChildren components. Every listed entity
// is destroyed together with the owning instance.
type ChildLister interface {
	ChildEntities() []EntityID
}

// CreatePolicy decides what Create does when the entity already has an
// instance of the type.
type CreatePolicy uint8

const (
	CreateKeep      CreatePolicy = iota // keep the existing instance, report success
	CreateOverwrite                     // replace the existing instance
	CreateReject                        // fail with ErrInstanceExists
)

// Column is the untyped view of one component type's instance table in one
// scene. The join engine and GameState work through it.
type Column interface {
	Info() *TypeInfo
	Len() int
	Has(e EntityID) bool
	EntityAt(i int) EntityID
	// PtrAt returns the i-th instance as a *T boxed in an any.
	PtrAt(i int) any
	// Ptr returns the entity's instance as a *T boxed in an any, or an
	// untyped nil when absent.
	Ptr(e EntityID) any
	Entities() []EntityID
	CreateAny(e EntityID, v any) error
	Lock(mutable bool)
	Unlock(mutable bool)
	Clone() Column
	Merge(other Column, alive func(EntityID) bool) int

	destroy(e EntityID, s *GameState) bool
}

// Store is the instance table of component type T in one scene.
type Store[T any] struct {
	info *TypeInfo
	set  *SparseSet[T]
	mu   sync.RWMutex
}

func newStore[T any](info *TypeInfo, capacity int) *Store[T] {
	return &Store[T]{info: info, set: NewSparseSet[T](capacity)}
}

func (c *Store[T]) Info() *TypeInfo         { return c.info }
func (c *Store[T]) Len() int                { return c.set.Len() }
func (c *Store[T]) Has(e EntityID) bool     { return c.set.Has(e) }
func (c *Store[T]) EntityAt(i int) EntityID { return c.set.keys[i] }
func (c *Store[T]) PtrAt(i int) any         { return &c.set.values[i] }
func (c *Store[T]) Entities() []EntityID    { return c.set.Keys() }

func (c *Store[T]) Ptr(e EntityID) any {
	if p := c.set.Get(e); p != nil {
		return p
	}
	return nil
}

// Get returns the entity's instance or nil.
func (c *Store[T]) Get(e EntityID) *T { return c.set.Get(e) }

// Create inserts v for e, resolving an existing instance by the type's
// CreatePolicy. It does not lock: a caller touching a shared type from a
// system must have declared write access to it.
func (c *Store[T]) Create(e EntityID, v T) error {
	if c.set.Has(e) {
		switch c.info.Policy {
		case CreateKeep:
			return nil
		case CreateReject:
			return fmt.Errorf("%s on %d: %w", c.info.Name, e, ErrInstanceExists)
		}
	}
	c.set.Insert(e, v)
	return nil
}

func (c *Store[T]) CreateAny(e EntityID, v any) error {
	switch tv := v.(type) {
	case T:
		return c.Create(e, tv)
	case *T:
		if tv != nil {
			return c.Create(e, *tv)
		}
	}
	return fmt.Errorf("%s: got %T: %w", c.info.Name, v, ErrTypeMismatch)
}

// Lock is a no-op for exclusive types. Shared types take the read or write
// side of the store's RWMutex.
func (c *Store[T]) Lock(mutable bool) {
	if !c.info.Shared {
		return
	}
	if mutable {
		c.mu.Lock()
	} else {
		c.mu.RLock()
	}
}

func (c *Store[T]) Unlock(mutable bool) {
	if !c.info.Shared {
		return
	}
	if mutable {
		c.mu.Unlock()
	} else {
		c.mu.RUnlock()
	}
}

// destroy runs the remove hook while the instance is still present, erases
// it, then dispatches on the ownership category.
func (c *Store[T]) destroy(e EntityID, s *GameState) bool {
	if !c.set.Has(e) {
		return false
	}
	if hook := c.info.OnRemove; hook != nil {
		hook(s, e)
	}
	c.Lock(true)
	p := c.set.Get(e)
	if p == nil {
		c.Unlock(true)
		return false
	}
	v := *p
	c.set.Erase(e)
	c.Unlock(true)

	switch c.info.Ownership {
	case OwnPlain:
	case OwnPointer:
		any(&v).(Releaser).Release()
	case OwnChildren:
		for _, child := range any(&v).(ChildLister).ChildEntities() {
			s.destroyNow(child)
		}
	}
	return true
}

// Clone deep-copies the dense table. Types whose pointer implements
// Cloner[T] are copied through it; OwnPointer types always do.
func (c *Store[T]) Clone() Column {
	c.Lock(false)
	defer c.Unlock(false)
	var fn func(*T) T
	if _, ok := any((*T)(nil)).(Cloner[T]); ok {
		fn = func(p *T) T { return any(p).(Cloner[T]).Clone() }
	}
	return &Store[T]{info: c.info, set: c.set.CloneWith(fn)}
}

// Merge writes every incoming instance whose bytes differ from the local
// one, and inserts incoming instances missing locally when alive reports the
// entity live here. Local instances absent from other are left untouched.
func (c *Store[T]) Merge(other Column, alive func(EntityID) bool) int {
	src, ok := other.(*Store[T])
	if !ok || src == c {
		return 0
	}
	src.Lock(false)
	defer src.Unlock(false)
	c.Lock(true)
	defer c.Unlock(true)

	written := 0
	for i, e := range src.set.keys {
		in := &src.set.values[i]
		if cur := c.set.Get(e); cur != nil {
			if bytes.Equal(rawBytes(cur), rawBytes(in)) {
				continue
			}
			*cur = *in
			written++
			continue
		}
		if alive != nil && !alive(e) {
			continue
		}
		c.set.Insert(e, *in)
		written++
	}
	return written
}

func rawBytes[T any](p *T) []byte {
	n := unsafe.Sizeof(*p)
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), n)
}
