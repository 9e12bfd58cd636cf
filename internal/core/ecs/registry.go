package ecs

import (
	"fmt"
	"reflect"
	"sync"
	"unsafe"
)

// MaxComponentTypes bounds the registry so every TypeID fits a system's
// access mask.
const MaxComponentTypes = 256

// TypeID is the untyped component type handle.
type TypeID uint32

// Component is the typed handle returned by Register.
type Component[T any] struct {
	id TypeID
}

func (c Component[T]) ID() TypeID { return c.id }

// ComponentConfig configures a component type at registration. It is copied
// into an immutable TypeInfo.
type ComponentConfig struct {
	Name      string
	Shared    bool
	Ownership Ownership
	Policy    CreatePolicy
	// OnRemove runs during flush before the instance is erased, while the
	// entity is still alive.
	OnRemove func(s *GameState, e EntityID)
}

// TypeInfo is the immutable metadata of a registered component type, shared
// by every scene.
type TypeInfo struct {
	ID        TypeID
	Name      string
	Size      uintptr
	Shared    bool
	Ownership Ownership
	Policy    CreatePolicy
	OnRemove  func(s *GameState, e EntityID)

	goType    reflect.Type
	newColumn func(info *TypeInfo, capacity int) Column
}

// Types tracks every registered component type. One Types value is shared by
// all scenes of an engine.
type Types struct {
	mu     sync.RWMutex
	infos  []*TypeInfo
	byType map[reflect.Type]TypeID
}

func NewTypes() *Types {
	return &Types{
		infos:  make([]*TypeInfo, 0, 16),
		byType: make(map[reflect.Type]TypeID, 16),
	}
}

// Register adds component type T. The ownership category is checked against
// T's method set here, once.
func Register[T any](r *Types, cfg ComponentConfig) (Component[T], error) {
	t := reflect.TypeFor[T]()
	if cfg.Name == "" {
		cfg.Name = t.String()
	}
	switch cfg.Ownership {
	case OwnPlain:
	case OwnPointer:
		if _, ok := any((*T)(nil)).(Releaser); !ok {
			return Component[T]{}, fmt.Errorf("register %s as %s: %w", cfg.Name, cfg.Ownership, ErrOwnership)
		}
		if _, ok := any((*T)(nil)).(Cloner[T]); !ok {
			return Component[T]{}, fmt.Errorf("register %s as %s: no Clone: %w", cfg.Name, cfg.Ownership, ErrOwnership)
		}
	case OwnChildren:
		if _, ok := any((*T)(nil)).(ChildLister); !ok {
			return Component[T]{}, fmt.Errorf("register %s as %s: %w", cfg.Name, cfg.Ownership, ErrOwnership)
		}
	default:
		return Component[T]{}, fmt.Errorf("register %s: %w", cfg.Name, ErrUnknownOwnership)
	}
	if cfg.Policy > CreateReject {
		return Component[T]{}, fmt.Errorf("register %s: %w", cfg.Name, ErrUnknownPolicy)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byType[t]; ok {
		return Component[T]{}, fmt.Errorf("register %s: %w", cfg.Name, ErrDuplicateComponent)
	}
	if len(r.infos) >= MaxComponentTypes {
		return Component[T]{}, fmt.Errorf("register %s: %w", cfg.Name, ErrTooManyComponents)
	}
	var zero T
	info := &TypeInfo{
		ID:        TypeID(len(r.infos)),
		Name:      cfg.Name,
		Size:      unsafe.Sizeof(zero),
		Shared:    cfg.Shared,
		Ownership: cfg.Ownership,
		Policy:    cfg.Policy,
		OnRemove:  cfg.OnRemove,
		goType:    t,
		newColumn: func(info *TypeInfo, capacity int) Column {
			return newStore[T](info, capacity)
		},
	}
	r.infos = append(r.infos, info)
	r.byType[t] = info.ID
	return Component[T]{id: info.ID}, nil
}

// Lookup returns the typed handle for an already registered T.
func Lookup[T any](r *Types) (Component[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byType[reflect.TypeFor[T]()]
	return Component[T]{id: id}, ok
}

// Info returns the metadata for id, or nil.
func (r *Types) Info(id TypeID) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.infos) {
		return nil
	}
	return r.infos[id]
}

func (r *Types) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.infos)
}
