package ecs

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type removal struct {
	e  EntityID
	id TypeID
}

// GameState is one complete entity/component universe (a scene). It owns an
// EntityRegistry and one column per registered component type, and stages
// every destructive operation until Flush so in-flight iteration is never
// invalidated mid-frame.
type GameState struct {
	types    *Types
	entities *EntityRegistry
	capacity int

	colMu   sync.RWMutex
	columns []Column

	qmu      sync.Mutex
	removals []removal
	destroys []EntityID

	// entities with a staged destroy; iteration skips them
	dmu     sync.RWMutex
	doomed  *SparseSet[struct{}]
	doomedN atomic.Int32

	// only touched by the flushing goroutine
	dying map[EntityID]struct{}

	// held shared by detached runs, exclusively by Flush, Clone and Merge
	gate sync.RWMutex
}

// NewGameState creates an empty scene over the shared type metadata.
// capacity pre-sizes each column.
func NewGameState(types *Types, capacity int) *GameState {
	if capacity <= 0 {
		capacity = 64
	}
	return &GameState{
		types:    types,
		entities: NewEntityRegistry(),
		capacity: capacity,
		removals: make([]removal, 0, 64),
		destroys: make([]EntityID, 0, 64),
		doomed:   NewSparseSet[struct{}](16),
	}
}

func (s *GameState) Types() *Types             { return s.types }
func (s *GameState) Registry() *EntityRegistry { return s.entities }

func (s *GameState) CreateEntity() EntityID {
	return s.entities.Create()
}

func (s *GameState) Alive(e EntityID) bool {
	return s.entities.Alive(e)
}

// Entities returns a copy of the live entity ids.
func (s *GameState) Entities() []EntityID {
	return s.entities.Entities()
}

// Column returns the instance table for id, creating it on first use.
// Returns nil for an unregistered type.
func (s *GameState) Column(id TypeID) Column {
	s.colMu.RLock()
	if int(id) < len(s.columns) && s.columns[id] != nil {
		c := s.columns[id]
		s.colMu.RUnlock()
		return c
	}
	s.colMu.RUnlock()

	info := s.types.Info(id)
	if info == nil {
		return nil
	}
	s.colMu.Lock()
	defer s.colMu.Unlock()
	if int(id) >= len(s.columns) {
		grown := make([]Column, int(id)+1)
		copy(grown, s.columns)
		s.columns = grown
	}
	if s.columns[id] == nil {
		s.columns[id] = info.newColumn(info, s.capacity)
	}
	return s.columns[id]
}

func (s *GameState) existingColumns() []Column {
	s.colMu.RLock()
	defer s.colMu.RUnlock()
	out := make([]Column, 0, len(s.columns))
	for _, c := range s.columns {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// StoreOf returns the typed instance table of c in s.
func StoreOf[T any](s *GameState, c Component[T]) *Store[T] {
	col, _ := s.Column(c.id).(*Store[T])
	return col
}

// Create adds an instance of c to a live entity.
func Create[T any](s *GameState, c Component[T], e EntityID, v T) error {
	if !s.entities.Alive(e) {
		return fmt.Errorf("create %d: %w", e, ErrNoEntity)
	}
	return StoreOf(s, c).Create(e, v)
}

// Get returns e's instance of c, or nil.
func Get[T any](s *GameState, c Component[T], e EntityID) *T {
	return StoreOf(s, c).Get(e)
}

func Has[T any](s *GameState, c Component[T], e EntityID) bool {
	return StoreOf(s, c).Has(e)
}

// CreateAny is the untyped form of Create.
func (s *GameState) CreateAny(id TypeID, e EntityID, v any) error {
	if !s.entities.Alive(e) {
		return fmt.Errorf("create %d: %w", e, ErrNoEntity)
	}
	col := s.Column(id)
	if col == nil {
		return fmt.Errorf("create %d: unknown type %d: %w", e, id, ErrTypeMismatch)
	}
	return col.CreateAny(e, v)
}

// RemoveComponent stages the removal of e's instance of id until Flush.
func (s *GameState) RemoveComponent(e EntityID, id TypeID) {
	s.qmu.Lock()
	s.removals = append(s.removals, removal{e: e, id: id})
	s.qmu.Unlock()
}

// Remove is the typed form of RemoveComponent.
func Remove[T any](s *GameState, c Component[T], e EntityID) {
	s.RemoveComponent(e, c.id)
}

// DestroyEntity stages e for destruction at the next Flush. From now on
// iteration skips e; direct lookups keep working until the flush.
func (s *GameState) DestroyEntity(e EntityID) {
	s.qmu.Lock()
	s.destroys = append(s.destroys, e)
	s.qmu.Unlock()

	s.dmu.Lock()
	if !s.doomed.Has(e) {
		s.doomed.Insert(e, struct{}{})
		s.doomedN.Add(1)
	}
	s.dmu.Unlock()
}

// Doomed reports whether e has a staged destroy.
func (s *GameState) Doomed(e EntityID) bool {
	if s.doomedN.Load() == 0 {
		return false
	}
	s.dmu.RLock()
	defer s.dmu.RUnlock()
	return s.doomed.Has(e)
}

// Enter marks a run of a detached program against s. Flush, Clone and Merge
// wait until every such run has called Exit, and new runs wait while one of
// them is in progress. A system running inside Enter/Exit must not call
// Flush, Clone or Merge on s.
func (s *GameState) Enter() { s.gate.RLock() }

func (s *GameState) Exit() { s.gate.RUnlock() }

// Pending reports the number of staged removals and destroys.
func (s *GameState) Pending() (removals, destroys int) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.removals), len(s.destroys)
}

// Flush applies staged component removals first, then staged entity
// destroys, so removal hooks still observe a live entity. Operations staged
// while flushing wait for the next Flush.
func (s *GameState) Flush() (removed, destroyed int) {
	s.gate.Lock()
	defer s.gate.Unlock()

	s.qmu.Lock()
	removals, destroys := s.removals, s.destroys
	s.removals = make([]removal, 0, cap(removals))
	s.destroys = make([]EntityID, 0, cap(destroys))
	s.qmu.Unlock()

	for _, r := range removals {
		if !s.entities.Alive(r.e) {
			continue
		}
		if col := s.Column(r.id); col != nil && col.destroy(r.e, s) {
			removed++
		}
	}

	s.dying = make(map[EntityID]struct{}, len(destroys))
	for _, e := range destroys {
		if s.destroyNow(e) {
			destroyed++
		}
	}
	s.dying = nil

	s.dmu.Lock()
	for _, e := range destroys {
		if s.doomed.Has(e) {
			s.doomed.Erase(e)
			s.doomedN.Add(-1)
		}
	}
	s.dmu.Unlock()
	return removed, destroyed
}

// destroyNow strips every instance from e, then frees its id. Owned child
// lists recurse here; the dying set breaks cycles.
func (s *GameState) destroyNow(e EntityID) bool {
	if !s.entities.Alive(e) {
		return false
	}
	if s.dying == nil {
		s.dying = make(map[EntityID]struct{})
		defer func() { s.dying = nil }()
	}
	if _, ok := s.dying[e]; ok {
		return false
	}
	s.dying[e] = struct{}{}
	for _, col := range s.existingColumns() {
		col.destroy(e, s)
	}
	return s.entities.Destroy(e)
}

// Clone snapshots the scene: registry and every column are copied. Staged
// operations are not carried over.
func (s *GameState) Clone() *GameState {
	s.gate.Lock()
	defer s.gate.Unlock()
	out := &GameState{
		types:    s.types,
		entities: s.entities.Clone(),
		capacity: s.capacity,
		removals: make([]removal, 0, 64),
		destroys: make([]EntityID, 0, 64),
		doomed:   NewSparseSet[struct{}](16),
	}
	cols := s.existingColumns()
	out.columns = make([]Column, s.types.Len())
	for _, c := range cols {
		out.columns[c.Info().ID] = c.Clone()
	}
	return out
}

// Merge diff-merges other into s column by column and returns the number of
// instances written. Only entities alive in s receive new instances.
func (s *GameState) Merge(other *GameState) int {
	if other == nil || other == s {
		return 0
	}
	s.gate.Lock()
	defer s.gate.Unlock()
	other.gate.Lock()
	defer other.gate.Unlock()
	written := 0
	for _, oc := range other.existingColumns() {
		col := s.Column(oc.Info().ID)
		if col == nil {
			continue
		}
		written += col.Merge(oc, s.entities.Alive)
	}
	return written
}
