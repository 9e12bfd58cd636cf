package ecs

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type position struct{ X, Y float64 }

type velocity struct{ DX, DY float64 }

type buffer struct {
	data     []byte
	released *int
}

func (b *buffer) Release() {
	*b.released++
	b.data = nil
}

func (b *buffer) Clone() buffer {
	return buffer{data: append([]byte(nil), b.data...), released: b.released}
}

// handle releases but cannot be copied into a branch.
type handle struct{ fd int }

func (h *handle) Release() { h.fd = -1 }

type children struct{ IDs []EntityID }

func (c *children) ChildEntities() []EntityID { return c.IDs }

func newTestState(t *testing.T) (*GameState, Component[position], Component[velocity]) {
	t.Helper()
	types := NewTypes()
	pos, err := Register[position](types, ComponentConfig{Name: "position"})
	require.NoError(t, err)
	vel, err := Register[velocity](types, ComponentConfig{Name: "velocity", Shared: true})
	require.NoError(t, err)
	return NewGameState(types, 8), pos, vel
}

func TestRegisterValidatesOwnership(t *testing.T) {
	types := NewTypes()
	_, err := Register[position](types, ComponentConfig{Ownership: OwnPointer})
	require.ErrorIs(t, err, ErrOwnership)
	_, err = Register[position](types, ComponentConfig{Ownership: OwnChildren})
	require.ErrorIs(t, err, ErrOwnership)
	_, err = Register[position](types, ComponentConfig{Ownership: Ownership(9)})
	require.ErrorIs(t, err, ErrUnknownOwnership)
	_, err = Register[handle](types, ComponentConfig{Ownership: OwnPointer})
	require.ErrorIs(t, err, ErrOwnership, "owned pointers must be cloneable")

	_, err = Register[buffer](types, ComponentConfig{Ownership: OwnPointer})
	require.NoError(t, err)
	_, err = Register[buffer](types, ComponentConfig{Ownership: OwnPointer})
	require.ErrorIs(t, err, ErrDuplicateComponent)

	c, ok := Lookup[buffer](types)
	require.True(t, ok)
	info := types.Info(c.ID())
	require.Equal(t, "ecs.buffer", info.Name)
	require.NotZero(t, info.Size)
}

func TestCreatePolicies(t *testing.T) {
	types := NewTypes()
	keep, err := Register[position](types, ComponentConfig{})
	require.NoError(t, err)
	over, err := Register[velocity](types, ComponentConfig{Policy: CreateOverwrite})
	require.NoError(t, err)
	rej, err := Register[children](types, ComponentConfig{Policy: CreateReject})
	require.NoError(t, err)
	s := NewGameState(types, 0)
	e := s.CreateEntity()

	require.NoError(t, Create(s, keep, e, position{X: 1}))
	require.NoError(t, Create(s, keep, e, position{X: 2}))
	assert.Equal(t, 1.0, Get(s, keep, e).X)

	require.NoError(t, Create(s, over, e, velocity{DX: 1}))
	require.NoError(t, Create(s, over, e, velocity{DX: 2}))
	assert.Equal(t, 2.0, Get(s, over, e).DX)

	require.NoError(t, Create(s, rej, e, children{}))
	require.ErrorIs(t, Create(s, rej, e, children{}), ErrInstanceExists)

	require.ErrorIs(t, Create(s, keep, NewEntityID(99, 1), position{}), ErrNoEntity)
}

func TestDestroyIsDeferredUntilFlush(t *testing.T) {
	s, pos, vel := newTestState(t)
	a, b := s.CreateEntity(), s.CreateEntity()
	require.NoError(t, Create(s, pos, a, position{X: 1}))
	require.NoError(t, Create(s, pos, b, position{X: 2}))
	require.NoError(t, Create(s, vel, a, velocity{}))

	s.DestroyEntity(a)
	seen := 0
	Each(s, pos, func(EntityID, *position) { seen++ })
	require.Equal(t, 1, seen, "staged destroy hides the entity from iteration")
	require.True(t, s.Alive(a))
	require.True(t, s.Doomed(a))
	require.True(t, Has(s, pos, a), "storage is untouched until flush")

	removed, destroyed := s.Flush()
	require.Zero(t, removed)
	require.Equal(t, 1, destroyed)
	require.False(t, s.Alive(a))
	require.False(t, Has(s, pos, a))
	require.False(t, Has(s, vel, a))
	require.Nil(t, Get(s, pos, a))
	require.False(t, s.Doomed(a))

	c := s.CreateEntity()
	require.Equal(t, a.Index(), c.Index(), "destroyed index is recycled")
	require.False(t, Has(s, pos, c))
}

func TestFlushRemovesBeforeDestroying(t *testing.T) {
	types := NewTypes()
	var order []string
	var s *GameState
	pos, err := Register[position](types, ComponentConfig{
		OnRemove: func(st *GameState, e EntityID) {
			order = append(order, "remove")
			assert.True(t, st.Alive(e))
		},
	})
	require.NoError(t, err)
	vel, err := Register[velocity](types, ComponentConfig{
		OnRemove: func(st *GameState, e EntityID) {
			order = append(order, "destroy")
			assert.True(t, st.Alive(e))
		},
	})
	require.NoError(t, err)
	s = NewGameState(types, 0)
	e := s.CreateEntity()
	require.NoError(t, Create(s, pos, e, position{}))
	require.NoError(t, Create(s, vel, e, velocity{}))

	s.DestroyEntity(e)
	Remove(s, pos, e)
	removed, destroyed := s.Flush()
	require.Equal(t, 1, removed)
	require.Equal(t, 1, destroyed)
	require.Equal(t, []string{"remove", "destroy"}, order)
}

func TestOwnershipDestructors(t *testing.T) {
	types := NewTypes()
	buf, err := Register[buffer](types, ComponentConfig{Ownership: OwnPointer})
	require.NoError(t, err)
	kids, err := Register[children](types, ComponentConfig{Ownership: OwnChildren})
	require.NoError(t, err)
	s := NewGameState(types, 0)

	released := 0
	parent := s.CreateEntity()
	child := s.CreateEntity()
	grandchild := s.CreateEntity()
	require.NoError(t, Create(s, buf, parent, buffer{data: make([]byte, 8), released: &released}))
	require.NoError(t, Create(s, buf, grandchild, buffer{released: &released}))
	require.NoError(t, Create(s, kids, parent, children{IDs: []EntityID{child}}))
	// cycle back to the parent must not recurse forever
	require.NoError(t, Create(s, kids, child, children{IDs: []EntityID{grandchild, parent}}))

	s.DestroyEntity(parent)
	s.Flush()

	require.Equal(t, 2, released)
	require.False(t, s.Alive(parent))
	require.False(t, s.Alive(child))
	require.False(t, s.Alive(grandchild))
	require.Zero(t, s.Registry().Len())
}

func TestCloneAndMerge(t *testing.T) {
	s, pos, vel := newTestState(t)
	a, b := s.CreateEntity(), s.CreateEntity()
	require.NoError(t, Create(s, pos, a, position{X: 1}))
	require.NoError(t, Create(s, pos, b, position{X: 2}))

	branch := s.Clone()
	Get(branch, pos, a).X = 10
	require.NoError(t, Create(branch, vel, b, velocity{DX: 3}))
	ghost := branch.CreateEntity()
	require.NoError(t, Create(branch, pos, ghost, position{X: 99}))
	require.Equal(t, 1.0, Get(s, pos, a).X, "clone must not alias the source")

	written := s.Merge(branch)
	require.Equal(t, 2, written, "one changed position and one new velocity")
	require.Equal(t, 10.0, Get(s, pos, a).X)
	require.Equal(t, 2.0, Get(s, pos, b).X)
	require.Equal(t, 3.0, Get(s, vel, b).DX)
	require.Equal(t, 2, StoreOf(s, pos).Len(), "instances of entities not alive here are skipped")
	require.Zero(t, s.Merge(branch), "second merge has no differences")
}

func TestCloneGivesBranchItsOwnResource(t *testing.T) {
	types := NewTypes()
	buf, err := Register[buffer](types, ComponentConfig{Ownership: OwnPointer})
	require.NoError(t, err)
	s := NewGameState(types, 0)

	released := 0
	e := s.CreateEntity()
	require.NoError(t, Create(s, buf, e, buffer{data: []byte{1, 2, 3}, released: &released}))

	branch := s.Clone()
	Get(branch, buf, e).data[0] = 9
	require.Equal(t, byte(1), Get(s, buf, e).data[0], "branch owns a copy")

	s.DestroyEntity(e)
	s.Flush()
	require.Equal(t, 1, released)
	require.Equal(t, []byte{9, 2, 3}, Get(branch, buf, e).data, "source release leaves the branch intact")

	branch.DestroyEntity(e)
	branch.Flush()
	require.Equal(t, 2, released, "one release per owner")
}

func TestEachJoins(t *testing.T) {
	s, pos, vel := newTestState(t)
	for i := 0; i < 10; i++ {
		e := s.CreateEntity()
		require.NoError(t, Create(s, pos, e, position{X: float64(i)}))
		if i%3 == 0 {
			require.NoError(t, Create(s, vel, e, velocity{DX: 1}))
		}
	}
	n := 0
	Each2(s, pos, vel, func(_ EntityID, p *position, v *velocity) {
		p.X += v.DX
		n++
	})
	require.Equal(t, 4, n)
}

func TestSharedStoreLocking(t *testing.T) {
	s, _, vel := newTestState(t)
	col := StoreOf(s, vel)
	e := s.CreateEntity()
	require.NoError(t, Create(s, vel, e, velocity{}))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				col.Lock(true)
				v := col.Get(e)
				v.DX++
				v.DY = v.DX
				col.Unlock(true)

				col.Lock(false)
				r := col.Get(e)
				assert.Equal(t, r.DX, r.DY)
				col.Unlock(false)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 2000.0, col.Get(e).DX)
}
