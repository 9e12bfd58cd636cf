package ecs

import "sync"

// EntityID encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on destroy to invalidate stale refs.
// Generations start at 1, so the zero EntityID never names a live entity.
type EntityID uint64

// NullEntity is the zero handle.
const NullEntity EntityID = 0

func NewEntityID(index uint32, generation uint32) EntityID {
	return EntityID(uint64(generation)<<32 | uint64(index))
}

func (id EntityID) Index() uint32      { return uint32(id) }
func (id EntityID) Generation() uint32 { return uint32(id >> 32) }
func (id EntityID) IsZero() bool       { return id == 0 }

// EntityPool manages entity allocation with generational indices and a free list.
type EntityPool struct {
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
}

func NewEntityPool() *EntityPool {
	return &EntityPool{
		generations: make([]uint32, 0, 1024),
		freeList:    make([]uint32, 0, 256),
	}
}

// Create prefers a recycled index over a fresh one.
func (p *EntityPool) Create() EntityID {
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return NewEntityID(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 1)
	}
	return NewEntityID(idx, p.generations[idx])
}

func (p *EntityPool) Alive(id EntityID) bool {
	idx := id.Index()
	if idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == id.Generation()
}

func (p *EntityPool) Destroy(id EntityID) bool {
	if !p.Alive(id) {
		return false // stale reference
	}
	idx := id.Index()
	p.generations[idx]++
	if p.generations[idx] == 0 {
		p.generations[idx] = 1
	}
	p.freeList = append(p.freeList, idx)
	return true
}

func (p *EntityPool) clone() *EntityPool {
	return &EntityPool{
		generations: append(make([]uint32, 0, cap(p.generations)), p.generations...),
		freeList:    append(make([]uint32, 0, cap(p.freeList)), p.freeList...),
		nextIndex:   p.nextIndex,
	}
}

// EntityRegistry allocates entity ids for one scene and keeps its live set.
// Safe for concurrent use: systems in different programs may create entities
// against the same scene.
type EntityRegistry struct {
	mu   sync.RWMutex
	pool *EntityPool
	live *SparseSet[struct{}]
}

func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{
		pool: NewEntityPool(),
		live: NewSparseSet[struct{}](256),
	}
}

func (r *EntityRegistry) Create() EntityID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.pool.Create()
	r.live.Insert(id, struct{}{})
	return id
}

// Destroy removes id from the live set and returns its index to the free
// list. Only GameState.Flush calls this.
func (r *EntityRegistry) Destroy(id EntityID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pool.Destroy(id) {
		return false
	}
	r.live.Erase(id)
	return true
}

func (r *EntityRegistry) Alive(id EntityID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.Has(id)
}

func (r *EntityRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live.Len()
}

// Entities returns a copy of the live set in dense order.
func (r *EntityRegistry) Entities() []EntityID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]EntityID(nil), r.live.Keys()...)
}

func (r *EntityRegistry) Clone() *EntityRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &EntityRegistry{
		pool: r.pool.clone(),
		live: r.live.Clone(),
	}
}
