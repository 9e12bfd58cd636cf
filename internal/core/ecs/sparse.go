package ecs

// SparseSet is a dense/sparse associative container keyed by EntityID.
// The sparse array is indexed by EntityID.Index() and stores dense position+1
// (0 = absent); the dense key slice carries the full id so a stale generation
// never matches. Erase swaps with the last dense element, so dense order is
// unspecified and changes on any erase.
type SparseSet[V any] struct {
	sparse []uint32
	keys   []EntityID
	values []V
}

func NewSparseSet[V any](capacity int) *SparseSet[V] {
	return &SparseSet[V]{
		keys:   make([]EntityID, 0, capacity),
		values: make([]V, 0, capacity),
	}
}

func (s *SparseSet[V]) pos(key EntityID) (int, bool) {
	idx := int(key.Index())
	if idx >= len(s.sparse) {
		return 0, false
	}
	p := s.sparse[idx]
	if p == 0 {
		return 0, false
	}
	if s.keys[p-1] != key {
		return 0, false
	}
	return int(p - 1), true
}

func (s *SparseSet[V]) Has(key EntityID) bool {
	_, ok := s.pos(key)
	return ok
}

// Get returns a pointer into the dense table, or nil. The pointer is valid
// until the next Insert or Erase.
func (s *SparseSet[V]) Get(key EntityID) *V {
	p, ok := s.pos(key)
	if !ok {
		return nil
	}
	return &s.values[p]
}

// Insert adds key or replaces its value.
func (s *SparseSet[V]) Insert(key EntityID, v V) {
	if p, ok := s.pos(key); ok {
		s.values[p] = v
		return
	}
	idx := int(key.Index())
	if idx >= len(s.sparse) {
		n := idx + 1
		if n < 2*len(s.sparse) {
			n = 2 * len(s.sparse)
		}
		grown := make([]uint32, n)
		copy(grown, s.sparse)
		s.sparse = grown
	}
	s.keys = append(s.keys, key)
	s.values = append(s.values, v)
	s.sparse[idx] = uint32(len(s.keys))
}

// Erase removes key. Erasing an absent key is a caller error.
func (s *SparseSet[V]) Erase(key EntityID) {
	p, ok := s.pos(key)
	if !ok {
		panic("ecs: erase of absent key")
	}
	last := len(s.keys) - 1
	if p != last {
		moved := s.keys[last]
		s.keys[p] = moved
		s.values[p] = s.values[last]
		s.sparse[moved.Index()] = uint32(p + 1)
	}
	var zero V
	s.values[last] = zero
	s.keys = s.keys[:last]
	s.values = s.values[:last]
	s.sparse[key.Index()] = 0
}

func (s *SparseSet[V]) Len() int { return len(s.keys) }

// Keys returns the dense key slice. Callers must not modify it.
func (s *SparseSet[V]) Keys() []EntityID { return s.keys }

// At returns the i-th dense entry.
func (s *SparseSet[V]) At(i int) (EntityID, *V) {
	return s.keys[i], &s.values[i]
}

func (s *SparseSet[V]) Clear() {
	clear(s.sparse)
	clear(s.values)
	s.keys = s.keys[:0]
	s.values = s.values[:0]
}

// Clone copies the set; values are copied by assignment.
func (s *SparseSet[V]) Clone() *SparseSet[V] {
	return s.CloneWith(nil)
}

// CloneWith copies the set using fn to copy each value when fn is non-nil.
func (s *SparseSet[V]) CloneWith(fn func(*V) V) *SparseSet[V] {
	out := &SparseSet[V]{
		sparse: append([]uint32(nil), s.sparse...),
		keys:   append(make([]EntityID, 0, cap(s.keys)), s.keys...),
	}
	if fn == nil {
		out.values = append(make([]V, 0, cap(s.values)), s.values...)
		return out
	}
	out.values = make([]V, len(s.values), cap(s.values))
	for i := range s.values {
		out.values[i] = fn(&s.values[i])
	}
	return out
}
