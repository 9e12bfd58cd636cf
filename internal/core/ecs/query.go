package ecs

// Each calls fn for every instance of A. Iteration covers the instances
// present when the call starts and skips entities with a staged destroy.
func Each[A any](s *GameState, ca Component[A], fn func(EntityID, *A)) {
	sa := StoreOf(s, ca)
	n := sa.set.Len()
	for i := 0; i < n; i++ {
		id, a := sa.set.At(i)
		if s.Doomed(id) {
			continue
		}
		fn(id, a)
	}
}

// Each2 iterates over entities that have both component A and B.
// It iterates over the smaller store and checks the larger one.
func Each2[A, B any](s *GameState, ca Component[A], cb Component[B], fn func(EntityID, *A, *B)) {
	sa, sb := StoreOf(s, ca), StoreOf(s, cb)
	if sa.Len() <= sb.Len() {
		n := sa.set.Len()
		for i := 0; i < n; i++ {
			id, a := sa.set.At(i)
			if s.Doomed(id) {
				continue
			}
			if b := sb.set.Get(id); b != nil {
				fn(id, a, b)
			}
		}
		return
	}
	n := sb.set.Len()
	for i := 0; i < n; i++ {
		id, b := sb.set.At(i)
		if s.Doomed(id) {
			continue
		}
		if a := sa.set.Get(id); a != nil {
			fn(id, a, b)
		}
	}
}

// Each3 iterates over entities that have components A, B, and C.
func Each3[A, B, C any](s *GameState, ca Component[A], cb Component[B], cc Component[C], fn func(EntityID, *A, *B, *C)) {
	sa, sb, sc := StoreOf(s, ca), StoreOf(s, cb), StoreOf(s, cc)
	// Iterate the smallest store
	var driver Column = sa
	if sb.Len() < driver.Len() {
		driver = sb
	}
	if sc.Len() < driver.Len() {
		driver = sc
	}
	n := driver.Len()
	for i := 0; i < n; i++ {
		id := driver.EntityAt(i)
		if s.Doomed(id) {
			continue
		}
		a, b, c := sa.set.Get(id), sb.set.Get(id), sc.set.Get(id)
		if a != nil && b != nil && c != nil {
			fn(id, a, b, c)
		}
	}
}
