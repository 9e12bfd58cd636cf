package system

import "github.com/l1jgo/ecsrt/internal/core/ecs"

// Execute runs one trigger of the system against st and returns the number
// of transform invocations. msg is the delivered payload for event systems.
//
// Order: tickets, guard, column locks in dependency order, iteration,
// unlock in reverse, completion callback, tickets released in reverse.
func (s *System) Execute(st *ecs.GameState, msg any) int {
	for _, t := range s.cfg.Tickets {
		t.Lock()
	}
	defer func() {
		for i := len(s.cfg.Tickets) - 1; i >= 0; i-- {
			s.cfg.Tickets[i].Unlock()
		}
	}()

	if s.cfg.Guard != nil && !s.cfg.Guard(st) {
		return 0
	}

	cols := make([]ecs.Column, len(s.cfg.Deps))
	for i, d := range s.cfg.Deps {
		cols[i] = st.Column(d.Type)
	}
	for _, l := range s.locks {
		cols[l.dep].Lock(l.write)
	}
	n := 0
	if s.cfg.Transform != nil {
		ctx := &Context{
			State:    st,
			System:   s,
			Entities: make([]ecs.EntityID, len(cols)),
			Values:   make([]any, len(cols)),
			Message:  msg,
		}
		n = s.iterate(ctx, cols)
	}
	for i := len(s.locks) - 1; i >= 0; i-- {
		l := s.locks[i]
		cols[l.dep].Unlock(l.write)
	}
	s.invocations.Add(uint64(n))

	if s.cfg.OnComplete != nil {
		s.cfg.OnComplete(st)
	}
	return n
}

func (s *System) iterate(ctx *Context, cols []ecs.Column) int {
	switch len(cols) {
	case 0:
		ctx.Entity = ecs.NullEntity
		s.cfg.Transform(ctx)
		return 1
	case 1:
		// every join policy, CROSS included, degenerates to a plain scan
		return s.driven(ctx, cols, 0)
	}
	switch s.cfg.Join {
	case JoinLeft:
		return s.driven(ctx, cols, 0)
	case JoinCross:
		return s.cross(ctx, cols)
	case JoinUnion:
		return s.union(ctx, cols)
	default:
		return s.driven(ctx, cols, smallest(cols))
	}
}

func smallest(cols []ecs.Column) int {
	best := 0
	for i, c := range cols {
		if c.Len() < cols[best].Len() {
			best = i
		}
	}
	return best
}

// driven iterates the driver column and binds every other dependency by
// entity, skipping entities missing any of them.
func (s *System) driven(ctx *Context, cols []ecs.Column, driver int) int {
	d := cols[driver]
	n := d.Len()
	calls := 0
outer:
	for i := 0; i < n; i++ {
		e := d.EntityAt(i)
		if ctx.State.Doomed(e) {
			continue
		}
		for j, c := range cols {
			if j == driver {
				ctx.Values[j] = d.PtrAt(i)
			} else if p := c.Ptr(e); p != nil {
				ctx.Values[j] = p
			} else {
				continue outer
			}
			ctx.Entities[j] = e
		}
		ctx.Entity = e
		s.cfg.Transform(ctx)
		calls++
	}
	return calls
}

// cross walks the Cartesian product with an odometer: index 0 turns fastest
// and carries into the next on overflow.
func (s *System) cross(ctx *Context, cols []ecs.Column) int {
	sizes := make([]int, len(cols))
	for i, c := range cols {
		sizes[i] = c.Len()
		if sizes[i] == 0 {
			return 0
		}
	}
	idx := make([]int, len(cols))
	calls := 0
	for {
		skip := false
		for j, c := range cols {
			e := c.EntityAt(idx[j])
			if ctx.State.Doomed(e) {
				skip = true
				break
			}
			ctx.Entities[j] = e
			ctx.Values[j] = c.PtrAt(idx[j])
		}
		if !skip {
			ctx.Entity = ctx.Entities[0]
			s.cfg.Transform(ctx)
			calls++
		}

		k := 0
		for ; k < len(idx); k++ {
			idx[k]++
			if idx[k] < sizes[k] {
				break
			}
			idx[k] = 0
		}
		if k == len(idx) {
			return calls
		}
	}
}

// union visits each entity present in any column once. An entity is
// claimed by the first column that holds it.
func (s *System) union(ctx *Context, cols []ecs.Column) int {
	calls := 0
	for j, c := range cols {
		n := c.Len()
	entities:
		for i := 0; i < n; i++ {
			e := c.EntityAt(i)
			if ctx.State.Doomed(e) {
				continue
			}
			for k := 0; k < j; k++ {
				if cols[k].Has(e) {
					continue entities
				}
			}
			for m, other := range cols {
				switch {
				case m == j:
					ctx.Values[m] = c.PtrAt(i)
				default:
					ctx.Values[m] = other.Ptr(e)
				}
				ctx.Entities[m] = e
			}
			ctx.Entity = e
			s.cfg.Transform(ctx)
			calls++
		}
	}
	return calls
}
