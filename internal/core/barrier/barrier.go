// Package barrier provides tickets that force a fixed round-robin execution
// order on systems, whichever program or thread runs them. Component locks
// protect data; barriers are the only way to order work across programs.
package barrier

import "sync"

// Barrier issues tickets and tracks which one is being served.
type Barrier struct {
	name    string
	mu      sync.Mutex
	cond    *sync.Cond
	serving uint64
	count   uint64
}

func New(name string) *Barrier {
	b := &Barrier{name: name}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Barrier) Name() string { return b.name }

// NewTicket issues the next ticket in order.
func (b *Barrier) NewTicket() *Ticket {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &Ticket{b: b, order: b.count}
	b.count++
	return t
}

// Len returns the number of issued tickets.
func (b *Barrier) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.count)
}

// Serving returns the order of the ticket whose turn it is.
func (b *Barrier) Serving() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.serving
}

// Ticket is one position in a Barrier's round.
type Ticket struct {
	b     *Barrier
	order uint64
}

func (t *Ticket) Order() uint64     { return t.order }
func (t *Ticket) Barrier() *Barrier { return t.b }

// Lock blocks until it is this ticket's turn. There is no timeout.
func (t *Ticket) Lock() {
	t.b.mu.Lock()
	for t.b.serving != t.order {
		t.b.cond.Wait()
	}
	t.b.mu.Unlock()
}

// Unlock passes the turn to the next ticket, wrapping after the last one,
// and wakes every waiter.
func (t *Ticket) Unlock() {
	t.b.mu.Lock()
	t.b.serving = (t.b.serving + 1) % t.b.count
	t.b.mu.Unlock()
	t.b.cond.Broadcast()
}
