// Package task runs cooperative futures on the orchestrating goroutine.
// Every task is polled at most once per RunPending, and only after it has
// been woken.
package task

import (
	"container/heap"

	"go.uber.org/zap"
)

type Status uint8

const (
	Pending Status = iota
	Ready
)

func (s Status) String() string {
	if s == Ready {
		return "ready"
	}
	return "pending"
}

// Waker schedules its task for the next RunPending.
type Waker interface {
	Wake()
}

// Future is a unit of cooperative work. Poll returns Pending after arranging
// for w to be woken, or Ready when done.
type Future interface {
	Poll(w Waker) Status
}

// FutureFunc adapts a function to Future.
type FutureFunc func(w Waker) Status

func (f FutureFunc) Poll(w Waker) Status { return f(w) }

// ID names a spawned task. Zero is never issued.
type ID uint64

type entry struct {
	id    ID
	name  string
	fut   Future
	woken bool
	done  bool
}

type waker struct {
	s *Scheduler
	t *entry
}

func (w waker) Wake() {
	if !w.t.done {
		w.t.woken = true
	}
}

// WakeAfter wakes the task once ticks further RunPending calls have passed.
func (w waker) WakeAfter(ticks uint64) {
	if ticks == 0 {
		w.Wake()
		return
	}
	heap.Push(&w.s.timers, timer{due: w.s.tick + ticks, t: w.t})
}

type timer struct {
	due uint64
	t   *entry
}

type timerHeap []timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].due < h[j].due }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)        { *h = append(*h, x.(timer)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scheduler owns the spawned tasks. It is not safe for concurrent use.
type Scheduler struct {
	log    *zap.Logger
	tasks  []*entry
	byID   map[ID]*entry
	nextID ID
	tick   uint64
	timers timerHeap
}

func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{log: log, byID: make(map[ID]*entry)}
}

// Spawn registers f; it is first polled on the next RunPending.
func (s *Scheduler) Spawn(name string, f Future) ID {
	s.nextID++
	t := &entry{id: s.nextID, name: name, fut: f, woken: true}
	s.tasks = append(s.tasks, t)
	s.byID[t.id] = t
	s.log.Debug("task spawned", zap.String("task", name), zap.Uint64("id", uint64(t.id)))
	return t.id
}

// Cancel drops a task without polling it again.
func (s *Scheduler) Cancel(id ID) bool {
	t, ok := s.byID[id]
	if !ok {
		return false
	}
	t.done = true
	delete(s.byID, id)
	s.log.Debug("task cancelled", zap.String("task", t.name), zap.Uint64("id", uint64(id)))
	return true
}

// Len is the number of live tasks.
func (s *Scheduler) Len() int { return len(s.byID) }

// Tick is the number of RunPending calls so far.
func (s *Scheduler) Tick() uint64 { return s.tick }

// RunPending advances the tick, fires due timers and polls every woken task
// once. Wakes raised while polling take effect on the next call. It returns
// the number of tasks that completed.
func (s *Scheduler) RunPending() int {
	s.tick++
	for len(s.timers) > 0 && s.timers[0].due <= s.tick {
		tm := heap.Pop(&s.timers).(timer)
		if !tm.t.done {
			tm.t.woken = true
		}
	}

	var run []*entry
	live := s.tasks[:0]
	for _, t := range s.tasks {
		if t.done {
			continue
		}
		live = append(live, t)
		if t.woken {
			t.woken = false
			run = append(run, t)
		}
	}
	for i := len(live); i < len(s.tasks); i++ {
		s.tasks[i] = nil
	}
	s.tasks = live

	finished := 0
	for _, t := range run {
		if t.done {
			continue
		}
		if t.fut.Poll(waker{s: s, t: t}) == Ready {
			t.done = true
			delete(s.byID, t.id)
			finished++
		}
	}
	return finished
}
