package task

type timedWaker interface {
	WakeAfter(ticks uint64)
}

// Sleep completes after ticks scheduler ticks.
func Sleep(ticks uint64) Future {
	left, armed := ticks, false
	return FutureFunc(func(w Waker) Status {
		if tw, ok := w.(timedWaker); ok {
			if armed || ticks == 0 {
				return Ready
			}
			armed = true
			tw.WakeAfter(ticks)
			return Pending
		}
		// wakers that cannot time are woken every poll instead
		if left == 0 {
			return Ready
		}
		left--
		w.Wake()
		return Pending
	})
}

// Yield returns Pending once, giving the rest of the frame away.
func Yield() Future {
	yielded := false
	return FutureFunc(func(w Waker) Status {
		if yielded {
			return Ready
		}
		yielded = true
		w.Wake()
		return Pending
	})
}

// Until completes on the first poll where cond holds. It re-polls every
// tick until then.
func Until(cond func() bool) Future {
	return FutureFunc(func(w Waker) Status {
		if cond() {
			return Ready
		}
		w.Wake()
		return Pending
	})
}

// Then runs fn once f completes, within the same poll.
func Then(f Future, fn func()) Future {
	return FutureFunc(func(w Waker) Status {
		if f.Poll(w) == Pending {
			return Pending
		}
		fn()
		return Ready
	})
}

// Seq runs futures one after another. A future that completes hands over
// to the next within the same poll.
func Seq(fs ...Future) Future {
	i := 0
	return FutureFunc(func(w Waker) Status {
		for i < len(fs) {
			if fs[i].Poll(w) == Pending {
				return Pending
			}
			i++
		}
		return Ready
	})
}
