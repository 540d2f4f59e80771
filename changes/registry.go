package changes

// waiter is a parked long-poll request. Its baseline and deadline live in
// the WaitForChange call that owns it.
type waiter struct {
	// result receives the resolving state. It has capacity 1 and is written
	// at most once, by the registry, while the waiter is being removed.
	result chan State
}

func newWaiter() *waiter {
	return &waiter{result: make(chan State, 1)}
}

// registry is the set of pending waiters. It is not safe for concurrent use;
// the Coordinator guards it with the same mutex that guards the state.
type registry struct {
	waiters map[*waiter]struct{}
}

func newRegistry() *registry {
	return &registry{waiters: make(map[*waiter]struct{})}
}

func (r *registry) add(w *waiter) {
	r.waiters[w] = struct{}{}
}

// remove deregisters w and reports whether it was still pending. A false
// result means w has already been resolved.
func (r *registry) remove(w *waiter) bool {
	if _, ok := r.waiters[w]; !ok {
		return false
	}
	delete(r.waiters, w)
	return true
}

// resolveAll hands s to every pending waiter and empties the registry. It
// returns the number of waiters released.
func (r *registry) resolveAll(s State) int {
	n := len(r.waiters)
	for w := range r.waiters {
		w.result <- s
	}
	r.waiters = make(map[*waiter]struct{})
	return n
}

func (r *registry) len() int {
	return len(r.waiters)
}
