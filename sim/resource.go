package sim

// Resource is an exclusive-capacity (capacity 1) resource granted in request
// order. Grants flow through the clock's waiter heap, so a grant issued at the
// same logical time as other events executes in scheduling order, keeping
// replay deterministic.
//
// Resource is not safe for use outside simulation processes: the cooperative
// clock guarantees at most one process mutates it at a time.
type Resource struct {
	clock *Clock
	busy  bool
	queue []*waiter // parked acquirers, FIFO
}

// NewResource creates an idle Resource bound to the clock.
func NewResource(clock *Clock) *Resource {
	return &Resource{clock: clock}
}

// Acquire blocks the calling process until it holds the resource.
// Requests are served first-come-first-served. Returns ErrSimulationEnded if
// the run finishes while waiting.
func (r *Resource) Acquire() error {
	if !r.busy && len(r.queue) == 0 {
		r.busy = true
		return nil
	}
	w := r.clock.hold()
	r.queue = append(r.queue, w)
	if err := r.clock.await(w); err != nil {
		r.dequeue(w)
		return err
	}
	// Release handed the resource over without clearing busy; ownership
	// transfers to this process as it resumes.
	return nil
}

// Release gives up the resource. If acquirers are queued, the head of the
// queue is woken at the current logical time and owns the resource when it
// resumes; otherwise the resource becomes idle.
func (r *Resource) Release() {
	if len(r.queue) > 0 {
		w := r.queue[0]
		r.queue = r.queue[1:]
		r.clock.wake(w)
		return
	}
	r.busy = false
}

// InUse reports whether the resource is currently held.
func (r *Resource) InUse() bool {
	return r.busy
}

// QueueLen returns the number of processes waiting for a grant.
func (r *Resource) QueueLen() int {
	return len(r.queue)
}

func (r *Resource) dequeue(w *waiter) {
	for i, q := range r.queue {
		if q == w {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}
