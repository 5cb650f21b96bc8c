package sim

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrSimulationEnded is returned from a suspension point when the clock has
// reached its horizon. Processes receiving it must unwind and return.
var ErrSimulationEnded = errors.New("simulation ended")

// waiter is a parked process waiting to be resumed at a logical time.
// Waiters with equal timestamps resume in scheduling (seq) order.
type waiter struct {
	at    float64
	seq   uint64
	index int // position in the heap, maintained by waiterQueue
	ch    chan error
}

// waiterQueue implements heap.Interface ordered by (at, seq).
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-PriorityQueue
type waiterQueue []*waiter

func (wq waiterQueue) Len() int { return len(wq) }
func (wq waiterQueue) Less(i, j int) bool {
	if wq[i].at != wq[j].at {
		return wq[i].at < wq[j].at
	}
	return wq[i].seq < wq[j].seq
}
func (wq waiterQueue) Swap(i, j int) {
	wq[i], wq[j] = wq[j], wq[i]
	wq[i].index = i
	wq[j].index = j
}

func (wq *waiterQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*wq)
	*wq = append(*wq, w)
}

func (wq *waiterQueue) Pop() any {
	old := *wq
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*wq = old[0 : n-1]
	return w
}

// Clock is the single authoritative source of logical simulation time.
//
// Simulation processes are goroutines multiplexed cooperatively: exactly one
// process executes at a time, and every blocking operation (Sleep, resource
// waits) parks the process on the clock's waiter heap. Run repeatedly resumes
// the earliest waiter, advancing time to its timestamp. Ties at equal
// timestamps resume in scheduling order, which makes a run with a fixed random
// seed replay deterministically.
//
// Direct sleeping (time.Sleep) inside a process is forbidden: it would stall
// the whole timeline without advancing logical time.
type Clock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	now     float64
	seq     uint64
	waiters waiterQueue
	active  int // processes currently executing (0 or 1 in steady state)
	ended   bool
}

// NewClock creates a Clock at time zero with no scheduled processes.
func NewClock() *Clock {
	c := &Clock{waiters: make(waiterQueue, 0)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Now returns the current logical time.
func (c *Clock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Ended reports whether Run has finished.
func (c *Clock) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// Go launches fn as a simulation process. The process does not start
// immediately: it is scheduled at the current logical time and starts when the
// clock reaches it, so a process spawning another is never preempted.
func (c *Clock) Go(fn func()) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	w := c.register(c.now)
	c.mu.Unlock()

	go func() {
		if err := <-w.ch; err != nil {
			// Cancelled before it ever ran.
			c.exit()
			return
		}
		fn()
		c.exit()
	}()
}

// Sleep suspends the calling process for d logical time units.
// It returns nil when the clock resumed the process at Now()+d, or
// ErrSimulationEnded when the run finished while the process was parked.
// Scheduling a negative or NaN duration is a precondition violation.
func (c *Clock) Sleep(d float64) error {
	if d < 0 || math.IsNaN(d) {
		panic(fmt.Sprintf("clock: invalid sleep duration %v", d))
	}
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSimulationEnded
	}
	w := c.register(c.now + d)
	c.park()
	c.mu.Unlock()
	return <-w.ch
}

// register pushes a new waiter scheduled at the given time.
// Caller must hold c.mu.
func (c *Clock) register(at float64) *waiter {
	w := &waiter{at: at, seq: c.seq, ch: make(chan error, 1)}
	c.seq++
	heap.Push(&c.waiters, w)
	return w
}

// hold registers a waiter with no resume time: it stays parked until another
// process reschedules it through wake, or the run ends. Used by resources to
// queue processes waiting for a grant. Caller must hold c.mu via lock/unlock
// around register-like usage; hold manages locking itself.
func (c *Clock) hold() *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.register(math.Inf(1))
}

// await parks the calling process on a waiter previously created by hold.
func (c *Clock) await(w *waiter) error {
	c.mu.Lock()
	if c.ended {
		c.remove(w)
		c.mu.Unlock()
		return ErrSimulationEnded
	}
	c.park()
	c.mu.Unlock()
	return <-w.ch
}

// wake reschedules a held waiter to resume at the current logical time,
// behind events already scheduled for this instant (FIFO tie order).
func (c *Clock) wake(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w.index < 0 { // already resumed or cancelled
		return
	}
	w.at = c.now
	w.seq = c.seq
	c.seq++
	heap.Fix(&c.waiters, w.index)
}

// remove discards a waiter that will never be resumed. Caller must hold c.mu.
func (c *Clock) remove(w *waiter) {
	if w.index >= 0 {
		heap.Remove(&c.waiters, w.index)
	}
}

// park marks the calling process as suspended. Caller must hold c.mu.
func (c *Clock) park() {
	c.active--
	c.cond.Broadcast()
}

// exit marks the calling process as finished.
func (c *Clock) exit() {
	c.mu.Lock()
	c.active--
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Run executes scheduled processes until no waiter remains at or before the
// horizon. On return the clock reads exactly `until` (unless the event supply
// was exhausted earlier) and every still-parked process has been resumed with
// ErrSimulationEnded so its goroutine can unwind.
func (c *Clock) Run(until float64) {
	if until < 0 || math.IsNaN(until) {
		panic(fmt.Sprintf("clock: invalid horizon %v", until))
	}
	c.mu.Lock()
	for {
		for c.active > 0 {
			c.cond.Wait()
		}
		if len(c.waiters) == 0 {
			break
		}
		w := c.waiters[0]
		if w.at > until {
			break
		}
		heap.Pop(&c.waiters)
		if w.at > c.now {
			c.now = w.at
		}
		c.active++
		w.ch <- nil
	}
	if c.now < until {
		c.now = until
	}
	c.ended = true

	// Cancel parked processes one at a time so their unwinding code still
	// runs serialized against each other.
	for len(c.waiters) > 0 {
		w := heap.Pop(&c.waiters).(*waiter)
		c.active++
		w.ch <- ErrSimulationEnded
		for c.active > 0 {
			c.cond.Wait()
		}
	}
	c.mu.Unlock()
}
