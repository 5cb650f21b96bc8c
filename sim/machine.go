package sim

import (
	"fmt"
	"math"
)

// failurePollInterval is how long a process waits before re-checking a failed
// machine it is trying to start on.
const failurePollInterval = 0.1

// ProcessingMode selects how a machine reacts to a failure occurring while an
// operation is running. The two behaviors are distinct configurations and are
// never merged.
type ProcessingMode int

const (
	// RunToCompletion blocks before starting if the machine is already
	// failed, then runs the operation uninterrupted even if a failure
	// occurs mid-run.
	RunToCompletion ProcessingMode = iota
	// Interruptible checks the failed flag at a fine-grained interval
	// during the run and aborts with *OperationFailedError so the caller
	// can re-negotiate the assignment.
	Interruptible
)

// OperationFailedError is the distinguished signal raised when a machine
// fails while an operation is in flight.
type OperationFailedError struct {
	MachineID      int
	JobID          int
	OperationIndex int
	Elapsed        float64 // processing time completed before the failure
	Duration       float64 // full duration the operation required
}

func (e *OperationFailedError) Error() string {
	return fmt.Sprintf("machine %d failed during job %d op %d (progress %.2f/%.2f)",
		e.MachineID, e.JobID, e.OperationIndex, e.Elapsed, e.Duration)
}

// Machine is an exclusive-capacity resource with a FIFO wait queue of job ids.
// All mutation happens on the single simulation timeline: the cooperative
// clock guarantees no two operations ever run concurrently on one machine.
// The Failed flag is written only by the FailureProcess.
type Machine struct {
	ID     int
	Type   int
	Failed bool

	clock *Clock
	res   *Resource
	mode  ProcessingMode

	waitQueue []int // job ids in insertion order, no duplicates

	// Bookkeeping for utilization metrics.
	TotalProcessingTime float64
	NumOperations       int
	CurrentJobID        int // -1 when idle
	CurrentOpIndex      int // -1 when idle
}

// NewMachine creates an idle machine. With one machine per type, id and type
// coincide; shops with redundant machines give several machines the same type.
func NewMachine(clock *Clock, id, machineType int, mode ProcessingMode) *Machine {
	return &Machine{
		ID:             id,
		Type:           machineType,
		clock:          clock,
		res:            NewResource(clock),
		mode:           mode,
		waitQueue:      make([]int, 0),
		CurrentJobID:   -1,
		CurrentOpIndex: -1,
	}
}

// EnqueueJob adds a job id to the machine's wait queue. A queue never holds
// the same job id twice; violating that is a caller bug.
func (m *Machine) EnqueueJob(jobID int) {
	for _, id := range m.waitQueue {
		if id == jobID {
			panic(fmt.Sprintf("machine %d: job %d already queued", m.ID, jobID))
		}
	}
	m.waitQueue = append(m.waitQueue, jobID)
}

// RemoveJob deletes a job id from the wait queue, preserving insertion order
// of the rest. Removing an absent id is a no-op.
func (m *Machine) RemoveJob(jobID int) {
	for i, id := range m.waitQueue {
		if id == jobID {
			m.waitQueue = append(m.waitQueue[:i], m.waitQueue[i+1:]...)
			return
		}
	}
}

// WaitingJobs returns the queued job ids in insertion order. The returned
// slice is the queue's internal storage and must not be modified.
func (m *Machine) WaitingJobs() []int {
	return m.waitQueue
}

// QueueLen returns the wait queue length.
func (m *Machine) QueueLen() int {
	return len(m.waitQueue)
}

// Acquire blocks until the calling process holds exclusive access, granted in
// request order.
func (m *Machine) Acquire() error {
	return m.res.Acquire()
}

// Release gives up exclusive access.
func (m *Machine) Release() {
	m.res.Release()
}

// Busy reports whether some job currently holds the machine.
func (m *Machine) Busy() bool {
	return m.res.InUse()
}

// Process runs one operation on the machine. The caller must hold the machine
// (Acquire) for the whole call.
//
// If the machine is failed at start, the process polls until it is repaired;
// grants are effectively withheld during downtime. In Interruptible mode the
// run is then checked every min(1, duration/10) time units: a failure aborts
// it with *OperationFailedError and the caller is responsible for
// re-negotiating the assignment; the machine never silently resumes after
// repair. In RunToCompletion mode the run is never interrupted.
func (m *Machine) Process(jobID, opIndex int, duration float64) error {
	if !(duration > 0) {
		panic(fmt.Sprintf("machine %d: invalid operation duration %v", m.ID, duration))
	}

	for m.Failed {
		if err := m.clock.Sleep(failurePollInterval); err != nil {
			return err
		}
	}

	m.CurrentJobID = jobID
	m.CurrentOpIndex = opIndex

	if m.mode == RunToCompletion {
		if err := m.clock.Sleep(duration); err != nil {
			m.clearCurrent()
			return err
		}
		m.finish(duration)
		return nil
	}

	checkInterval := math.Min(1.0, duration/10)
	elapsed := 0.0
	for elapsed < duration {
		step := math.Min(checkInterval, duration-elapsed)
		if err := m.clock.Sleep(step); err != nil {
			m.clearCurrent()
			return err
		}
		elapsed += step
		if m.Failed {
			m.clearCurrent()
			return &OperationFailedError{
				MachineID:      m.ID,
				JobID:          jobID,
				OperationIndex: opIndex,
				Elapsed:        elapsed,
				Duration:       duration,
			}
		}
	}
	m.finish(duration)
	return nil
}

func (m *Machine) finish(duration float64) {
	m.TotalProcessingTime += duration
	m.NumOperations++
	m.clearCurrent()
}

func (m *Machine) clearCurrent() {
	m.CurrentJobID = -1
	m.CurrentOpIndex = -1
}

// NewMachines creates n machines with ids 0..n-1, each its own type.
func NewMachines(clock *Clock, n int, mode ProcessingMode) []*Machine {
	machines := make([]*Machine, n)
	for i := range machines {
		machines[i] = NewMachine(clock, i, i, mode)
	}
	return machines
}
