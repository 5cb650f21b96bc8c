package sim

import "fmt"

// Operation is one processing step of a job: a machine type and how long the
// step occupies it. Immutable once created.
type Operation struct {
	MachineType int
	Duration    float64
}

// Job is a work order moving through the shop. Operations execute strictly in
// order; CurrentOp is the index of the next operation to run and is owned by
// the job lifecycle, never by machines.
type Job struct {
	ID          int
	ArrivalTime float64
	Operations  []Operation
	DueDate     float64
	CurrentOp   int
}

// Validate checks the job's construction invariants.
// A due date before the arrival time is allowed (it just guarantees
// tardiness); non-positive operation durations are not.
func (j *Job) Validate() error {
	if len(j.Operations) == 0 {
		return fmt.Errorf("job %d has no operations", j.ID)
	}
	for i, op := range j.Operations {
		if !(op.Duration > 0) {
			return fmt.Errorf("job %d operation %d has non-positive duration %v", j.ID, i, op.Duration)
		}
	}
	return nil
}

// TotalProcessingTime returns the sum of all operation durations.
func (j *Job) TotalProcessingTime() float64 {
	var total float64
	for _, op := range j.Operations {
		total += op.Duration
	}
	return total
}

// NextOperation returns the operation at CurrentOp, or false when the job has
// consumed its whole sequence.
func (j *Job) NextOperation() (Operation, bool) {
	if j.CurrentOp >= len(j.Operations) {
		return Operation{}, false
	}
	return j.Operations[j.CurrentOp], true
}

// CompletedJobRecord is created exactly once per job, at the moment its last
// operation ends.
type CompletedJobRecord struct {
	JobID          int
	ArrivalTime    float64
	CompletionTime float64
	Makespan       float64 // CompletionTime - ArrivalTime
	DueDate        float64
	Tardiness      float64 // max(0, CompletionTime - DueDate)
}

// NewCompletedJobRecord finalizes a job's metrics at completion time.
func NewCompletedJobRecord(j *Job, completionTime float64) CompletedJobRecord {
	tardiness := completionTime - j.DueDate
	if tardiness < 0 {
		tardiness = 0
	}
	return CompletedJobRecord{
		JobID:          j.ID,
		ArrivalTime:    j.ArrivalTime,
		CompletionTime: completionTime,
		Makespan:       completionTime - j.ArrivalTime,
		DueDate:        j.DueDate,
		Tardiness:      tardiness,
	}
}
