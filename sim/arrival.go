package sim

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// JobGenConfig controls random job generation by the arrival process.
type JobGenConfig struct {
	ArrivalRate       float64 `yaml:"arrival_rate"`        // λ, jobs per time unit
	NumMachines       int     `yaml:"num_machines"`        // distinct machine types available
	MinOperations     int     `yaml:"min_operations"`      // per-job operation count lower bound
	MaxOperations     int     `yaml:"max_operations"`      // per-job operation count upper bound
	MinDuration       float64 `yaml:"min_duration"`        // operation duration lower bound
	MaxDuration       float64 `yaml:"max_duration"`        // operation duration upper bound
	DueDateMultiplier float64 `yaml:"due_date_multiplier"` // due = arrival + Σdurations × multiplier
}

// Validate rejects configurations the generator cannot honor.
func (c JobGenConfig) Validate() error {
	if c.ArrivalRate <= 0 {
		return fmt.Errorf("arrival rate must be positive, got %v", c.ArrivalRate)
	}
	if c.NumMachines <= 0 {
		return fmt.Errorf("need at least one machine, got %d", c.NumMachines)
	}
	if c.MinOperations < 1 || c.MaxOperations < c.MinOperations {
		return fmt.Errorf("invalid operation count range [%d, %d]", c.MinOperations, c.MaxOperations)
	}
	if c.MinDuration <= 0 || c.MaxDuration < c.MinDuration {
		return fmt.Errorf("invalid duration range [%v, %v]", c.MinDuration, c.MaxDuration)
	}
	if c.DueDateMultiplier <= 0 {
		return fmt.Errorf("due date multiplier must be positive, got %v", c.DueDateMultiplier)
	}
	return nil
}

// ArrivalProcess generates jobs via a Poisson process: inter-arrival
// intervals are exponentially distributed with rate ArrivalRate. Randomness
// comes exclusively from the injected *rand.Rand, so a run replays bit-for-bit
// under the same seed.
type ArrivalProcess struct {
	clock     *Clock
	rng       *rand.Rand
	cfg       JobGenConfig
	counter   int
	generated []*Job
	observers []func(*Job)
}

// NewArrivalProcess creates an arrival process. cfg must already be validated.
func NewArrivalProcess(clock *Clock, rng *rand.Rand, cfg JobGenConfig) *ArrivalProcess {
	return &ArrivalProcess{
		clock:     clock,
		rng:       rng,
		cfg:       cfg,
		generated: make([]*Job, 0),
	}
}

// OnArrival registers an observer notified synchronously for each generated
// job. Observers may schedule further simulation actions.
func (a *ArrivalProcess) OnArrival(fn func(*Job)) {
	a.observers = append(a.observers, fn)
}

// Start launches the generation loop as a simulation process. It runs until
// the clock terminates it.
func (a *ArrivalProcess) Start() {
	a.clock.Go(a.run)
}

func (a *ArrivalProcess) run() {
	for {
		iat := a.rng.ExpFloat64() / a.cfg.ArrivalRate
		if err := a.clock.Sleep(iat); err != nil {
			return
		}
		job := a.generate()
		a.generated = append(a.generated, job)
		logrus.Debugf("[t=%8.2f] job %d arrived (ops=%d, due=%.2f)",
			job.ArrivalTime, job.ID, len(job.Operations), job.DueDate)
		for _, fn := range a.observers {
			fn(job)
		}
	}
}

// generate builds the next random job at the current logical time.
func (a *ArrivalProcess) generate() *Job {
	a.counter++
	ops := a.GenerateOperations()
	arrival := a.clock.Now()
	return &Job{
		ID:          a.counter,
		ArrivalTime: arrival,
		Operations:  ops,
		DueDate:     a.DueDate(arrival, ops),
	}
}

// GenerateOperations draws a random operation sequence: a random count within
// [MinOperations, MaxOperations], distinct machine types (at most the machine
// count), and durations uniform in [MinDuration, MaxDuration].
func (a *ArrivalProcess) GenerateOperations() []Operation {
	numOps := a.cfg.MinOperations + a.rng.Intn(a.cfg.MaxOperations-a.cfg.MinOperations+1)
	if numOps > a.cfg.NumMachines {
		numOps = a.cfg.NumMachines
	}
	machines := a.rng.Perm(a.cfg.NumMachines)[:numOps]
	ops := make([]Operation, numOps)
	for i, m := range machines {
		ops[i] = Operation{
			MachineType: m,
			Duration:    a.cfg.MinDuration + a.rng.Float64()*(a.cfg.MaxDuration-a.cfg.MinDuration),
		}
	}
	return ops
}

// DueDate computes arrival_time + (sum of operation durations) × multiplier.
func (a *ArrivalProcess) DueDate(arrivalTime float64, ops []Operation) float64 {
	var total float64
	for _, op := range ops {
		total += op.Duration
	}
	return arrivalTime + total*a.cfg.DueDateMultiplier
}

// Generated returns a copy of the jobs generated so far.
func (a *ArrivalProcess) Generated() []*Job {
	out := make([]*Job, len(a.generated))
	copy(out, a.generated)
	return out
}

// Count returns how many jobs have been generated.
func (a *ArrivalProcess) Count() int {
	return a.counter
}

// Reset clears generated-job history and the running counter so a fresh run
// with a new seed starts from job id 1.
func (a *ArrivalProcess) Reset() {
	a.counter = 0
	a.generated = a.generated[:0]
}
