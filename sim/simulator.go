package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Config holds the parameters of one simulation run.
type Config struct {
	Seed    int64   `yaml:"seed"`
	Horizon float64 `yaml:"horizon"`
	Warmup  float64 `yaml:"warmup"` // jobs arriving before this are excluded from aggregates

	JobGen      JobGenConfig       `yaml:"jobs"`
	Reliability ReliabilityProfile `yaml:"reliability"`

	// RetryBackoff is how long a denied requester waits before re-entering
	// the dispatch protocol.
	RetryBackoff float64 `yaml:"retry_backoff"`
	// Training enables post-operation feedback reporting to the decision
	// authority (delegated mode only).
	Training bool `yaml:"training"`
}

// Validate checks the run parameters.
func (c Config) Validate() error {
	if err := c.JobGen.Validate(); err != nil {
		return err
	}
	if c.Horizon <= 0 {
		return fmt.Errorf("horizon must be positive, got %v", c.Horizon)
	}
	if c.Warmup < 0 || c.Warmup > c.Horizon {
		return fmt.Errorf("warmup %v outside [0, horizon]", c.Warmup)
	}
	if c.RetryBackoff <= 0 {
		return fmt.Errorf("retry backoff must be positive, got %v", c.RetryBackoff)
	}
	if c.Reliability.MTBF <= 0 || c.Reliability.MTTR <= 0 {
		return fmt.Errorf("invalid reliability profile %+v", c.Reliability)
	}
	return nil
}

// Feedback reports the outcome of one dispatch decision back to the external
// authority for training.
type Feedback struct {
	MachineID int
	JobID     int
	Queue     []QueueEntry
	Action    int // index of the admitted job in the decision snapshot
	Reward    float64
}

// FeedbackSender delivers training feedback. Delivery failure is non-fatal;
// implementations return false instead of an error. Implemented by
// *negotiate.Client.
type FeedbackSender interface {
	SendFeedback(fb Feedback) bool
}

// Simulator is the dynamic job-shop variant: Poisson arrivals, stochastic
// machine failures, and a decide-allow dispatch protocol (local rule or
// delegated with fallback). Machines run in RunToCompletion mode: a failure
// before start blocks the start, a failure mid-run does not interrupt.
type Simulator struct {
	Clock    *Clock
	Bus      *EventBus
	Log      *EventLog
	Arrivals *ArrivalProcess
	Failures *FailureProcess
	Machines []*Machine
	Decider  Decider
	Metrics  *Metrics

	// Feedback, when set together with cfg.Training, receives one report
	// per completed operation.
	Feedback FeedbackSender

	cfg       Config
	jobs      map[int]*Job // in-progress set
	completed []CompletedJobRecord
	finished  map[int]bool
}

// NewSimulator wires a dynamic simulator from a validated Config and a
// dispatch decider. Randomness is partitioned per subsystem from cfg.Seed.
func NewSimulator(cfg Config, decider Decider) *Simulator {
	clock := NewClock()
	bus := NewEventBus()
	log := NewEventLog()
	bus.SubscribeAll(log.Record)

	rng := NewPartitionedRNG(SimulationKey(cfg.Seed))
	machines := NewMachines(clock, cfg.JobGen.NumMachines, RunToCompletion)

	s := &Simulator{
		Clock:      clock,
		Bus:        bus,
		Log:        log,
		Arrivals:   NewArrivalProcess(clock, rng.ForSubsystem(SubsystemArrivals), cfg.JobGen),
		Failures:   NewFailureProcess(clock, rng.ForSubsystem(SubsystemFailures), machines, cfg.Reliability, bus),
		Machines:   machines,
		Decider:    decider,
		Metrics:    NewMetrics(cfg.Warmup),
		cfg:        cfg,
		jobs:       make(map[int]*Job),
		finished:   make(map[int]bool),
	}
	s.Arrivals.OnArrival(s.onArrival)
	return s
}

// Run executes the simulation until the horizon.
func (s *Simulator) Run() {
	logrus.Infof("starting dynamic simulation: %d machines, rate=%.2f, mtbf=%.1f, mttr=%.1f, horizon=%.1f (warmup %.1f)",
		s.cfg.JobGen.NumMachines, s.cfg.JobGen.ArrivalRate,
		s.cfg.Reliability.MTBF, s.cfg.Reliability.MTTR, s.cfg.Horizon, s.cfg.Warmup)
	s.Arrivals.Start()
	s.Failures.Start()
	s.Clock.Run(s.cfg.Horizon)
	logrus.Infof("simulation ended at t=%.2f: %d jobs completed, %d in progress",
		s.Clock.Now(), len(s.completed), len(s.jobs))
}

// Completed returns the completed-job records in completion order.
func (s *Simulator) Completed() []CompletedJobRecord {
	return s.completed
}

// InProgress returns the number of jobs currently being driven through their
// operation sequence.
func (s *Simulator) InProgress() int {
	return len(s.jobs)
}

func (s *Simulator) onArrival(job *Job) {
	ev := newEvent(EventArrival, job.ArrivalTime)
	ev.JobID = job.ID
	ev.Info = fmt.Sprintf("num_operations=%d", len(job.Operations))
	s.Bus.Publish(ev)

	s.jobs[job.ID] = job
	s.Clock.Go(func() { s.runJob(job) })
}

// runJob drives a job through its operations strictly in order.
func (s *Simulator) runJob(job *Job) {
	for opIdx, op := range job.Operations {
		job.CurrentOp = opIdx
		m := s.Machines[op.MachineType]
		m.EnqueueJob(job.ID)

		action, err := s.admit(m, job)
		if err != nil {
			m.RemoveJob(job.ID)
			return
		}
		m.RemoveJob(job.ID)

		startEv := newEvent(EventStart, s.Clock.Now())
		startEv.JobID = job.ID
		startEv.MachineID = m.ID
		startEv.Duration = op.Duration
		startEv.QueueLength = m.QueueLen()
		s.Bus.Publish(startEv)
		logrus.Infof("[t=%8.2f] job %d op %d START on machine %d (%.2f)", s.Clock.Now(), job.ID, opIdx, m.ID, op.Duration)

		err = m.Process(job.ID, opIdx, op.Duration)
		m.Release()
		if err != nil {
			// RunToCompletion mode only surfaces ErrSimulationEnded.
			return
		}

		endEv := newEvent(EventEnd, s.Clock.Now())
		endEv.JobID = job.ID
		endEv.MachineID = m.ID
		s.Bus.Publish(endEv)

		s.sendFeedback(m, job, action)
	}
	s.finalize(job)
}

// admit runs the admit-or-retry loop of the dispatch protocol: claim the
// machine, snapshot its queue, consult the decider; a denied requester
// releases its claim and retries after a fixed backoff. Returns the index of
// the job in the snapshot that admitted it.
func (s *Simulator) admit(m *Machine, job *Job) (int, error) {
	for {
		if err := m.Acquire(); err != nil {
			return 0, err
		}
		snapshot := s.snapshot(m)
		if s.Decider.Allow(m.ID, job.ID, snapshot) {
			for i, e := range snapshot {
				if e.JobID == job.ID {
					return i, nil
				}
			}
			return 0, nil
		}
		m.Release()
		if err := s.Clock.Sleep(s.cfg.RetryBackoff); err != nil {
			return 0, err
		}
	}
}

// snapshot builds the dispatch candidates for a machine, in enqueue order.
func (s *Simulator) snapshot(m *Machine) []QueueEntry {
	waiting := m.WaitingJobs()
	entries := make([]QueueEntry, 0, len(waiting))
	for _, id := range waiting {
		j, ok := s.jobs[id]
		if !ok {
			continue
		}
		op, ok := j.NextOperation()
		if !ok {
			continue
		}
		entries = append(entries, QueueEntry{
			JobID:          id,
			NextOpDuration: op.Duration,
			DueDate:        j.DueDate,
		})
	}
	return entries
}

func (s *Simulator) sendFeedback(m *Machine, job *Job, action int) {
	if !s.cfg.Training || s.Feedback == nil {
		return
	}
	now := s.Clock.Now()
	reward := 0.0
	if now > job.DueDate {
		reward = -(now - job.DueDate)
	}
	ok := s.Feedback.SendFeedback(Feedback{
		MachineID: m.ID,
		JobID:     job.ID,
		Queue:     s.snapshot(m),
		Action:    action,
		Reward:    reward,
	})
	if !ok {
		logrus.Debugf("feedback for job %d on machine %d not delivered", job.ID, m.ID)
	}
}

// finalize moves a job from in-progress to completed, exactly once.
func (s *Simulator) finalize(job *Job) {
	if s.finished[job.ID] {
		panic(fmt.Sprintf("job %d finalized twice", job.ID))
	}
	s.finished[job.ID] = true
	delete(s.jobs, job.ID)

	rec := NewCompletedJobRecord(job, s.Clock.Now())
	s.completed = append(s.completed, rec)
	s.Metrics.Observe(rec)

	ev := newEvent(EventComplete, rec.CompletionTime)
	ev.JobID = job.ID
	ev.Info = fmt.Sprintf("makespan=%.2f tardiness=%.2f", rec.Makespan, rec.Tardiness)
	s.Bus.Publish(ev)
	logrus.Infof("[t=%8.2f] job %d COMPLETE (makespan %.2f, tardiness %.2f)",
		rec.CompletionTime, job.ID, rec.Makespan, rec.Tardiness)
}
