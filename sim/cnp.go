package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MachineStatus is a point-in-time view of one machine offered as a
// negotiation candidate.
type MachineStatus struct {
	MachineID  int
	Available  bool // not failed and not mid-operation
	CurrentJob int  // -1 when idle
	QueueLen   int
}

// Assignment is the outcome of a contract-net negotiation round: which
// machine won the operation and the estimated execution window.
type Assignment struct {
	MachineID     int
	ExpectedStart float64
	ExpectedEnd   float64
}

// CNPClient is the contract-net negotiation authority. Negotiate and
// Renegotiate errors make the simulator fall back to a local
// shortest-queue pick; Notify methods are best-effort and must never block
// simulation progress on the caller's behalf beyond their own wall-clock
// timeout. Implemented by *negotiate.Client.
type CNPClient interface {
	CreateOrderAgent(job *Job, now float64) (agentID string, err error)
	Negotiate(jobID, opIndex int, now float64, candidates []MachineStatus) (Assignment, error)
	Renegotiate(jobID, opIndex, failedMachineID int, now float64, candidates []MachineStatus) (Assignment, error)
	NotifyOperationStart(jobID, opIndex, machineID int, now float64)
	NotifyOperationComplete(jobID, opIndex, machineID int, now float64, isLast bool)
	NotifyMachineFailure(machineID int, failureTime, repairDuration float64, affectedJob int)
	NotifyMachineRepair(machineID int, repairTime float64)
}

// StalledJobError is the terminal per-job condition reached when an
// operation cannot be (re)assigned to any machine within the attempt budget.
// The rest of the simulation keeps running.
type StalledJobError struct {
	JobID          int
	OperationIndex int
	Attempts       int
}

func (e *StalledJobError) Error() string {
	return fmt.Sprintf("job %d stalled: operation %d unscheduled after %d attempts",
		e.JobID, e.OperationIndex, e.Attempts)
}

// CNPConfig parameterizes the contract-net simulator variant.
type CNPConfig struct {
	Config `yaml:",inline"`

	// MachinesPerType controls fleet redundancy: how many interchangeable
	// machines serve each machine type. Renegotiation after failure is only
	// useful with a value above 1.
	MachinesPerType int `yaml:"machines_per_type"`

	// MaxRetries bounds assignment attempts per operation, counting both
	// rounds with no available machine and reruns after mid-operation
	// failure. Exceeding it stalls the job.
	MaxRetries int `yaml:"max_retries"`

	// RetryInterval is the simulated wait between assignment attempts.
	RetryInterval float64 `yaml:"retry_interval"`
}

// Validate checks the contract-net parameters on top of Config.Validate.
func (c CNPConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.MachinesPerType < 1 {
		return fmt.Errorf("machines per type must be at least 1, got %d", c.MachinesPerType)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", c.RetryInterval)
	}
	return nil
}

// NewMachineFleet builds perType interruptible-or-not machines for each of
// numTypes machine types, ids grouped by type.
func NewMachineFleet(clock *Clock, numTypes, perType int, mode ProcessingMode) []*Machine {
	machines := make([]*Machine, 0, numTypes*perType)
	for t := 0; t < numTypes; t++ {
		for k := 0; k < perType; k++ {
			machines = append(machines, NewMachine(clock, t*perType+k, t, mode))
		}
	}
	return machines
}

// CNPSimulator is the resilient job-shop variant: per-operation machine
// assignment is negotiated (contract net) instead of fixed, machines run
// interruptible, and a mid-operation failure triggers renegotiation among
// the surviving machines of the same type.
type CNPSimulator struct {
	Clock    *Clock
	Bus      *EventBus
	Log      *EventLog
	Arrivals *ArrivalProcess
	Failures *FailureProcess
	Machines []*Machine
	Metrics  *Metrics

	client CNPClient // nil: every decision is taken locally
	cfg    CNPConfig

	byType    map[int][]*Machine
	byID      map[int]*Machine
	jobs      map[int]*Job
	completed []CompletedJobRecord
	stalled   []StalledJobError
}

// NewCNPSimulator wires a contract-net simulator. A nil client runs the
// negotiation-free configuration: assignments fall to the least-loaded
// machine of the required type.
func NewCNPSimulator(cfg CNPConfig, client CNPClient) *CNPSimulator {
	clock := NewClock()
	bus := NewEventBus()
	log := NewEventLog()
	bus.SubscribeAll(log.Record)

	rng := NewPartitionedRNG(SimulationKey(cfg.Seed))
	machines := NewMachineFleet(clock, cfg.JobGen.NumMachines, cfg.MachinesPerType, Interruptible)

	s := &CNPSimulator{
		Clock:    clock,
		Bus:      bus,
		Log:      log,
		Arrivals: NewArrivalProcess(clock, rng.ForSubsystem(SubsystemArrivals), cfg.JobGen),
		Failures: NewFailureProcess(clock, rng.ForSubsystem(SubsystemFailures), machines, cfg.Reliability, bus),
		Machines: machines,
		Metrics:  NewMetrics(cfg.Warmup),
		client:   client,
		cfg:      cfg,
		byType:   make(map[int][]*Machine),
		byID:     make(map[int]*Machine),
		jobs:     make(map[int]*Job),
	}
	for _, m := range machines {
		s.byType[m.Type] = append(s.byType[m.Type], m)
		s.byID[m.ID] = m
	}
	s.Arrivals.OnArrival(s.onArrival)
	if client != nil {
		bus.Subscribe(EventFailure, s.mirrorFailure)
		bus.Subscribe(EventRepairEnd, s.mirrorRepair)
	}
	return s
}

// Run executes the simulation until the horizon.
func (s *CNPSimulator) Run() {
	logrus.Infof("starting CNP simulation: %d types x %d machines, rate=%.2f, horizon=%.1f",
		s.cfg.JobGen.NumMachines, s.cfg.MachinesPerType, s.cfg.JobGen.ArrivalRate, s.cfg.Horizon)
	s.Arrivals.Start()
	s.Failures.Start()
	s.Clock.Run(s.cfg.Horizon)
	logrus.Infof("CNP simulation ended at t=%.2f: %d completed, %d stalled, %d in progress",
		s.Clock.Now(), len(s.completed), len(s.stalled), len(s.jobs))
}

// Completed returns the completed-job records in completion order.
func (s *CNPSimulator) Completed() []CompletedJobRecord { return s.completed }

// Stalled returns the jobs that were abandoned after exhausting their
// assignment attempt budgets.
func (s *CNPSimulator) Stalled() []StalledJobError { return s.stalled }

// InProgress returns the number of jobs still being driven.
func (s *CNPSimulator) InProgress() int { return len(s.jobs) }

func (s *CNPSimulator) onArrival(job *Job) {
	ev := newEvent(EventArrival, job.ArrivalTime)
	ev.JobID = job.ID
	ev.Info = fmt.Sprintf("num_operations=%d", len(job.Operations))
	s.Bus.Publish(ev)

	s.jobs[job.ID] = job
	s.Clock.Go(func() { s.runJob(job) })
}

func (s *CNPSimulator) runJob(job *Job) {
	if s.client != nil {
		agentID, err := s.client.CreateOrderAgent(job, s.Clock.Now())
		if err != nil {
			logrus.Warnf("order agent for job %d not created, continuing locally: %v", job.ID, err)
		} else {
			logrus.Debugf("job %d registered as order agent %s", job.ID, agentID)
		}
	}

	for opIdx, op := range job.Operations {
		job.CurrentOp = opIdx
		if err := s.runOperation(job, opIdx, op); err != nil {
			var stall *StalledJobError
			if errors.As(err, &stall) {
				s.stall(job, stall)
			}
			return
		}
	}
	s.finalize(job)
}

// runOperation drives one operation to completion, renegotiating the machine
// assignment after every mid-operation failure. Each failed attempt, whether
// "no machine available" or an interrupted run, burns one retry; the
// interrupted work is discarded and the operation reruns at full duration.
func (s *CNPSimulator) runOperation(job *Job, opIdx int, op Operation) error {
	attempts := 0
	failedMachine := -1
	for {
		m := s.assign(job.ID, opIdx, op.MachineType, failedMachine)
		if m == nil {
			attempts++
			if attempts >= s.cfg.MaxRetries {
				return &StalledJobError{JobID: job.ID, OperationIndex: opIdx, Attempts: attempts}
			}
			logrus.Infof("[t=%8.2f] job %d op %d: no machine of type %d available, waiting (attempt %d)",
				s.Clock.Now(), job.ID, opIdx, op.MachineType, attempts)
			if err := s.Clock.Sleep(s.cfg.RetryInterval); err != nil {
				return err
			}
			continue
		}

		m.EnqueueJob(job.ID)
		if err := m.Acquire(); err != nil {
			m.RemoveJob(job.ID)
			return err
		}
		m.RemoveJob(job.ID)

		startEv := newEvent(EventStart, s.Clock.Now())
		startEv.JobID = job.ID
		startEv.MachineID = m.ID
		startEv.Duration = op.Duration
		startEv.QueueLength = m.QueueLen()
		s.Bus.Publish(startEv)
		if s.client != nil {
			s.client.NotifyOperationStart(job.ID, opIdx, m.ID, s.Clock.Now())
		}

		err := m.Process(job.ID, opIdx, op.Duration)
		m.Release()
		if err == nil {
			endEv := newEvent(EventEnd, s.Clock.Now())
			endEv.JobID = job.ID
			endEv.MachineID = m.ID
			s.Bus.Publish(endEv)
			if s.client != nil {
				isLast := opIdx == len(job.Operations)-1
				s.client.NotifyOperationComplete(job.ID, opIdx, m.ID, s.Clock.Now(), isLast)
			}
			return nil
		}

		var opErr *OperationFailedError
		if !errors.As(err, &opErr) {
			return err
		}
		logrus.Warnf("[t=%8.2f] job %d op %d interrupted on machine %d after %.2f/%.2f, renegotiating",
			s.Clock.Now(), job.ID, opIdx, m.ID, opErr.Elapsed, opErr.Duration)

		attempts++
		if attempts >= s.cfg.MaxRetries {
			return &StalledJobError{JobID: job.ID, OperationIndex: opIdx, Attempts: attempts}
		}
		failedMachine = m.ID
		if err := s.Clock.Sleep(s.cfg.RetryInterval); err != nil {
			return err
		}
	}
}

// assign picks the machine for one operation attempt. The negotiation
// authority, when present, chooses among the non-failed machines of the
// required type; a failed exchange or a nonsensical award falls back to the
// local pick (least queued, lowest id). Returns nil when no machine of the
// type is currently up.
func (s *CNPSimulator) assign(jobID, opIdx, machineType, failedMachine int) *Machine {
	candidates := make([]MachineStatus, 0, len(s.byType[machineType]))
	var local *Machine
	for _, m := range s.byType[machineType] {
		if m.Failed {
			continue
		}
		candidates = append(candidates, MachineStatus{
			MachineID:  m.ID,
			Available:  !m.Busy(),
			CurrentJob: m.CurrentJobID,
			QueueLen:   m.QueueLen(),
		})
		if local == nil || m.QueueLen() < local.QueueLen() {
			local = m
		}
	}
	if local == nil {
		return nil
	}
	if s.client == nil {
		return local
	}

	var (
		asg Assignment
		err error
	)
	if failedMachine >= 0 {
		asg, err = s.client.Renegotiate(jobID, opIdx, failedMachine, s.Clock.Now(), candidates)
	} else {
		asg, err = s.client.Negotiate(jobID, opIdx, s.Clock.Now(), candidates)
	}
	if err != nil {
		logrus.Warnf("negotiation failed for job %d op %d, using local assignment: %v", jobID, opIdx, err)
		return local
	}
	m, ok := s.byID[asg.MachineID]
	if !ok || m.Type != machineType || m.Failed {
		logrus.Warnf("negotiation awarded unusable machine %d for job %d op %d, using local assignment",
			asg.MachineID, jobID, opIdx)
		return local
	}
	return m
}

func (s *CNPSimulator) mirrorFailure(ev SimulationEvent) {
	m := s.byID[ev.MachineID]
	s.client.NotifyMachineFailure(ev.MachineID, ev.Time, ev.Duration, m.CurrentJobID)
}

func (s *CNPSimulator) mirrorRepair(ev SimulationEvent) {
	s.client.NotifyMachineRepair(ev.MachineID, ev.Time)
}

func (s *CNPSimulator) stall(job *Job, stallErr *StalledJobError) {
	delete(s.jobs, job.ID)
	s.stalled = append(s.stalled, *stallErr)
	s.Metrics.ObserveStalled()
	logrus.Errorf("[t=%8.2f] %v", s.Clock.Now(), stallErr)
}

func (s *CNPSimulator) finalize(job *Job) {
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
