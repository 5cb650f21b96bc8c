package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCNPClient scripts the contract-net authority: Negotiate awards the
// first candidate, Renegotiate awards the last, and every call is recorded.
type fakeCNPClient struct {
	negotiateCalls   int
	renegotiateCalls int
	orderAgents      []int
	started          []int // machine ids, in notification order
	completed        []int
	lastFlags        []bool
	failErr          error // when set, Negotiate and Renegotiate fail
}

func (f *fakeCNPClient) CreateOrderAgent(job *Job, now float64) (string, error) {
	f.orderAgents = append(f.orderAgents, job.ID)
	return "order-agent", nil
}

func (f *fakeCNPClient) Negotiate(jobID, opIndex int, now float64, candidates []MachineStatus) (Assignment, error) {
	f.negotiateCalls++
	if f.failErr != nil {
		return Assignment{}, f.failErr
	}
	return Assignment{MachineID: candidates[0].MachineID, ExpectedStart: now}, nil
}

func (f *fakeCNPClient) Renegotiate(jobID, opIndex, failedMachineID int, now float64, candidates []MachineStatus) (Assignment, error) {
	f.renegotiateCalls++
	if f.failErr != nil {
		return Assignment{}, f.failErr
	}
	return Assignment{MachineID: candidates[len(candidates)-1].MachineID, ExpectedStart: now}, nil
}

func (f *fakeCNPClient) NotifyOperationStart(jobID, opIndex, machineID int, now float64) {
	f.started = append(f.started, machineID)
}

func (f *fakeCNPClient) NotifyOperationComplete(jobID, opIndex, machineID int, now float64, isLast bool) {
	f.completed = append(f.completed, machineID)
	f.lastFlags = append(f.lastFlags, isLast)
}

func (f *fakeCNPClient) NotifyMachineFailure(machineID int, failureTime, repairDuration float64, affectedJob int) {
}

func (f *fakeCNPClient) NotifyMachineRepair(machineID int, repairTime float64) {}

// quietCNPConfig keeps random arrivals and failures out of the horizon so
// tests can inject jobs and failures by hand.
func quietCNPConfig() CNPConfig {
	return CNPConfig{
		Config: Config{
			Seed:    1,
			Horizon: 100,
			JobGen: JobGenConfig{
				ArrivalRate:       1e-9,
				NumMachines:       2,
				MinOperations:     1,
				MaxOperations:     2,
				MinDuration:       2,
				MaxDuration:       8,
				DueDateMultiplier: 2.5,
			},
			Reliability:  ReliabilityProfile{MTBF: 1e9, MTTR: 2},
			RetryBackoff: 0.1,
		},
		MachinesPerType: 2,
		MaxRetries:      5,
		RetryInterval:   1.0,
	}
}

func TestCNPSimulator_MidOperationFailure_RenegotiatesToSurvivor(t *testing.T) {
	// GIVEN a job on machine type 0 (machines 0 and 1) whose first machine
	// fails 3.5 units into a 10-unit operation
	client := &fakeCNPClient{}
	s := NewCNPSimulator(quietCNPConfig(), client)
	job := &Job{ID: 1, Operations: []Operation{{MachineType: 0, Duration: 10}}, DueDate: 40}
	s.jobs[job.ID] = job
	s.Clock.Go(func() { s.runJob(job) })
	s.Clock.Go(func() {
		if err := s.Clock.Sleep(3.5); err != nil {
			return
		}
		s.byID[0].Failed = true
	})

	// WHEN the simulation runs
	s.Run()

	// THEN the interrupted operation was renegotiated and rerun in full on
	// the surviving machine
	require.Len(t, s.Completed(), 1)
	assert.Equal(t, 1, client.negotiateCalls)
	assert.Equal(t, 1, client.renegotiateCalls)
	require.Len(t, client.started, 2)
	assert.Equal(t, 0, client.started[0], "first attempt on machine 0")
	assert.Equal(t, 1, client.started[1], "rerun on the surviving machine")
	require.Len(t, client.lastFlags, 1)
	assert.True(t, client.lastFlags[0], "single-operation job must complete with is_last")

	// Abort at the t=4 check, one retry interval, then a full 10-unit rerun.
	assert.InDelta(t, 15.0, s.Completed()[0].CompletionTime, 1e-9)
	assert.Empty(t, s.Stalled())
}

func TestCNPSimulator_NoMachineEverAvailable_StallsJob(t *testing.T) {
	// GIVEN both machines of the required type permanently failed
	cfg := quietCNPConfig()
	client := &fakeCNPClient{}
	s := NewCNPSimulator(cfg, client)
	s.byID[0].Failed = true
	s.byID[1].Failed = true
	job := &Job{ID: 1, Operations: []Operation{{MachineType: 0, Duration: 5}}, DueDate: 40}
	s.jobs[job.ID] = job
	s.Clock.Go(func() { s.runJob(job) })

	// WHEN the simulation runs
	s.Run()

	// THEN the job stalls after exhausting its attempt budget instead of
	// deadlocking or being silently dropped
	require.Len(t, s.Stalled(), 1)
	stall := s.Stalled()[0]
	assert.Equal(t, 1, stall.JobID)
	assert.Equal(t, 0, stall.OperationIndex)
	assert.Equal(t, cfg.MaxRetries, stall.Attempts)
	assert.Empty(t, s.Completed())
	assert.Equal(t, 1, s.Metrics.StalledJobs)
	assert.Zero(t, s.InProgress(), "stalled job must leave the in-progress set")
}

func TestCNPSimulator_NegotiationError_FallsBackToLeastLoaded(t *testing.T) {
	// GIVEN an authority that always fails to negotiate
	client := &fakeCNPClient{failErr: errors.New("timeout")}
	s := NewCNPSimulator(quietCNPConfig(), client)
	job := &Job{ID: 1, Operations: []Operation{{MachineType: 1, Duration: 4}}, DueDate: 40}
	s.jobs[job.ID] = job
	s.Clock.Go(func() { s.runJob(job) })

	// WHEN the simulation runs
	s.Run()

	// THEN the job still completes on a locally picked machine
	require.Len(t, s.Completed(), 1)
	assert.InDelta(t, 4.0, s.Completed()[0].CompletionTime, 1e-9)
}

func TestCNPSimulator_NilClient_RunsFullyLocal(t *testing.T) {
	// GIVEN a negotiation-free configuration with real arrivals
	cfg := quietCNPConfig()
	cfg.JobGen.ArrivalRate = 0.3
	cfg.Reliability = MediumReliability

	s := NewCNPSimulator(cfg, nil)

	// WHEN the simulation runs
	s.Run()

	// THEN jobs complete and every job is accounted for exactly once
	require.NotEmpty(t, s.Completed())
	assert.Equal(t, s.Arrivals.Count(), len(s.Completed())+len(s.Stalled())+s.InProgress())
}

func TestCNPSimulator_OrderAgents_CreatedPerArrival(t *testing.T) {
	cfg := quietCNPConfig()
	cfg.JobGen.ArrivalRate = 0.2

	client := &fakeCNPClient{}
	s := NewCNPSimulator(cfg, client)
	s.Run()

	require.NotZero(t, s.Arrivals.Count())
	assert.Len(t, client.orderAgents, s.Arrivals.Count(),
		"one order agent per arriving job")
}
