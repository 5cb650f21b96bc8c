package sim

import (
	"math/rand"

	"github.com/sirupsen/logrus"
)

// FailureEvent records one completed failure/repair cycle of a machine.
// Appended to the per-run history; immutable after creation.
type FailureEvent struct {
	MachineID       int
	FailureTime     float64
	RepairStartTime float64
	RepairDuration  float64
	RepairEndTime   float64
	Downtime        float64 // RepairEndTime - FailureTime
}

// FailureStats summarizes a machine's (or the whole shop's) failure history.
type FailureStats struct {
	NumFailures   int
	TotalDowntime float64
	Availability  float64 // percent of elapsed time the machine was up
	AvgRepairTime float64
	MaxRepairTime float64
	MinRepairTime float64
}

// ReliabilityProfile is a named MTBF/MTTR preset.
type ReliabilityProfile struct {
	MTBF float64
	MTTR float64
}

// Predefined reliability profiles.
var (
	HighReliability   = ReliabilityProfile{MTBF: 1000.0, MTTR: 2.0}
	MediumReliability = ReliabilityProfile{MTBF: 100.0, MTTR: 5.0}
	LowReliability    = ReliabilityProfile{MTBF: 30.0, MTTR: 8.0}
)

// FailureProcess runs one independent failure/repair cycle per machine:
// wait Exp(MTBF) → mark failed, draw repair = max(1, Exp(MTTR)) → notify
// failure → wait repair → mark repaired, append FailureEvent, notify repair →
// repeat. A failed machine blocks new operations from starting and, in
// interruptible mode, aborts the one in flight (see Machine.Process).
type FailureProcess struct {
	clock    *Clock
	rng      *rand.Rand
	machines []*Machine
	mtbfMean float64
	mttrMean float64
	bus      *EventBus
	history  []FailureEvent
}

// NewFailureProcess creates a failure process over the given machines.
// Events are published on bus as EventFailure / EventRepairStart /
// EventRepairEnd.
func NewFailureProcess(clock *Clock, rng *rand.Rand, machines []*Machine, profile ReliabilityProfile, bus *EventBus) *FailureProcess {
	return &FailureProcess{
		clock:    clock,
		rng:      rng,
		machines: machines,
		mtbfMean: profile.MTBF,
		mttrMean: profile.MTTR,
		bus:      bus,
		history:  make([]FailureEvent, 0),
	}
}

// MTBF returns the configured mean time between failures.
func (f *FailureProcess) MTBF() float64 { return f.mtbfMean }

// MTTR returns the configured mean time to repair.
func (f *FailureProcess) MTTR() float64 { return f.mttrMean }

// Start launches one cycle process per machine.
func (f *FailureProcess) Start() {
	for _, m := range f.machines {
		m := m
		f.clock.Go(func() { f.cycle(m) })
	}
}

func (f *FailureProcess) cycle(m *Machine) {
	for {
		timeToFailure := f.rng.ExpFloat64() * f.mtbfMean
		if err := f.clock.Sleep(timeToFailure); err != nil {
			return
		}

		failureTime := f.clock.Now()
		m.Failed = true
		repairDuration := f.rng.ExpFloat64() * f.mttrMean
		if repairDuration < 1 {
			repairDuration = 1
		}
		logrus.Infof("[t=%8.2f] machine %d FAILED (est. repair %.2f)", failureTime, m.ID, repairDuration)

		failEv := newEvent(EventFailure, failureTime)
		failEv.MachineID = m.ID
		failEv.Duration = repairDuration
		f.bus.Publish(failEv)

		// Repair begins immediately, so the window opens at failure time.
		repStart := newEvent(EventRepairStart, failureTime)
		repStart.MachineID = m.ID
		repStart.Duration = repairDuration
		f.bus.Publish(repStart)

		if err := f.clock.Sleep(repairDuration); err != nil {
			return
		}

		m.Failed = false
		repairEnd := f.clock.Now()
		ev := FailureEvent{
			MachineID:       m.ID,
			FailureTime:     failureTime,
			RepairStartTime: failureTime,
			RepairDuration:  repairDuration,
			RepairEndTime:   repairEnd,
			Downtime:        repairEnd - failureTime,
		}
		f.history = append(f.history, ev)
		logrus.Infof("[t=%8.2f] machine %d repaired (downtime %.2f)", repairEnd, m.ID, ev.Downtime)

		repEv := newEvent(EventRepairEnd, repairEnd)
		repEv.MachineID = m.ID
		repEv.Duration = ev.Downtime
		f.bus.Publish(repEv)
	}
}

// History returns all completed failure events, in completion order.
func (f *FailureProcess) History() []FailureEvent {
	out := make([]FailureEvent, len(f.history))
	copy(out, f.history)
	return out
}

// Stats computes failure statistics for one machine. With zero failure events
// availability is 100%.
func (f *FailureProcess) Stats(machineID int) FailureStats {
	var events []FailureEvent
	for _, ev := range f.history {
		if ev.MachineID == machineID {
			events = append(events, ev)
		}
	}
	return f.stats(events)
}

// AllStats computes failure statistics across all machines.
func (f *FailureProcess) AllStats() FailureStats {
	return f.stats(f.history)
}

func (f *FailureProcess) stats(events []FailureEvent) FailureStats {
	if len(events) == 0 {
		return FailureStats{Availability: 100.0}
	}
	s := FailureStats{
		NumFailures:   len(events),
		MinRepairTime: events[0].RepairDuration,
	}
	var repairSum float64
	for _, ev := range events {
		s.TotalDowntime += ev.Downtime
		repairSum += ev.RepairDuration
		if ev.RepairDuration > s.MaxRepairTime {
			s.MaxRepairTime = ev.RepairDuration
		}
		if ev.RepairDuration < s.MinRepairTime {
			s.MinRepairTime = ev.RepairDuration
		}
	}
	s.AvgRepairTime = repairSum / float64(len(events))

	elapsed := f.clock.Now()
	if elapsed <= 0 {
		elapsed = 1
	}
	s.Availability = (elapsed - s.TotalDowntime) / elapsed * 100
	return s
}

// Reset clears the failure history and marks every machine repaired.
func (f *FailureProcess) Reset() {
	f.history = f.history[:0]
	for _, m := range f.machines {
		m.Failed = false
	}
}
