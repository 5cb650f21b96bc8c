// Tracks run-wide performance metrics: tardiness, makespan, machine
// utilization and stalled jobs, with warmup exclusion for steady-state
// aggregates.

package sim

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Metrics aggregates completed-job statistics for final reporting. Jobs that
// arrived during the warmup period are excluded from steady-state aggregates
// but still counted as completed.
type Metrics struct {
	Warmup float64

	CompletedJobs int
	ExcludedJobs  int // completed but arrived during warmup
	LateJobs      int
	StalledJobs   int

	TotalTardiness    float64
	MaxCompletionTime float64

	makespans []float64
	tardiness []float64
}

// NewMetrics creates a Metrics collector with the given warmup period.
func NewMetrics(warmup float64) *Metrics {
	return &Metrics{Warmup: warmup}
}

// Observe records one completed job.
func (m *Metrics) Observe(rec CompletedJobRecord) {
	m.CompletedJobs++
	if rec.CompletionTime > m.MaxCompletionTime {
		m.MaxCompletionTime = rec.CompletionTime
	}
	if rec.ArrivalTime < m.Warmup {
		m.ExcludedJobs++
		return
	}
	m.makespans = append(m.makespans, rec.Makespan)
	m.tardiness = append(m.tardiness, rec.Tardiness)
	m.TotalTardiness += rec.Tardiness
	if rec.Tardiness > 0 {
		m.LateJobs++
	}
}

// ObserveStalled records a job that could not be re-assigned after repeated
// negotiation attempts.
func (m *Metrics) ObserveStalled() {
	m.StalledJobs++
}

// Summary holds steady-state aggregates over post-warmup completed jobs.
type Summary struct {
	Jobs            int
	MeanMakespan    float64
	StdMakespan     float64
	P95Makespan     float64
	MeanTardiness   float64
	MaxTardiness    float64
	LateJobs        int
	WIP             float64 // completed jobs per time unit of batch makespan
	BatchCompletion float64 // max completion time across all jobs
}

// Summarize computes steady-state aggregates. Safe on zero observations.
func (m *Metrics) Summarize() Summary {
	s := Summary{
		Jobs:            len(m.makespans),
		LateJobs:        m.LateJobs,
		BatchCompletion: m.MaxCompletionTime,
	}
	if len(m.makespans) == 0 {
		return s
	}
	s.MeanMakespan = stat.Mean(m.makespans, nil)
	s.StdMakespan = stat.StdDev(m.makespans, nil)
	s.MeanTardiness = stat.Mean(m.tardiness, nil)

	sorted := make([]float64, len(m.makespans))
	copy(sorted, m.makespans)
	sort.Float64s(sorted)
	s.P95Makespan = stat.Quantile(0.95, stat.Empirical, sorted, nil)

	for _, t := range m.tardiness {
		if t > s.MaxTardiness {
			s.MaxTardiness = t
		}
	}
	if m.MaxCompletionTime > 0 {
		s.WIP = float64(m.CompletedJobs) / m.MaxCompletionTime
	}
	return s
}

// Utilization returns per-machine busy share as a percentage of elapsed time.
func Utilization(machines []*Machine, elapsed float64) map[int]float64 {
	out := make(map[int]float64, len(machines))
	if elapsed <= 0 {
		return out
	}
	for _, m := range machines {
		out[m.ID] = m.TotalProcessingTime / elapsed * 100
	}
	return out
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(machines []*Machine, failures *FailureProcess, elapsed float64, started time.Time) {
	s := m.Summarize()
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Completed Jobs       : %d (excluded in warmup: %d, stalled: %d)\n",
		m.CompletedJobs, m.ExcludedJobs, m.StalledJobs)
	if s.Jobs > 0 {
		fmt.Printf("Average Makespan     : %.2f (std %.2f, p95 %.2f)\n", s.MeanMakespan, s.StdMakespan, s.P95Makespan)
		fmt.Printf("Average Tardiness    : %.2f (max %.2f)\n", s.MeanTardiness, s.MaxTardiness)
		fmt.Printf("Late Jobs            : %d\n", s.LateJobs)
		fmt.Printf("Avg WIP              : %.2f jobs\n", s.WIP)
	}
	util := Utilization(machines, elapsed)
	for _, mach := range machines {
		st := failures.Stats(mach.ID)
		fmt.Printf("Machine %2d           : util %6.2f%%, failures %2d, downtime %7.1f, availability %6.1f%%\n",
			mach.ID, util[mach.ID], st.NumFailures, st.TotalDowntime, st.Availability)
	}
	fmt.Printf("Wall-clock runtime   : %v\n", time.Since(started).Round(time.Millisecond))
}
