// Package report writes the per-run CSV exports: the event log, the
// completed-job records and the failure history. Output is deterministic by
// construction (rows in record order, shortest round-trip float formatting),
// so exporting the same state twice yields byte-identical files.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/jobshop-sim/jobshop-sim/sim"
)

var eventHeader = []string{"time", "event_type", "job_id", "machine_id", "duration", "queue_length", "additional_info"}

// WriteEvents writes the event log. Unset fields (the -1 sentinels) become
// empty cells.
func WriteEvents(w io.Writer, events []sim.SimulationEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(eventHeader); err != nil {
		return err
	}
	for _, ev := range events {
		row := []string{
			formatFloat(ev.Time),
			string(ev.Type),
			formatID(ev.JobID),
			formatID(ev.MachineID),
			"",
			"",
			ev.Info,
		}
		if ev.Duration >= 0 {
			row[4] = formatFloat(ev.Duration)
		}
		if ev.QueueLength >= 0 {
			row[5] = strconv.Itoa(ev.QueueLength)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var jobHeader = []string{"job_id", "arrival_time", "completion_time", "makespan", "due_date", "tardiness"}

// WriteJobs writes the completed-job records in completion order.
func WriteJobs(w io.Writer, jobs []sim.CompletedJobRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(jobHeader); err != nil {
		return err
	}
	for _, j := range jobs {
		row := []string{
			strconv.Itoa(j.JobID),
			formatFloat(j.ArrivalTime),
			formatFloat(j.CompletionTime),
			formatFloat(j.Makespan),
			formatFloat(j.DueDate),
			formatFloat(j.Tardiness),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var failureHeader = []string{"machine_id", "failure_time", "repair_start_time", "repair_duration", "repair_end_time", "downtime"}

// WriteFailures writes the failure history in completion order.
func WriteFailures(w io.Writer, history []sim.FailureEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(failureHeader); err != nil {
		return err
	}
	for _, ev := range history {
		row := []string{
			strconv.Itoa(ev.MachineID),
			formatFloat(ev.FailureTime),
			formatFloat(ev.RepairStartTime),
			formatFloat(ev.RepairDuration),
			formatFloat(ev.RepairEndTime),
			formatFloat(ev.Downtime),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportRun writes the three per-run CSV files under dir, creating it if
// needed.
func ExportRun(dir string, events []sim.SimulationEvent, jobs []sim.CompletedJobRecord, history []sim.FailureEvent) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"simulation_log.csv", func(w io.Writer) error { return WriteEvents(w, events) }},
		{"completed_jobs.csv", func(w io.Writer) error { return WriteJobs(w, jobs) }},
		{"machine_failures.csv", func(w io.Writer) error { return WriteFailures(w, history) }},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		if err := f.write(out); err != nil {
			out.Close()
			return fmt.Errorf("writing %s: %w", path, err)
		}
		if err := out.Close(); err != nil {
			return err
		}
		logrus.Infof("wrote %s", path)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatID(id int) string {
	if id < 0 {
		return ""
	}
	return strconv.Itoa(id)
}
