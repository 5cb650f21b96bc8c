package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jobshop-sim/jobshop-sim/negotiate"
	"github.com/jobshop-sim/jobshop-sim/report"
	"github.com/jobshop-sim/jobshop-sim/sim"
)

var (
	// Run-level flags
	seed     int64   // Seed for random arrival/failure generation
	horizon  float64 // Total simulated time
	warmup   float64 // Initial interval excluded from steady-state metrics
	logLevel string  // Log verbosity level
	output   string  // Directory for the per-run CSV exports

	// Scenario presets
	scenarioFile string // Path to a YAML scenario file
	scenarioName string // Name of the preset to load from it

	// Shop configuration
	numMachines       int     // Number of machine types
	arrivalRate       float64 // Job arrivals per time unit
	minOperations     int     // Min operations per job
	maxOperations     int     // Max operations per job
	minDuration       float64 // Min operation duration
	maxDuration       float64 // Max operation duration
	dueDateMultiplier float64 // Due date = arrival + total processing x multiplier
	reliability       string  // Machine reliability preset (high, medium, low)
	mtbf              float64 // Mean time between failures (overrides preset)
	mttr              float64 // Mean time to repair (overrides preset)

	// Dispatch configuration
	rule         string  // Scheduling rule (SPT, EDD, LPT)
	delegateAddr string  // ZeroMQ address of the external decision authority ("" = local)
	timeoutSecs  float64 // Wall-clock timeout per external call, in seconds
	training     bool    // Send learning feedback after each operation
	mirror       bool    // Mirror simulation events to the authority's observer feed
	retryBackoff float64 // Simulated wait after a denied dispatch request

	// Contract-net configuration
	machinesPerType int     // Redundant machines per type
	maxRetries      int     // Assignment attempts per operation before stalling the job
	retryInterval   float64 // Simulated wait between assignment attempts
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "jobshop-sim",
	Short: "Discrete-event simulator for dynamic job-shop scheduling",
}

// runCmd executes the dynamic-shop simulation: Poisson arrivals, machine
// failures, and rule-based or delegated dispatch.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dynamic job-shop simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg := buildConfig(cmd)
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}
		parsedRule, err := sim.ParseRule(rule)
		if err != nil {
			logrus.Fatalf("Invalid scheduling rule: %v", err)
		}

		var client *negotiate.Client
		var decider sim.Decider = &sim.LocalDecider{Rule: parsedRule}
		if delegateAddr != "" {
			client = negotiate.NewClient(delegateAddr,
				negotiate.WithTimeout(time.Duration(timeoutSecs*float64(time.Second))))
			defer client.Close()
			decider = sim.NewDelegatedDecider(client, parsedRule)
		}

		startTime := time.Now()
		s := sim.NewSimulator(cfg, decider)
		if client != nil {
			if training {
				s.Feedback = client
			}
			if mirror {
				negotiate.AttachMirror(s.Bus, client)
			}
		}
		s.Run()
		s.Metrics.Print(s.Machines, s.Failures, s.Clock.Now(), startTime)

		if err := report.ExportRun(output, s.Log.Events(), s.Completed(), s.Failures.History()); err != nil {
			logrus.Fatalf("Export failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// cnpCmd executes the resilient variant: negotiated machine assignment with
// renegotiation after mid-operation failures.
var cnpCmd = &cobra.Command{
	Use:   "cnp",
	Short: "Run the contract-net job-shop simulation",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg := sim.CNPConfig{
			Config:          buildConfig(cmd),
			MachinesPerType: machinesPerType,
			MaxRetries:      maxRetries,
			RetryInterval:   retryInterval,
		}
		if err := cfg.Validate(); err != nil {
			logrus.Fatalf("Invalid configuration: %v", err)
		}

		var client *negotiate.Client
		if delegateAddr != "" {
			client = negotiate.NewClient(delegateAddr,
				negotiate.WithTimeout(time.Duration(timeoutSecs*float64(time.Second))))
			defer client.Close()
		}

		startTime := time.Now()
		var s *sim.CNPSimulator
		if client != nil {
			s = sim.NewCNPSimulator(cfg, client)
			if mirror {
				negotiate.AttachMirror(s.Bus, client)
			}
		} else {
			s = sim.NewCNPSimulator(cfg, nil)
		}
		s.Run()
		s.Metrics.Print(s.Machines, s.Failures, s.Clock.Now(), startTime)

		if err := report.ExportRun(output, s.Log.Events(), s.Completed(), s.Failures.History()); err != nil {
			logrus.Fatalf("Export failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// buildConfig assembles the run configuration from the scenario preset (if
// any) and the CLI flags. Flags the user explicitly set win over the preset;
// everything else comes from the preset.
func buildConfig(cmd *cobra.Command) sim.Config {
	cfg := sim.Config{
		Seed:    seed,
		Horizon: horizon,
		Warmup:  warmup,
		JobGen: sim.JobGenConfig{
			ArrivalRate:       arrivalRate,
			NumMachines:       numMachines,
			MinOperations:     minOperations,
			MaxOperations:     maxOperations,
			MinDuration:       minDuration,
			MaxDuration:       maxDuration,
			DueDateMultiplier: dueDateMultiplier,
		},
		Reliability:  reliabilityProfile(),
		RetryBackoff: retryBackoff,
		Training:     training,
	}
	if scenarioFile == "" {
		return cfg
	}

	preset, ok := GetScenario(scenarioFile, scenarioName)
	if !ok {
		logrus.Fatalf("Scenario %q not found in %s", scenarioName, scenarioFile)
	}
	logrus.Infof("Using scenario preset %q", scenarioName)

	f := cmd.Flags()
	if f.Changed("seed") {
		preset.Seed = seed
	}
	if f.Changed("horizon") {
		preset.Horizon = horizon
	}
	if f.Changed("warmup") {
		preset.Warmup = warmup
	}
	if f.Changed("rate") {
		preset.JobGen.ArrivalRate = arrivalRate
	}
	if f.Changed("machines") {
		preset.JobGen.NumMachines = numMachines
	}
	if f.Changed("min-operations") {
		preset.JobGen.MinOperations = minOperations
	}
	if f.Changed("max-operations") {
		preset.JobGen.MaxOperations = maxOperations
	}
	if f.Changed("min-duration") {
		preset.JobGen.MinDuration = minDuration
	}
	if f.Changed("max-duration") {
		preset.JobGen.MaxDuration = maxDuration
	}
	if f.Changed("due-date-multiplier") {
		preset.JobGen.DueDateMultiplier = dueDateMultiplier
	}
	if f.Changed("reliability") || f.Changed("mtbf") || f.Changed("mttr") {
		preset.Reliability = reliabilityProfile()
	}
	if f.Changed("retry-backoff") {
		preset.RetryBackoff = retryBackoff
	}
	if f.Changed("training") {
		preset.Training = training
	}
	return preset
}

// reliabilityProfile resolves the preset name, with explicit mtbf/mttr flags
// taking precedence.
func reliabilityProfile() sim.ReliabilityProfile {
	var profile sim.ReliabilityProfile
	switch reliability {
	case "high":
		profile = sim.HighReliability
	case "medium":
		profile = sim.MediumReliability
	case "low":
		profile = sim.LowReliability
	default:
		logrus.Fatalf("Unknown reliability preset %q (want high, medium or low)", reliability)
	}
	if mtbf > 0 {
		profile.MTBF = mtbf
	}
	if mttr > 0 {
		profile.MTTR = mttr
	}
	return profile
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, cnpCmd} {
		c.Flags().Int64Var(&seed, "seed", 42, "Seed for random arrival and failure generation")
		c.Flags().Float64Var(&horizon, "horizon", 200, "Total simulated time")
		c.Flags().Float64Var(&warmup, "warmup", 0, "Initial interval excluded from metrics")
		c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().StringVar(&output, "output", "results", "Directory for CSV exports")

		c.Flags().StringVar(&scenarioFile, "scenario-file", "", "YAML scenario file")
		c.Flags().StringVar(&scenarioName, "scenario", "", "Scenario preset to load")

		c.Flags().IntVar(&numMachines, "machines", 3, "Number of machine types")
		c.Flags().Float64Var(&arrivalRate, "rate", 0.3, "Job arrivals per time unit")
		c.Flags().IntVar(&minOperations, "min-operations", 1, "Min operations per job")
		c.Flags().IntVar(&maxOperations, "max-operations", 3, "Max operations per job")
		c.Flags().Float64Var(&minDuration, "min-duration", 2, "Min operation duration")
		c.Flags().Float64Var(&maxDuration, "max-duration", 8, "Max operation duration")
		c.Flags().Float64Var(&dueDateMultiplier, "due-date-multiplier", 2.5, "Due date slack multiplier")
		c.Flags().StringVar(&reliability, "reliability", "medium", "Machine reliability preset (high, medium, low)")
		c.Flags().Float64Var(&mtbf, "mtbf", 0, "Mean time between failures (overrides preset)")
		c.Flags().Float64Var(&mttr, "mttr", 0, "Mean time to repair (overrides preset)")

		c.Flags().StringVar(&delegateAddr, "delegate", "", "ZeroMQ address of the decision authority (empty = local rules)")
		c.Flags().Float64Var(&timeoutSecs, "timeout", 2.0, "Wall-clock timeout per external call, seconds")
		c.Flags().BoolVar(&mirror, "mirror", false, "Mirror simulation events to the authority")
		c.Flags().Float64Var(&retryBackoff, "retry-backoff", 0.1, "Simulated wait after a denied dispatch request")
	}

	runCmd.Flags().StringVar(&rule, "rule", "SPT", "Scheduling rule (SPT, EDD, LPT)")
	runCmd.Flags().BoolVar(&training, "training", false, "Send learning feedback after each operation")

	cnpCmd.Flags().IntVar(&machinesPerType, "machines-per-type", 2, "Redundant machines per type")
	cnpCmd.Flags().IntVar(&maxRetries, "max-retries", 5, "Assignment attempts per operation before the job stalls")
	cnpCmd.Flags().Float64Var(&retryInterval, "retry-interval", 1.0, "Simulated wait between assignment attempts")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cnpCmd)
}
