package sim

import (
	"math"
	"testing"
)

// singleOpJobs builds the reference fixture: three single-operation jobs on
// machine 0 with durations 3, 1, 2.
func singleOpJobs() [][]Operation {
	return [][]Operation{
		{{MachineType: 0, Duration: 3}},
		{{MachineType: 0, Duration: 1}},
		{{MachineType: 0, Duration: 2}},
	}
}

func assertOrder(t *testing.T, got, want []int, rule Rule) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: got %d indices, want %d", rule, len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("%s: order %v, want %v", rule, got, want)
		}
	}
}

func TestSPT_OrdersByAscendingProcessingTime(t *testing.T) {
	// GIVEN jobs with durations 3, 1, 2
	jobs := singleOpJobs()

	// WHEN ranked by SPT
	got := SPT(jobs)

	// THEN the shortest job dispatches first
	assertOrder(t, got, []int{1, 2, 0}, RuleSPT)
}

func TestLPT_IsExactReverseOfSPT(t *testing.T) {
	jobs := singleOpJobs()

	got := LPT(jobs)

	assertOrder(t, got, []int{0, 2, 1}, RuleLPT)
}

func TestEDD_OrdersByAscendingDueDate(t *testing.T) {
	// GIVEN due dates 10, 5, 1 for the three jobs
	jobs := singleOpJobs()
	due := map[int]float64{0: 10, 1: 5, 2: 1}

	// WHEN ranked by EDD
	got := EDD(jobs, due)

	// THEN the most urgent job dispatches first
	assertOrder(t, got, []int{2, 1, 0}, RuleEDD)
}

func TestEDD_NoDueDates_PreservesOrder(t *testing.T) {
	jobs := singleOpJobs()

	got := EDD(jobs, nil)

	assertOrder(t, got, []int{0, 1, 2}, RuleEDD)
}

func TestEDD_MissingDueDate_SortsLast(t *testing.T) {
	// GIVEN a job with no due date entry
	jobs := singleOpJobs()
	due := map[int]float64{1: 5, 2: 1}

	got := EDD(jobs, due)

	// THEN it trails the dated jobs
	assertOrder(t, got, []int{2, 1, 0}, RuleEDD)
}

func TestApplyRule_Ties_GoToEarlierIndex(t *testing.T) {
	// GIVEN two jobs with identical ranking keys
	jobs := [][]Operation{
		{{MachineType: 0, Duration: 2}},
		{{MachineType: 1, Duration: 2}},
	}

	// WHEN ranked by SPT
	got, err := ApplyRule(RuleSPT, jobs, nil)
	if err != nil {
		t.Fatal(err)
	}

	// THEN the earlier-listed job wins the tie
	assertOrder(t, got, []int{0, 1}, RuleSPT)
}

func TestApplyRule_UnknownRule_Errors(t *testing.T) {
	_, err := ApplyRule(Rule("FIFO"), singleOpJobs(), nil)
	if err == nil {
		t.Error("unknown rule accepted")
	}
}

func TestParseRule_CaseInsensitive(t *testing.T) {
	for _, name := range []string{"spt", "SPT", "Spt"} {
		got, err := ParseRule(name)
		if err != nil {
			t.Errorf("ParseRule(%q): %v", name, err)
		}
		if got != RuleSPT {
			t.Errorf("ParseRule(%q) = %q, want SPT", name, got)
		}
	}
}

func TestParseRule_Unknown_Errors(t *testing.T) {
	if _, err := ParseRule("RANDOM"); err == nil {
		t.Error("ParseRule accepted unknown rule")
	}
}

func TestRankQueue_SPT_PicksShortestNextOperation(t *testing.T) {
	// GIVEN a snapshot in enqueue order
	queue := []QueueEntry{
		{JobID: 7, NextOpDuration: 4, DueDate: 20},
		{JobID: 8, NextOpDuration: 1, DueDate: 30},
		{JobID: 9, NextOpDuration: 2, DueDate: 10},
	}

	if got := RankQueue(RuleSPT, queue); got != 1 {
		t.Errorf("SPT picked index %d, want 1", got)
	}
	if got := RankQueue(RuleLPT, queue); got != 0 {
		t.Errorf("LPT picked index %d, want 0", got)
	}
	if got := RankQueue(RuleEDD, queue); got != 2 {
		t.Errorf("EDD picked index %d, want 2", got)
	}
}

func TestRankQueue_EDD_InfiniteDueDate_NeverWins(t *testing.T) {
	queue := []QueueEntry{
		{JobID: 1, NextOpDuration: 1, DueDate: math.Inf(1)},
		{JobID: 2, NextOpDuration: 9, DueDate: 50},
	}

	if got := RankQueue(RuleEDD, queue); got != 1 {
		t.Errorf("EDD picked index %d, want 1", got)
	}
}

func TestRankQueue_Empty_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("RankQueue on empty snapshot did not panic")
		}
	}()
	RankQueue(RuleSPT, nil)
}
