// Dispatch rules for ordering jobs: SPT, EDD, LPT.
// All ranking is a pure function of its inputs and uses stable sorts, so two
// identical calls always return identical orderings and ties go to the
// earlier-enqueued job.

package sim

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Rule names a dispatch heuristic.
type Rule string

const (
	// RuleSPT ranks jobs by ascending total processing time.
	RuleSPT Rule = "SPT"
	// RuleEDD ranks jobs by ascending due date; jobs without a due date
	// sort last.
	RuleEDD Rule = "EDD"
	// RuleLPT ranks jobs by descending total processing time.
	RuleLPT Rule = "LPT"
)

// ParseRule resolves a rule name case-insensitively.
func ParseRule(name string) (Rule, error) {
	switch Rule(strings.ToUpper(name)) {
	case RuleSPT:
		return RuleSPT, nil
	case RuleEDD:
		return RuleEDD, nil
	case RuleLPT:
		return RuleLPT, nil
	default:
		return "", fmt.Errorf("unknown scheduling rule %q (use SPT, EDD or LPT)", name)
	}
}

// TotalProcessingTime sums the durations of a job's operations.
func TotalProcessingTime(ops []Operation) float64 {
	var total float64
	for _, op := range ops {
		total += op.Duration
	}
	return total
}

// ApplyRule ranks whole jobs and returns their indices in dispatch order.
// dueDates maps job index to due date and is only consulted by EDD; a nil or
// empty map under EDD preserves the original order.
func ApplyRule(rule Rule, jobsData [][]Operation, dueDates map[int]float64) ([]int, error) {
	switch rule {
	case RuleSPT:
		return SPT(jobsData), nil
	case RuleEDD:
		return EDD(jobsData, dueDates), nil
	case RuleLPT:
		return LPT(jobsData), nil
	default:
		return nil, fmt.Errorf("unknown scheduling rule %q", rule)
	}
}

// SPT orders job indices by ascending total processing time.
func SPT(jobsData [][]Operation) []int {
	return sortIndices(jobsData, func(i, j int) bool {
		return TotalProcessingTime(jobsData[i]) < TotalProcessingTime(jobsData[j])
	})
}

// LPT orders job indices by descending total processing time.
func LPT(jobsData [][]Operation) []int {
	return sortIndices(jobsData, func(i, j int) bool {
		return TotalProcessingTime(jobsData[i]) > TotalProcessingTime(jobsData[j])
	})
}

// EDD orders job indices by ascending due date. Indices missing from dueDates
// are treated as infinitely far away and sort last.
func EDD(jobsData [][]Operation, dueDates map[int]float64) []int {
	if len(dueDates) == 0 {
		indices := make([]int, len(jobsData))
		for i := range indices {
			indices[i] = i
		}
		return indices
	}
	due := func(i int) float64 {
		if d, ok := dueDates[i]; ok {
			return d
		}
		return math.Inf(1)
	}
	return sortIndices(jobsData, func(i, j int) bool {
		return due(i) < due(j)
	})
}

func sortIndices(jobsData [][]Operation, less func(i, j int) bool) []int {
	indices := make([]int, len(jobsData))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return less(indices[a], indices[b])
	})
	return indices
}

// QueueEntry is one candidate in a machine's dispatch snapshot: the job, the
// duration of its next operation, and its due date. Entries appear in enqueue
// order, which the stable ranking preserves for ties. A missing due date is
// represented as +Inf.
type QueueEntry struct {
	JobID          int
	NextOpDuration float64
	DueDate        float64
}

// RankQueue returns the snapshot index of the top-ranked candidate under the
// given rule. The snapshot must be non-empty.
func RankQueue(rule Rule, queue []QueueEntry) int {
	if len(queue) == 0 {
		panic("RankQueue: empty queue snapshot")
	}
	indices := make([]int, len(queue))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		i, j := indices[a], indices[b]
		switch rule {
		case RuleEDD:
			return queue[i].DueDate < queue[j].DueDate
		case RuleLPT:
			return queue[i].NextOpDuration > queue[j].NextOpDuration
		default: // RuleSPT
			return queue[i].NextOpDuration < queue[j].NextOpDuration
		}
	})
	return indices[0]
}
