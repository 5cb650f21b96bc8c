package sim

import (
	"github.com/sirupsen/logrus"
)

// Decider answers the dispatch question for a machine about to go idle:
// should the currently-requesting job be the next one admitted, given the
// snapshot of candidates waiting for that machine?
//
// The snapshot lists all waiting jobs (including the requester) in enqueue
// order. An empty snapshot always allows.
type Decider interface {
	Allow(machineID, currentJobID int, queue []QueueEntry) bool
}

// LocalDecider applies a dispatch rule directly to the queue snapshot.
type LocalDecider struct {
	Rule Rule
}

// Allow grants the requester exactly when the rule ranks it first.
func (d *LocalDecider) Allow(_ int, currentJobID int, queue []QueueEntry) bool {
	if len(queue) == 0 {
		return true
	}
	top := RankQueue(d.Rule, queue)
	return queue[top].JobID == currentJobID
}

// DecisionResult is the external authority's answer to a decision request.
// Exactly one of Allow or SelectedJob is expected to be set; a response with
// neither is malformed and triggers local fallback.
type DecisionResult struct {
	Allow       *bool
	SelectedJob *int
}

// DecisionClient is the wire surface a delegated decider needs. Implemented
// by *negotiate.Client.
type DecisionClient interface {
	RequestDecision(machineID, currentJobID int, queue []QueueEntry) (DecisionResult, error)
}

// DelegatedDecider consults an external decision authority and falls back to
// a local rule when the channel times out, errors, or answers malformed.
// Fallback is deterministic: it selects exactly the job the fallback rule
// would pick from the same snapshot.
type DelegatedDecider struct {
	Client   DecisionClient
	Fallback Rule
}

// NewDelegatedDecider wires a delegated decider with the default SPT fallback
// when no rule is given.
func NewDelegatedDecider(client DecisionClient, fallback Rule) *DelegatedDecider {
	if fallback == "" {
		fallback = RuleSPT
	}
	return &DelegatedDecider{Client: client, Fallback: fallback}
}

// Allow asks the authority for a decision on the snapshot.
func (d *DelegatedDecider) Allow(machineID, currentJobID int, queue []QueueEntry) bool {
	if len(queue) == 0 {
		return true
	}
	res, err := d.Client.RequestDecision(machineID, currentJobID, queue)
	if err != nil {
		logrus.Warnf("decision request for machine %d failed, applying %s fallback: %v", machineID, d.Fallback, err)
		return d.fallback(currentJobID, queue)
	}
	switch {
	case res.Allow != nil:
		return *res.Allow
	case res.SelectedJob != nil:
		return *res.SelectedJob == currentJobID
	default:
		logrus.Warnf("decision response for machine %d names neither allow nor selected_job, applying %s fallback", machineID, d.Fallback)
		return d.fallback(currentJobID, queue)
	}
}

func (d *DelegatedDecider) fallback(currentJobID int, queue []QueueEntry) bool {
	top := RankQueue(d.Fallback, queue)
	return queue[top].JobID == currentJobID
}
