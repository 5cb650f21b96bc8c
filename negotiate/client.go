// Package negotiate speaks the external decision authority's wire protocol:
// JSON request/response pairs over one persistent ZeroMQ REQ socket. It
// implements the dispatch decision surface (decide, feedback, event
// mirroring) and the contract-net order lifecycle used by the resilient
// simulator variant.
package negotiate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/sirupsen/logrus"

	"github.com/jobshop-sim/jobshop-sim/sim"
)

// DefaultAddr is where the authority listens unless configured otherwise.
const DefaultAddr = "tcp://localhost:5555"

// DefaultTimeout bounds each request/response exchange in wall-clock time.
// The simulated clock does not advance while a call is in flight, so the
// bound only delays the calling job's logical progress.
const DefaultTimeout = 2 * time.Second

// socket is the subset of zmq4.Socket the client uses. Tests substitute a
// fake; production always wires a REQ socket.
type socket interface {
	Dial(addr string) error
	Send(msg zmq4.Msg) error
	Recv() (zmq4.Msg, error)
	Close() error
}

// Client owns the connection to the decision authority for one simulation
// run: opened lazily on first use, reset after any failed exchange (REQ/REP
// runs in lockstep and a half-finished exchange would desynchronize every
// call after it), closed at end of run. Not safe for concurrent use, which
// matches the single-timeline simulation core.
//
// Client implements sim.DecisionClient, sim.FeedbackSender and
// sim.CNPClient.
type Client struct {
	addr    string
	timeout time.Duration
	sock    socket

	newSocket func() socket
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the per-exchange wall-clock timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a client for the authority at addr. No connection is
// attempted until the first request.
func NewClient(addr string, opts ...Option) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	c := &Client{addr: addr, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}
	c.newSocket = func() socket {
		return zmq4.NewReq(context.Background(), zmq4.WithTimeout(c.timeout))
	}
	return c
}

// Close releases the connection. The client may be reused; the next request
// reconnects.
func (c *Client) Close() {
	c.reset()
}

func (c *Client) reset() {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
}

// roundTrip sends one JSON request and decodes the JSON response into out.
// The whole exchange (dial included) is bounded by c.timeout in wall-clock
// time; zmq4's own option does not cut off a Recv against a peer that
// accepted the connection but never answers, so the bound is enforced here.
// Any failure, timeout included, resets the socket so the next call starts
// from a clean REQ state.
func (c *Client) roundTrip(req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	sock := c.sock
	dial := sock == nil
	if dial {
		sock = c.newSocket()
	}

	done := make(chan exchangeResult, 1)
	go func() { done <- exchange(sock, c.addr, dial, payload) }()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		if res.err != nil {
			c.sock = nil
			_ = sock.Close()
			return res.err
		}
		c.sock = sock
		if err := json.Unmarshal(res.reply, out); err != nil {
			c.reset()
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	case <-timer.C:
		// Abandon the in-flight exchange; closing the socket unblocks it.
		c.sock = nil
		_ = sock.Close()
		return fmt.Errorf("no response from %s within %v", c.addr, c.timeout)
	}
}

type exchangeResult struct {
	reply []byte
	err   error
}

func exchange(sock socket, addr string, dial bool, payload []byte) exchangeResult {
	if dial {
		if err := sock.Dial(addr); err != nil {
			return exchangeResult{err: fmt.Errorf("dialing %s: %w", addr, err)}
		}
	}
	if err := sock.Send(zmq4.NewMsg(payload)); err != nil {
		return exchangeResult{err: fmt.Errorf("sending request: %w", err)}
	}
	reply, err := sock.Recv()
	if err != nil {
		return exchangeResult{err: fmt.Errorf("awaiting response: %w", err)}
	}
	return exchangeResult{reply: reply.Bytes()}
}

// RequestDecision asks the authority whether currentJobID may take the
// machine now, given the queue snapshot.
func (c *Client) RequestDecision(machineID, currentJobID int, queue []sim.QueueEntry) (sim.DecisionResult, error) {
	req := decideRequest{
		Type:       typeDecide,
		MachineID:  machineID,
		CurrentJob: currentJobID,
		Queue:      toQueueJobs(queue),
	}
	var resp decideResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return sim.DecisionResult{}, err
	}
	return sim.DecisionResult{Allow: resp.Allow, SelectedJob: resp.SelectedJob}, nil
}

// SendFeedback reports a dispatch outcome for training. Returns false on any
// failure; feedback is best-effort and the caller only logs the miss.
func (c *Client) SendFeedback(fb sim.Feedback) bool {
	req := feedbackRequest{
		Type:       typeFeedback,
		MachineID:  fb.MachineID,
		CurrentJob: fb.JobID,
		Queue:      toQueueJobs(fb.Queue),
		Action:     fb.Action,
		Reward:     fb.Reward,
	}
	var resp feedbackResponse
	if err := c.roundTrip(req, &resp); err != nil {
		logrus.Debugf("feedback send failed: %v", err)
		return false
	}
	return resp.OK
}

// NotifyEvent mirrors one simulation event to the observer feed,
// fire-and-forget.
func (c *Client) NotifyEvent(eventType string, t float64, jobID, machineID *int, info string) bool {
	req := eventRequest{
		Type:      typeEvent,
		EventType: eventType,
		Time:      t,
		JobID:     jobID,
		MachineID: machineID,
		Info:      info,
	}
	var resp statusResponse
	if err := c.roundTrip(req, &resp); err != nil {
		logrus.Debugf("event %s not mirrored: %v", eventType, err)
		return false
	}
	return resp.ok()
}

// CreateOrderAgent registers an arriving job with the contract-net
// authority and returns the order agent's id.
func (c *Client) CreateOrderAgent(job *sim.Job, now float64) (string, error) {
	ops := make([]wireOperation, len(job.Operations))
	for i, op := range job.Operations {
		ops[i] = wireOperation{MachineType: op.MachineType, Duration: op.Duration}
	}
	req := createOrderRequest{
		Action:      actionCreateOrderAgent,
		JobID:       job.ID,
		Operations:  ops,
		DueDate:     job.DueDate,
		CurrentTime: now,
	}
	var resp createOrderResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return "", err
	}
	if resp.Status != "success" {
		return "", fmt.Errorf("order agent rejected: %s", resp.Message)
	}
	return resp.AgentID, nil
}

// Negotiate runs a contract-net round for one operation among the candidate
// machines and returns the winning assignment.
func (c *Client) Negotiate(jobID, opIndex int, now float64, candidates []sim.MachineStatus) (sim.Assignment, error) {
	req := negotiationRequest{
		Action:            actionCNPNegotiation,
		JobID:             jobID,
		OperationIndex:    opIndex,
		CurrentTime:       now,
		AvailableMachines: machineIDs(candidates),
	}
	return c.negotiate(req)
}

// Renegotiate requests a fresh assignment after a mid-operation machine
// failure.
func (c *Client) Renegotiate(jobID, opIndex, failedMachineID int, now float64, candidates []sim.MachineStatus) (sim.Assignment, error) {
	req := negotiationRequest{
		Action:            actionOperationFailure,
		JobID:             jobID,
		OperationIndex:    opIndex,
		CurrentTime:       now,
		AvailableMachines: machineIDs(candidates),
		FailedMachineID:   &failedMachineID,
	}
	return c.negotiate(req)
}

func (c *Client) negotiate(req negotiationRequest) (sim.Assignment, error) {
	var resp negotiationResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return sim.Assignment{}, err
	}
	if resp.Status != "success" || resp.Assignment == nil {
		return sim.Assignment{}, fmt.Errorf("no assignment for job %d op %d: %s",
			req.JobID, req.OperationIndex, resp.Message)
	}
	return sim.Assignment{
		MachineID:     resp.Assignment.MachineID,
		ExpectedStart: resp.Assignment.ExpectedStart,
		ExpectedEnd:   resp.Assignment.ExpectedEnd,
	}, nil
}

// NotifyOperationStart tells the authority an operation began executing.
func (c *Client) NotifyOperationStart(jobID, opIndex, machineID int, now float64) {
	req := operationStartRequest{
		Action:         actionOperationStart,
		JobID:          jobID,
		OperationIndex: opIndex,
		MachineID:      machineID,
		StartTime:      now,
	}
	c.notify(req, "operation start")
}

// NotifyOperationComplete tells the authority an operation finished; isLast
// marks the job's final operation so the order agent can retire.
func (c *Client) NotifyOperationComplete(jobID, opIndex, machineID int, now float64, isLast bool) {
	req := operationCompleteRequest{
		Action:          actionOperationDone,
		JobID:           jobID,
		OperationIndex:  opIndex,
		MachineID:       machineID,
		CompletionTime:  now,
		IsLastOperation: isLast,
	}
	c.notify(req, "operation complete")
}

// NotifyMachineFailure reports a machine failure; affectedJob is the job
// interrupted mid-operation, or -1 when the machine was idle.
func (c *Client) NotifyMachineFailure(machineID int, failureTime, repairDuration float64, affectedJob int) {
	req := machineFailureRequest{
		Action:         actionMachineFailure,
		MachineID:      machineID,
		FailureTime:    failureTime,
		RepairDuration: repairDuration,
	}
	if affectedJob >= 0 {
		req.AffectedJobID = &affectedJob
	}
	c.notify(req, "machine failure")
}

// NotifyMachineRepair reports a machine back in service.
func (c *Client) NotifyMachineRepair(machineID int, repairTime float64) {
	req := machineRepairRequest{
		Action:     actionMachineRepair,
		MachineID:  machineID,
		RepairTime: repairTime,
	}
	c.notify(req, "machine repair")
}

// notify sends a lifecycle notification; failures are logged, never
// propagated.
func (c *Client) notify(req any, what string) {
	var resp statusResponse
	if err := c.roundTrip(req, &resp); err != nil {
		logrus.Debugf("%s notification failed: %v", what, err)
		return
	}
	if !resp.ok() {
		logrus.Debugf("%s notification refused: %s", what, resp.Message)
	}
}

// GetMachineStatus fetches the authority's view of one machine.
func (c *Client) GetMachineStatus(machineID int) (sim.MachineStatus, error) {
	req := machineStatusRequest{Action: actionMachineStatus, MachineID: machineID}
	var resp machineStatusResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return sim.MachineStatus{}, err
	}
	if resp.Status != "success" || resp.MachineStatus == nil {
		return sim.MachineStatus{}, fmt.Errorf("no status for machine %d", machineID)
	}
	return sim.MachineStatus{
		MachineID:  machineID,
		Available:  resp.MachineStatus.Available,
		CurrentJob: resp.MachineStatus.CurrentJob,
		QueueLen:   resp.MachineStatus.QueueLength,
	}, nil
}

func machineIDs(candidates []sim.MachineStatus) []int {
	ids := make([]int, len(candidates))
	for i, m := range candidates {
		ids[i] = m.MachineID
	}
	return ids
}
