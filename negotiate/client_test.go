package negotiate

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobshop-sim/jobshop-sim/sim"
)

// fakeSocket scripts the authority's side of the REQ/REP exchange.
type fakeSocket struct {
	dialed  string
	sent    [][]byte
	replies [][]byte
	sendErr error
	recvErr error
	closed  bool
}

func (f *fakeSocket) Dial(addr string) error { f.dialed = addr; return nil }

func (f *fakeSocket) Send(msg zmq4.Msg) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg.Bytes())
	return nil
}

func (f *fakeSocket) Recv() (zmq4.Msg, error) {
	if f.recvErr != nil {
		return zmq4.Msg{}, f.recvErr
	}
	if len(f.replies) == 0 {
		return zmq4.Msg{}, errors.New("no scripted reply")
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	return zmq4.NewMsg(reply), nil
}

func (f *fakeSocket) Close() error { f.closed = true; return nil }

// newFakeClient wires a client whose connections all land on the returned
// fake socket factory.
func newFakeClient(replies ...string) (*Client, *fakeSocket) {
	fake := &fakeSocket{}
	for _, r := range replies {
		fake.replies = append(fake.replies, []byte(r))
	}
	c := NewClient("tcp://testhost:5555")
	c.newSocket = func() socket { return fake }
	return c, fake
}

func TestRequestDecision_EncodesSnapshotAndDecodesAllow(t *testing.T) {
	// GIVEN an authority answering {"allow": true}
	c, fake := newFakeClient(`{"allow": true}`)
	queue := []sim.QueueEntry{
		{JobID: 3, NextOpDuration: 2.5, DueDate: 40},
		{JobID: 4, NextOpDuration: 1, DueDate: math.Inf(1)},
	}

	// WHEN a decision is requested
	res, err := c.RequestDecision(1, 3, queue)
	require.NoError(t, err)

	// THEN the response maps onto the result
	require.NotNil(t, res.Allow)
	assert.True(t, *res.Allow)
	assert.Nil(t, res.SelectedJob)

	// AND the request carried the protocol fields
	require.Len(t, fake.sent, 1)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Equal(t, "decide", sent["type"])
	assert.Equal(t, float64(1), sent["machine_id"])
	assert.Equal(t, float64(3), sent["current_job"])

	sentQueue := sent["queue"].([]any)
	require.Len(t, sentQueue, 2)
	first := sentQueue[0].(map[string]any)
	assert.Equal(t, float64(3), first["job_id"])
	assert.Equal(t, 2.5, first["next_op_duration"])
	assert.Equal(t, float64(40), first["due_date"])
	// A missing due date crosses the wire as null, never as +Inf.
	second := sentQueue[1].(map[string]any)
	assert.Nil(t, second["due_date"])

	assert.Equal(t, "tcp://testhost:5555", fake.dialed)
}

func TestRequestDecision_SelectedJobResponse(t *testing.T) {
	c, _ := newFakeClient(`{"selected_job": 9}`)

	res, err := c.RequestDecision(0, 9, []sim.QueueEntry{{JobID: 9, NextOpDuration: 1, DueDate: 5}})
	require.NoError(t, err)

	assert.Nil(t, res.Allow)
	require.NotNil(t, res.SelectedJob)
	assert.Equal(t, 9, *res.SelectedJob)
}

func TestRoundTrip_RecvError_ResetsConnection(t *testing.T) {
	// GIVEN a socket that fails mid-exchange
	c, fake := newFakeClient()
	fake.recvErr = errors.New("timeout")

	// WHEN an exchange fails
	_, err := c.RequestDecision(0, 1, nil)
	require.Error(t, err)

	// THEN the socket is closed so the next call starts a fresh REQ cycle
	assert.True(t, fake.closed, "failed exchange must reset the socket")
	assert.Nil(t, c.sock)

	// AND a later call reconnects and succeeds
	fake.recvErr = nil
	fake.replies = [][]byte{[]byte(`{"allow": false}`)}
	res, err := c.RequestDecision(0, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Allow)
	assert.False(t, *res.Allow)
}

// silentSocket accepts the request and then never answers, like an authority
// that took the connection but hangs before replying. Recv blocks until the
// socket is closed.
type silentSocket struct {
	once   sync.Once
	closed chan struct{}
}

func newSilentSocket() *silentSocket { return &silentSocket{closed: make(chan struct{})} }

func (s *silentSocket) Dial(addr string) error  { return nil }
func (s *silentSocket) Send(msg zmq4.Msg) error { return nil }

func (s *silentSocket) Recv() (zmq4.Msg, error) {
	<-s.closed
	return zmq4.Msg{}, errors.New("socket closed")
}

func (s *silentSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestRoundTrip_SilentAuthority_TimesOutAndResets(t *testing.T) {
	// GIVEN an authority that never replies
	c := NewClient("tcp://testhost:5555", WithTimeout(50*time.Millisecond))
	c.newSocket = func() socket { return newSilentSocket() }

	// WHEN a decision is requested
	start := time.Now()
	_, err := c.RequestDecision(0, 1, nil)
	elapsed := time.Since(start)

	// THEN the call errors out at the configured wall-clock bound instead of
	// hanging, and the socket is reset
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no response")
	assert.Less(t, elapsed, 5*time.Second, "timeout not enforced")
	assert.Nil(t, c.sock)

	// AND the next call dials fresh and succeeds
	fresh := &fakeSocket{replies: [][]byte{[]byte(`{"allow": true}`)}}
	c.newSocket = func() socket { return fresh }
	res, err := c.RequestDecision(0, 1, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Allow)
	assert.True(t, *res.Allow)
}

func TestRoundTrip_MalformedJSON_ErrorsAndResets(t *testing.T) {
	c, fake := newFakeClient(`{truncated`)

	_, err := c.RequestDecision(0, 1, nil)

	require.Error(t, err)
	assert.True(t, fake.closed)
}

func TestSendFeedback_OKResponse(t *testing.T) {
	c, fake := newFakeClient(`{"ok": true}`)

	ok := c.SendFeedback(sim.Feedback{MachineID: 2, JobID: 5, Action: 1, Reward: -3.5})

	assert.True(t, ok)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Equal(t, "feedback", sent["type"])
	assert.Equal(t, float64(1), sent["action"])
	assert.Equal(t, -3.5, sent["reward"])
}

func TestSendFeedback_Failure_ReturnsFalse(t *testing.T) {
	c, fake := newFakeClient()
	fake.sendErr = errors.New("connection refused")

	assert.False(t, c.SendFeedback(sim.Feedback{MachineID: 0, JobID: 1}))
}

func TestNegotiate_SuccessfulAssignment(t *testing.T) {
	c, fake := newFakeClient(`{"status": "success", "assignment": {"machine_id": 4, "expected_start": 10.5, "expected_end": 14}}`)

	asg, err := c.Negotiate(2, 0, 10.5, []sim.MachineStatus{{MachineID: 3}, {MachineID: 4}})
	require.NoError(t, err)

	assert.Equal(t, 4, asg.MachineID)
	assert.Equal(t, 10.5, asg.ExpectedStart)
	assert.Equal(t, 14.0, asg.ExpectedEnd)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Equal(t, "cnp_negotiation", sent["action"])
	assert.Equal(t, []any{float64(3), float64(4)}, sent["available_machines"])
	_, hasFailed := sent["failed_machine_id"]
	assert.False(t, hasFailed, "initial negotiation must not carry failed_machine_id")
}

func TestNegotiate_NoAssignment_Errors(t *testing.T) {
	c, _ := newFakeClient(`{"status": "error", "message": "no proposals"}`)

	_, err := c.Negotiate(2, 0, 1, []sim.MachineStatus{{MachineID: 0}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no proposals")
}

func TestRenegotiate_CarriesFailedMachine(t *testing.T) {
	c, fake := newFakeClient(`{"status": "success", "assignment": {"machine_id": 1}}`)

	asg, err := c.Renegotiate(7, 2, 0, 33, []sim.MachineStatus{{MachineID: 1}})
	require.NoError(t, err)
	assert.Equal(t, 1, asg.MachineID)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Equal(t, "operation_failure", sent["action"])
	assert.Equal(t, float64(0), sent["failed_machine_id"])
	assert.Equal(t, float64(7), sent["job_id"])
	assert.Equal(t, float64(2), sent["operation_index"])
}

func TestCreateOrderAgent_SendsOperationsAndParsesAgentID(t *testing.T) {
	c, fake := newFakeClient(`{"status": "success", "agent_id": "order-7"}`)
	job := &sim.Job{
		ID:          7,
		Operations:  []sim.Operation{{MachineType: 0, Duration: 3}, {MachineType: 2, Duration: 1.5}},
		DueDate:     25,
		ArrivalTime: 4,
	}

	agentID, err := c.CreateOrderAgent(job, 4)
	require.NoError(t, err)
	assert.Equal(t, "order-7", agentID)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Equal(t, "create_order_agent", sent["action"])
	assert.Equal(t, float64(25), sent["due_date"])
	ops := sent["operations"].([]any)
	require.Len(t, ops, 2)
	assert.Equal(t, float64(2), ops[1].(map[string]any)["machine_type"])
}

func TestNotifyOperationComplete_CarriesIsLast(t *testing.T) {
	c, fake := newFakeClient(`{"status": "success"}`)

	c.NotifyOperationComplete(3, 1, 0, 17.25, true)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Equal(t, "operation_complete", sent["action"])
	assert.Equal(t, true, sent["is_last_operation"])
	assert.Equal(t, 17.25, sent["completion_time"])
}

func TestNotifyMachineFailure_IdleMachine_NullAffectedJob(t *testing.T) {
	c, fake := newFakeClient(`{"status": "success"}`)

	c.NotifyMachineFailure(2, 40, 3, -1)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(fake.sent[0], &sent))
	assert.Nil(t, sent["affected_job_id"], "idle machine failure must send null affected job")
}

func TestClose_ReleasesSocket(t *testing.T) {
	c, fake := newFakeClient(`{"ok": true}`)
	c.SendFeedback(sim.Feedback{})

	c.Close()

	assert.True(t, fake.closed)
	assert.Nil(t, c.sock)
}
