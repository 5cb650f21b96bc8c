package negotiate

import (
	"math"

	"github.com/jobshop-sim/jobshop-sim/sim"
)

// Request type tags. Dispatch-protocol requests carry them under "type",
// contract-net requests under "action"; the server keys on whichever is set.
const (
	typeDecide   = "decide"
	typeFeedback = "feedback"
	typeEvent    = "event"

	actionCreateOrderAgent = "create_order_agent"
	actionCNPNegotiation   = "cnp_negotiation"
	actionOperationStart   = "operation_start"
	actionOperationDone    = "operation_complete"
	actionOperationFailure = "operation_failure"
	actionMachineFailure   = "machine_failure"
	actionMachineRepair    = "machine_repair"
	actionMachineStatus    = "get_machine_status"
)

// Mirroring event types fed to the observer endpoint.
const (
	EventOrderArrived    = "ORDER_ARRIVED"
	EventMachineStarted  = "MACHINE_STARTED"
	EventMachineFinished = "MACHINE_FINISHED"
	EventMachineFailed   = "MACHINE_FAILED"
	EventMachineRepaired = "MACHINE_REPAIRED"
	EventJobCompleted    = "JOB_COMPLETED"
)

// queueJob is one dispatch candidate on the wire. A missing due date is sent
// as null, never as +Inf, which JSON cannot carry.
type queueJob struct {
	JobID     int      `json:"job_id"`
	NextOpDur float64  `json:"next_op_duration"`
	DueDate   *float64 `json:"due_date"`
}

func toQueueJobs(queue []sim.QueueEntry) []queueJob {
	out := make([]queueJob, len(queue))
	for i, e := range queue {
		out[i] = queueJob{JobID: e.JobID, NextOpDur: e.NextOpDuration}
		if !math.IsInf(e.DueDate, 1) {
			d := e.DueDate
			out[i].DueDate = &d
		}
	}
	return out
}

type decideRequest struct {
	Type       string     `json:"type"`
	MachineID  int        `json:"machine_id"`
	CurrentJob int        `json:"current_job"`
	Queue      []queueJob `json:"queue"`
}

// decideResponse carries exactly one of Allow or SelectedJob; both absent
// means the response is malformed and the caller falls back locally.
type decideResponse struct {
	Allow       *bool `json:"allow"`
	SelectedJob *int  `json:"selected_job"`
}

type feedbackRequest struct {
	Type        string     `json:"type"`
	MachineID   int        `json:"machine_id"`
	CurrentJob  int        `json:"current_job"`
	Queue       []queueJob `json:"queue"`
	Action      int        `json:"action"`
	Reward      float64    `json:"reward"`
	NextState   string     `json:"next_state,omitempty"`
	NextActions []int      `json:"next_actions,omitempty"`
}

type feedbackResponse struct {
	OK bool `json:"ok"`
}

type eventRequest struct {
	Type      string  `json:"type"`
	EventType string  `json:"event_type"`
	Time      float64 `json:"time"`
	JobID     *int    `json:"job_id,omitempty"`
	MachineID *int    `json:"machine_id,omitempty"`
	Info      string  `json:"info,omitempty"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r statusResponse) ok() bool { return r.Status == "success" || r.Status == "ok" }

type wireOperation struct {
	MachineType int     `json:"machine_type"`
	Duration    float64 `json:"duration"`
}

type createOrderRequest struct {
	Action      string          `json:"action"`
	JobID       int             `json:"job_id"`
	Operations  []wireOperation `json:"operations"`
	DueDate     float64         `json:"due_date"`
	CurrentTime float64         `json:"current_time"`
}

type createOrderResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	AgentID string `json:"agent_id"`
}

type negotiationRequest struct {
	Action            string  `json:"action"`
	JobID             int     `json:"job_id"`
	OperationIndex    int     `json:"operation_index"`
	CurrentTime       float64 `json:"current_time"`
	AvailableMachines []int   `json:"available_machines"`
	// FailedMachineID is only present on operation_failure renegotiations.
	FailedMachineID *int `json:"failed_machine_id,omitempty"`
}

type wireAssignment struct {
	MachineID     int     `json:"machine_id"`
	ExpectedStart float64 `json:"expected_start"`
	ExpectedEnd   float64 `json:"expected_end"`
}

type negotiationResponse struct {
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Assignment *wireAssignment `json:"assignment"`
}

type operationStartRequest struct {
	Action         string  `json:"action"`
	JobID          int     `json:"job_id"`
	OperationIndex int     `json:"operation_index"`
	MachineID      int     `json:"machine_id"`
	StartTime      float64 `json:"start_time"`
}

type operationCompleteRequest struct {
	Action          string  `json:"action"`
	JobID           int     `json:"job_id"`
	OperationIndex  int     `json:"operation_index"`
	MachineID       int     `json:"machine_id"`
	CompletionTime  float64 `json:"completion_time"`
	IsLastOperation bool    `json:"is_last_operation"`
}

type machineFailureRequest struct {
	Action         string  `json:"action"`
	MachineID      int     `json:"machine_id"`
	FailureTime    float64 `json:"failure_time"`
	RepairDuration float64 `json:"repair_duration"`
	AffectedJobID  *int    `json:"affected_job_id"`
}

type machineRepairRequest struct {
	Action     string  `json:"action"`
	MachineID  int     `json:"machine_id"`
	RepairTime float64 `json:"repair_time"`
}

type machineStatusRequest struct {
	Action    string `json:"action"`
	MachineID int    `json:"machine_id"`
}

type machineStatusResponse struct {
	Status        string `json:"status"`
	MachineStatus *struct {
		Available   bool `json:"available"`
		CurrentJob  int  `json:"current_job"`
		QueueLength int  `json:"queue_length"`
	} `json:"machine_status"`
}
