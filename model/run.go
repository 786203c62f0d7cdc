package model

import "time"

type RunState string

const RUN_QUEUED RunState = "queued"
const RUN_RUNNING RunState = "running"
const RUN_WAITING_PERMISSION RunState = "waiting_permission"
const RUN_WAITING_QUESTION RunState = "waiting_question"
const RUN_RETRYING RunState = "retrying"
const RUN_PAUSED RunState = "paused"
const RUN_RECOVERED RunState = "recovered"
const RUN_COMPLETED RunState = "completed"
const RUN_FAILED RunState = "failed"
const RUN_CANCELLED RunState = "cancelled"

func (s RunState) IsTerminal() bool {
	return s == RUN_COMPLETED || s == RUN_FAILED || s == RUN_CANCELLED
}

// InFlight reports whether a persisted run was still owned by an orchestrator
// when it was last written. Such runs must be reconciled after a restart.
func (s RunState) InFlight() bool {
	switch s {
	case RUN_QUEUED, RUN_RUNNING, RUN_RETRYING, RUN_WAITING_PERMISSION, RUN_WAITING_QUESTION:
		return true
	}
	return false
}

type RunRecord struct {
	RunId                  string         `json:"runId"`
	WorkflowName           string         `json:"workflowName"`
	WorkflowVersion        int            `json:"workflowVersion"`
	SessionId              string         `json:"sessionId,omitempty"`
	BranchId               string         `json:"branchId,omitempty"`
	State                  RunState       `json:"state"`
	CurrentNodeId          string         `json:"currentNodeId"`
	Attempts               map[string]int `json:"attempts,omitempty"`
	ResumeFromCheckpointId string         `json:"resumeFromCheckpointId,omitempty"`
	FailureReason          string         `json:"failureReason,omitempty"`
	CreatedAt              time.Time      `json:"createdAt"`
	UpdatedAt              time.Time      `json:"updatedAt"`
}

// RunCheckpoint is an append style snapshot of run progress. For a given run
// CheckpointIndex is strictly increasing and checkpoints are only removed by
// explicit run deletion.
type RunCheckpoint struct {
	Id              string         `json:"id"`
	RunId           string         `json:"runId"`
	SessionId       string         `json:"sessionId,omitempty"`
	BranchId        string         `json:"branchId,omitempty"`
	CheckpointIndex int            `json:"checkpointIndex"`
	Stage           string         `json:"stage"`
	State           map[string]any `json:"state,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

type EventType string

const EVENT_RUN_STARTED EventType = "run_started"
const EVENT_NODE_ENTERED EventType = "node_entered"
const EVENT_NODE_COMPLETED EventType = "node_completed"
const EVENT_RETRY_SCHEDULED EventType = "retry_scheduled"
const EVENT_DEAD_END_REACHED EventType = "dead_end_reached"
const EVENT_RUN_COMPLETED EventType = "run_completed"
const EVENT_RUN_FAILED EventType = "run_failed"
const EVENT_RUN_CANCELLED EventType = "run_cancelled"
const EVENT_RUN_PAUSED EventType = "run_paused"
const EVENT_RUN_RESUMED EventType = "run_resumed"
const EVENT_RUN_WAITING EventType = "run_waiting"
const EVENT_RUN_INTERRUPTED EventType = "run_interrupted"

// WorkflowEvent is an append only audit record. Events for a single run are
// retrievable in non decreasing timestamp order.
type WorkflowEvent struct {
	Id      string         `json:"id"`
	RunId   string         `json:"runId"`
	Ts      time.Time      `json:"ts"`
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}
