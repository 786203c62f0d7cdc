package persistence

import (
	"fmt"
	"time"

	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/trigger"
)

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Id)
}

type RunDao interface {
	SaveRun(run *model.RunRecord) error
	GetRun(runId string) (*model.RunRecord, error)
	// ListRuns returns every persisted run record. Rows that fail to decode
	// are skipped and logged, never returned as an error: the startup
	// reconciliation pass must be total over whatever rows exist.
	ListRuns() ([]*model.RunRecord, error)
	DeleteRun(runId string) error
}

type CheckpointDao interface {
	// UpsertCheckpoint is idempotent by checkpoint id. Maintaining a strictly
	// increasing CheckpointIndex per run is the caller's responsibility.
	UpsertCheckpoint(checkpoint *model.RunCheckpoint) error
	LatestForRun(runId string) (*model.RunCheckpoint, error)
	ListForRun(runId string, sinceIndex int) ([]*model.RunCheckpoint, error)
	DeleteForRun(runId string) error
}

type EventDao interface {
	AppendEvent(event *model.WorkflowEvent) error
	// ListEvents returns events for the run in non decreasing timestamp
	// order. The zero time means no lower bound.
	ListEvents(runId string, since time.Time) ([]*model.WorkflowEvent, error)
	DeleteForRun(runId string) error
}

type MetadataStorage interface {
	SaveWorkflowDefinition(wf model.WorkflowDefinition) error
	GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error)
	DeleteWorkflowDefinition(name string) error
	SaveTriggerCandidates(workflowId string, candidates []trigger.Candidate) error
	ListTriggerCandidates() ([]trigger.Candidate, error)
	DeleteTriggerCandidates(workflowId string) error
}
