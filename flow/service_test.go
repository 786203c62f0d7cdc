package flow

import (
	"sync"
	"testing"
	"time"

	"github.com/flowmason/flowmason/metadata"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/persistence/inmem"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, executor StepExecutor) (*ExecutionService, *metadata.Service, *inmem.Storage) {
	deps, store := newTestDeps(t, executor)
	metadataService := metadata.NewService(store)
	wg := &sync.WaitGroup{}
	service := NewExecutionService(metadataService, deps, 0.6, 10, wg)
	service.Start()
	t.Cleanup(func() {
		_ = service.Stop()
		wg.Wait()
	})
	return service, metadataService, store
}

func publishWorkflow(t *testing.T, metadataService *metadata.Service, def *model.WorkflowDefinition) {
	report, err := metadataService.Publish(*def)
	require.NoError(t, err)
	require.True(t, report.Valid())
}

func triggeredWorkflow(name string, phrases ...string) *model.WorkflowDefinition {
	def := linearWorkflow(nil)
	def.Name = name
	def.Triggers = []model.Trigger{
		{Id: "t1", Type: model.TRIGGER_TYPE_CHAT, Phrases: phrases, Enabled: true},
	}
	return def
}

func waitForRunState(t *testing.T, service *ExecutionService, runId string, want model.RunState) {
	require.Eventually(t, func() bool {
		run, err := service.GetRun(runId)
		return err == nil && run.State == want
	}, 3*time.Second, 5*time.Millisecond)
}

func TestStartRunDrivesWorkflowToCompletion(t *testing.T) {
	service, metadataService, store := newTestService(t, &scriptedExecutor{})
	publishWorkflow(t, metadataService, linearWorkflow(nil))

	runId, err := service.StartRun("linear", "session-1", map[string]any{"x": 1})
	require.NoError(t, err)
	waitForRunState(t, service, runId, model.RUN_COMPLETED)

	require.Contains(t, eventTypes(t, store, runId), model.EVENT_RUN_STARTED)
	checkpoints, err := service.ListCheckpoints(runId, -1)
	require.NoError(t, err)
	require.NotEmpty(t, checkpoints)
}

func TestStartRunUnknownWorkflow(t *testing.T) {
	service, _, _ := newTestService(t, &scriptedExecutor{})
	_, err := service.StartRun("missing", "", nil)
	var notFound persistence.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestActivateFromChatStartsMatchingWorkflow(t *testing.T) {
	service, metadataService, _ := newTestService(t, &scriptedExecutor{})
	publishWorkflow(t, metadataService, triggeredWorkflow("deployer", "deploy release"))
	publishWorkflow(t, metadataService, triggeredWorkflow("reporter", "archive old reports"))

	results, started, err := service.ActivateFromChat("deploy release", "session-1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "deployer", results[0].WorkflowId)
	require.Len(t, started, 1)
	waitForRunState(t, service, started[0], model.RUN_COMPLETED)

	run, err := service.GetRun(started[0])
	require.NoError(t, err)
	require.Equal(t, "deployer", run.WorkflowName)
	require.Equal(t, "session-1", run.SessionId)
}

func TestActivateFromChatBelowThresholdStartsNothing(t *testing.T) {
	service, metadataService, _ := newTestService(t, &scriptedExecutor{})
	publishWorkflow(t, metadataService, triggeredWorkflow("deployer", "deploy release"))

	results, started, err := service.ActivateFromChat("what is for lunch", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].ShouldActivate)
	require.Empty(t, started)
}

func TestActivateFromChatOneRunPerWorkflow(t *testing.T) {
	service, metadataService, _ := newTestService(t, &scriptedExecutor{})
	def := triggeredWorkflow("deployer", "deploy release")
	def.Triggers = append(def.Triggers, model.Trigger{
		Id: "t2", Type: model.TRIGGER_TYPE_CHAT, Phrases: []string{"deploy release"}, Enabled: true,
	})
	publishWorkflow(t, metadataService, def)

	results, started, err := service.ActivateFromChat("deploy release", "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, started, 1)
}

func TestDeleteRunRequiresTerminalState(t *testing.T) {
	def := &model.WorkflowDefinition{
		Name:    "waiting",
		Version: 1,
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_START},
			{Id: "ask", Type: model.NODE_TYPE_WAIT},
			{Id: "end", Type: model.NODE_TYPE_END},
		},
		Edges: []model.Edge{
			{Id: "e1", From: "start", To: "ask", Condition: model.EDGE_CONDITION_ALWAYS},
			{Id: "e2", From: "ask", To: "end", Condition: model.EDGE_CONDITION_ALWAYS},
		},
	}
	service, metadataService, _ := newTestService(t, &scriptedExecutor{})
	publishWorkflow(t, metadataService, def)

	runId, err := service.StartRun("waiting", "", nil)
	require.NoError(t, err)
	waitForRunState(t, service, runId, model.RUN_WAITING_QUESTION)

	err = service.DeleteRun(runId)
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, "delete", transitionErr.Action)

	require.NoError(t, service.CancelRun(runId))
	require.NoError(t, service.DeleteRun(runId))

	_, err = service.GetRun(runId)
	var notFound persistence.NotFoundError
	require.ErrorAs(t, err, &notFound)
	checkpoints, err := service.ListCheckpoints(runId, -1)
	require.NoError(t, err)
	require.Empty(t, checkpoints)
	events, err := service.ListEvents(runId, time.Time{})
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestResumeRestoresMachineFromLatestCheckpoint(t *testing.T) {
	service, metadataService, store := newTestService(t, &scriptedExecutor{})
	publishWorkflow(t, metadataService, linearWorkflow(nil))

	// a run paused before a restart: persisted record and checkpoint, no
	// live machine in the registry
	require.NoError(t, store.SaveRun(&model.RunRecord{
		RunId:           "run-old",
		WorkflowName:    "linear",
		WorkflowVersion: 1,
		State:           model.RUN_PAUSED,
		CurrentNodeId:   "A",
	}))
	require.NoError(t, store.UpsertCheckpoint(&model.RunCheckpoint{
		Id:              "cp-0",
		RunId:           "run-old",
		CheckpointIndex: 0,
		Stage:           STAGE_NODE_PREFIX + "A",
		State:           map[string]any{"currentNodeId": "A"},
	}))

	require.NoError(t, service.ResumeRun("run-old", nil))
	run, err := service.GetRun("run-old")
	require.NoError(t, err)
	require.Equal(t, model.RUN_COMPLETED, run.State)
}

func TestRecoverInterruptedResumesSafeRunsAndFailsOthers(t *testing.T) {
	service, metadataService, store := newTestService(t, &scriptedExecutor{})
	publishWorkflow(t, metadataService, linearWorkflow(nil))

	require.NoError(t, store.SaveRun(&model.RunRecord{
		RunId:           "run-safe",
		WorkflowName:    "linear",
		WorkflowVersion: 1,
		State:           model.RUN_RUNNING,
		CurrentNodeId:   "A",
	}))
	require.NoError(t, store.UpsertCheckpoint(&model.RunCheckpoint{
		Id:              "cp-safe",
		RunId:           "run-safe",
		CheckpointIndex: 1,
		Stage:           STAGE_NODE_PREFIX + "A",
		State:           map[string]any{"currentNodeId": "A"},
	}))
	require.NoError(t, store.SaveRun(&model.RunRecord{
		RunId:         "run-lost",
		WorkflowName:  "linear",
		State:         model.RUN_RUNNING,
		CurrentNodeId: "A",
	}))

	require.NoError(t, service.RecoverInterrupted())

	safe, err := service.GetRun("run-safe")
	require.NoError(t, err)
	require.Equal(t, model.RUN_COMPLETED, safe.State)

	lost, err := service.GetRun("run-lost")
	require.NoError(t, err)
	require.Equal(t, model.RUN_FAILED, lost.State)
	require.Equal(t, FAILURE_REASON_UNRECOVERABLE, lost.FailureReason)

	// second call is a no-op
	require.NoError(t, service.RecoverInterrupted())
}
