package flow

import (
	"time"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const FAILURE_REASON_UNRECOVERABLE string = "unrecoverable"

// Reconciler maps runs left in flight by an ungraceful shutdown into a
// resumable or terminal state. It runs exactly once per process start,
// before any new activation is accepted.
type Reconciler struct {
	runs        persistence.RunDao
	checkpoints persistence.CheckpointDao
	events      persistence.EventDao
	done        bool
}

func NewReconciler(runs persistence.RunDao, checkpoints persistence.CheckpointDao, events persistence.EventDao) *Reconciler {
	return &Reconciler{
		runs:        runs,
		checkpoints: checkpoints,
		events:      events,
	}
}

// ReconcileOnStartup walks every persisted run and settles the interrupted
// ones: runs with a checkpoint at a safe resume boundary become recovered,
// the rest become failed with an interruption event. It is total over
// whatever rows exist (malformed rows are skipped by the dao layer) and
// idempotent: a second pass finds nothing in flight and changes nothing.
func (r *Reconciler) ReconcileOnStartup() ([]*model.RunRecord, error) {
	if r.done {
		return nil, nil
	}
	r.done = true
	runs, err := r.runs.ListRuns()
	if err != nil {
		return nil, err
	}
	reconciled := make([]*model.RunRecord, 0)
	for _, run := range runs {
		if !run.State.InFlight() {
			continue
		}
		interrupted := run.State
		checkpoint, err := r.checkpoints.LatestForRun(run.RunId)
		if err != nil {
			logger.Error("error loading checkpoint during reconciliation, marking run failed",
				zap.String("runId", run.RunId), zap.Error(err))
			checkpoint = nil
		}
		if checkpoint != nil && SafeResumeStage(checkpoint.Stage) {
			run.State = model.RUN_RECOVERED
			run.ResumeFromCheckpointId = checkpoint.Id
		} else {
			run.State = model.RUN_FAILED
			run.FailureReason = FAILURE_REASON_UNRECOVERABLE
		}
		run.UpdatedAt = time.Now()
		if err := r.runs.SaveRun(run); err != nil {
			logger.Error("error saving reconciled run", zap.String("runId", run.RunId), zap.Error(err))
			continue
		}
		r.appendInterruptedEvent(run, interrupted)
		logger.Info("reconciled interrupted run", zap.String("runId", run.RunId),
			zap.String("from", string(interrupted)), zap.String("to", string(run.State)))
		reconciled = append(reconciled, run)
	}
	return reconciled, nil
}

func (r *Reconciler) appendInterruptedEvent(run *model.RunRecord, interrupted model.RunState) {
	event := &model.WorkflowEvent{
		Id:    uuid.New().String(),
		RunId: run.RunId,
		Ts:    time.Now(),
		Type:  model.EVENT_RUN_INTERRUPTED,
		Payload: map[string]any{
			"reason":           "interrupted by restart",
			"interruptedState": string(interrupted),
			"disposition":      string(run.State),
		},
	}
	if err := r.events.AppendEvent(event); err != nil {
		logger.Error("error appending interruption event", zap.String("runId", run.RunId), zap.Error(err))
	}
}
