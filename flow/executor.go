package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"go.uber.org/zap"
)

type SuspendKind string

const SUSPEND_NONE SuspendKind = ""
const SUSPEND_PERMISSION SuspendKind = "permission"
const SUSPEND_QUESTION SuspendKind = "question"

// RunContext is the mutable data bag handed to collaborators for one run.
type RunContext struct {
	RunId        string
	WorkflowName string
	SessionId    string
	BranchId     string
	Data         map[string]any
}

// StepResult is returned by the step execution collaborator. AdvanceEdgeId,
// when set, names the outgoing edge to take instead of condition evaluation.
// A non empty Suspend parks the run until an external resume.
type StepResult struct {
	AdvanceEdgeId string
	Output        map[string]any
	Suspend       SuspendKind
}

// StepExecutor runs a single agent_step node. Any returned error is fed
// through the retry policy unless marked non retryable.
type StepExecutor interface {
	Execute(ctx context.Context, node model.Node, runContext *RunContext) (*StepResult, error)
}

// ConditionEvaluator evaluates a custom edge expression against the run's
// data and reports whether the edge should be taken.
type ConditionEvaluator interface {
	Evaluate(expression string, runContext *RunContext) (bool, error)
}

type StepExecutionError struct {
	NodeId       string
	Reason       string
	NonRetryable bool
	Cause        error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s failed: %s", e.NodeId, e.Reason)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// NonRetryable marks an error so the run machine fails immediately instead
// of entering the backoff loop. Meant for configuration errors rather than
// transient faults.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &StepExecutionError{Reason: err.Error(), NonRetryable: true, Cause: err}
}

func IsNonRetryable(err error) bool {
	var stepErr *StepExecutionError
	if errors.As(err, &stepErr) {
		return stepErr.NonRetryable
	}
	return false
}

// LoggingStepExecutor is the default collaborator for setups that have not
// wired a real agent runtime. It records the resolved input and succeeds.
type LoggingStepExecutor struct{}

func (LoggingStepExecutor) Execute(ctx context.Context, node model.Node, runContext *RunContext) (*StepResult, error) {
	logger.Info("executing step", zap.String("node", node.Id), zap.String("runId", runContext.RunId))
	return &StepResult{}, nil
}
