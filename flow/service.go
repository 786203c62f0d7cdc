package flow

import (
	"sync"
	"time"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/metadata"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/trigger"
	"github.com/flowmason/flowmason/util"
	"go.uber.org/zap"
)

// ExecutionService is the in-process command surface over runs. The CLI/IPC
// transport calls these methods; it owns the machine registry and the
// activation worker.
type ExecutionService struct {
	mu            sync.Mutex
	machines      map[string]*RunMachine
	metadata      *metadata.Service
	deps          MachineDeps
	minConfidence float64
	worker        *util.Worker
	reconciler    *Reconciler
	recoveryDone  bool
}

func NewExecutionService(metadataService *metadata.Service, deps MachineDeps, minConfidence float64, workerCapacity int, wg *sync.WaitGroup) *ExecutionService {
	s := &ExecutionService{
		machines:      make(map[string]*RunMachine),
		metadata:      metadataService,
		deps:          deps,
		minConfidence: minConfidence,
		reconciler:    NewReconciler(deps.Runs, deps.Checkpoints, deps.Events),
	}
	s.worker = util.NewWorker("run-activation", wg, s.handleActivation, workerCapacity)
	return s
}

func (s *ExecutionService) Start() {
	s.worker.Start()
}

func (s *ExecutionService) Stop() error {
	s.worker.Stop()
	return nil
}

func (s *ExecutionService) handleActivation(task util.Task) error {
	machine, ok := task.(*RunMachine)
	if !ok {
		return nil
	}
	err := machine.Start()
	s.forgetIfTerminal(machine)
	return err
}

// RecoverInterrupted runs the startup reconciliation pass and re-enters
// every recovered run. Must be called before the service accepts new
// activations.
func (s *ExecutionService) RecoverInterrupted() error {
	s.mu.Lock()
	if s.recoveryDone {
		s.mu.Unlock()
		return nil
	}
	s.recoveryDone = true
	s.mu.Unlock()

	reconciled, err := s.reconciler.ReconcileOnStartup()
	if err != nil {
		return err
	}
	for _, run := range reconciled {
		if run.State != model.RUN_RECOVERED {
			continue
		}
		machine, err := s.restoreMachine(run)
		if err != nil {
			logger.Error("can not restore recovered run", zap.String("runId", run.RunId), zap.Error(err))
			continue
		}
		if err := machine.Resume(nil); err != nil {
			logger.Error("error resuming recovered run", zap.String("runId", run.RunId), zap.Error(err))
		}
		s.forgetIfTerminal(machine)
	}
	return nil
}

// StartRun validates nothing itself: compilation already failed if the
// published definition was invalid, and no run record is created in that
// case.
func (s *ExecutionService) StartRun(workflowName string, sessionId string, input map[string]any) (string, error) {
	compiled, err := s.metadata.GetCompiled(workflowName)
	if err != nil {
		return "", err
	}
	machine := NewRunMachine(compiled, s.deps, sessionId, "", input)
	record := machine.Record()
	if err := s.deps.Runs.SaveRun(&record); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.machines[machine.RunId()] = machine
	s.mu.Unlock()
	s.worker.Sender() <- machine
	logger.Info("run queued", zap.String("workflow", workflowName), zap.String("runId", machine.RunId()))
	return machine.RunId(), nil
}

// ActivateFromChat evaluates the message against every registered trigger
// candidate and starts a run for each activating workflow, at most one run
// per workflow per message.
func (s *ExecutionService) ActivateFromChat(message string, sessionId string) ([]trigger.EvaluationResult, []string, error) {
	candidates, err := s.metadata.ListTriggerCandidates()
	if err != nil {
		return nil, nil, err
	}
	results := trigger.EvaluateChatTriggers(message, candidates, &trigger.Options{MinConfidence: s.minConfidence})
	started := make([]string, 0)
	activated := make(map[string]bool)
	for _, result := range results {
		if !result.ShouldActivate || activated[result.WorkflowId] {
			continue
		}
		activated[result.WorkflowId] = true
		runId, err := s.StartRun(result.WorkflowId, sessionId, map[string]any{
			"message":    message,
			"triggerId":  result.TriggerId,
			"confidence": result.Confidence,
		})
		if err != nil {
			logger.Error("error activating workflow from chat",
				zap.String("workflow", result.WorkflowId), zap.Error(err))
			continue
		}
		started = append(started, runId)
	}
	return results, started, nil
}

func (s *ExecutionService) PauseRun(runId string) error {
	machine, err := s.machine(runId)
	if err != nil {
		return err
	}
	return machine.Pause()
}

func (s *ExecutionService) ResumeRun(runId string, answer map[string]any) error {
	machine, err := s.machine(runId)
	if err != nil {
		return err
	}
	err = machine.Resume(answer)
	s.forgetIfTerminal(machine)
	return err
}

func (s *ExecutionService) CancelRun(runId string) error {
	machine, err := s.machine(runId)
	if err != nil {
		return err
	}
	err = machine.Cancel()
	s.forgetIfTerminal(machine)
	return err
}

func (s *ExecutionService) GetRun(runId string) (*model.RunRecord, error) {
	return s.deps.Runs.GetRun(runId)
}

func (s *ExecutionService) ListEvents(runId string, since time.Time) ([]*model.WorkflowEvent, error) {
	return s.deps.Events.ListEvents(runId, since)
}

func (s *ExecutionService) ListCheckpoints(runId string, sinceIndex int) ([]*model.RunCheckpoint, error) {
	return s.deps.Checkpoints.ListForRun(runId, sinceIndex)
}

// DeleteRun removes the run with its checkpoints and events. This is the
// only path that deletes checkpoints. Non terminal runs must be cancelled
// first.
func (s *ExecutionService) DeleteRun(runId string) error {
	run, err := s.deps.Runs.GetRun(runId)
	if err != nil {
		return err
	}
	if !run.State.IsTerminal() {
		return &InvalidTransitionError{RunId: runId, From: run.State, Action: "delete"}
	}
	s.mu.Lock()
	delete(s.machines, runId)
	s.mu.Unlock()
	if err := s.deps.Checkpoints.DeleteForRun(runId); err != nil {
		return err
	}
	if err := s.deps.Events.DeleteForRun(runId); err != nil {
		return err
	}
	return s.deps.Runs.DeleteRun(runId)
}

// machine returns the live machine for a run, restoring one from the latest
// checkpoint for runs that predate this process (recovered or paused before
// a restart).
func (s *ExecutionService) machine(runId string) (*RunMachine, error) {
	s.mu.Lock()
	machine, ok := s.machines[runId]
	s.mu.Unlock()
	if ok {
		return machine, nil
	}
	run, err := s.deps.Runs.GetRun(runId)
	if err != nil {
		return nil, err
	}
	return s.restoreMachine(run)
}

func (s *ExecutionService) restoreMachine(run *model.RunRecord) (*RunMachine, error) {
	checkpoint, err := s.deps.Checkpoints.LatestForRun(run.RunId)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, persistence.NotFoundError{Kind: "checkpoint for run", Id: run.RunId}
	}
	compiled, err := s.metadata.GetCompiled(run.WorkflowName)
	if err != nil {
		return nil, err
	}
	if compiled.Version != run.WorkflowVersion {
		logger.Warn("resuming run against newer workflow version",
			zap.String("runId", run.RunId), zap.Int("ranVersion", run.WorkflowVersion), zap.Int("currentVersion", compiled.Version))
	}
	machine := RestoreRunMachine(compiled, s.deps, run, checkpoint)
	s.mu.Lock()
	s.machines[run.RunId] = machine
	s.mu.Unlock()
	return machine, nil
}

func (s *ExecutionService) forgetIfTerminal(machine *RunMachine) {
	if !machine.State().IsTerminal() {
		return
	}
	s.mu.Lock()
	delete(s.machines, machine.RunId())
	s.mu.Unlock()
}
