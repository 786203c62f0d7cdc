package flow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RussellLuo/timingwheel"
	"github.com/flowmason/flowmason/compiler"
	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/retry"
	"github.com/flowmason/flowmason/timers"
	"github.com/flowmason/flowmason/util"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const STAGE_NODE_PREFIX string = "node:"
const STAGE_RETRY_PREFIX string = "retry:"
const STAGE_WAITING_PREFIX string = "waiting:"

// SafeResumeStage reports whether a checkpoint stage marks a boundary the
// machine can re-enter after a crash. Every stage the machine writes is a
// write-ahead boundary whose side effect can be re-derived by re-dispatching
// the current node; anything else (including legacy or malformed stages) is
// not resumable.
func SafeResumeStage(stage string) bool {
	for _, prefix := range []string{STAGE_NODE_PREFIX, STAGE_RETRY_PREFIX, STAGE_WAITING_PREFIX} {
		if len(stage) > len(prefix) && stage[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// MachineDeps carries every collaborator a run machine needs. Constructed by
// the execution service; no ambient globals.
type MachineDeps struct {
	Runs           persistence.RunDao
	Checkpoints    persistence.CheckpointDao
	Events         persistence.EventDao
	Executor       StepExecutor
	Conditions     ConditionEvaluator
	Timers         *timers.TimerManager
	Rand           retry.RandomSource
	DefaultProfile string
}

// RunMachine drives one run through its lifecycle. The run record is owned
// exclusively by its machine until a terminal state; all entry points
// serialize on the machine mutex, which is released around external step
// execution so cancellation stays responsive.
type RunMachine struct {
	mu                  sync.Mutex
	deps                MachineDeps
	graph               *compiler.CompiledWorkflow
	run                 *model.RunRecord
	runCtx              *RunContext
	nextCheckpointIndex int
	retryTimer          *timingwheel.Timer
	ctx                 context.Context
	cancel              context.CancelFunc
}

func NewRunMachine(graph *compiler.CompiledWorkflow, deps MachineDeps, sessionId string, branchId string, input map[string]any) *RunMachine {
	runId := uuid.New().String()
	now := time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	data := map[string]any{"input": input}
	return &RunMachine{
		deps:  deps,
		graph: graph,
		run: &model.RunRecord{
			RunId:           runId,
			WorkflowName:    graph.Name,
			WorkflowVersion: graph.Version,
			SessionId:       sessionId,
			BranchId:        branchId,
			State:           model.RUN_QUEUED,
			CurrentNodeId:   graph.StartNodeId,
			Attempts:        make(map[string]int),
			CreatedAt:       now,
			UpdatedAt:       now,
		},
		runCtx: &RunContext{
			RunId:        runId,
			WorkflowName: graph.Name,
			SessionId:    sessionId,
			BranchId:     branchId,
			Data:         data,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// RestoreRunMachine rebuilds a machine for a recovered run from its resume
// checkpoint. The checkpoint blob, not the run record, is the source of
// truth for position, attempts and data.
func RestoreRunMachine(graph *compiler.CompiledWorkflow, deps MachineDeps, run *model.RunRecord, checkpoint *model.RunCheckpoint) *RunMachine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &RunMachine{
		deps:  deps,
		graph: graph,
		run:   run,
		runCtx: &RunContext{
			RunId:        run.RunId,
			WorkflowName: run.WorkflowName,
			SessionId:    run.SessionId,
			BranchId:     run.BranchId,
			Data:         make(map[string]any),
		},
		nextCheckpointIndex: checkpoint.CheckpointIndex + 1,
		ctx:                 ctx,
		cancel:              cancel,
	}
	if run.Attempts == nil {
		run.Attempts = make(map[string]int)
	}
	if nodeId, ok := checkpoint.State["currentNodeId"].(string); ok {
		run.CurrentNodeId = nodeId
	}
	if data, ok := checkpoint.State["data"].(map[string]any); ok {
		// detach from the stored blob, the machine mutates this map
		if frozen, err := snapshotState(data); err == nil {
			m.runCtx.Data = frozen
		}
	}
	// attempt counts arrive as float64 after a JSON round trip and as int
	// from stores that hand blobs back untouched
	switch attempts := checkpoint.State["attempts"].(type) {
	case map[string]any:
		for nodeId, count := range attempts {
			switch n := count.(type) {
			case float64:
				run.Attempts[nodeId] = int(n)
			case int:
				run.Attempts[nodeId] = n
			}
		}
	case map[string]int:
		for nodeId, count := range attempts {
			run.Attempts[nodeId] = count
		}
	}
	return m
}

func (m *RunMachine) RunId() string {
	return m.run.RunId
}

func (m *RunMachine) State() model.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run.State
}

func (m *RunMachine) Record() model.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.run
}

// Start transitions the queued run to running and drives it until it parks
// or terminates.
func (m *RunMachine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.run.State = model.RUN_RUNNING
	if err := m.saveRun(); err != nil {
		return err
	}
	m.appendEvent(model.EVENT_RUN_STARTED, map[string]any{
		"workflow": m.run.WorkflowName,
		"version":  m.run.WorkflowVersion,
	})
	if err := m.checkpoint(STAGE_NODE_PREFIX + m.run.CurrentNodeId); err != nil {
		m.failLocked("checkpoint write failed: " + err.Error())
		return err
	}
	m.appendEvent(model.EVENT_NODE_ENTERED, map[string]any{"nodeId": m.run.CurrentNodeId})
	m.loop()
	return nil
}

// loop advances node by node while the run is running. Callers hold the
// mutex.
func (m *RunMachine) loop() {
	for m.run.State == model.RUN_RUNNING {
		node, ok := m.graph.Nodes[m.run.CurrentNodeId]
		if !ok {
			m.failLocked("unknown node " + m.run.CurrentNodeId)
			return
		}
		switch node.Type {
		case model.NODE_TYPE_AGENT_STEP:
			if !m.executeStep(node) {
				return
			}
		case model.NODE_TYPE_WAIT:
			m.park(model.RUN_WAITING_QUESTION, node)
			return
		case model.NODE_TYPE_END:
			m.completeLocked()
			return
		default:
			// start, decision and unknown types advance on edge
			// conditions alone.
			if !m.advance(node, "") {
				return
			}
		}
	}
}

// advance picks the next edge out of node and moves the run there. The first
// edge whose condition holds wins, in declaration order. A missing match is
// a dead end: the run completes with a warning event, it does not fail.
// Returns false when the run left the running loop.
func (m *RunMachine) advance(node model.Node, forcedEdgeId string) bool {
	edges := m.graph.Outgoing[node.Id]
	var chosen *model.Edge
	for i := range edges {
		edge := edges[i]
		if len(forcedEdgeId) > 0 {
			if edge.Id == forcedEdgeId {
				chosen = &edge
				break
			}
			continue
		}
		if edge.Condition == model.EDGE_CONDITION_ALWAYS {
			chosen = &edge
			break
		}
		if edge.Condition == model.EDGE_CONDITION_CUSTOM {
			truthy, err := m.deps.Conditions.Evaluate(edge.Expression, m.runCtx)
			if err != nil {
				logger.Warn("edge condition evaluation failed, edge not taken",
					zap.String("runId", m.run.RunId), zap.String("edge", edge.Id), zap.Error(err))
				continue
			}
			if truthy {
				chosen = &edge
				break
			}
		}
	}
	if chosen == nil {
		if node.Type != model.NODE_TYPE_END && len(edges) > 0 {
			m.appendEvent(model.EVENT_DEAD_END_REACHED, map[string]any{"nodeId": node.Id})
		}
		m.completeLocked()
		return false
	}
	m.run.CurrentNodeId = chosen.To
	if err := m.checkpoint(STAGE_NODE_PREFIX + chosen.To); err != nil {
		m.failLocked("checkpoint write failed: " + err.Error())
		return false
	}
	if err := m.saveRun(); err != nil {
		m.failLocked("run save failed: " + err.Error())
		return false
	}
	m.appendEvent(model.EVENT_NODE_ENTERED, map[string]any{"nodeId": chosen.To, "edgeId": chosen.Id})
	return true
}

// executeStep dispatches one agent_step attempt. The mutex is released for
// the duration of the external call; a result arriving after cancellation or
// pause is dropped.
func (m *RunMachine) executeStep(node model.Node) bool {
	attempt := m.run.Attempts[node.Id] + 1
	m.run.Attempts[node.Id] = attempt
	if err := m.saveRun(); err != nil {
		m.failLocked("run save failed: " + err.Error())
		return false
	}
	execNode := m.resolveNodeInput(node)

	m.mu.Unlock()
	result, err := m.deps.Executor.Execute(m.ctx, execNode, m.runCtx)
	m.mu.Lock()

	if m.run.State != model.RUN_RUNNING {
		logger.Debug("dropping step result, run no longer running",
			zap.String("runId", m.run.RunId), zap.String("state", string(m.run.State)))
		return false
	}
	if err != nil {
		return m.handleStepFailure(node, attempt, err)
	}
	delete(m.run.Attempts, node.Id)
	if result == nil {
		result = &StepResult{}
	}
	if result.Output != nil {
		m.runCtx.Data[node.Id] = map[string]any{"output": result.Output}
	}
	m.appendEvent(model.EVENT_NODE_COMPLETED, map[string]any{"nodeId": node.Id, "attempt": attempt})
	if result.Suspend == SUSPEND_PERMISSION {
		m.park(model.RUN_WAITING_PERMISSION, node)
		return false
	}
	if result.Suspend == SUSPEND_QUESTION {
		m.park(model.RUN_WAITING_QUESTION, node)
		return false
	}
	return m.advance(node, result.AdvanceEdgeId)
}

func (m *RunMachine) handleStepFailure(node model.Node, attempt int, stepErr error) bool {
	policy := m.policyFor(node)
	if IsNonRetryable(stepErr) || attempt >= policy.MaxAttempts {
		m.failLocked(stepErr.Error())
		return false
	}
	delayMs := retry.ComputeDelay(policy, attempt, m.deps.Rand)
	m.run.State = model.RUN_RETRYING
	if err := m.checkpoint(STAGE_RETRY_PREFIX + node.Id); err != nil {
		m.failLocked("checkpoint write failed: " + err.Error())
		return false
	}
	if err := m.saveRun(); err != nil {
		m.failLocked("run save failed: " + err.Error())
		return false
	}
	m.appendEvent(model.EVENT_RETRY_SCHEDULED, map[string]any{
		"nodeId":  node.Id,
		"attempt": attempt,
		"delayMs": delayMs,
		"error":   stepErr.Error(),
	})
	m.retryTimer = m.deps.Timers.AddTask(time.Duration(delayMs)*time.Millisecond, m.onRetryFire)
	logger.Info("retry scheduled", zap.String("runId", m.run.RunId), zap.String("node", node.Id),
		zap.Int("attempt", attempt), zap.Int64("delayMs", delayMs))
	return false
}

func (m *RunMachine) onRetryFire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run.State != model.RUN_RETRYING {
		return
	}
	m.retryTimer = nil
	m.run.State = model.RUN_RUNNING
	if err := m.saveRun(); err != nil {
		m.failLocked("run save failed: " + err.Error())
		return
	}
	m.loop()
}

func (m *RunMachine) park(state model.RunState, node model.Node) {
	m.run.State = state
	if err := m.checkpoint(STAGE_WAITING_PREFIX + node.Id); err != nil {
		m.failLocked("checkpoint write failed: " + err.Error())
		return
	}
	if err := m.saveRun(); err != nil {
		m.failLocked("run save failed: " + err.Error())
		return
	}
	m.appendEvent(model.EVENT_RUN_WAITING, map[string]any{"nodeId": node.Id, "state": string(state)})
}

// Pause parks the run cooperatively. A step already in flight keeps running
// externally; its result is dropped and the node re-executes on resume.
func (m *RunMachine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run.State.IsTerminal() {
		return &InvalidTransitionError{RunId: m.run.RunId, From: m.run.State, Action: "pause"}
	}
	m.stopRetryTimer()
	m.run.State = model.RUN_PAUSED
	if err := m.saveRun(); err != nil {
		return err
	}
	m.appendEvent(model.EVENT_RUN_PAUSED, nil)
	return nil
}

// Resume re-enters the running loop from paused, waiting or recovered
// state. A non nil answer is recorded as the current node's output, which
// lets wait nodes receive the reply they were parked for.
func (m *RunMachine) Resume(answer map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.run.State {
	case model.RUN_PAUSED, model.RUN_WAITING_QUESTION, model.RUN_WAITING_PERMISSION, model.RUN_RECOVERED:
	default:
		return &InvalidTransitionError{RunId: m.run.RunId, From: m.run.State, Action: "resume"}
	}
	wasWaiting := m.run.State == model.RUN_WAITING_QUESTION || m.run.State == model.RUN_WAITING_PERMISSION
	m.run.State = model.RUN_RUNNING
	m.run.ResumeFromCheckpointId = ""
	if err := m.saveRun(); err != nil {
		return err
	}
	m.appendEvent(model.EVENT_RUN_RESUMED, nil)
	node, ok := m.graph.Nodes[m.run.CurrentNodeId]
	if !ok {
		m.failLocked("unknown node " + m.run.CurrentNodeId)
		return nil
	}
	if answer != nil {
		m.runCtx.Data[node.Id] = map[string]any{"output": answer}
	}
	if wasWaiting && node.Type == model.NODE_TYPE_WAIT {
		// the wait is over, move past the node instead of parking again
		if !m.advance(node, "") {
			return nil
		}
	}
	m.loop()
	return nil
}

// Cancel is cooperative: it flips the run to cancelled, aborts any pending
// backoff timer and signals the outstanding step through context
// cancellation. External work the orchestrator cannot reach keeps running;
// its result is simply no longer acted on.
func (m *RunMachine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run.State.IsTerminal() {
		return &InvalidTransitionError{RunId: m.run.RunId, From: m.run.State, Action: "cancel"}
	}
	m.stopRetryTimer()
	m.cancel()
	m.run.State = model.RUN_CANCELLED
	if err := m.saveRun(); err != nil {
		return err
	}
	m.appendEvent(model.EVENT_RUN_CANCELLED, nil)
	logger.Info("run cancelled", zap.String("runId", m.run.RunId))
	return nil
}

func (m *RunMachine) completeLocked() {
	m.stopRetryTimer()
	m.run.State = model.RUN_COMPLETED
	if err := m.saveRun(); err != nil {
		logger.Error("error saving completed run", zap.String("runId", m.run.RunId), zap.Error(err))
	}
	m.appendEvent(model.EVENT_RUN_COMPLETED, nil)
	m.cancel()
	logger.Info("run completed", zap.String("workflow", m.run.WorkflowName), zap.String("runId", m.run.RunId))
}

func (m *RunMachine) failLocked(reason string) {
	m.stopRetryTimer()
	m.run.State = model.RUN_FAILED
	m.run.FailureReason = reason
	if err := m.saveRun(); err != nil {
		logger.Error("error saving failed run", zap.String("runId", m.run.RunId), zap.Error(err))
	}
	m.appendEvent(model.EVENT_RUN_FAILED, map[string]any{"reason": reason})
	m.cancel()
	logger.Info("run failed", zap.String("workflow", m.run.WorkflowName), zap.String("runId", m.run.RunId), zap.String("reason", reason))
}

func (m *RunMachine) stopRetryTimer() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *RunMachine) saveRun() error {
	m.run.UpdatedAt = time.Now()
	return m.deps.Runs.SaveRun(m.run)
}

// checkpoint writes an immutable snapshot of the run's position, attempts
// and data. The state blob is detached from the live maps before the write,
// so a checkpoint never changes as the run advances past it.
func (m *RunMachine) checkpoint(stage string) error {
	state, err := snapshotState(map[string]any{
		"currentNodeId": m.run.CurrentNodeId,
		"attempts":      m.run.Attempts,
		"data":          m.runCtx.Data,
	})
	if err != nil {
		return err
	}
	cp := &model.RunCheckpoint{
		Id:              uuid.New().String(),
		RunId:           m.run.RunId,
		SessionId:       m.run.SessionId,
		BranchId:        m.run.BranchId,
		CheckpointIndex: m.nextCheckpointIndex,
		Stage:           stage,
		State:           state,
		CreatedAt:       time.Now(),
	}
	if err := m.deps.Checkpoints.UpsertCheckpoint(cp); err != nil {
		return err
	}
	m.nextCheckpointIndex++
	return nil
}

// snapshotState deep copies the state blob through a JSON round trip. Stores
// that keep values in process would otherwise retain the machine's live maps
// by reference.
func snapshotState(state map[string]any) (map[string]any, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var frozen map[string]any
	if err := json.Unmarshal(data, &frozen); err != nil {
		return nil, err
	}
	return frozen, nil
}

func (m *RunMachine) appendEvent(eventType model.EventType, payload map[string]any) {
	event := &model.WorkflowEvent{
		Id:      uuid.New().String(),
		RunId:   m.run.RunId,
		Ts:      time.Now(),
		Type:    eventType,
		Payload: payload,
	}
	if err := m.deps.Events.AppendEvent(event); err != nil {
		logger.Error("error appending workflow event", zap.String("runId", m.run.RunId), zap.String("type", string(eventType)), zap.Error(err))
	}
}

func (m *RunMachine) resolveNodeInput(node model.Node) model.Node {
	params, ok := node.Config["parameters"].(map[string]any)
	if !ok {
		return node
	}
	resolved := util.ResolveInputParams(m.runCtx.Data, params)
	config := make(map[string]any, len(node.Config))
	for k, v := range node.Config {
		config[k] = v
	}
	config["parameters"] = resolved
	node.Config = config
	return node
}

func (m *RunMachine) policyFor(node model.Node) retry.Policy {
	profile := m.deps.DefaultProfile
	if name, ok := node.Config["retryProfile"].(string); ok {
		profile = name
	}
	var overrides *retry.Overrides
	if raw, ok := node.Config["retry"].(map[string]any); ok {
		data, err := json.Marshal(raw)
		if err == nil {
			overrides = &retry.Overrides{}
			if err := json.Unmarshal(data, overrides); err != nil {
				overrides = nil
			}
		}
	}
	return retry.Resolve(profile, overrides)
}
