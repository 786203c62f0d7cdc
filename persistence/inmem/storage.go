package inmem

import (
	"sort"
	"sync"
	"time"

	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/trigger"
)

// Storage keeps everything in process. Used for tests and single node dev
// setups; implements every persistence interface.
type Storage struct {
	mu          sync.RWMutex
	runs        map[string]model.RunRecord
	checkpoints map[string]map[string]model.RunCheckpoint
	events      map[string][]model.WorkflowEvent
	definitions map[string]model.WorkflowDefinition
	candidates  map[string][]trigger.Candidate
}

var _ persistence.RunDao = new(Storage)
var _ persistence.CheckpointDao = new(Storage)
var _ persistence.EventDao = new(Storage)
var _ persistence.MetadataStorage = new(Storage)

func NewStorage() *Storage {
	return &Storage{
		runs:        make(map[string]model.RunRecord),
		checkpoints: make(map[string]map[string]model.RunCheckpoint),
		events:      make(map[string][]model.WorkflowEvent),
		definitions: make(map[string]model.WorkflowDefinition),
		candidates:  make(map[string][]trigger.Candidate),
	}
}

func (s *Storage) SaveRun(run *model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunId] = *run
	return nil
}

func (s *Storage) GetRun(runId string) (*model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runId]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "run", Id: runId}
	}
	return &run, nil
}

func (s *Storage) ListRuns() ([]*model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		r := run
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunId < out[j].RunId })
	return out, nil
}

func (s *Storage) DeleteRun(runId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runId)
	return nil
}

func (s *Storage) UpsertCheckpoint(checkpoint *model.RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byId, ok := s.checkpoints[checkpoint.RunId]
	if !ok {
		byId = make(map[string]model.RunCheckpoint)
		s.checkpoints[checkpoint.RunId] = byId
	}
	byId[checkpoint.Id] = *checkpoint
	return nil
}

func (s *Storage) LatestForRun(runId string) (*model.RunCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.RunCheckpoint
	for _, cp := range s.checkpoints[runId] {
		c := cp
		if latest == nil || c.CheckpointIndex > latest.CheckpointIndex {
			latest = &c
		}
	}
	return latest, nil
}

func (s *Storage) ListForRun(runId string, sinceIndex int) ([]*model.RunCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.RunCheckpoint, 0)
	for _, cp := range s.checkpoints[runId] {
		c := cp
		if c.CheckpointIndex > sinceIndex {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckpointIndex < out[j].CheckpointIndex })
	return out, nil
}

func (s *Storage) DeleteForRun(runId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.checkpoints, runId)
	delete(s.events, runId)
	return nil
}

func (s *Storage) AppendEvent(event *model.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.RunId] = append(s.events[event.RunId], *event)
	return nil
}

func (s *Storage) ListEvents(runId string, since time.Time) ([]*model.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.WorkflowEvent, 0)
	for _, ev := range s.events[runId] {
		e := ev
		if !since.IsZero() && e.Ts.Before(since) {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *Storage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[wf.Name] = wf
	return nil
}

func (s *Storage) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.definitions[name]
	if !ok {
		return nil, persistence.NotFoundError{Kind: "workflow", Id: name}
	}
	return &wf, nil
}

func (s *Storage) DeleteWorkflowDefinition(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, name)
	return nil
}

func (s *Storage) SaveTriggerCandidates(workflowId string, candidates []trigger.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates[workflowId] = append([]trigger.Candidate(nil), candidates...)
	return nil
}

func (s *Storage) ListTriggerCandidates() ([]trigger.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.candidates))
	for id := range s.candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]trigger.Candidate, 0)
	for _, id := range ids {
		out = append(out, s.candidates[id]...)
	}
	return out, nil
}

func (s *Storage) DeleteTriggerCandidates(workflowId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.candidates, workflowId)
	return nil
}
