package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/trigger"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS run_records (
	run_id TEXT PRIMARY KEY,
	record_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS run_checkpoints (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	session_id TEXT,
	branch_id TEXT,
	checkpoint_index INTEGER NOT NULL,
	stage TEXT NOT NULL,
	state_json TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON run_checkpoints(run_id, checkpoint_index);
CREATE TABLE IF NOT EXISTS workflow_events (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	ts TIMESTAMP NOT NULL,
	type TEXT NOT NULL,
	payload_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_run ON workflow_events(run_id, ts);
CREATE TABLE IF NOT EXISTS workflow_definitions (
	name TEXT PRIMARY KEY,
	definition_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS trigger_candidates (
	workflow_id TEXT PRIMARY KEY,
	candidates_json TEXT NOT NULL
);`

// Storage is the embedded relational store. State blobs and payloads are
// kept as JSON columns beside the indexed identity columns.
type Storage struct {
	db *sql.DB
}

var _ persistence.RunDao = new(Storage)
var _ persistence.CheckpointDao = new(Storage)
var _ persistence.EventDao = new(Storage)
var _ persistence.MetadataStorage = new(Storage)

func NewStorage(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveRun(run *model.RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO run_records(run_id, record_json) VALUES(?, ?)
		ON CONFLICT(run_id) DO UPDATE SET record_json = excluded.record_json`, run.RunId, string(data))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetRun(runId string) (*model.RunRecord, error) {
	var data string
	err := s.db.QueryRow(`SELECT record_json FROM run_records WHERE run_id = ?`, runId).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, persistence.NotFoundError{Kind: "run", Id: runId}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var run model.RunRecord
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Storage) ListRuns() ([]*model.RunRecord, error) {
	rows, err := s.db.Query(`SELECT run_id, record_json FROM run_records ORDER BY run_id`)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	out := make([]*model.RunRecord, 0)
	for rows.Next() {
		var runId, data string
		if err := rows.Scan(&runId, &data); err != nil {
			logger.Error("skipping unreadable run row", zap.Error(err))
			continue
		}
		var run model.RunRecord
		if err := json.Unmarshal([]byte(data), &run); err != nil {
			logger.Error("skipping malformed run row", zap.String("runId", runId), zap.Error(err))
			continue
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteRun(runId string) error {
	if _, err := s.db.Exec(`DELETE FROM run_records WHERE run_id = ?`, runId); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) UpsertCheckpoint(checkpoint *model.RunCheckpoint) error {
	state, err := json.Marshal(checkpoint.State)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO run_checkpoints(id, run_id, session_id, branch_id, checkpoint_index, stage, state_json, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET stage = excluded.stage, state_json = excluded.state_json`,
		checkpoint.Id, checkpoint.RunId, checkpoint.SessionId, checkpoint.BranchId,
		checkpoint.CheckpointIndex, checkpoint.Stage, string(state), checkpoint.CreatedAt)
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) LatestForRun(runId string) (*model.RunCheckpoint, error) {
	row := s.db.QueryRow(`SELECT id, run_id, session_id, branch_id, checkpoint_index, stage, state_json, created_at
		FROM run_checkpoints WHERE run_id = ? ORDER BY checkpoint_index DESC LIMIT 1`, runId)
	cp, err := scanCheckpoint(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

func (s *Storage) ListForRun(runId string, sinceIndex int) ([]*model.RunCheckpoint, error) {
	rows, err := s.db.Query(`SELECT id, run_id, session_id, branch_id, checkpoint_index, stage, state_json, created_at
		FROM run_checkpoints WHERE run_id = ? AND checkpoint_index > ? ORDER BY checkpoint_index`, runId, sinceIndex)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	out := make([]*model.RunCheckpoint, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			logger.Error("skipping malformed checkpoint row", zap.String("runId", runId), zap.Error(err))
			continue
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func scanCheckpoint(scan func(...any) error) (*model.RunCheckpoint, error) {
	var cp model.RunCheckpoint
	var state string
	if err := scan(&cp.Id, &cp.RunId, &cp.SessionId, &cp.BranchId, &cp.CheckpointIndex, &cp.Stage, &state, &cp.CreatedAt); err != nil {
		return nil, err
	}
	if len(state) > 0 {
		if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}

func (s *Storage) DeleteForRun(runId string) error {
	if _, err := s.db.Exec(`DELETE FROM run_checkpoints WHERE run_id = ?`, runId); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if _, err := s.db.Exec(`DELETE FROM workflow_events WHERE run_id = ?`, runId); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) AppendEvent(event *model.WorkflowEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO workflow_events(id, run_id, ts, type, payload_json) VALUES(?, ?, ?, ?, ?)`,
		event.Id, event.RunId, event.Ts, string(event.Type), string(payload))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListEvents(runId string, since time.Time) ([]*model.WorkflowEvent, error) {
	rows, err := s.db.Query(`SELECT id, run_id, ts, type, payload_json FROM workflow_events
		WHERE run_id = ? AND ts >= ? ORDER BY ts, id`, runId, since)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	out := make([]*model.WorkflowEvent, 0)
	for rows.Next() {
		var ev model.WorkflowEvent
		var evType, payload string
		if err := rows.Scan(&ev.Id, &ev.RunId, &ev.Ts, &evType, &payload); err != nil {
			logger.Error("skipping malformed event row", zap.String("runId", runId), zap.Error(err))
			continue
		}
		ev.Type = model.EventType(evType)
		if len(payload) > 0 {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				logger.Error("skipping malformed event payload", zap.String("runId", runId), zap.Error(err))
				continue
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *Storage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO workflow_definitions(name, definition_json) VALUES(?, ?)
		ON CONFLICT(name) DO UPDATE SET definition_json = excluded.definition_json`, wf.Name, string(data))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	var data string
	err := s.db.QueryRow(`SELECT definition_json FROM workflow_definitions WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, persistence.NotFoundError{Kind: "workflow", Id: name}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	var wf model.WorkflowDefinition
	if err := json.Unmarshal([]byte(data), &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func (s *Storage) DeleteWorkflowDefinition(name string) error {
	if _, err := s.db.Exec(`DELETE FROM workflow_definitions WHERE name = ?`, name); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) SaveTriggerCandidates(workflowId string, candidates []trigger.Candidate) error {
	data, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO trigger_candidates(workflow_id, candidates_json) VALUES(?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET candidates_json = excluded.candidates_json`, workflowId, string(data))
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListTriggerCandidates() ([]trigger.Candidate, error) {
	rows, err := s.db.Query(`SELECT workflow_id, candidates_json FROM trigger_candidates ORDER BY workflow_id`)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	out := make([]trigger.Candidate, 0)
	for rows.Next() {
		var workflowId, data string
		if err := rows.Scan(&workflowId, &data); err != nil {
			logger.Error("skipping unreadable trigger candidates row", zap.Error(err))
			continue
		}
		var candidates []trigger.Candidate
		if err := json.Unmarshal([]byte(data), &candidates); err != nil {
			logger.Error("skipping malformed trigger candidates", zap.String("workflowId", workflowId), zap.Error(err))
			continue
		}
		out = append(out, candidates...)
	}
	return out, rows.Err()
}

func (s *Storage) DeleteTriggerCandidates(workflowId string) error {
	if _, err := s.db.Exec(`DELETE FROM trigger_candidates WHERE workflow_id = ?`, workflowId); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
