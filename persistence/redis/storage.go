package redis

import (
	"context"
	"sort"
	"time"

	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/trigger"
	"github.com/flowmason/flowmason/util"
	rd "github.com/go-redis/redis/v9"
	"go.uber.org/zap"
)

const RUN_KEY string = "RUN"
const CHECKPOINT_KEY string = "CP"
const EVENT_KEY string = "EV"
const METADATA_KEY string = "METADATA"
const TRIGGER_KEY string = "TRIGGERS"

// Storage is the redis backed store. Runs live in one hash, checkpoints in a
// per run hash keyed by checkpoint id, events in a per run list so append
// order is retrieval order.
type Storage struct {
	baseDao
	runEncDec        util.EncoderDecoder[model.RunRecord]
	checkpointEncDec util.EncoderDecoder[model.RunCheckpoint]
	eventEncDec      util.EncoderDecoder[model.WorkflowEvent]
	definitionEncDec util.EncoderDecoder[model.WorkflowDefinition]
	candidatesEncDec util.EncoderDecoder[[]trigger.Candidate]
}

var _ persistence.RunDao = new(Storage)
var _ persistence.CheckpointDao = new(Storage)
var _ persistence.EventDao = new(Storage)
var _ persistence.MetadataStorage = new(Storage)

func NewStorage(conf Config) *Storage {
	return &Storage{
		baseDao:          *newBaseDao(conf),
		runEncDec:        util.NewJsonEncoderDecoder[model.RunRecord](),
		checkpointEncDec: util.NewJsonEncoderDecoder[model.RunCheckpoint](),
		eventEncDec:      util.NewJsonEncoderDecoder[model.WorkflowEvent](),
		definitionEncDec: util.NewJsonEncoderDecoder[model.WorkflowDefinition](),
		candidatesEncDec: util.NewJsonEncoderDecoder[[]trigger.Candidate](),
	}
}

func (s *Storage) SaveRun(run *model.RunRecord) error {
	key := s.getNamespaceKey(RUN_KEY)
	data, err := s.runEncDec.Encode(*run)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(context.Background(), key, run.RunId, string(data)).Err(); err != nil {
		logger.Error("error saving run", zap.String("runId", run.RunId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetRun(runId string) (*model.RunRecord, error) {
	key := s.getNamespaceKey(RUN_KEY)
	str, err := s.redisClient.HGet(context.Background(), key, runId).Result()
	if err == rd.Nil {
		return nil, persistence.NotFoundError{Kind: "run", Id: runId}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.runEncDec.Decode([]byte(str))
}

func (s *Storage) ListRuns() ([]*model.RunRecord, error) {
	key := s.getNamespaceKey(RUN_KEY)
	rows, err := s.redisClient.HGetAll(context.Background(), key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.RunRecord, 0, len(rows))
	for runId, str := range rows {
		run, err := s.runEncDec.Decode([]byte(str))
		if err != nil {
			logger.Error("skipping malformed run row", zap.String("runId", runId), zap.Error(err))
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunId < out[j].RunId })
	return out, nil
}

func (s *Storage) DeleteRun(runId string) error {
	key := s.getNamespaceKey(RUN_KEY)
	if err := s.redisClient.HDel(context.Background(), key, runId).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) UpsertCheckpoint(checkpoint *model.RunCheckpoint) error {
	key := s.getNamespaceKey(CHECKPOINT_KEY, checkpoint.RunId)
	data, err := s.checkpointEncDec.Encode(*checkpoint)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(context.Background(), key, checkpoint.Id, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) LatestForRun(runId string) (*model.RunCheckpoint, error) {
	checkpoints, err := s.ListForRun(runId, -1)
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 {
		return nil, nil
	}
	return checkpoints[len(checkpoints)-1], nil
}

func (s *Storage) ListForRun(runId string, sinceIndex int) ([]*model.RunCheckpoint, error) {
	key := s.getNamespaceKey(CHECKPOINT_KEY, runId)
	rows, err := s.redisClient.HGetAll(context.Background(), key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.RunCheckpoint, 0, len(rows))
	for id, str := range rows {
		cp, err := s.checkpointEncDec.Decode([]byte(str))
		if err != nil {
			logger.Error("skipping malformed checkpoint row", zap.String("runId", runId), zap.String("id", id), zap.Error(err))
			continue
		}
		if cp.CheckpointIndex > sinceIndex {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckpointIndex < out[j].CheckpointIndex })
	return out, nil
}

func (s *Storage) DeleteForRun(runId string) error {
	ctx := context.Background()
	if err := s.redisClient.Del(ctx, s.getNamespaceKey(CHECKPOINT_KEY, runId)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if err := s.redisClient.Del(ctx, s.getNamespaceKey(EVENT_KEY, runId)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) AppendEvent(event *model.WorkflowEvent) error {
	key := s.getNamespaceKey(EVENT_KEY, event.RunId)
	data, err := s.eventEncDec.Encode(*event)
	if err != nil {
		return err
	}
	if err := s.redisClient.RPush(context.Background(), key, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListEvents(runId string, since time.Time) ([]*model.WorkflowEvent, error) {
	key := s.getNamespaceKey(EVENT_KEY, runId)
	rows, err := s.redisClient.LRange(context.Background(), key, 0, -1).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.WorkflowEvent, 0, len(rows))
	for _, str := range rows {
		ev, err := s.eventEncDec.Decode([]byte(str))
		if err != nil {
			logger.Error("skipping malformed event row", zap.String("runId", runId), zap.Error(err))
			continue
		}
		if !since.IsZero() && ev.Ts.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *Storage) SaveWorkflowDefinition(wf model.WorkflowDefinition) error {
	key := s.getNamespaceKey(METADATA_KEY)
	data, err := s.definitionEncDec.Encode(wf)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(context.Background(), key, wf.Name, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) GetWorkflowDefinition(name string) (*model.WorkflowDefinition, error) {
	key := s.getNamespaceKey(METADATA_KEY)
	str, err := s.redisClient.HGet(context.Background(), key, name).Result()
	if err == rd.Nil {
		return nil, persistence.NotFoundError{Kind: "workflow", Id: name}
	}
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.definitionEncDec.Decode([]byte(str))
}

func (s *Storage) DeleteWorkflowDefinition(name string) error {
	key := s.getNamespaceKey(METADATA_KEY)
	if err := s.redisClient.HDel(context.Background(), key, name).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) SaveTriggerCandidates(workflowId string, candidates []trigger.Candidate) error {
	key := s.getNamespaceKey(TRIGGER_KEY)
	data, err := s.candidatesEncDec.Encode(candidates)
	if err != nil {
		return err
	}
	if err := s.redisClient.HSet(context.Background(), key, workflowId, string(data)).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *Storage) ListTriggerCandidates() ([]trigger.Candidate, error) {
	key := s.getNamespaceKey(TRIGGER_KEY)
	rows, err := s.redisClient.HGetAll(context.Background(), key).Result()
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]trigger.Candidate, 0)
	for _, id := range ids {
		candidates, err := s.candidatesEncDec.Decode([]byte(rows[id]))
		if err != nil {
			logger.Error("skipping malformed trigger candidates", zap.String("workflowId", id), zap.Error(err))
			continue
		}
		out = append(out, *candidates...)
	}
	return out, nil
}

func (s *Storage) DeleteTriggerCandidates(workflowId string) error {
	key := s.getNamespaceKey(TRIGGER_KEY)
	if err := s.redisClient.HDel(context.Background(), key, workflowId).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
