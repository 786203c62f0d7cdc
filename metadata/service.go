package metadata

import (
	"time"

	"github.com/flowmason/flowmason/compiler"
	"github.com/flowmason/flowmason/logger"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence"
	"github.com/flowmason/flowmason/trigger"
	c "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// Service owns workflow definitions: publishing with monotonic versioning,
// compiled graph caching and trigger candidate derivation.
type Service struct {
	storage persistence.MetadataStorage
	cache   *c.Cache
}

func NewService(storage persistence.MetadataStorage) *Service {
	return &Service{
		storage: storage,
		cache:   c.New(c.NoExpiration, 10*time.Minute),
	}
}

// Publish validates the definition, assigns the next version and rebuilds
// the workflow's trigger candidates. Invalid definitions are rejected before
// anything is stored. The returned report carries warnings even on success.
func (s *Service) Publish(def model.WorkflowDefinition) (*compiler.ValidationReport, error) {
	report := compiler.Validate(&def)
	if !report.Valid() {
		return &report, &compiler.ValidationError{Workflow: def.Name, Report: report}
	}
	version := 1
	if existing, err := s.storage.GetWorkflowDefinition(def.Name); err == nil {
		version = existing.Version + 1
	}
	def.Version = version
	if err := s.storage.SaveWorkflowDefinition(def); err != nil {
		return &report, err
	}
	if err := s.storage.SaveTriggerCandidates(def.Name, deriveCandidates(def)); err != nil {
		return &report, err
	}
	s.cache.Delete(def.Name)
	logger.Info("workflow published", zap.String("name", def.Name), zap.Int("version", version),
		zap.Strings("warnings", report.Warnings))
	return &report, nil
}

func (s *Service) Get(name string) (*model.WorkflowDefinition, error) {
	return s.storage.GetWorkflowDefinition(name)
}

func (s *Service) Delete(name string) error {
	if err := s.storage.DeleteTriggerCandidates(name); err != nil {
		return err
	}
	s.cache.Delete(name)
	return s.storage.DeleteWorkflowDefinition(name)
}

// GetCompiled returns the cached executable graph for the current published
// version, compiling on miss.
func (s *Service) GetCompiled(name string) (*compiler.CompiledWorkflow, error) {
	if cached, found := s.cache.Get(name); found {
		return cached.(*compiler.CompiledWorkflow), nil
	}
	def, err := s.storage.GetWorkflowDefinition(name)
	if err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(def)
	if err != nil {
		return nil, err
	}
	s.cache.Set(name, compiled, c.NoExpiration)
	return compiled, nil
}

func (s *Service) ListTriggerCandidates() ([]trigger.Candidate, error) {
	return s.storage.ListTriggerCandidates()
}

// deriveCandidates builds the chat trigger candidates for a published
// version. Schedule triggers are owned by the external scheduler and carry
// no phrases.
func deriveCandidates(def model.WorkflowDefinition) []trigger.Candidate {
	candidates := make([]trigger.Candidate, 0, len(def.Triggers))
	for _, t := range def.Triggers {
		if t.Type != model.TRIGGER_TYPE_CHAT {
			continue
		}
		candidates = append(candidates, trigger.Candidate{
			WorkflowId:      def.Name,
			WorkflowVersion: def.Version,
			TriggerId:       t.Id,
			Phrases:         t.Phrases,
			StrictMatch:     t.StrictMatch,
			Enabled:         t.Enabled,
		})
	}
	return candidates
}
