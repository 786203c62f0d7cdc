package metadata

import (
	"testing"

	"github.com/flowmason/flowmason/compiler"
	"github.com/flowmason/flowmason/model"
	"github.com/flowmason/flowmason/persistence/inmem"
	"github.com/stretchr/testify/require"
)

func validDefinition(name string) model.WorkflowDefinition {
	return model.WorkflowDefinition{
		Name: name,
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_START},
			{Id: "end", Type: model.NODE_TYPE_END},
		},
		Edges: []model.Edge{
			{Id: "e1", From: "start", To: "end", Condition: model.EDGE_CONDITION_ALWAYS},
		},
		Triggers: []model.Trigger{
			{Id: "t1", Type: model.TRIGGER_TYPE_CHAT, Phrases: []string{"run it"}, Enabled: true},
			{Id: "t2", Type: model.TRIGGER_TYPE_SCHEDULE, Schedule: "0 * * * *", Enabled: true},
		},
	}
}

func TestPublishAssignsMonotonicVersions(t *testing.T) {
	service := NewService(inmem.NewStorage())

	report, err := service.Publish(validDefinition("wf"))
	require.NoError(t, err)
	require.True(t, report.Valid())

	_, err = service.Publish(validDefinition("wf"))
	require.NoError(t, err)

	def, err := service.Get("wf")
	require.NoError(t, err)
	require.Equal(t, 2, def.Version)
}

func TestPublishRejectsInvalidDefinition(t *testing.T) {
	store := inmem.NewStorage()
	service := NewService(store)
	def := validDefinition("wf")
	def.Edges = append(def.Edges, model.Edge{Id: "e2", From: "start", To: "ghost", Condition: model.EDGE_CONDITION_ALWAYS})

	report, err := service.Publish(def)
	var validationErr *compiler.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.False(t, report.Valid())

	// nothing was stored
	_, err = service.Get("wf")
	require.Error(t, err)
	candidates, err := service.ListTriggerCandidates()
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestPublishDerivesChatCandidatesOnly(t *testing.T) {
	service := NewService(inmem.NewStorage())
	_, err := service.Publish(validDefinition("wf"))
	require.NoError(t, err)

	candidates, err := service.ListTriggerCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "t1", candidates[0].TriggerId)
	require.Equal(t, "wf", candidates[0].WorkflowId)
	require.Equal(t, 1, candidates[0].WorkflowVersion)
	require.Equal(t, []string{"run it"}, candidates[0].Phrases)
}

func TestRepublishReplacesCandidates(t *testing.T) {
	service := NewService(inmem.NewStorage())
	_, err := service.Publish(validDefinition("wf"))
	require.NoError(t, err)

	next := validDefinition("wf")
	next.Triggers = []model.Trigger{
		{Id: "t9", Type: model.TRIGGER_TYPE_CHAT, Phrases: []string{"go again"}, Enabled: true},
	}
	_, err = service.Publish(next)
	require.NoError(t, err)

	candidates, err := service.ListTriggerCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "t9", candidates[0].TriggerId)
	require.Equal(t, 2, candidates[0].WorkflowVersion)
}

func TestGetCompiledCachesUntilRepublish(t *testing.T) {
	service := NewService(inmem.NewStorage())
	_, err := service.Publish(validDefinition("wf"))
	require.NoError(t, err)

	first, err := service.GetCompiled("wf")
	require.NoError(t, err)
	again, err := service.GetCompiled("wf")
	require.NoError(t, err)
	require.Same(t, first, again)

	_, err = service.Publish(validDefinition("wf"))
	require.NoError(t, err)
	recompiled, err := service.GetCompiled("wf")
	require.NoError(t, err)
	require.NotSame(t, first, recompiled)
	require.Equal(t, 2, recompiled.Version)
}

func TestDeleteRemovesDefinitionAndCandidates(t *testing.T) {
	service := NewService(inmem.NewStorage())
	_, err := service.Publish(validDefinition("wf"))
	require.NoError(t, err)

	require.NoError(t, service.Delete("wf"))
	_, err = service.Get("wf")
	require.Error(t, err)
	_, err = service.GetCompiled("wf")
	require.Error(t, err)
	candidates, err := service.ListTriggerCandidates()
	require.NoError(t, err)
	require.Empty(t, candidates)
}
