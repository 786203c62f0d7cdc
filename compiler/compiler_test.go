package compiler

import (
	"testing"

	"github.com/flowmason/flowmason/model"
	"github.com/stretchr/testify/require"
)

func simpleDefinition() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Name: "deploy",
		Nodes: []model.Node{
			{Id: "start", Type: model.NODE_TYPE_START},
			{Id: "A", Type: model.NODE_TYPE_AGENT_STEP},
			{Id: "end", Type: model.NODE_TYPE_END},
		},
		Edges: []model.Edge{
			{Id: "e1", From: "start", To: "A", Condition: model.EDGE_CONDITION_ALWAYS},
			{Id: "e2", From: "A", To: "end", Condition: model.EDGE_CONDITION_ALWAYS},
		},
		Triggers: []model.Trigger{
			{Id: "t1", Type: model.TRIGGER_TYPE_CHAT, Phrases: []string{"deploy"}, Enabled: true},
		},
	}
}

func TestCompileSimpleGraph(t *testing.T) {
	compiled, err := Compile(simpleDefinition())
	require.NoError(t, err)
	require.Equal(t, "start", compiled.StartNodeId)
	require.Len(t, compiled.Outgoing["start"], 1)
	require.Len(t, compiled.Outgoing["A"], 1)
	require.Empty(t, compiled.Outgoing["end"])
	require.Equal(t, 0, compiled.IncomingCount["start"])
	require.Equal(t, 1, compiled.IncomingCount["A"])
	require.Equal(t, 1, compiled.IncomingCount["end"])
}

func TestCompileIsDeterministic(t *testing.T) {
	def := simpleDefinition()
	first, err := Compile(def)
	require.NoError(t, err)
	second, err := Compile(def)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidateErrors(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"duplicate node id names the id": func(t *testing.T) {
			def := simpleDefinition()
			def.Nodes = append(def.Nodes, model.Node{Id: "A", Type: model.NODE_TYPE_AGENT_STEP})
			_, err := Compile(def)
			require.Error(t, err)
			validationErr, ok := err.(*ValidationError)
			require.True(t, ok)
			require.Contains(t, validationErr.Error(), `node id "A" is duplicate`)
		},
		"empty name": func(t *testing.T) {
			def := simpleDefinition()
			def.Name = "  "
			report := Validate(def)
			require.False(t, report.Valid())
		},
		"zero nodes": func(t *testing.T) {
			def := &model.WorkflowDefinition{Name: "empty"}
			report := Validate(def)
			require.False(t, report.Valid())
		},
		"edge references unknown node": func(t *testing.T) {
			def := simpleDefinition()
			def.Edges = append(def.Edges, model.Edge{Id: "e3", From: "A", To: "ghost", Condition: model.EDGE_CONDITION_ALWAYS})
			report := Validate(def)
			require.False(t, report.Valid())
			require.Contains(t, report.Errors[0], "ghost")
		},
		"custom edge without expression": func(t *testing.T) {
			def := simpleDefinition()
			def.Edges[0].Condition = model.EDGE_CONDITION_CUSTOM
			def.Edges[0].Expression = "   "
			report := Validate(def)
			require.False(t, report.Valid())
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestValidateWarningsDoNotBlock(t *testing.T) {
	def := simpleDefinition()
	def.Nodes = append(def.Nodes, model.Node{Id: "start2", Type: model.NODE_TYPE_START})
	def.Triggers = nil
	report := Validate(def)
	require.True(t, report.Valid())
	require.Len(t, report.Warnings, 2)

	compiled, err := Compile(def)
	require.NoError(t, err)
	// first declared start wins
	require.Equal(t, "start", compiled.StartNodeId)
}

func TestCompileWithoutStartNodeUsesFirstDeclared(t *testing.T) {
	def := &model.WorkflowDefinition{
		Name: "no-start",
		Nodes: []model.Node{
			{Id: "A", Type: model.NODE_TYPE_AGENT_STEP},
			{Id: "B", Type: model.NODE_TYPE_END},
		},
		Edges: []model.Edge{
			{Id: "e1", From: "A", To: "B", Condition: model.EDGE_CONDITION_ALWAYS},
		},
	}
	compiled, err := Compile(def)
	require.NoError(t, err)
	require.Equal(t, "A", compiled.StartNodeId)
}
