package compiler

import (
	"fmt"
	"strings"

	"github.com/flowmason/flowmason/model"
)

// ValidationReport collects everything wrong with a definition. Errors block
// compilation, warnings do not.
type ValidationReport struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationReport) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationReport) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationReport) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

type ValidationError struct {
	Workflow string
	Report   ValidationReport
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q is invalid: %s", e.Workflow, strings.Join(e.Report.Errors, "; "))
}

// CompiledWorkflow is the executable form of a definition. It is never
// mutated after compilation; a new definition version requires a fresh
// compilation.
type CompiledWorkflow struct {
	Name          string
	Version       int
	StartNodeId   string
	Nodes         map[string]model.Node
	Outgoing      map[string][]model.Edge
	IncomingCount map[string]int
}

func Validate(def *model.WorkflowDefinition) ValidationReport {
	var report ValidationReport
	if len(strings.TrimSpace(def.Name)) == 0 {
		report.addError("workflow name is empty")
	}
	if len(def.Nodes) == 0 {
		report.addError("workflow has no nodes")
	}
	seen := make(map[string]bool)
	startCount := 0
	endCount := 0
	for _, node := range def.Nodes {
		if seen[node.Id] {
			report.addError("node id %q is duplicate", node.Id)
		}
		seen[node.Id] = true
		switch node.Type {
		case model.NODE_TYPE_START:
			startCount++
		case model.NODE_TYPE_END:
			endCount++
		}
	}
	for _, edge := range def.Edges {
		if !seen[edge.From] {
			report.addError("edge %q references unknown node %q", edge.Id, edge.From)
		}
		if !seen[edge.To] {
			report.addError("edge %q references unknown node %q", edge.Id, edge.To)
		}
		if edge.Condition == model.EDGE_CONDITION_CUSTOM && len(strings.TrimSpace(edge.Expression)) == 0 {
			report.addError("custom edge %q has no expression", edge.Id)
		}
	}
	if startCount > 1 {
		report.addWarning("workflow has %d start nodes, first declared wins", startCount)
	}
	if endCount == 0 {
		report.addWarning("workflow has no end node")
	}
	if len(def.Triggers) == 0 {
		report.addWarning("workflow has no triggers")
	}
	return report
}

// Compile validates the definition and builds the adjacency maps. It is
// deterministic and side effect free; edge order within Outgoing follows
// declaration order, which the run machine relies on for first-match-wins.
func Compile(def *model.WorkflowDefinition) (*CompiledWorkflow, error) {
	report := Validate(def)
	if !report.Valid() {
		return nil, &ValidationError{Workflow: def.Name, Report: report}
	}
	compiled := &CompiledWorkflow{
		Name:          def.Name,
		Version:       def.Version,
		Nodes:         make(map[string]model.Node),
		Outgoing:      make(map[string][]model.Edge),
		IncomingCount: make(map[string]int),
	}
	for _, node := range def.Nodes {
		compiled.Nodes[node.Id] = node
		compiled.IncomingCount[node.Id] = 0
		if len(compiled.StartNodeId) == 0 && node.Type == model.NODE_TYPE_START {
			compiled.StartNodeId = node.Id
		}
	}
	if len(compiled.StartNodeId) == 0 {
		compiled.StartNodeId = def.Nodes[0].Id
	}
	for _, edge := range def.Edges {
		compiled.Outgoing[edge.From] = append(compiled.Outgoing[edge.From], edge)
		compiled.IncomingCount[edge.To] = compiled.IncomingCount[edge.To] + 1
	}
	return compiled, nil
}
