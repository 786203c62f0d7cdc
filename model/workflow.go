package model

type NodeType string

const NODE_TYPE_START NodeType = "start"
const NODE_TYPE_END NodeType = "end"
const NODE_TYPE_AGENT_STEP NodeType = "agent_step"
const NODE_TYPE_DECISION NodeType = "decision"
const NODE_TYPE_WAIT NodeType = "wait"

type EdgeCondition string

const EDGE_CONDITION_ALWAYS EdgeCondition = "always"
const EDGE_CONDITION_CUSTOM EdgeCondition = "custom"

type TriggerType string

const TRIGGER_TYPE_CHAT TriggerType = "chat"
const TRIGGER_TYPE_SCHEDULE TriggerType = "schedule"

type Node struct {
	Id     string         `json:"id"`
	Type   NodeType       `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

type Edge struct {
	Id         string        `json:"id"`
	From       string        `json:"from"`
	To         string        `json:"to"`
	Condition  EdgeCondition `json:"condition"`
	Expression string        `json:"expression,omitempty"`
}

type Trigger struct {
	Id          string      `json:"id"`
	Type        TriggerType `json:"type"`
	Phrases     []string    `json:"phrases,omitempty"`
	StrictMatch bool        `json:"strictMatch,omitempty"`
	Schedule    string      `json:"schedule,omitempty"`
	Enabled     bool        `json:"enabled"`
}

// WorkflowDefinition is immutable once compiled. Version is assigned by the
// metadata service on publish and increases monotonically per workflow name.
type WorkflowDefinition struct {
	Name     string    `json:"name"`
	Version  int       `json:"version"`
	Nodes    []Node    `json:"nodes"`
	Edges    []Edge    `json:"edges"`
	Triggers []Trigger `json:"triggers,omitempty"`
}

type PublishWorkflowRequest struct {
	Definition WorkflowDefinition `json:"definition"`
}

type RunWorkflowRequest struct {
	Name      string         `json:"name"`
	SessionId string         `json:"sessionId,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

type ChatMessageRequest struct {
	Message   string `json:"message"`
	SessionId string `json:"sessionId,omitempty"`
}
