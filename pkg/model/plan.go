package model

import "google.golang.org/genai"

// ToolCall is a tool invocation requested by the planner
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolExchange pairs a tool call with the response it produced
type ToolExchange struct {
	Call     *ToolCall      `json:"call"`
	Response map[string]any `json:"response"`

	// Forced is set when the orchestrator invoked the tool on its own
	Forced bool `json:"forced,omitempty"`
}

// PlanInput is everything the planner sees for one planning round
type PlanInput struct {
	Instructions string
	History      []*Turn
	Utterance    string
	Tools        []*genai.FunctionDeclaration
	Exchanges    []*ToolExchange
}

// Proposal is the planner's answer: tool calls to run, or a final reply when
// Calls is empty.
type Proposal struct {
	Calls []*ToolCall
	Text  string
}

// IsFinal reports whether the proposal is a final reply
func (p *Proposal) IsFinal() bool {
	return len(p.Calls) == 0
}
