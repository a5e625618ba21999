// Package model defines the language-model invocation boundary. The model
// call is an opaque function from messages to a response; the orchestrator
// only inspects the finish reason and the action results.
package model

import (
	"context"
	"encoding/json"

	"github.com/tenex-chat/tenex-sub006/internal/actions"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type Runner interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

type ActionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type RunRequest struct {
	AgentID        string             `json:"agent_id"`
	ConversationID string             `json:"conversation_id"`
	SystemPrompt   string             `json:"system_prompt,omitempty"`
	Messages       []types.Message    `json:"messages"`
	Actions        []ActionDefinition `json:"actions,omitempty"`
}

type FinishReason string

const (
	FinishReasonEndTurn    FinishReason = "end_turn"
	FinishReasonStopSignal FinishReason = "stop_signal"
	FinishReasonMaxTokens  FinishReason = "max_tokens"
)

// ActionCall is one action invocation requested by the model. The host
// never executes delegation actions itself; they come back as calls for
// the orchestrator to run against its own state.
type ActionCall struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type RunResult struct {
	FinishReason FinishReason     `json:"finish_reason"`
	NewMessages  []types.Message  `json:"new_messages,omitempty"`
	Calls        []ActionCall     `json:"calls,omitempty"`
	Results      []actions.Result `json:"results,omitempty"`
}

// FirstStop returns the first stop signal among the action results, if
// any. Results after the stop signal are never executed.
func (r RunResult) FirstStop() (actions.Result, bool) {
	for _, res := range r.Results {
		if res.IsStop() {
			return res, true
		}
	}
	return actions.Result{}, false
}
