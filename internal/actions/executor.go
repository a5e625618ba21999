package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenex-chat/tenex-sub006/internal/ral"
)

// Call is one action invocation to execute on behalf of a loop.
type Call struct {
	Name  string
	Input json.RawMessage
}

const (
	ActionDelegate         = "delegate"
	ActionDelegateExternal = "delegate_external"
	ActionAsk              = "ask"
	ActionFollowUp         = "follow_up"
)

type delegateInput struct {
	Targets []struct {
		RecipientID    string `json:"recipient_id"`
		RecipientLabel string `json:"recipient_label,omitempty"`
		Request        string `json:"request"`
	} `json:"targets"`
	IsolatedWorkspace bool `json:"isolated_workspace,omitempty"`
	Supervise         bool `json:"supervise,omitempty"`
	SuperviseInterval int  `json:"supervise_interval,omitempty"`
}

type externalInput struct {
	RecipientID    string `json:"recipient_id"`
	RecipientLabel string `json:"recipient_label,omitempty"`
	Request        string `json:"request"`
}

type askInput struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
}

type followUpInput struct {
	RecipientID string `json:"recipient_id"`
	Request     string `json:"request"`
}

// Executor dispatches model-requested action calls to the delegator.
type Executor struct {
	delegator *Delegator
}

func NewExecutor(delegator *Delegator) *Executor {
	return &Executor{delegator: delegator}
}

// Execute runs one call for the given caller. An unknown action name or a
// malformed input is returned to the loop as a message result rather than
// an error; the model can read it and try again.
func (e *Executor) Execute(ctx context.Context, rec ral.Record, traceID string, call Call) (Result, error) {
	caller := Caller{Record: rec, TraceID: traceID}

	switch call.Name {
	case ActionDelegate:
		var in delegateInput
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return MessageResult(fmt.Sprintf("delegate: invalid input: %v", err)), nil
		}
		targets := make([]Target, len(in.Targets))
		for i, t := range in.Targets {
			targets[i] = Target{RecipientID: t.RecipientID, RecipientLabel: t.RecipientLabel, Request: t.Request}
		}
		return e.delegator.Delegate(ctx, caller, targets, DelegateOptions{
			IsolatedWorkspace: in.IsolatedWorkspace,
			Supervise:         in.Supervise,
			SuperviseInterval: in.SuperviseInterval,
		})

	case ActionDelegateExternal:
		var in externalInput
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return MessageResult(fmt.Sprintf("delegate_external: invalid input: %v", err)), nil
		}
		return e.delegator.DelegateExternal(ctx, caller, Target{
			RecipientID:    in.RecipientID,
			RecipientLabel: in.RecipientLabel,
			Request:        in.Request,
		})

	case ActionAsk:
		var in askInput
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return MessageResult(fmt.Sprintf("ask: invalid input: %v", err)), nil
		}
		return e.delegator.Ask(ctx, caller, in.Question, in.Choices)

	case ActionFollowUp:
		var in followUpInput
		if err := json.Unmarshal(call.Input, &in); err != nil {
			return MessageResult(fmt.Sprintf("follow_up: invalid input: %v", err)), nil
		}
		result, err := e.delegator.FollowUp(ctx, caller, in.RecipientID, in.Request)
		if err != nil {
			return MessageResult(fmt.Sprintf("follow_up: %v", err)), nil
		}
		return result, nil

	default:
		return MessageResult(fmt.Sprintf("unknown action %q", call.Name)), nil
	}
}
