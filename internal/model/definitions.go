package model

import (
	"encoding/json"

	"github.com/tenex-chat/tenex-sub006/internal/actions"
)

// DefaultActionDefinitions advertises the delegation actions to the model
// host. The schemas mirror the executor's input structs.
func DefaultActionDefinitions() []ActionDefinition {
	return []ActionDefinition{
		{
			Name:        actions.ActionDelegate,
			Description: "Hand work to one or more agents and wait for all of them to report back.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"targets": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"recipient_id": {"type": "string"},
								"recipient_label": {"type": "string"},
								"request": {"type": "string"}
							},
							"required": ["recipient_id", "request"]
						},
						"minItems": 1
					},
					"isolated_workspace": {"type": "boolean"},
					"supervise": {"type": "boolean"},
					"supervise_interval": {"type": "integer"}
				},
				"required": ["targets"]
			}`),
		},
		{
			Name:        actions.ActionDelegateExternal,
			Description: "Hand work to a recipient outside the local agent pool.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"recipient_id": {"type": "string"},
					"recipient_label": {"type": "string"},
					"request": {"type": "string"}
				},
				"required": ["recipient_id", "request"]
			}`),
		},
		{
			Name:        actions.ActionAsk,
			Description: "Ask the human a question and wait for the answer.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"question": {"type": "string"},
					"choices": {"type": "array", "items": {"type": "string"}}
				},
				"required": ["question"]
			}`),
		},
		{
			Name:        actions.ActionFollowUp,
			Description: "Send a follow-up request to an agent that already completed a delegation in this conversation.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"recipient_id": {"type": "string"},
					"request": {"type": "string"}
				},
				"required": ["recipient_id", "request"]
			}`),
		},
	}
}
