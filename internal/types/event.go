package types

import (
	"encoding/json"
	"time"
)

const VersionV1 = "v1"

type EventType string

const (
	EventTypeAgentMessageReceived  EventType = "agent.message.received"
	EventTypeDelegationRequested   EventType = "delegation.requested"
	EventTypeDelegationCompleted   EventType = "delegation.completed"
	EventTypeDelegationAction      EventType = "delegation.action"
	EventTypeAnswerRequested       EventType = "answer.requested"
	EventTypeFollowUpRequested     EventType = "followup.requested"
	EventTypeAcknowledgmentCreated EventType = "acknowledgment.created"
	EventTypeLoopResumed           EventType = "loop.resumed"
	EventTypeLoopPaused            EventType = "loop.paused"
	EventTypeLoopCheckpoint        EventType = "loop.checkpoint"
	EventTypeLoopFinished          EventType = "loop.finished"
	EventTypeLoopFailed            EventType = "loop.failed"
)

type ComponentType string

const (
	ComponentTypeOrchestrator ComponentType = "orchestrator"
	ComponentTypeRelay        ComponentType = "relay"
	ComponentTypeAgent        ComponentType = "agent"
)

type EventEnvelope struct {
	Version        string          `json:"version"`
	EventID        string          `json:"event_id"`
	TraceID        string          `json:"trace_id,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	EventType      EventType       `json:"event_type"`
	Source         EventSource     `json:"source"`
	Routing        EventRouting    `json:"routing"`
	Payload        json.RawMessage `json:"payload"`
	Meta           map[string]any  `json:"meta,omitempty"`
}

func (e EventEnvelope) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type EventSource struct {
	ComponentType ComponentType `json:"component_type"`
	ComponentID   string        `json:"component_id"`
	AgentID       string        `json:"agent_id,omitempty"`
}

type EventRouting struct {
	AgentID           string `json:"agent_id"`
	ConversationID    string `json:"conversation_id"`
	DelegationEventID string `json:"delegation_event_id,omitempty"`
	IsolationKey      string `json:"isolation_key,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation transcript. Transcripts are the
// unit of pause/resume state, so the type lives here rather than in the
// model package.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
