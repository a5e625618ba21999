package types

type AgentMessageReceivedPayload struct {
	Text           string `json:"text"`
	SenderID       string `json:"sender_id,omitempty"`
	ReplyToEventID string `json:"reply_to_event_id,omitempty"`
}

type DelegationKind string

const (
	DelegationKindWork          DelegationKind = "work"
	DelegationKindFollowUp      DelegationKind = "follow_up"
	DelegationKindExternal      DelegationKind = "external"
	DelegationKindHumanQuestion DelegationKind = "human_question"
)

type DelegationRequestedPayload struct {
	Request         string         `json:"request"`
	Kind            DelegationKind `json:"kind"`
	RecipientID     string         `json:"recipient_id"`
	RecipientLabel  string         `json:"recipient_label,omitempty"`
	BatchID         string         `json:"batch_id,omitempty"`
	SiblingEventIDs []string       `json:"sibling_event_ids,omitempty"`
	WorkspacePath   string         `json:"workspace_path,omitempty"`
}

type DelegationCompletedPayload struct {
	Response        string `json:"response"`
	ResponseEventID string `json:"response_event_id,omitempty"`
	RecipientID     string `json:"recipient_id,omitempty"`
}

// DelegationActionPayload describes one sub-action performed by a delegation
// recipient while working; consumed by the pairing supervisor.
type DelegationActionPayload struct {
	ActionName string `json:"action_name"`
	Summary    string `json:"summary,omitempty"`
}

type AnswerRequestedPayload struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
}

type FollowUpRequestedPayload struct {
	Request                 string `json:"request"`
	PreviousResponseEventID string `json:"previous_response_event_id,omitempty"`
}

type AcknowledgmentCreatedPayload struct {
	Text      string `json:"text"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}

type LoopPausedPayload struct {
	PendingCount int `json:"pending_count"`
}

type LoopCheckpointPayload struct {
	CheckpointNumber int `json:"checkpoint_number"`
	ActionCount      int `json:"action_count"`
}

type LoopFailedPayload struct {
	Error string `json:"error"`
}
