package publish

import (
	"context"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// Origin identifies the loop on whose behalf an event is published.
type Origin struct {
	AgentID        string
	ConversationID string
	TraceID        string
}

// Delegation is one outbound delegation request. EventID is pre-allocated
// by the batch registry for fork members; the publisher mints one when it
// is empty.
type Delegation struct {
	EventID         string
	RecipientID     string
	RecipientLabel  string
	Request         string
	Kind            types.DelegationKind
	BatchID         string
	SiblingEventIDs []string
	WorkspacePath   string
}

// Publisher is the outbound half of the messaging substrate. Encoding,
// signing, and transport are collaborator concerns; the orchestration core
// only needs stable event ids back.
type Publisher interface {
	PublishDelegations(ctx context.Context, from Origin, delegations []Delegation) ([]string, error)
	PublishAnswerRequest(ctx context.Context, from Origin, question string, choices []string) (string, error)
	PublishFollowUp(ctx context.Context, from Origin, recipientID, request, previousResponseEventID string) (string, error)
	PublishAcknowledgment(ctx context.Context, from Origin, text, inReplyTo string) (string, error)
}
