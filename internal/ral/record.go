package ral

import (
	"fmt"
	"strings"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type Status string

const (
	StatusExecuting Status = "executing"
	StatusPaused    Status = "paused"
	StatusDone      Status = "done"
)

// Key identifies one reasoning-action loop instance. Instance is a
// per-(agent, conversation) monotonically increasing counter so nested or
// re-entrant loops for the same pair never collide.
type Key struct {
	AgentID        string `json:"agent_id"`
	ConversationID string `json:"conversation_id"`
	Instance       int64  `json:"instance"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.AgentID, k.ConversationID, k.Instance)
}

type PendingDelegation struct {
	EventID        string               `json:"event_id"`
	RecipientID    string               `json:"recipient_id"`
	RecipientLabel string               `json:"recipient_label,omitempty"`
	Request        string               `json:"request"`
	Kind           types.DelegationKind `json:"kind"`
	Choices        []string             `json:"choices,omitempty"`
	BatchID        string               `json:"batch_id,omitempty"`
}

type CompletedDelegation struct {
	EventID         string    `json:"event_id"`
	RecipientID     string    `json:"recipient_id"`
	RecipientLabel  string    `json:"recipient_label,omitempty"`
	Response        string    `json:"response"`
	ResponseEventID string    `json:"response_event_id,omitempty"`
	BatchID         string    `json:"batch_id,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

type InjectionKind string

const (
	InjectionKindUser   InjectionKind = "user"
	InjectionKindSystem InjectionKind = "system"
)

type QueuedInjection struct {
	ID            string        `json:"id"`
	Kind          InjectionKind `json:"kind"`
	Content       string        `json:"content"`
	SourceEventID string        `json:"source_event_id,omitempty"`
	QueuedAt      time.Time     `json:"queued_at"`
}

type Record struct {
	Key                    Key
	Status                 Status
	Messages               []types.Message
	Pending                map[string]PendingDelegation
	Completed              []CompletedDelegation
	Queue                  []QueuedInjection
	CurrentAction          string
	CurrentActionStartedAt time.Time
	CreatedAt              time.Time
	LastActivityAt         time.Time
}

// AwaitingAnswer reports whether the record is paused on something other
// than a work delegation: either an explicit suspend with no pending
// entries, or a pause whose pending entries are all questions to a human.
// A new inbound message for such a record resumes it directly with the
// message as the answer.
func (r Record) AwaitingAnswer() bool {
	if r.Status != StatusPaused {
		return false
	}
	if len(r.Pending) == 0 {
		return true
	}
	for _, pd := range r.Pending {
		if pd.Kind != types.DelegationKindHumanQuestion {
			return false
		}
	}
	return true
}

// AnswerPending returns the pending human question to complete when an
// answer arrives, if there is one.
func (r Record) AnswerPending() (PendingDelegation, bool) {
	for _, pd := range r.Pending {
		if pd.Kind == types.DelegationKindHumanQuestion {
			return pd, true
		}
	}
	return PendingDelegation{}, false
}

// LastResponseFrom returns the most recent completed delegation answered by
// the given recipient; follow-up requests are addressed this way.
func (r Record) LastResponseFrom(recipientID string) (CompletedDelegation, bool) {
	for i := len(r.Completed) - 1; i >= 0; i-- {
		if r.Completed[i].RecipientID == recipientID {
			return r.Completed[i], true
		}
	}
	return CompletedDelegation{}, false
}

// HasQueued reports whether an injection with the given id is still queued.
func (r Record) HasQueued(injectionID string) bool {
	for _, inj := range r.Queue {
		if inj.ID == injectionID {
			return true
		}
	}
	return false
}

const summaryMessageTail = 3

// Summary renders a short human-readable description of the record for the
// interjection prompt: which action is running, since when, and a tail of
// the transcript.
func (r Record) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agent %s conversation %s status %s", r.Key.AgentID, r.Key.ConversationID, r.Status)
	if r.CurrentAction != "" {
		fmt.Fprintf(&b, "; running %s for %s", r.CurrentAction, time.Since(r.CurrentActionStartedAt).Round(time.Second))
	}
	if len(r.Pending) > 0 {
		fmt.Fprintf(&b, "; waiting on %d delegation(s)", len(r.Pending))
	}
	tail := r.Messages
	if len(tail) > summaryMessageTail {
		tail = tail[len(tail)-summaryMessageTail:]
	}
	for _, msg := range tail {
		content := msg.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		fmt.Fprintf(&b, "\n%s: %s", msg.Role, content)
	}
	return b.String()
}

func (r Record) clone() Record {
	out := r
	out.Messages = append([]types.Message(nil), r.Messages...)
	out.Completed = append([]CompletedDelegation(nil), r.Completed...)
	out.Queue = append([]QueuedInjection(nil), r.Queue...)
	out.Pending = make(map[string]PendingDelegation, len(r.Pending))
	for id, pd := range r.Pending {
		out.Pending[id] = pd
	}
	return out
}
