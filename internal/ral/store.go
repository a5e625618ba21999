package ral

import (
	"context"
	"errors"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// ErrNotFound is returned by every operation addressing a record (or a
// delegation id) the store does not know. Callers treat it as "no active
// loop": completions legitimately race with a loop's natural termination.
var ErrNotFound = errors.New("ral: record not found")

// Store holds one mutable execution record per (agent, conversation,
// instance) triple. All mutations on a record are serialized internally;
// RecordCompletion from a completion handler and Pause/DrainQueue from an
// active loop can race.
type Store interface {
	// Create allocates a fresh executing record with the next instance
	// number for the pair and marks it as the pair's active record.
	Create(ctx context.Context, agentID, conversationID string) (Record, error)

	Get(ctx context.Context, key Key) (Record, error)

	// Latest returns the active record for the pair.
	Latest(ctx context.Context, agentID, conversationID string) (Record, error)

	// Pause sets status=paused, replaces the transcript and pending set,
	// and registers each pending delegation's event id in the reverse
	// index for O(1) completion lookup.
	Pause(ctx context.Context, key Key, messages []types.Message, pending []PendingDelegation) error

	// SetExecuting flips a paused record back to executing for a resume run.
	SetExecuting(ctx context.Context, key Key) error

	// RecordCompletion moves the matching pending delegation into the
	// completed list. The returned bool reports whether the owning batch
	// has no remaining pending siblings on this record.
	RecordCompletion(ctx context.Context, completed CompletedDelegation) (Record, PendingDelegation, bool, error)

	// Enqueue appends a queued injection to the pair's active record and
	// returns the updated record for the interjector to watch.
	Enqueue(ctx context.Context, agentID, conversationID string, inj QueuedInjection) (Record, error)

	// DrainQueue atomically returns and clears all queued injections.
	DrainQueue(ctx context.Context, key Key) ([]QueuedInjection, error)

	// SwapInjection replaces a still-queued user entry with a system note.
	// Returns false when the injection was already drained.
	SwapInjection(ctx context.Context, key Key, injectionID, note string) (bool, error)

	// SetCurrentAction records the in-flight action and returns a context
	// cancelled by CancelCurrentAction.
	SetCurrentAction(ctx context.Context, key Key, name string) (context.Context, error)
	ClearCurrentAction(ctx context.Context, key Key) error
	CancelCurrentAction(ctx context.Context, key Key) error

	// Finish deletes the record entirely; done records are not archived.
	Finish(ctx context.Context, key Key) error

	// Summarize renders a short status description of the pair's active
	// record for the interjection prompt.
	Summarize(ctx context.Context, agentID, conversationID string) (string, error)

	Close() error
}
