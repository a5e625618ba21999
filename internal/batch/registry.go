package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/ids"
)

var ErrNotFound = errors.New("batch: not found")

// Batch groups sibling delegation events issued by a single fork action.
// The registry holds membership only; the delegation records themselves
// belong to the RAL store.
type Batch struct {
	BatchID            string    `json:"batch_id"`
	DelegatorAgentID   string    `json:"delegator_agent_id"`
	RootConversationID string    `json:"root_conversation_id"`
	MemberEventIDs     []string  `json:"member_event_ids"`
	CreatedAt          time.Time `json:"created_at"`
}

// Item is one fork target handed to CreateBatch.
type Item struct {
	RecipientID    string
	RecipientLabel string
	Request        string
}

// ItemPlan is the per-item metadata returned by CreateBatch: the event id
// to be signed and sent by the publisher, plus the item's sibling set.
type ItemPlan struct {
	EventID         string
	Item            Item
	SiblingEventIDs []string
}

type Registry interface {
	CreateBatch(ctx context.Context, delegatorAgentID, rootConversationID string, items []Item) (Batch, []ItemPlan, error)

	// IsJoinSatisfied reports whether every member of the batch appears in
	// the completed set. The second return is false when the batch is
	// unknown; callers treat unknown batches as ungrouped singles and
	// resume immediately (fail open).
	IsJoinSatisfied(ctx context.Context, batchID string, completed map[string]bool) (satisfied bool, known bool, err error)

	// Drop removes a join-satisfied batch; the RAL record keeps the
	// durable history.
	Drop(ctx context.Context, batchID string) error
}

type MemoryRegistry struct {
	mu      sync.Mutex
	batches map[string]Batch
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{batches: make(map[string]Batch)}
}

func (r *MemoryRegistry) CreateBatch(_ context.Context, delegatorAgentID, rootConversationID string, items []Item) (Batch, []ItemPlan, error) {
	if len(items) == 0 {
		return Batch{}, nil, errors.New("batch: at least one item is required")
	}

	members := make([]string, len(items))
	for i := range items {
		members[i] = ids.New()
	}

	plans := make([]ItemPlan, len(items))
	for i, item := range items {
		siblings := make([]string, 0, len(members)-1)
		for j, id := range members {
			if j != i {
				siblings = append(siblings, id)
			}
		}
		plans[i] = ItemPlan{EventID: members[i], Item: item, SiblingEventIDs: siblings}
	}

	b := Batch{
		BatchID:            ids.New(),
		DelegatorAgentID:   delegatorAgentID,
		RootConversationID: rootConversationID,
		MemberEventIDs:     members,
		CreatedAt:          time.Now().UTC(),
	}

	r.mu.Lock()
	r.batches[b.BatchID] = b
	r.mu.Unlock()
	return b, plans, nil
}

func (r *MemoryRegistry) IsJoinSatisfied(_ context.Context, batchID string, completed map[string]bool) (bool, bool, error) {
	r.mu.Lock()
	b, ok := r.batches[batchID]
	r.mu.Unlock()
	if !ok {
		return false, false, nil
	}
	for _, member := range b.MemberEventIDs {
		if !completed[member] {
			return false, true, nil
		}
	}
	return true, true, nil
}

func (r *MemoryRegistry) Drop(_ context.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batchID]; !ok {
		return ErrNotFound
	}
	delete(r.batches, batchID)
	return nil
}
