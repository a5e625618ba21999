package ral

import (
	"context"
	"errors"
	"testing"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

func TestMemoryStoreCreateAllocatesInstances(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	first, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create first record: %v", err)
	}
	if first.Key.Instance != 1 {
		t.Fatalf("expected instance 1, got %d", first.Key.Instance)
	}
	if first.Status != StatusExecuting {
		t.Fatalf("expected executing status, got %q", first.Status)
	}

	if err := store.Finish(ctx, first.Key); err != nil {
		t.Fatalf("finish first record: %v", err)
	}

	second, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create second record: %v", err)
	}
	if second.Key.Instance != 2 {
		t.Fatalf("expected instance 2 after finish, got %d", second.Key.Instance)
	}
}

func TestMemoryStoreFinishDeletesRecord(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if err := store.Finish(ctx, rec.Key); err != nil {
		t.Fatalf("finish record: %v", err)
	}

	if _, err := store.Get(ctx, rec.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after finish, got %v", err)
	}
	if _, err := store.Latest(ctx, "agent-a", "conv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active record after finish, got %v", err)
	}
}

func TestMemoryStoreCompletionJoin(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	pending := []PendingDelegation{
		{EventID: "d-1", RecipientID: "r-1", Kind: types.DelegationKindWork, BatchID: "b-1"},
		{EventID: "d-2", RecipientID: "r-2", Kind: types.DelegationKindWork, BatchID: "b-1"},
	}
	if err := store.Pause(ctx, rec.Key, nil, pending); err != nil {
		t.Fatalf("pause record: %v", err)
	}

	updated, pd, satisfied, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "d-1", Response: "first"})
	if err != nil {
		t.Fatalf("record first completion: %v", err)
	}
	if satisfied {
		t.Fatalf("join should not be satisfied with a sibling still pending")
	}
	if pd.EventID != "d-1" {
		t.Fatalf("expected matched pending d-1, got %q", pd.EventID)
	}
	if len(updated.Completed) != 1 || updated.Completed[0].BatchID != "b-1" {
		t.Fatalf("completed entry should carry the batch id: %+v", updated.Completed)
	}

	_, _, satisfied, err = store.RecordCompletion(ctx, CompletedDelegation{EventID: "d-2", Response: "second"})
	if err != nil {
		t.Fatalf("record second completion: %v", err)
	}
	if !satisfied {
		t.Fatalf("join should be satisfied once both siblings completed")
	}

	if _, _, _, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "d-1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("duplicate completion should report ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUnbatchedCompletionsAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	// Two un-batched pendings are independent size-1 groups: completing
	// one must not wait on the other.
	pending := []PendingDelegation{
		{EventID: "q-1", Kind: types.DelegationKindHumanQuestion, Request: "which branch?"},
		{EventID: "f-1", RecipientID: "r-1", Kind: types.DelegationKindFollowUp, Request: "and the docs?"},
	}
	if err := store.Pause(ctx, rec.Key, nil, pending); err != nil {
		t.Fatalf("pause record: %v", err)
	}

	_, pd, satisfied, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "f-1", Response: "docs updated"})
	if err != nil {
		t.Fatalf("record completion: %v", err)
	}
	if pd.EventID != "f-1" {
		t.Fatalf("expected matched pending f-1, got %q", pd.EventID)
	}
	if !satisfied {
		t.Fatalf("un-batched completion should satisfy its own group immediately")
	}
}

func TestMemoryStoreCompletionFillsRecipientFromPending(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	pending := []PendingDelegation{{EventID: "d-1", RecipientID: "r-1", RecipientLabel: "Reviewer", Kind: types.DelegationKindWork}}
	if err := store.Pause(ctx, rec.Key, nil, pending); err != nil {
		t.Fatalf("pause record: %v", err)
	}

	updated, _, _, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "d-1", Response: "done"})
	if err != nil {
		t.Fatalf("record completion: %v", err)
	}
	got := updated.Completed[0]
	if got.RecipientID != "r-1" || got.RecipientLabel != "Reviewer" {
		t.Fatalf("recipient fields should come from the pending entry: %+v", got)
	}
	if got.CompletedAt.IsZero() {
		t.Fatalf("completion timestamp should be set")
	}
}

func TestMemoryStoreQueueDrainAndSwap(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	for _, id := range []string{"i-1", "i-2"} {
		if _, err := store.Enqueue(ctx, "agent-a", "conv-1", QueuedInjection{ID: id, Kind: InjectionKindUser, Content: "hello " + id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	swapped, err := store.SwapInjection(ctx, rec.Key, "i-1", "status note")
	if err != nil {
		t.Fatalf("swap injection: %v", err)
	}
	if !swapped {
		t.Fatalf("swap should succeed while the injection is still queued")
	}

	drained, err := store.DrainQueue(ctx, rec.Key)
	if err != nil {
		t.Fatalf("drain queue: %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained injections, got %d", len(drained))
	}
	if drained[0].Kind != InjectionKindSystem || drained[0].Content != "status note" {
		t.Fatalf("swapped injection should be a system note: %+v", drained[0])
	}
	if drained[1].Kind != InjectionKindUser {
		t.Fatalf("untouched injection should keep its kind: %+v", drained[1])
	}

	// Post-drain swap loses the race.
	swapped, err = store.SwapInjection(ctx, rec.Key, "i-2", "late note")
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if swapped {
		t.Fatalf("swap after drain should report false")
	}

	again, err := store.DrainQueue(ctx, rec.Key)
	if err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second drain should be empty, got %d", len(again))
	}
}

func TestMemoryStoreCancelCurrentAction(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	actionCtx, err := store.SetCurrentAction(ctx, rec.Key, "model_run")
	if err != nil {
		t.Fatalf("set current action: %v", err)
	}
	select {
	case <-actionCtx.Done():
		t.Fatalf("action context should start live")
	default:
	}

	if err := store.CancelCurrentAction(ctx, rec.Key); err != nil {
		t.Fatalf("cancel current action: %v", err)
	}
	select {
	case <-actionCtx.Done():
	default:
		t.Fatalf("action context should be cancelled")
	}
}

func TestRecordAwaitingAnswer(t *testing.T) {
	rec := Record{Status: StatusPaused}
	if !rec.AwaitingAnswer() {
		t.Fatalf("paused record with no pending should await an answer")
	}

	rec.Pending = map[string]PendingDelegation{
		"q-1": {EventID: "q-1", Kind: types.DelegationKindHumanQuestion},
	}
	if !rec.AwaitingAnswer() {
		t.Fatalf("paused record with only human questions should await an answer")
	}

	rec.Pending["d-1"] = PendingDelegation{EventID: "d-1", Kind: types.DelegationKindWork}
	if rec.AwaitingAnswer() {
		t.Fatalf("record with a pending work delegation should not await an answer")
	}

	rec.Status = StatusExecuting
	if rec.AwaitingAnswer() {
		t.Fatalf("executing record should never await an answer")
	}
}

func TestRecordLastResponseFrom(t *testing.T) {
	rec := Record{
		Completed: []CompletedDelegation{
			{EventID: "d-1", RecipientID: "r-1", Response: "old"},
			{EventID: "d-2", RecipientID: "r-2", Response: "other"},
			{EventID: "d-3", RecipientID: "r-1", Response: "new"},
		},
	}
	got, ok := rec.LastResponseFrom("r-1")
	if !ok || got.Response != "new" {
		t.Fatalf("expected newest response from r-1, got %+v ok=%t", got, ok)
	}
	if _, ok := rec.LastResponseFrom("r-9"); ok {
		t.Fatalf("unknown recipient should report no response")
	}
}
