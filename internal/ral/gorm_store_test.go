package ral

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore("sqlite", filepath.Join(t.TempDir(), "ral.db"))
	if err != nil {
		t.Fatalf("open gorm store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestGormStoreLifecycle(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if rec.Key.Instance != 1 || rec.Status != StatusExecuting {
		t.Fatalf("unexpected fresh record: %+v", rec)
	}

	messages := []types.Message{
		{Role: types.RoleUser, Content: "do the thing"},
		{Role: types.RoleAssistant, Content: "delegating"},
	}
	pending := []PendingDelegation{
		{EventID: "d-1", RecipientID: "r-1", Request: "part one", Kind: types.DelegationKindWork, BatchID: "b-1"},
		{EventID: "d-2", RecipientID: "r-2", Request: "part two", Kind: types.DelegationKindWork, BatchID: "b-1"},
	}
	if err := store.Pause(ctx, rec.Key, messages, pending); err != nil {
		t.Fatalf("pause record: %v", err)
	}

	loaded, err := store.Latest(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("load active record: %v", err)
	}
	if loaded.Status != StatusPaused {
		t.Fatalf("expected paused status, got %q", loaded.Status)
	}
	if len(loaded.Messages) != 2 || loaded.Messages[1].Content != "delegating" {
		t.Fatalf("transcript did not round-trip: %+v", loaded.Messages)
	}
	if len(loaded.Pending) != 2 {
		t.Fatalf("expected 2 pending delegations, got %d", len(loaded.Pending))
	}
	if got := loaded.Pending["d-1"]; got.BatchID != "b-1" || got.Request != "part one" {
		t.Fatalf("pending delegation did not round-trip: %+v", got)
	}

	_, pd, satisfied, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "d-1", Response: "first half"})
	if err != nil {
		t.Fatalf("record first completion: %v", err)
	}
	if satisfied {
		t.Fatalf("join should wait for the second sibling")
	}
	if pd.RecipientID != "r-1" {
		t.Fatalf("expected matched pending for r-1, got %+v", pd)
	}

	updated, _, satisfied, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "d-2", Response: "second half"})
	if err != nil {
		t.Fatalf("record second completion: %v", err)
	}
	if !satisfied {
		t.Fatalf("join should be satisfied after both completions")
	}
	if len(updated.Completed) != 2 || updated.Completed[0].BatchID != "b-1" {
		t.Fatalf("completions did not accumulate: %+v", updated.Completed)
	}

	if err := store.Finish(ctx, rec.Key); err != nil {
		t.Fatalf("finish record: %v", err)
	}
	if _, err := store.Latest(ctx, "agent-a", "conv-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no active record after finish, got %v", err)
	}
}

func TestGormStoreUnbatchedCompletionsAreIndependent(t *testing.T) {
	store := newTestGormStore(t)
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

func TestGormStoreStaleCompletion(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	if _, _, _, err := store.RecordCompletion(ctx, CompletedDelegation{EventID: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("completion for unknown delegation should report ErrNotFound, got %v", err)
	}
}

func TestGormStoreQueueRoundTrip(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	rec, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create record: %v", err)
	}

	if _, err := store.Enqueue(ctx, "agent-a", "conv-1", QueuedInjection{ID: "i-1", Kind: InjectionKindUser, Content: "are you done yet"}); err != nil {
		t.Fatalf("enqueue injection: %v", err)
	}

	swapped, err := store.SwapInjection(ctx, rec.Key, "i-1", "sender asked for a status update")
	if err != nil {
		t.Fatalf("swap injection: %v", err)
	}
	if !swapped {
		t.Fatalf("swap should succeed before drain")
	}

	drained, err := store.DrainQueue(ctx, rec.Key)
	if err != nil {
		t.Fatalf("drain queue: %v", err)
	}
	if len(drained) != 1 || drained[0].Kind != InjectionKindSystem {
		t.Fatalf("expected one swapped system injection, got %+v", drained)
	}

	swapped, err = store.SwapInjection(ctx, rec.Key, "i-1", "too late")
	if err != nil {
		t.Fatalf("second swap: %v", err)
	}
	if swapped {
		t.Fatalf("swap after drain should report false")
	}
}

func TestGormStoreNewInstanceReplacesActive(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	first, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create first record: %v", err)
	}
	if err := store.Pause(ctx, first.Key, nil, nil); err != nil {
		t.Fatalf("pause first record: %v", err)
	}

	second, err := store.Create(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("create second record: %v", err)
	}
	if second.Key.Instance != 2 {
		t.Fatalf("expected instance 2, got %d", second.Key.Instance)
	}

	active, err := store.Latest(ctx, "agent-a", "conv-1")
	if err != nil {
		t.Fatalf("load active record: %v", err)
	}
	if active.Key != second.Key {
		t.Fatalf("active record should be the newest instance, got %+v", active.Key)
	}

	// The older instance is still addressable by key.
	if _, err := store.Get(ctx, first.Key); err != nil {
		t.Fatalf("older instance should remain readable: %v", err)
	}
}
