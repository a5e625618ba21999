package ral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type pairKey struct {
	agentID        string
	conversationID string
}

type MemoryStore struct {
	mu           sync.Mutex
	records      map[Key]Record
	active       map[pairKey]Key
	instances    map[pairKey]int64
	byDelegation map[string]Key
	cancels      map[Key]context.CancelFunc
	closed       bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:      make(map[Key]Record),
		active:       make(map[pairKey]Key),
		instances:    make(map[pairKey]int64),
		byDelegation: make(map[string]Key),
		cancels:      make(map[Key]context.CancelFunc),
	}
}

func (s *MemoryStore) Create(_ context.Context, agentID, conversationID string) (Record, error) {
	now := time.Now().UTC()
	pair := pairKey{agentID: agentID, conversationID: conversationID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, fmt.Errorf("memory store is closed")
	}

	s.instances[pair]++
	rec := Record{
		Key:            Key{AgentID: agentID, ConversationID: conversationID, Instance: s.instances[pair]},
		Status:         StatusExecuting,
		Pending:        make(map[string]PendingDelegation),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	s.records[rec.Key] = rec
	s.active[pair] = rec.Key
	return rec.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, key Key) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Latest(_ context.Context, agentID, conversationID string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.active[pairKey{agentID: agentID, conversationID: conversationID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStore) Pause(_ context.Context, key Key, messages []types.Message, pending []PendingDelegation) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}

	for id := range rec.Pending {
		delete(s.byDelegation, id)
	}
	rec.Status = StatusPaused
	rec.Messages = append([]types.Message(nil), messages...)
	rec.Pending = make(map[string]PendingDelegation, len(pending))
	for _, pd := range pending {
		rec.Pending[pd.EventID] = pd
		s.byDelegation[pd.EventID] = key
	}
	rec.LastActivityAt = now
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) SetExecuting(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	rec.Status = StatusExecuting
	rec.LastActivityAt = time.Now().UTC()
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) RecordCompletion(_ context.Context, completed CompletedDelegation) (Record, PendingDelegation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.byDelegation[completed.EventID]
	if !ok {
		return Record{}, PendingDelegation{}, false, ErrNotFound
	}
	rec, ok := s.records[key]
	if !ok {
		delete(s.byDelegation, completed.EventID)
		return Record{}, PendingDelegation{}, false, ErrNotFound
	}
	pd, ok := rec.Pending[completed.EventID]
	if !ok {
		delete(s.byDelegation, completed.EventID)
		return Record{}, PendingDelegation{}, false, ErrNotFound
	}

	if completed.RecipientID == "" {
		completed.RecipientID = pd.RecipientID
	}
	if completed.RecipientLabel == "" {
		completed.RecipientLabel = pd.RecipientLabel
	}
	if completed.CompletedAt.IsZero() {
		completed.CompletedAt = time.Now().UTC()
	}
	completed.BatchID = pd.BatchID

	delete(rec.Pending, completed.EventID)
	delete(s.byDelegation, completed.EventID)
	rec.Completed = append(rec.Completed, completed)
	rec.LastActivityAt = time.Now().UTC()
	s.records[key] = rec

	// Un-batched delegations are groups of size one; only real batch ids
	// hold the join open for siblings.
	satisfied := true
	if pd.BatchID != "" {
		for _, sibling := range rec.Pending {
			if sibling.BatchID == pd.BatchID {
				satisfied = false
				break
			}
		}
	}
	return rec.clone(), pd, satisfied, nil
}

func (s *MemoryStore) Enqueue(_ context.Context, agentID, conversationID string, inj QueuedInjection) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.active[pairKey{agentID: agentID, conversationID: conversationID}]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if inj.QueuedAt.IsZero() {
		inj.QueuedAt = time.Now().UTC()
	}
	rec.Queue = append(rec.Queue, inj)
	rec.LastActivityAt = time.Now().UTC()
	s.records[key] = rec
	return rec.clone(), nil
}

func (s *MemoryStore) DrainQueue(_ context.Context, key Key) ([]QueuedInjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	drained := rec.Queue
	rec.Queue = nil
	s.records[key] = rec
	return drained, nil
}

func (s *MemoryStore) SwapInjection(_ context.Context, key Key, injectionID, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return false, ErrNotFound
	}
	for i, inj := range rec.Queue {
		if inj.ID != injectionID {
			continue
		}
		inj.Kind = InjectionKindSystem
		inj.Content = note
		rec.Queue[i] = inj
		s.records[key] = rec
		return true, nil
	}
	return false, nil
}

func (s *MemoryStore) SetCurrentAction(ctx context.Context, key Key, name string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	if cancel, ok := s.cancels[key]; ok {
		cancel()
	}
	actionCtx, cancel := context.WithCancel(ctx)
	s.cancels[key] = cancel
	rec.CurrentAction = name
	rec.CurrentActionStartedAt = time.Now().UTC()
	s.records[key] = rec
	return actionCtx, nil
}

func (s *MemoryStore) ClearCurrentAction(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if cancel, ok := s.cancels[key]; ok {
		cancel()
		delete(s.cancels, key)
	}
	rec.CurrentAction = ""
	rec.CurrentActionStartedAt = time.Time{}
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) CancelCurrentAction(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	cancel, ok := s.cancels[key]
	if !ok {
		return nil
	}
	cancel()
	delete(s.cancels, key)
	return nil
}

func (s *MemoryStore) Finish(_ context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	for id := range rec.Pending {
		delete(s.byDelegation, id)
	}
	if cancel, ok := s.cancels[key]; ok {
		cancel()
		delete(s.cancels, key)
	}
	delete(s.records, key)
	pair := pairKey{agentID: key.AgentID, conversationID: key.ConversationID}
	if active, ok := s.active[pair]; ok && active == key {
		delete(s.active, pair)
	}
	return nil
}

func (s *MemoryStore) Summarize(ctx context.Context, agentID, conversationID string) (string, error) {
	rec, err := s.Latest(ctx, agentID, conversationID)
	if err != nil {
		return "", err
	}
	return rec.Summary(), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, cancel := range s.cancels {
		cancel()
		delete(s.cancels, key)
	}
	s.closed = true
	return nil
}
