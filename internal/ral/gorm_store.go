package ral

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/tenex-chat/tenex-sub006/internal/db"
	"github.com/tenex-chat/tenex-sub006/internal/types"
)

// GormStore persists records and the delegation reverse index so paused
// loops survive a process restart. Cancellation handles are runtime-only
// state and live in memory.
type GormStore struct {
	db *gorm.DB

	mu      sync.Mutex
	cancels map[Key]context.CancelFunc
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ral store: %w", err)
	}
	store := &GormStore{db: gormDB, cancels: make(map[Key]context.CancelFunc)}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	return s.db.AutoMigrate(&recordRow{}, &pendingRow{})
}

func (s *GormStore) Create(ctx context.Context, agentID, conversationID string) (Record, error) {
	now := time.Now().UTC()
	var out Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxInstance int64
		if err := tx.Model(&recordRow{}).
			Where("agent_id = ? AND conversation_id = ?", agentID, conversationID).
			Select("COALESCE(MAX(instance), 0)").
			Scan(&maxInstance).Error; err != nil {
			return fmt.Errorf("instance lookup: %w", err)
		}

		if err := tx.Model(&recordRow{}).
			Where("agent_id = ? AND conversation_id = ? AND active = ?", agentID, conversationID, true).
			Update("active", false).Error; err != nil {
			return fmt.Errorf("clear active flag: %w", err)
		}

		row := recordRow{
			AgentID:        agentID,
			ConversationID: conversationID,
			Instance:       maxInstance + 1,
			Status:         string(StatusExecuting),
			Active:         true,
			CreatedAt:      now,
			LastActivityAt: now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		rec, err := row.toRecord(nil)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (s *GormStore) Get(ctx context.Context, key Key) (Record, error) {
	var row recordRow
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get record: %w", err)
	}
	pending, err := s.pendingFor(ctx, key)
	if err != nil {
		return Record{}, err
	}
	return row.toRecord(pending)
}

func (s *GormStore) Latest(ctx context.Context, agentID, conversationID string) (Record, error) {
	var row recordRow
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND conversation_id = ? AND active = ?", agentID, conversationID, true).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get active record: %w", err)
	}
	key := Key{AgentID: row.AgentID, ConversationID: row.ConversationID, Instance: row.Instance}
	pending, err := s.pendingFor(ctx, key)
	if err != nil {
		return Record{}, err
	}
	return row.toRecord(pending)
}

func (s *GormStore) pendingFor(ctx context.Context, key Key) ([]pendingRow, error) {
	var rows []pendingRow
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get pending delegations: %w", err)
	}
	return rows, nil
}

func (s *GormStore) Pause(ctx context.Context, key Key, messages []types.Message, pending []PendingDelegation) error {
	now := time.Now().UTC()
	messagesJSON, err := encodeJSONColumn(messages)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&recordRow{}).
			Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Updates(map[string]any{
				"status":           string(StatusPaused),
				"messages_json":    messagesJSON,
				"last_activity_at": now,
				"updated_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("pause record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Delete(&pendingRow{}).Error; err != nil {
			return fmt.Errorf("clear pending delegations: %w", err)
		}
		for _, pd := range pending {
			row, err := pendingRowFrom(key, pd, now)
			if err != nil {
				return err
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create pending delegation %s: %w", pd.EventID, err)
			}
		}
		return nil
	})
}

func (s *GormStore) SetExecuting(ctx context.Context, key Key) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&recordRow{}).
		Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
		Updates(map[string]any{
			"status":           string(StatusExecuting),
			"last_activity_at": now,
			"updated_at":       now,
		})
	if res.Error != nil {
		return fmt.Errorf("set executing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) RecordCompletion(ctx context.Context, completed CompletedDelegation) (Record, PendingDelegation, bool, error) {
	var (
		out       Record
		pd        PendingDelegation
		satisfied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pRow pendingRow
		if err := tx.Where("event_id = ?", completed.EventID).Take(&pRow).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("delegation lookup: %w", err)
		}
		key := Key{AgentID: pRow.AgentID, ConversationID: pRow.ConversationID, Instance: pRow.Instance}

		var rRow recordRow
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Take(&rRow).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("record lookup: %w", err)
		}

		decoded, err := pRow.toPending()
		if err != nil {
			return err
		}
		pd = decoded

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

		var completions []CompletedDelegation
		if rRow.CompletedJSON != "" {
			if err := json.Unmarshal([]byte(rRow.CompletedJSON), &completions); err != nil {
				return fmt.Errorf("decode completions: %w", err)
			}
		}
		completions = append(completions, completed)
		completedJSON, err := encodeJSONColumn(completions)
		if err != nil {
			return fmt.Errorf("encode completions: %w", err)
		}

		if err := tx.Where("event_id = ?", completed.EventID).Delete(&pendingRow{}).Error; err != nil {
			return fmt.Errorf("remove pending delegation: %w", err)
		}

		now := time.Now().UTC()
		if err := tx.Model(&recordRow{}).
			Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Updates(map[string]any{
				"completed_json":   completedJSON,
				"last_activity_at": now,
				"updated_at":       now,
			}).Error; err != nil {
			return fmt.Errorf("update record: %w", err)
		}

		// Un-batched delegations are groups of size one; only real batch
		// ids hold the join open for siblings.
		satisfied = true
		if pd.BatchID != "" {
			var remaining int64
			if err := tx.Model(&pendingRow{}).
				Where("agent_id = ? AND conversation_id = ? AND instance = ? AND batch_id = ?",
					key.AgentID, key.ConversationID, key.Instance, pd.BatchID).
				Count(&remaining).Error; err != nil {
				return fmt.Errorf("count batch siblings: %w", err)
			}
			satisfied = remaining == 0
		}

		var pendingRows []pendingRow
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Find(&pendingRows).Error; err != nil {
			return fmt.Errorf("reload pending delegations: %w", err)
		}
		rRow.CompletedJSON = completedJSON
		rec, err := rRow.toRecord(pendingRows)
		if err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return Record{}, PendingDelegation{}, false, err
	}
	return out, pd, satisfied, nil
}

func (s *GormStore) Enqueue(ctx context.Context, agentID, conversationID string, inj QueuedInjection) (Record, error) {
	if inj.QueuedAt.IsZero() {
		inj.QueuedAt = time.Now().UTC()
	}
	var out Record
	err := s.withActiveRecord(ctx, agentID, conversationID, func(tx *gorm.DB, row *recordRow) error {
		var queue []QueuedInjection
		if row.QueueJSON != "" {
			if err := json.Unmarshal([]byte(row.QueueJSON), &queue); err != nil {
				return fmt.Errorf("decode queue: %w", err)
			}
		}
		queue = append(queue, inj)
		encoded, err := encodeJSONColumn(queue)
		if err != nil {
			return fmt.Errorf("encode queue: %w", err)
		}
		row.QueueJSON = encoded
		return nil
	}, &out)
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (s *GormStore) DrainQueue(ctx context.Context, key Key) ([]QueuedInjection, error) {
	var drained []QueuedInjection
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("record lookup: %w", err)
		}
		if row.QueueJSON != "" {
			if err := json.Unmarshal([]byte(row.QueueJSON), &drained); err != nil {
				return fmt.Errorf("decode queue: %w", err)
			}
		}
		now := time.Now().UTC()
		return tx.Model(&recordRow{}).
			Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Updates(map[string]any{"queue_json": "", "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

func (s *GormStore) SwapInjection(ctx context.Context, key Key, injectionID, note string) (bool, error) {
	swapped := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("record lookup: %w", err)
		}
		var queue []QueuedInjection
		if row.QueueJSON != "" {
			if err := json.Unmarshal([]byte(row.QueueJSON), &queue); err != nil {
				return fmt.Errorf("decode queue: %w", err)
			}
		}
		for i, inj := range queue {
			if inj.ID != injectionID {
				continue
			}
			inj.Kind = InjectionKindSystem
			inj.Content = note
			queue[i] = inj
			swapped = true
			break
		}
		if !swapped {
			return nil
		}
		encoded, err := encodeJSONColumn(queue)
		if err != nil {
			return fmt.Errorf("encode queue: %w", err)
		}
		now := time.Now().UTC()
		return tx.Model(&recordRow{}).
			Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Updates(map[string]any{"queue_json": encoded, "updated_at": now}).Error
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *GormStore) SetCurrentAction(ctx context.Context, key Key, name string) (context.Context, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&recordRow{}).
		Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
		Updates(map[string]any{
			"current_action":            name,
			"current_action_started_at": &now,
			"updated_at":                now,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("set current action: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[key]; ok {
		cancel()
	}
	actionCtx, cancel := context.WithCancel(ctx)
	s.cancels[key] = cancel
	s.mu.Unlock()
	return actionCtx, nil
}

func (s *GormStore) ClearCurrentAction(ctx context.Context, key Key) error {
	s.mu.Lock()
	if cancel, ok := s.cancels[key]; ok {
		cancel()
		delete(s.cancels, key)
	}
	s.mu.Unlock()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&recordRow{}).
		Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
		Updates(map[string]any{
			"current_action":            "",
			"current_action_started_at": nil,
			"updated_at":                now,
		})
	if res.Error != nil {
		return fmt.Errorf("clear current action: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CancelCurrentAction(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.cancels[key]
	if !ok {
		return nil
	}
	cancel()
	delete(s.cancels, key)
	return nil
}

func (s *GormStore) Finish(ctx context.Context, key Key) error {
	s.mu.Lock()
	if cancel, ok := s.cancels[key]; ok {
		cancel()
		delete(s.cancels, key)
	}
	s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Delete(&pendingRow{}).Error; err != nil {
			return fmt.Errorf("delete pending delegations: %w", err)
		}
		res := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Delete(&recordRow{})
		if res.Error != nil {
			return fmt.Errorf("delete record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormStore) Summarize(ctx context.Context, agentID, conversationID string) (string, error) {
	rec, err := s.Latest(ctx, agentID, conversationID)
	if err != nil {
		return "", err
	}
	return rec.Summary(), nil
}

func (s *GormStore) withActiveRecord(ctx context.Context, agentID, conversationID string, mutate func(tx *gorm.DB, row *recordRow) error, out *Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row recordRow
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND active = ?", agentID, conversationID, true).
			Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("active record lookup: %w", err)
		}
		if err := mutate(tx, &row); err != nil {
			return err
		}
		now := time.Now().UTC()
		row.LastActivityAt = now
		row.UpdatedAt = now
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update record: %w", err)
		}
		key := Key{AgentID: row.AgentID, ConversationID: row.ConversationID, Instance: row.Instance}
		var pendingRows []pendingRow
		if err := tx.Where("agent_id = ? AND conversation_id = ? AND instance = ?", key.AgentID, key.ConversationID, key.Instance).
			Find(&pendingRows).Error; err != nil {
			return fmt.Errorf("get pending delegations: %w", err)
		}
		rec, err := row.toRecord(pendingRows)
		if err != nil {
			return err
		}
		*out = rec
		return nil
	})
}

func (s *GormStore) Close() error {
	s.mu.Lock()
	for key, cancel := range s.cancels {
		cancel()
		delete(s.cancels, key)
	}
	s.mu.Unlock()

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
