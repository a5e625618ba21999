package ral

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tenex-chat/tenex-sub006/internal/types"
)

type recordRow struct {
	AgentID                string     `gorm:"primaryKey;size:191"`
	ConversationID         string     `gorm:"primaryKey;size:191"`
	Instance               int64      `gorm:"primaryKey"`
	Status                 string     `gorm:"size:32;not null"`
	Active                 bool       `gorm:"index"`
	MessagesJSON           string     `gorm:"type:text"`
	CompletedJSON          string     `gorm:"type:text"`
	QueueJSON              string     `gorm:"type:text"`
	CurrentAction          string     `gorm:"size:191"`
	CurrentActionStartedAt *time.Time ``
	CreatedAt              time.Time  `gorm:"not null"`
	LastActivityAt         time.Time  `gorm:"not null"`
	UpdatedAt              time.Time  `gorm:"not null"`
}

func (recordRow) TableName() string {
	return "ral_records"
}

type pendingRow struct {
	EventID        string    `gorm:"primaryKey;size:64"`
	AgentID        string    `gorm:"size:191;index:idx_pending_record,priority:1"`
	ConversationID string    `gorm:"size:191;index:idx_pending_record,priority:2"`
	Instance       int64     `gorm:"index:idx_pending_record,priority:3"`
	RecipientID    string    `gorm:"size:191;not null"`
	RecipientLabel string    `gorm:"size:191"`
	Request        string    `gorm:"type:text"`
	Kind           string    `gorm:"size:32;not null"`
	ChoicesJSON    string    `gorm:"type:text"`
	BatchID        string    `gorm:"size:64;index"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (pendingRow) TableName() string {
	return "ral_pending_delegations"
}

func (r pendingRow) toPending() (PendingDelegation, error) {
	pd := PendingDelegation{
		EventID:        r.EventID,
		RecipientID:    r.RecipientID,
		RecipientLabel: r.RecipientLabel,
		Request:        r.Request,
		Kind:           types.DelegationKind(r.Kind),
		BatchID:        r.BatchID,
	}
	if r.ChoicesJSON != "" {
		if err := json.Unmarshal([]byte(r.ChoicesJSON), &pd.Choices); err != nil {
			return PendingDelegation{}, fmt.Errorf("decode choices for delegation %s: %w", r.EventID, err)
		}
	}
	return pd, nil
}

func pendingRowFrom(key Key, pd PendingDelegation, now time.Time) (pendingRow, error) {
	row := pendingRow{
		EventID:        pd.EventID,
		AgentID:        key.AgentID,
		ConversationID: key.ConversationID,
		Instance:       key.Instance,
		RecipientID:    pd.RecipientID,
		RecipientLabel: pd.RecipientLabel,
		Request:        pd.Request,
		Kind:           string(pd.Kind),
		BatchID:        pd.BatchID,
		CreatedAt:      now,
	}
	if len(pd.Choices) > 0 {
		encoded, err := json.Marshal(pd.Choices)
		if err != nil {
			return pendingRow{}, fmt.Errorf("encode choices for delegation %s: %w", pd.EventID, err)
		}
		row.ChoicesJSON = string(encoded)
	}
	return row, nil
}

func (r recordRow) toRecord(pending []pendingRow) (Record, error) {
	rec := Record{
		Key:            Key{AgentID: r.AgentID, ConversationID: r.ConversationID, Instance: r.Instance},
		Status:         Status(r.Status),
		Pending:        make(map[string]PendingDelegation, len(pending)),
		CurrentAction:  r.CurrentAction,
		CreatedAt:      r.CreatedAt,
		LastActivityAt: r.LastActivityAt,
	}
	if r.CurrentActionStartedAt != nil {
		rec.CurrentActionStartedAt = *r.CurrentActionStartedAt
	}
	if r.MessagesJSON != "" {
		if err := json.Unmarshal([]byte(r.MessagesJSON), &rec.Messages); err != nil {
			return Record{}, fmt.Errorf("decode messages for record %s: %w", rec.Key, err)
		}
	}
	if r.CompletedJSON != "" {
		if err := json.Unmarshal([]byte(r.CompletedJSON), &rec.Completed); err != nil {
			return Record{}, fmt.Errorf("decode completions for record %s: %w", rec.Key, err)
		}
	}
	if r.QueueJSON != "" {
		if err := json.Unmarshal([]byte(r.QueueJSON), &rec.Queue); err != nil {
			return Record{}, fmt.Errorf("decode queue for record %s: %w", rec.Key, err)
		}
	}
	for _, row := range pending {
		pd, err := row.toPending()
		if err != nil {
			return Record{}, err
		}
		rec.Pending[pd.EventID] = pd
	}
	return rec, nil
}

func encodeJSONColumn(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
