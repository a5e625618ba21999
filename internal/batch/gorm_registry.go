package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/tenex-chat/tenex-sub006/internal/db"
	"github.com/tenex-chat/tenex-sub006/internal/ids"
)

type batchRow struct {
	BatchID            string    `gorm:"primaryKey;size:64"`
	DelegatorAgentID   string    `gorm:"size:191;not null"`
	RootConversationID string    `gorm:"size:191;not null"`
	MembersJSON        string    `gorm:"type:text;not null"`
	CreatedAt          time.Time `gorm:"not null"`
}

func (batchRow) TableName() string {
	return "delegation_batches"
}

// GormRegistry persists batch membership so fork joins survive a restart.
type GormRegistry struct {
	db *gorm.DB
}

func NewGormRegistry(driver, dsn string) (*GormRegistry, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open batch registry: %w", err)
	}
	reg := &GormRegistry{db: gormDB}
	if err := reg.db.AutoMigrate(&batchRow{}); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *GormRegistry) CreateBatch(ctx context.Context, delegatorAgentID, rootConversationID string, items []Item) (Batch, []ItemPlan, error) {
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
	encoded, err := json.Marshal(members)
	if err != nil {
		return Batch{}, nil, fmt.Errorf("encode batch members: %w", err)
	}
	row := batchRow{
		BatchID:            b.BatchID,
		DelegatorAgentID:   b.DelegatorAgentID,
		RootConversationID: b.RootConversationID,
		MembersJSON:        string(encoded),
		CreatedAt:          b.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return Batch{}, nil, fmt.Errorf("create batch: %w", err)
	}
	return b, plans, nil
}

func (r *GormRegistry) IsJoinSatisfied(ctx context.Context, batchID string, completed map[string]bool) (bool, bool, error) {
	var row batchRow
	err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("batch lookup: %w", err)
	}
	var members []string
	if err := json.Unmarshal([]byte(row.MembersJSON), &members); err != nil {
		return false, false, fmt.Errorf("decode batch members: %w", err)
	}
	for _, member := range members {
		if !completed[member] {
			return false, true, nil
		}
	}
	return true, true, nil
}

func (r *GormRegistry) Drop(ctx context.Context, batchID string) error {
	res := r.db.WithContext(ctx).Where("batch_id = ?", batchID).Delete(&batchRow{})
	if res.Error != nil {
		return fmt.Errorf("drop batch: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRegistry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
