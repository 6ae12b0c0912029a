package repository

import (
	"context"

	"docuflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryRepository is the append-only ledger of document lifecycle events.
type HistoryRepository interface {
	Create(ctx context.Context, entry *model.HistoryEntry) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.HistoryEntry, error)
	List(ctx context.Context, page, limit int) ([]model.HistoryEntry, int64, error)
	FixEmptyActions(ctx context.Context) (int64, error)
}

type historyRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Create(ctx context.Context, entry *model.HistoryEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *historyRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]model.HistoryEntry, error) {
	var entries []model.HistoryEntry
	err := GetDB(ctx, r.db).
		Preload("User").
		Where("document_id = ?", documentID).
		Order("created_at desc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *historyRepository) List(ctx context.Context, page, limit int) ([]model.HistoryEntry, int64, error) {
	var entries []model.HistoryEntry
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.HistoryEntry{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Preload("User").Preload("Document").Order("created_at desc").Offset(offset).Limit(limit).Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// FixEmptyActions labels legacy rows whose action was never recorded.
func (r *historyRepository) FixEmptyActions(ctx context.Context) (int64, error) {
	res := GetDB(ctx, r.db).Model(&model.HistoryEntry{}).
		Where("action IS NULL OR TRIM(action) = ''").
		Update("action", model.HistoryUnrecorded)
	return res.RowsAffected, res.Error
}
