package repository

import (
	"context"
	"strings"
	"time"

	"docuflow/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentChanges lists the columns a conditional write may touch.
// Nil fields are left as they are; ClearReview nulls reviewed_by and approved_by.
type DocumentChanges struct {
	Status      *model.DocumentStatus
	Title       *string
	Description *string
	Type        *model.DocumentType
	FilePath    *string
	Version     *string
	ReviewedBy  *uuid.UUID
	ApprovedBy  *uuid.UUID
	ClearReview bool
}

func (c DocumentChanges) columns() map[string]interface{} {
	cols := map[string]interface{}{"updated_at": time.Now()}
	if c.Status != nil {
		cols["status"] = *c.Status
	}
	if c.Title != nil {
		cols["title"] = *c.Title
	}
	if c.Description != nil {
		cols["description"] = *c.Description
	}
	if c.Type != nil {
		cols["type"] = *c.Type
	}
	if c.FilePath != nil {
		cols["file_path"] = *c.FilePath
	}
	if c.Version != nil {
		cols["version"] = *c.Version
	}
	if c.ClearReview {
		cols["reviewed_by"] = nil
		cols["approved_by"] = nil
	} else {
		if c.ReviewedBy != nil {
			cols["reviewed_by"] = *c.ReviewedBy
		}
		if c.ApprovedBy != nil {
			cols["approved_by"] = *c.ApprovedBy
		}
	}
	return cols
}

// DocumentRepository is the document store.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	ListByStatus(ctx context.Context, status model.DocumentStatus) ([]model.Document, error)
	ListByCreator(ctx context.Context, userID uuid.UUID) ([]model.Document, error)
	Search(ctx context.Context, term string) ([]model.Document, error)
	// UpdateIfStatus applies changes only while the document is still in expected.
	// It reports false when no row matched (missing document or stale status).
	UpdateIfStatus(ctx context.Context, id uuid.UUID, expected model.DocumentStatus, changes DocumentChanges) (bool, error)
	// DeleteIfStatus hard-deletes the document and its ledger while it is still in expected.
	DeleteIfStatus(ctx context.Context, id uuid.UUID, expected model.DocumentStatus) (bool, error)
	Statistics(ctx context.Context) (model.DocumentStatistics, error)
}

type documentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) withUsers(ctx context.Context) *gorm.DB {
	return GetDB(ctx, r.db).Preload("Creator").Preload("Reviewer").Preload("Approver")
}

func (r *documentRepository) Create(ctx context.Context, doc *model.Document) error {
	return GetDB(ctx, r.db).Create(doc).Error
}

func (r *documentRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	var doc model.Document
	if err := r.withUsers(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) List(ctx context.Context) ([]model.Document, error) {
	var docs []model.Document
	if err := r.withUsers(ctx).Order("updated_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepository) ListByStatus(ctx context.Context, status model.DocumentStatus) ([]model.Document, error) {
	var docs []model.Document
	if err := r.withUsers(ctx).Where("status = ?", status).Order("updated_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepository) ListByCreator(ctx context.Context, userID uuid.UUID) ([]model.Document, error) {
	var docs []model.Document
	if err := r.withUsers(ctx).Where("created_by = ?", userID).Order("updated_at DESC").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search is a case-insensitive substring match over code, title and description.
func (r *documentRepository) Search(ctx context.Context, term string) ([]model.Document, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(term)) + "%"
	var docs []model.Document
	err := r.withUsers(ctx).
		Where(`LOWER(code) LIKE ? ESCAPE '\' OR LOWER(title) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\'`, pattern, pattern, pattern).
		Order("updated_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *documentRepository) UpdateIfStatus(ctx context.Context, id uuid.UUID, expected model.DocumentStatus, changes DocumentChanges) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Document{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(changes.columns())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepository) DeleteIfStatus(ctx context.Context, id uuid.UUID, expected model.DocumentStatus) (bool, error) {
	db := GetDB(ctx, r.db)

	// Claim the row first so a concurrent transition cannot slip in between.
	claim := db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, expected).
		Update("updated_at", time.Now())
	if claim.Error != nil {
		return false, claim.Error
	}
	if claim.RowsAffected == 0 {
		return false, nil
	}

	if err := db.Where("document_id = ?", id).Delete(&model.HistoryEntry{}).Error; err != nil {
		return false, err
	}
	if err := db.Model(&model.Notification{}).Where("document_id = ?", id).Update("document_id", nil).Error; err != nil {
		return false, err
	}
	res := db.Where("id = ?", id).Delete(&model.Document{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *documentRepository) Statistics(ctx context.Context) (model.DocumentStatistics, error) {
	var rows []struct {
		Status model.DocumentStatus
		Count  int64
	}
	if err := GetDB(ctx, r.db).Model(&model.Document{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return model.DocumentStatistics{}, err
	}

	var stats model.DocumentStatistics
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case model.StatusDraft:
			stats.Borradores = row.Count
		case model.StatusInReview:
			stats.EnRevision = row.Count
		case model.StatusApproved:
			stats.Aprobados = row.Count
		case model.StatusRejected:
			stats.Rechazados = row.Count
		case model.StatusObsolete:
			stats.Obsoletos = row.Count
		}
	}
	return stats, nil
}
