package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryAction labels a lifecycle event in the ledger.
type HistoryAction string

const (
	HistoryCreated         HistoryAction = "Creado"
	HistoryModified        HistoryAction = "Modificado"
	HistorySentToReview    HistoryAction = "Enviado a Revisión"
	HistoryApproved        HistoryAction = "Aprobado"
	HistoryRejected        HistoryAction = "Rechazado"
	HistoryApprovalRevoked HistoryAction = "Aprobacion Revocada"

	// HistoryUnrecorded replaces empty actions left by legacy rows.
	HistoryUnrecorded HistoryAction = "Acción no registrada"
)

// HistoryEntry is one immutable row of a document's audit trail.
type HistoryEntry struct {
	ID         uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	DocumentID uuid.UUID     `gorm:"type:uuid;not null;index" json:"document_id"`
	Document   *Document     `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE;" json:"-"`
	Version    string        `gorm:"type:varchar(20);not null" json:"version"`
	Action     HistoryAction `gorm:"type:varchar(100);not null;index" json:"action"`
	Comments   string        `gorm:"type:text" json:"comments"`
	FilePath   *string       `gorm:"type:varchar(1024)" json:"file_path"`
	UserID     *uuid.UUID    `gorm:"type:uuid;index" json:"user_id"`
	User       *User         `gorm:"foreignKey:UserID" json:"-"`
	CreatedAt  time.Time     `gorm:"index" json:"created_at"`
}

func (HistoryEntry) TableName() string {
	return "document_history"
}

func (h *HistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
