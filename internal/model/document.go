package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	StatusDraft    DocumentStatus = "Borrador"
	StatusInReview DocumentStatus = "En Revision"
	StatusApproved DocumentStatus = "Aprobado"
	StatusRejected DocumentStatus = "Rechazado"
	StatusObsolete DocumentStatus = "Obsoleto" // reserved, no transition reaches it
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusObsolete:
		return true
	}
	return false
}

// DocumentType classifies a controlled document.
type DocumentType string

const (
	TypeManual      DocumentType = "Manual"
	TypeProcedure   DocumentType = "Procedimiento"
	TypeInstruction DocumentType = "Instructivo"
	TypePolicy      DocumentType = "Politica"
	TypeFormat      DocumentType = "Formato"
	TypeOther       DocumentType = "Otro"
)

func (t DocumentType) Valid() bool {
	switch t {
	case TypeManual, TypeProcedure, TypeInstruction, TypePolicy, TypeFormat, TypeOther:
		return true
	}
	return false
}

// InitialVersion is the version of every newly created document.
const InitialVersion = "1.0"

// Document is a controlled document and its mutable lifecycle fields.
type Document struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Code        string         `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"`
	Title       string         `gorm:"type:varchar(255);not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Type        DocumentType   `gorm:"type:varchar(30);not null" json:"type"`
	Version     string         `gorm:"type:varchar(20);not null;default:'1.0'" json:"version"`
	Status      DocumentStatus `gorm:"type:varchar(20);not null;default:'Borrador';index" json:"status"`
	FilePath    *string        `gorm:"type:varchar(1024)" json:"file_path"`
	CreatedBy   uuid.UUID      `gorm:"type:uuid;not null;index" json:"created_by"`
	Creator     *User          `gorm:"foreignKey:CreatedBy" json:"-"`
	ReviewedBy  *uuid.UUID     `gorm:"type:uuid" json:"reviewed_by"`
	Reviewer    *User          `gorm:"foreignKey:ReviewedBy" json:"-"`
	ApprovedBy  *uuid.UUID     `gorm:"type:uuid" json:"approved_by"`
	Approver    *User          `gorm:"foreignKey:ApprovedBy" json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `gorm:"index" json:"updated_at"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Version == "" {
		d.Version = InitialVersion
	}
	if d.Status == "" {
		d.Status = StatusDraft
	}
	return nil
}

// IsOwnedBy reports whether userID created the document.
func (d *Document) IsOwnedBy(userID uuid.UUID) bool {
	return d.CreatedBy == userID
}
