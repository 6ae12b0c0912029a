package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationType tags an inbox entry with the event that produced it.
type NotificationType string

const (
	NotificationDocumentAssigned NotificationType = "documento_asignado"
	NotificationDocumentApproved NotificationType = "documento_aprobado"
	NotificationDocumentRejected NotificationType = "documento_rechazado"
	NotificationApprovalRevoked  NotificationType = "aprobacion_revocada"
)

// Notification is an inbox entry. Only IsRead ever changes after creation.
type Notification struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID     uuid.UUID        `gorm:"type:uuid;not null;index" json:"user_id"`
	DocumentID *uuid.UUID       `gorm:"type:uuid;index" json:"document_id"`
	Document   *Document        `gorm:"foreignKey:DocumentID;constraint:OnDelete:SET NULL;" json:"-"`
	Type       NotificationType `gorm:"type:varchar(50);not null" json:"type"`
	Title      string           `gorm:"type:varchar(255);not null" json:"title"`
	Message    string           `gorm:"type:text;not null" json:"message"`
	IsRead     bool             `gorm:"not null;default:false;index" json:"is_read"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
