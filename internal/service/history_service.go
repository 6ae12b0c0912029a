package service

import (
	"context"
	"strings"
	"time"

	"docuflow/internal/apperror"
	"docuflow/internal/model"
	"docuflow/internal/repository"

	"github.com/google/uuid"
)

// DefaultHistoryLimit is the page size of ListAll when none is given.
const DefaultHistoryLimit = 50

type HistoryEntryResponse struct {
	ID            uuid.UUID           `json:"id"`
	DocumentID    uuid.UUID           `json:"document_id"`
	DocumentCode  string              `json:"document_code,omitempty"`
	DocumentTitle string              `json:"document_title,omitempty"`
	Version       string              `json:"version"`
	Action        model.HistoryAction `json:"action"`
	Comments      string              `json:"comments"`
	FilePath      *string             `json:"file_path"`
	UserID        *uuid.UUID          `json:"user_id"`
	UserName      string              `json:"user_name"`
	UserRole      model.Role          `json:"user_role,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// HistoryService is the document audit ledger. Entries are never updated or
// deleted individually; FixEmptyActions only labels legacy rows.
type HistoryService interface {
	Record(ctx context.Context, entry *model.HistoryEntry) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]HistoryEntryResponse, error)
	ListAll(ctx context.Context, page, limit int) ([]HistoryEntryResponse, int64, error)
	FixEmptyActions(ctx context.Context) (int64, error)
}

type historyService struct {
	repo repository.HistoryRepository
}

func NewHistoryService(repo repository.HistoryRepository) HistoryService {
	return &historyService{repo: repo}
}

// Record appends entry. Called with a transaction context it joins that transaction.
func (s *historyService) Record(ctx context.Context, entry *model.HistoryEntry) error {
	if strings.TrimSpace(string(entry.Action)) == "" {
		return apperror.Validation("la acción del historial es requerida")
	}
	if entry.DocumentID == uuid.Nil {
		return apperror.Validation("el documento del historial es requerido")
	}
	return repoError(s.repo.Create(ctx, entry), "")
}

func toHistoryResponse(e *model.HistoryEntry) HistoryEntryResponse {
	resp := HistoryEntryResponse{
		ID:         e.ID,
		DocumentID: e.DocumentID,
		Version:    e.Version,
		Action:     e.Action,
		Comments:   e.Comments,
		FilePath:   e.FilePath,
		UserID:     e.UserID,
		UserName:   "Sistema",
		CreatedAt:  e.CreatedAt,
	}
	if e.User != nil {
		resp.UserName = e.User.DisplayName()
		resp.UserRole = e.User.Role
	}
	if e.Document != nil {
		resp.DocumentCode = e.Document.Code
		resp.DocumentTitle = e.Document.Title
	}
	return resp
}

func (s *historyService) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]HistoryEntryResponse, error) {
	entries, err := s.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, repoError(err, "")
	}
	out := make([]HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toHistoryResponse(&entries[i]))
	}
	return out, nil
}

func (s *historyService) ListAll(ctx context.Context, page, limit int) ([]HistoryEntryResponse, int64, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries, total, err := s.repo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, repoError(err, "")
	}
	out := make([]HistoryEntryResponse, 0, len(entries))
	for i := range entries {
		out = append(out, toHistoryResponse(&entries[i]))
	}
	return out, total, nil
}

func (s *historyService) FixEmptyActions(ctx context.Context) (int64, error) {
	n, err := s.repo.FixEmptyActions(ctx)
	return n, repoError(err, "")
}
