package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"docuflow/internal/apperror"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/internal/storage"
	"docuflow/pkg/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Upload is a file received with a create, edit or new-version request.
type Upload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

type CreateDocumentRequest struct {
	Code        string `form:"code" json:"code"`
	Title       string `form:"title" json:"title"`
	Description string `form:"description" json:"description"`
	Type        string `form:"type" json:"type"`
}

type DocumentResponse struct {
	ID           uuid.UUID            `json:"id"`
	Code         string               `json:"code"`
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Type         model.DocumentType   `json:"type"`
	Version      string               `json:"version"`
	Status       model.DocumentStatus `json:"status"`
	FilePath     *string              `json:"file_path"`
	CreatedBy    uuid.UUID            `json:"created_by"`
	CreatorName  string               `json:"creator_name"`
	CreatorEmail string               `json:"creator_email"`
	ReviewedBy   *uuid.UUID           `json:"reviewed_by"`
	ReviewerName string               `json:"reviewer_name,omitempty"`
	ApprovedBy   *uuid.UUID           `json:"approved_by"`
	ApproverName string               `json:"approver_name,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

type DocumentDetail struct {
	Document DocumentResponse       `json:"document"`
	History  []HistoryEntryResponse `json:"history"`
}

// Download is an open stored file. The caller closes Content.
type Download struct {
	Filename string
	Content  io.ReadCloser
}

// DocumentService covers document creation and every read.
// State changes go through WorkflowService.
type DocumentService interface {
	Create(ctx context.Context, actor *model.User, req CreateDocumentRequest, file *Upload) (*DocumentResponse, error)
	GetByID(ctx context.Context, id uuid.UUID) (*DocumentDetail, error)
	List(ctx context.Context) ([]DocumentResponse, error)
	ListByStatus(ctx context.Context, status string) ([]DocumentResponse, error)
	ListByCreator(ctx context.Context, userID uuid.UUID) ([]DocumentResponse, error)
	Search(ctx context.Context, term string) ([]DocumentResponse, error)
	Statistics(ctx context.Context) (model.DocumentStatistics, error)
	Download(ctx context.Context, id uuid.UUID) (*Download, error)
}

type documentService struct {
	tx      repository.TransactionManager
	docs    repository.DocumentRepository
	history HistoryService
	store   storage.Store
	log     *logger.Logger
}

func NewDocumentService(tx repository.TransactionManager, docs repository.DocumentRepository, history HistoryService, store storage.Store, log *logger.Logger) DocumentService {
	return &documentService{tx: tx, docs: docs, history: history, store: store, log: log}
}

var documentCreators = model.NewRoleSet(model.RoleCreator, model.RoleAdmin)

func documentTypeRule(value interface{}) error {
	s, _ := value.(string)
	if s != "" && !model.DocumentType(s).Valid() {
		return errors.New("Tipo de documento inválido.")
	}
	return nil
}

func toDocumentResponse(d *model.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:          d.ID,
		Code:        d.Code,
		Title:       d.Title,
		Description: d.Description,
		Type:        d.Type,
		Version:     d.Version,
		Status:      d.Status,
		FilePath:    d.FilePath,
		CreatedBy:   d.CreatedBy,
		ReviewedBy:  d.ReviewedBy,
		ApprovedBy:  d.ApprovedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.Creator != nil {
		resp.CreatorName = d.Creator.FullName
		resp.CreatorEmail = d.Creator.Email
	}
	if d.Reviewer != nil {
		resp.ReviewerName = d.Reviewer.FullName
	}
	if d.Approver != nil {
		resp.ApproverName = d.Approver.FullName
	}
	return resp
}

func toDocumentResponses(docs []model.Document) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i]))
	}
	return out
}

// putUpload validates and stores a file, returning its blob reference.
func putUpload(ctx context.Context, store storage.Store, up *Upload) (string, error) {
	head := make([]byte, storage.SniffLen)
	n, err := io.ReadFull(up.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", apperror.Validation("no se pudo leer el archivo")
	}
	head = head[:n]

	if err := storage.ValidateUpload(up.Filename, up.Size, head); err != nil {
		return "", err
	}
	return store.Put(ctx, storage.ObjectName(up.Filename), io.MultiReader(bytes.NewReader(head), up.Content), up.Size)
}

// discardBlob removes a blob that no committed row references any more.
func discardBlob(ctx context.Context, store storage.Store, log *logger.Logger, ref string) {
	if ref == "" {
		return
	}
	if err := store.Delete(ctx, ref); err != nil {
		log.Warn("failed to delete stored file", "ref", ref, "error", err)
	}
}

func (s *documentService) Create(ctx context.Context, actor *model.User, req CreateDocumentRequest, file *Upload) (*DocumentResponse, error) {
	if !documentCreators.Contains(actor.Role) {
		return nil, apperror.Forbidden("No tienes permisos para crear documentos.")
	}

	req.Code = strings.TrimSpace(req.Code)
	req.Title = strings.TrimSpace(req.Title)
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Code, validation.Required.Error("Código, título y tipo son requeridos."), validation.Length(1, 100)),
		validation.Field(&req.Title, validation.Required.Error("Código, título y tipo son requeridos."), validation.Length(1, 255)),
		validation.Field(&req.Type, validation.Required.Error("Código, título y tipo son requeridos."), validation.By(documentTypeRule)),
	); err != nil {
		return nil, invalid(err)
	}

	var ref string
	if file != nil {
		var err error
		if ref, err = putUpload(ctx, s.store, file); err != nil {
			return nil, err
		}
	}

	doc := &model.Document{
		Code:        req.Code,
		Title:       req.Title,
		Description: req.Description,
		Type:        model.DocumentType(req.Type),
		Version:     model.InitialVersion,
		Status:      model.StatusDraft,
		CreatedBy:   actor.ID,
	}
	if ref != "" {
		doc.FilePath = &ref
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.docs.Create(txCtx, doc); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperror.Conflict("El código de documento ya existe.")
			}
			return repoError(err, "")
		}
		return s.history.Record(txCtx, &model.HistoryEntry{
			DocumentID: doc.ID,
			Version:    doc.Version,
			Action:     model.HistoryCreated,
			Comments:   "Documento creado",
			FilePath:   doc.FilePath,
			UserID:     &actor.ID,
		})
	})
	if err != nil {
		discardBlob(ctx, s.store, s.log, ref)
		return nil, err
	}

	s.log.Info("document created", "document_id", doc.ID, "code", doc.Code, "user_id", actor.ID)
	return s.reload(ctx, doc.ID)
}

func (s *documentService) reload(ctx context.Context, id uuid.UUID) (*DocumentResponse, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "Documento no encontrado.")
	}
	resp := toDocumentResponse(doc)
	return &resp, nil
}

func (s *documentService) GetByID(ctx context.Context, id uuid.UUID) (*DocumentDetail, error) {
	doc, err := s.reload(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.history.ListByDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentDetail{Document: *doc, History: history}, nil
}

func (s *documentService) List(ctx context.Context) ([]DocumentResponse, error) {
	docs, err := s.docs.List(ctx)
	if err != nil {
		return nil, repoError(err, "")
	}
	return toDocumentResponses(docs), nil
}

func (s *documentService) ListByStatus(ctx context.Context, status string) ([]DocumentResponse, error) {
	st := model.DocumentStatus(status)
	if !st.Valid() {
		return nil, apperror.Validation("Estado inválido.")
	}
	docs, err := s.docs.ListByStatus(ctx, st)
	if err != nil {
		return nil, repoError(err, "")
	}
	return toDocumentResponses(docs), nil
}

func (s *documentService) ListByCreator(ctx context.Context, userID uuid.UUID) ([]DocumentResponse, error) {
	docs, err := s.docs.ListByCreator(ctx, userID)
	if err != nil {
		return nil, repoError(err, "")
	}
	return toDocumentResponses(docs), nil
}

func (s *documentService) Search(ctx context.Context, term string) ([]DocumentResponse, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, apperror.Validation("Término de búsqueda requerido.")
	}
	docs, err := s.docs.Search(ctx, term)
	if err != nil {
		return nil, repoError(err, "")
	}
	return toDocumentResponses(docs), nil
}

func (s *documentService) Statistics(ctx context.Context) (model.DocumentStatistics, error) {
	stats, err := s.docs.Statistics(ctx)
	return stats, repoError(err, "")
}

func (s *documentService) Download(ctx context.Context, id uuid.UUID) (*Download, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "Documento no encontrado.")
	}
	if doc.FilePath == nil || *doc.FilePath == "" {
		return nil, apperror.NotFound("Archivo no encontrado.")
	}
	rc, err := s.store.Open(ctx, *doc.FilePath)
	if err != nil {
		return nil, err
	}
	name := doc.Code + "_v" + doc.Version + strings.ToLower(filepath.Ext(*doc.FilePath))
	return &Download{Filename: name, Content: rc}, nil
}
