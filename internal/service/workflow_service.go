package service

import (
	"context"
	"fmt"
	"strings"

	"docuflow/internal/apperror"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/internal/storage"
	"docuflow/pkg/logger"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// EditDocumentRequest carries only the fields to change; nil keeps the current value.
type EditDocumentRequest struct {
	Title       *string `form:"title" json:"title"`
	Description *string `form:"description" json:"description"`
	Type        *string `form:"type" json:"type"`
}

type ChangeStatusRequest struct {
	Status   string `json:"status" binding:"required"`
	Comments string `json:"comments"`
}

type RevokeRequest struct {
	Reason string `json:"reason"`
}

// WorkflowService applies lifecycle transitions. Each one checks the actor and
// the current state against the workflow table, then writes the document and
// its history entry in one transaction. Notifications go out after commit.
type WorkflowService interface {
	Edit(ctx context.Context, actor *model.User, id uuid.UUID, req EditDocumentRequest, file *Upload) (*DocumentResponse, error)
	SendToReview(ctx context.Context, actor *model.User, id uuid.UUID, comments string) (*DocumentResponse, error)
	Approve(ctx context.Context, actor *model.User, id uuid.UUID, comments string) (*DocumentResponse, error)
	Reject(ctx context.Context, actor *model.User, id uuid.UUID, comments string) (*DocumentResponse, error)
	ChangeStatus(ctx context.Context, actor *model.User, id uuid.UUID, req ChangeStatusRequest) (*DocumentResponse, error)
	NewVersion(ctx context.Context, actor *model.User, id uuid.UUID, file *Upload, comments string) (*DocumentResponse, error)
	Revoke(ctx context.Context, actor *model.User, id uuid.UUID, reason string) (*DocumentResponse, error)
	Delete(ctx context.Context, actor *model.User, id uuid.UUID) error
}

type workflowService struct {
	tx       repository.TransactionManager
	docs     repository.DocumentRepository
	history  HistoryService
	notifier Notifier
	store    storage.Store
	log      *logger.Logger
}

func NewWorkflowService(tx repository.TransactionManager, docs repository.DocumentRepository, history HistoryService, notifier Notifier, store storage.Store, log *logger.Logger) WorkflowService {
	return &workflowService{tx: tx, docs: docs, history: history, notifier: notifier, store: store, log: log}
}

// errStale is returned when another request changed the document between read and write.
var errStale = apperror.IllegalTransition("El documento cambió de estado. Vuelva a cargarlo e intente de nuevo.")

func (s *workflowService) load(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	doc, err := s.docs.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "Documento no encontrado.")
	}
	return doc, nil
}

// commit writes changes only if the document is still in the status it was read in,
// and appends entry in the same transaction.
func (s *workflowService) commit(ctx context.Context, doc *model.Document, changes repository.DocumentChanges, entry *model.HistoryEntry) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.docs.UpdateIfStatus(txCtx, doc.ID, doc.Status, changes)
		if err != nil {
			return repoError(err, "")
		}
		if !ok {
			return errStale
		}
		return s.history.Record(txCtx, entry)
	})
}

func (s *workflowService) reload(ctx context.Context, id uuid.UUID) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toDocumentResponse(doc)
	return &resp, nil
}

func (s *workflowService) logTransition(action Action, doc *model.Document, actor *model.User, to model.DocumentStatus) {
	s.log.Info("document transition",
		"action", action,
		"document_id", doc.ID,
		"from", doc.Status,
		"to", to,
		"user_id", actor.ID,
		"role", actor.Role,
	)
}

func (s *workflowService) Edit(ctx context.Context, actor *model.User, id uuid.UUID, req EditDocumentRequest, file *Upload) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := check(ActionEdit, actor, doc)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Title, validation.NilOrNotEmpty, validation.Length(1, 255)),
		validation.Field(&req.Type, validation.NilOrNotEmpty, validation.By(func(v interface{}) error {
			if p, ok := v.(*string); ok && p != nil {
				return documentTypeRule(*p)
			}
			return nil
		})),
	); err != nil {
		return nil, invalid(err)
	}

	changes := repository.DocumentChanges{Description: req.Description}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		changes.Title = &title
	}
	if req.Type != nil {
		typ := model.DocumentType(*req.Type)
		changes.Type = &typ
	}
	if doc.Status != t.to {
		to := t.to
		changes.Status = &to
		changes.ClearReview = true
	}

	filePath := doc.FilePath
	var newRef string
	if file != nil {
		if newRef, err = putUpload(ctx, s.store, file); err != nil {
			return nil, err
		}
		changes.FilePath = &newRef
		filePath = &newRef
	}

	err = s.commit(ctx, doc, changes, &model.HistoryEntry{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Action:     t.history,
		Comments:   "Documento actualizado",
		FilePath:   filePath,
		UserID:     &actor.ID,
	})
	if err != nil {
		discardBlob(ctx, s.store, s.log, newRef)
		return nil, err
	}
	if newRef != "" && doc.FilePath != nil {
		discardBlob(ctx, s.store, s.log, *doc.FilePath)
	}

	s.logTransition(ActionEdit, doc, actor, t.to)
	return s.reload(ctx, doc.ID)
}

func (s *workflowService) SendToReview(ctx context.Context, actor *model.User, id uuid.UUID, comments string) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := check(ActionSendToReview, actor, doc)
	if err != nil {
		return nil, err
	}

	to := t.to
	if err := s.commit(ctx, doc, repository.DocumentChanges{Status: &to}, &model.HistoryEntry{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Action:     t.history,
		Comments:   comments,
		FilePath:   doc.FilePath,
		UserID:     &actor.ID,
	}); err != nil {
		return nil, err
	}

	s.logTransition(ActionSendToReview, doc, actor, to)
	s.notifier.NotifyRoles(reviewers, doc.CreatedBy, Event{
		Type:          model.NotificationDocumentAssigned,
		DocumentID:    doc.ID,
		DocumentCode:  doc.Code,
		DocumentTitle: doc.Title,
		Title:         "Documento enviado a revisión",
		Message:       fmt.Sprintf("El documento \"%s\" ha sido enviado a revisión y está pendiente de tu aprobación.", doc.Title),
	})
	return s.reload(ctx, doc.ID)
}

func (s *workflowService) Approve(ctx context.Context, actor *model.User, id uuid.UUID, comments string) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := check(ActionApprove, actor, doc)
	if err != nil {
		return nil, err
	}

	to := t.to
	changes := repository.DocumentChanges{Status: &to, ReviewedBy: &actor.ID, ApprovedBy: &actor.ID}
	if err := s.commit(ctx, doc, changes, &model.HistoryEntry{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Action:     t.history,
		Comments:   comments,
		FilePath:   doc.FilePath,
		UserID:     &actor.ID,
	}); err != nil {
		return nil, err
	}

	s.logTransition(ActionApprove, doc, actor, to)
	s.notifier.Notify([]uuid.UUID{doc.CreatedBy}, Event{
		Type:          model.NotificationDocumentApproved,
		DocumentID:    doc.ID,
		DocumentCode:  doc.Code,
		DocumentTitle: doc.Title,
		Title:         "Documento aprobado",
		Message:       fmt.Sprintf("Tu documento \"%s\" ha sido aprobado por %s.", doc.Title, actor.DisplayName()),
	})
	return s.reload(ctx, doc.ID)
}

func (s *workflowService) Reject(ctx context.Context, actor *model.User, id uuid.UUID, comments string) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := check(ActionReject, actor, doc)
	if err != nil {
		return nil, err
	}

	to := t.to
	changes := repository.DocumentChanges{Status: &to, ReviewedBy: &actor.ID}
	if err := s.commit(ctx, doc, changes, &model.HistoryEntry{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Action:     t.history,
		Comments:   comments,
		FilePath:   doc.FilePath,
		UserID:     &actor.ID,
	}); err != nil {
		return nil, err
	}

	shown := comments
	if strings.TrimSpace(shown) == "" {
		shown = "Sin comentarios"
	}
	s.logTransition(ActionReject, doc, actor, to)
	s.notifier.Notify([]uuid.UUID{doc.CreatedBy}, Event{
		Type:          model.NotificationDocumentRejected,
		DocumentID:    doc.ID,
		DocumentCode:  doc.Code,
		DocumentTitle: doc.Title,
		Title:         "Documento rechazado",
		Message:       fmt.Sprintf("Tu documento \"%s\" ha sido rechazado por %s. Comentarios: %s", doc.Title, actor.DisplayName(), shown),
	})
	return s.reload(ctx, doc.ID)
}

// ChangeStatus maps a requested target status onto its workflow action.
func (s *workflowService) ChangeStatus(ctx context.Context, actor *model.User, id uuid.UUID, req ChangeStatusRequest) (*DocumentResponse, error) {
	action, err := ActionForStatus(req.Status)
	if err != nil {
		return nil, err
	}
	switch action {
	case ActionSendToReview:
		return s.SendToReview(ctx, actor, id, req.Comments)
	case ActionApprove:
		return s.Approve(ctx, actor, id, req.Comments)
	case ActionReject:
		return s.Reject(ctx, actor, id, req.Comments)
	}
	return nil, apperror.Newf(apperror.KindIllegalTransition, "no se puede cambiar el estado a %q", req.Status)
}

// NewVersion bumps the version of an approved document and resets it to Draft.
// The previous file stays in storage since earlier ledger entries point at it.
func (s *workflowService) NewVersion(ctx context.Context, actor *model.User, id uuid.UUID, file *Upload, comments string) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := check(ActionNewVersion, actor, doc)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, apperror.Validation("Debe subir un archivo para la nueva versión.")
	}

	next, err := NextVersion(doc.Version)
	if err != nil {
		return nil, err
	}
	ref, err := putUpload(ctx, s.store, file)
	if err != nil {
		return nil, err
	}

	note := fmt.Sprintf("Nueva versión %s creada", next)
	if c := strings.TrimSpace(comments); c != "" {
		note += ": " + c
	}

	to := t.to
	changes := repository.DocumentChanges{Status: &to, Version: &next, FilePath: &ref, ClearReview: true}
	if err := s.commit(ctx, doc, changes, &model.HistoryEntry{
		DocumentID: doc.ID,
		Version:    next,
		Action:     t.history,
		Comments:   note,
		FilePath:   &ref,
		UserID:     &actor.ID,
	}); err != nil {
		discardBlob(ctx, s.store, s.log, ref)
		return nil, err
	}

	s.logTransition(ActionNewVersion, doc, actor, to)
	return s.reload(ctx, doc.ID)
}

func (s *workflowService) Revoke(ctx context.Context, actor *model.User, id uuid.UUID, reason string) (*DocumentResponse, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := check(ActionRevoke, actor, doc)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperror.Validation("Debe proporcionar una razón para revocar la aprobación.")
	}

	to := t.to
	if err := s.commit(ctx, doc, repository.DocumentChanges{Status: &to, ClearReview: true}, &model.HistoryEntry{
		DocumentID: doc.ID,
		Version:    doc.Version,
		Action:     t.history,
		Comments:   "Razón: " + reason,
		FilePath:   doc.FilePath,
		UserID:     &actor.ID,
	}); err != nil {
		return nil, err
	}

	s.logTransition(ActionRevoke, doc, actor, to)
	s.notifier.Notify([]uuid.UUID{doc.CreatedBy}, Event{
		Type:          model.NotificationApprovalRevoked,
		DocumentID:    doc.ID,
		DocumentCode:  doc.Code,
		DocumentTitle: doc.Title,
		Title:         "Aprobacion Revocada",
		Message:       fmt.Sprintf("La aprobación de tu documento \"%s\" ha sido revocada por %s. Razón: %s", doc.Title, actor.DisplayName(), reason),
	})
	return s.reload(ctx, doc.ID)
}

// Delete removes a Draft document with its ledger. The file goes after commit.
func (s *workflowService) Delete(ctx context.Context, actor *model.User, id uuid.UUID) error {
	doc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := check(ActionDelete, actor, doc); err != nil {
		return err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := s.docs.DeleteIfStatus(txCtx, doc.ID, doc.Status)
		if err != nil {
			return repoError(err, "")
		}
		if !ok {
			return errStale
		}
		return nil
	})
	if err != nil {
		return err
	}

	if doc.FilePath != nil {
		discardBlob(ctx, s.store, s.log, *doc.FilePath)
	}
	s.log.Info("document deleted", "document_id", doc.ID, "code", doc.Code, "user_id", actor.ID)
	return nil
}
