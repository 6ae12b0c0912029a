package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"docuflow/internal/apperror"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"
)

// DefaultInboxLimit is how many notifications ListMine returns when no limit is given.
const DefaultInboxLimit = 10

// Event is what a workflow transition tells its recipients.
type Event struct {
	Type          model.NotificationType
	DocumentID    uuid.UUID
	DocumentCode  string
	DocumentTitle string
	Title         string
	Message       string
}

// Pusher delivers a serialized notification to a user's live connections.
type Pusher interface {
	Push(userID uuid.UUID, payload []byte)
}

// Notifier fans events out to inboxes after the triggering transition has committed.
// Delivery is fire-and-forget: failures are logged and never reach the caller.
type Notifier interface {
	Notify(recipients []uuid.UUID, event Event)
	// NotifyRoles resolves active users holding any of roles, minus exclude.
	NotifyRoles(roles model.RoleSet, exclude uuid.UUID, event Event)
	// Wait blocks until every pending delivery has finished.
	Wait()
}

type NotificationResponse struct {
	ID            uuid.UUID              `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	DocumentID    *uuid.UUID             `json:"document_id"`
	DocumentCode  string                 `json:"document_code,omitempty"`
	DocumentTitle string                 `json:"document_title,omitempty"`
	Type          model.NotificationType `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	IsRead        bool                   `json:"is_read"`
	CreatedAt     time.Time              `json:"created_at"`
}

// PushMessage is the websocket frame sent for every stored notification.
type PushMessage struct {
	Type string               `json:"type"`
	Data NotificationResponse `json:"data"`
}

type NotificationService interface {
	Notifier
	ListMine(ctx context.Context, userID uuid.UUID, limit int) ([]NotificationResponse, error)
	ListUnread(ctx context.Context, userID uuid.UUID) ([]NotificationResponse, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
}

// NotifierOptions tunes delivery retries.
type NotifierOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	Timeout         time.Duration
}

func DefaultNotifierOptions() NotifierOptions {
	return NotifierOptions{
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
		Timeout:         30 * time.Second,
	}
}

type notificationService struct {
	repo   repository.NotificationRepository
	users  repository.UserRepository
	pusher Pusher
	opts   NotifierOptions
	log    *logger.Logger
	wg     sync.WaitGroup
}

// NewNotificationService wires the inbox and the async notifier. pusher may be nil.
func NewNotificationService(repo repository.NotificationRepository, users repository.UserRepository, pusher Pusher, opts NotifierOptions, log *logger.Logger) NotificationService {
	return &notificationService{repo: repo, users: users, pusher: pusher, opts: opts, log: log}
}

func (s *notificationService) Notify(recipients []uuid.UUID, event Event) {
	s.dispatch(event, func(context.Context) ([]uuid.UUID, error) {
		return recipients, nil
	})
}

func (s *notificationService) NotifyRoles(roles model.RoleSet, exclude uuid.UUID, event Event) {
	s.dispatch(event, func(ctx context.Context) ([]uuid.UUID, error) {
		list := make([]model.Role, 0, len(roles))
		for r := range roles {
			list = append(list, r)
		}
		users, err := s.users.ListActiveByRoles(ctx, list...)
		if err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(users))
		for _, u := range users {
			if u.ID != exclude {
				ids = append(ids, u.ID)
			}
		}
		return ids, nil
	})
}

func (s *notificationService) Wait() {
	s.wg.Wait()
}

func (s *notificationService) dispatch(event Event, resolve func(context.Context) ([]uuid.UUID, error)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("notification delivery panicked", "type", event.Type, "document_id", event.DocumentID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()

		recipients, err := resolve(ctx)
		if err != nil {
			s.log.Error("failed to resolve notification recipients", "type", event.Type, "document_id", event.DocumentID, "error", err)
			return
		}
		if err := s.deliver(ctx, recipients, event); err != nil {
			s.log.Error("notification delivery failed", "type", event.Type, "document_id", event.DocumentID, "error", err)
		}
	}()
}

// deliver stores one inbox entry per distinct recipient and pushes each one live.
func (s *notificationService) deliver(ctx context.Context, recipients []uuid.UUID, event Event) error {
	var result *multierror.Error
	seen := make(map[uuid.UUID]struct{}, len(recipients))

	for _, userID := range recipients {
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}

		docID := event.DocumentID
		n := &model.Notification{
			UserID:     userID,
			DocumentID: &docID,
			Type:       event.Type,
			Title:      event.Title,
			Message:    event.Message,
		}
		if event.DocumentID == uuid.Nil {
			n.DocumentID = nil
		}

		if err := backoff.Retry(func() error {
			err := s.repo.Create(ctx, n)
			if errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrDuplicatedKey) {
				return backoff.Permanent(err)
			}
			return err
		}, s.retryPolicy(ctx)); err != nil {
			result = multierror.Append(result, fmt.Errorf("recipient %s: %w", userID, err))
			continue
		}

		s.push(n, event)
	}

	s.log.Debug("notifications delivered", "type", event.Type, "document_id", event.DocumentID, "recipients", len(seen))
	return result.ErrorOrNil()
}

func (s *notificationService) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.opts.InitialInterval
	exp.MaxElapsedTime = s.opts.Timeout
	return backoff.WithContext(backoff.WithMaxRetries(exp, s.opts.MaxRetries), ctx)
}

func (s *notificationService) push(n *model.Notification, event Event) {
	if s.pusher == nil {
		return
	}
	resp := toNotificationResponse(n)
	resp.DocumentCode = event.DocumentCode
	resp.DocumentTitle = event.DocumentTitle

	payload, err := json.Marshal(PushMessage{Type: "notification", Data: resp})
	if err != nil {
		s.log.Warn("failed to encode notification push", "notification_id", n.ID, "error", err)
		return
	}
	s.pusher.Push(n.UserID, payload)
}

func toNotificationResponse(n *model.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:         n.ID,
		UserID:     n.UserID,
		DocumentID: n.DocumentID,
		Type:       n.Type,
		Title:      n.Title,
		Message:    n.Message,
		IsRead:     n.IsRead,
		CreatedAt:  n.CreatedAt,
	}
	if n.Document != nil {
		resp.DocumentCode = n.Document.Code
		resp.DocumentTitle = n.Document.Title
	}
	return resp
}

func toNotificationResponses(items []model.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for i := range items {
		out = append(out, toNotificationResponse(&items[i]))
	}
	return out
}

func (s *notificationService) ListMine(ctx context.Context, userID uuid.UUID, limit int) ([]NotificationResponse, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	items, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, repoError(err, "")
	}
	return toNotificationResponses(items), nil
}

func (s *notificationService) ListUnread(ctx context.Context, userID uuid.UUID) ([]NotificationResponse, error) {
	items, err := s.repo.ListUnread(ctx, userID)
	if err != nil {
		return nil, repoError(err, "")
	}
	return toNotificationResponses(items), nil
}

func (s *notificationService) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.repo.CountUnread(ctx, userID)
	return count, repoError(err, "")
}

func (s *notificationService) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	ok, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return repoError(err, "")
	}
	if !ok {
		return apperror.NotFound("Notificación no encontrada.")
	}
	return nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, userID)
	return n, repoError(err, "")
}

func (s *notificationService) Delete(ctx context.Context, userID, id uuid.UUID) error {
	ok, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return repoError(err, "")
	}
	if !ok {
		return apperror.NotFound("Notificación no encontrada.")
	}
	return nil
}
