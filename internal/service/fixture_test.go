package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"docuflow/internal/database"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/internal/storage"
	"docuflow/pkg/logger"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var pdfContent = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

func pdfUpload(name string) *Upload {
	return &Upload{Filename: name, Size: int64(len(pdfContent)), Content: bytes.NewReader(pdfContent)}
}

type pushed struct {
	userID  uuid.UUID
	payload []byte
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []pushed
}

func (p *recordingPusher) Push(userID uuid.UUID, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushed{userID: userID, payload: payload})
}

func (p *recordingPusher) count(userID uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.userID == userID {
			n++
		}
	}
	return n
}

// failingHistory rejects every new ledger row.
type failingHistory struct {
	HistoryService
}

var errLedgerDown = errors.New("ledger unavailable")

func (failingHistory) Record(context.Context, *model.HistoryEntry) error {
	return errLedgerDown
}

type testEnv struct {
	ctx context.Context
	db  *gorm.DB
	fs  afero.Fs

	userRepo         repository.UserRepository
	documentRepo     repository.DocumentRepository
	notificationRepo repository.NotificationRepository

	pusher        *recordingPusher
	users         UserService
	history       HistoryService
	notifications NotificationService
	documents     DocumentService
	workflow      WorkflowService

	admin    *model.User
	creator  *model.User
	other    *model.User // a second Creador who owns nothing
	reviewer *model.User
	approver *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logger.NewNop()
	fs := afero.NewMemMapFs()
	store := storage.NewFSStore(fs)

	env := &testEnv{
		ctx:              context.Background(),
		db:               db,
		fs:               fs,
		userRepo:         repository.NewUserRepository(db),
		documentRepo:     repository.NewDocumentRepository(db),
		notificationRepo: repository.NewNotificationRepository(db),
		pusher:           &recordingPusher{},
	}

	tx := repository.NewTransactionManager(db)
	env.users = NewUserService(env.userRepo, NewTokenIssuer("test-secret", time.Hour), 24*time.Hour, log)
	env.history = NewHistoryService(repository.NewHistoryRepository(db))
	env.notifications = NewNotificationService(env.notificationRepo, env.userRepo, env.pusher, NotifierOptions{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		Timeout:         5 * time.Second,
	}, log)
	env.documents = NewDocumentService(tx, env.documentRepo, env.history, store, log)
	env.workflow = NewWorkflowService(tx, env.documentRepo, env.history, env.notifications, store, log)

	env.admin = env.addUser(t, "admin", model.RoleAdmin)
	env.creator = env.addUser(t, "creador", model.RoleCreator)
	env.other = env.addUser(t, "otro", model.RoleCreator)
	env.reviewer = env.addUser(t, "revisor", model.RoleReviewer)
	env.approver = env.addUser(t, "aprobador", model.RoleApprover)

	t.Cleanup(env.notifications.Wait)
	return env
}

// workflowWith builds a workflow over the fixture's database and files with
// the given ledger and notifier swapped in.
func (e *testEnv) workflowWith(history HistoryService, notifier Notifier) WorkflowService {
	return NewWorkflowService(repository.NewTransactionManager(e.db), e.documentRepo, history, notifier, storage.NewFSStore(e.fs), logger.NewNop())
}

func (e *testEnv) storedFiles(t *testing.T) []string {
	t.Helper()
	infos, err := afero.ReadDir(e.fs, "/")
	require.NoError(t, err)
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	return names
}

func (e *testEnv) addUser(t *testing.T, username string, role model.Role) *model.User {
	t.Helper()
	u := &model.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "unused",
		FullName: "Usuario " + username,
		Role:     role,
		IsActive: true,
	}
	require.NoError(t, e.userRepo.Create(e.ctx, u))
	return u
}

// draft creates a document owned by the fixture creator, with a file.
func (e *testEnv) draft(t *testing.T, code string) *DocumentResponse {
	t.Helper()
	doc, err := e.documents.Create(e.ctx, e.creator, CreateDocumentRequest{
		Code:        code,
		Title:       "Manual de " + code,
		Description: "Descripción de " + code,
		Type:        string(model.TypeManual),
	}, pdfUpload(code+".pdf"))
	require.NoError(t, err)
	return doc
}

func (e *testEnv) inReview(t *testing.T, code string) *DocumentResponse {
	t.Helper()
	doc := e.draft(t, code)
	doc, err := e.workflow.SendToReview(e.ctx, e.creator, doc.ID, "")
	require.NoError(t, err)
	return doc
}

func (e *testEnv) approved(t *testing.T, code string) *DocumentResponse {
	t.Helper()
	doc := e.inReview(t, code)
	doc, err := e.workflow.Approve(e.ctx, e.approver, doc.ID, "ok")
	require.NoError(t, err)
	return doc
}

func (e *testEnv) rejected(t *testing.T, code string) *DocumentResponse {
	t.Helper()
	doc := e.inReview(t, code)
	doc, err := e.workflow.Reject(e.ctx, e.reviewer, doc.ID, "faltan firmas")
	require.NoError(t, err)
	return doc
}

func (e *testEnv) historyOf(t *testing.T, id uuid.UUID) []HistoryEntryResponse {
	t.Helper()
	entries, err := e.history.ListByDocument(e.ctx, id)
	require.NoError(t, err)
	return entries
}

func (e *testEnv) inbox(t *testing.T, userID uuid.UUID) []NotificationResponse {
	t.Helper()
	e.notifications.Wait()
	items, err := e.notifications.ListMine(e.ctx, userID, 100)
	require.NoError(t, err)
	return items
}

func (e *testEnv) fileExists(t *testing.T, ref *string) bool {
	t.Helper()
	require.NotNil(t, ref)
	ok, err := afero.Exists(e.fs, *ref)
	require.NoError(t, err)
	return ok
}

func actionsOf(entries []HistoryEntryResponse) []model.HistoryAction {
	out := make([]model.HistoryAction, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}
