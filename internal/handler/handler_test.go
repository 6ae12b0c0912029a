package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docuflow/internal/database"
	"docuflow/internal/middleware"
	"docuflow/internal/model"
	"docuflow/internal/repository"
	"docuflow/internal/service"
	"docuflow/internal/storage"
	"docuflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pdfContent = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n%%EOF\n")

type apiEnv struct {
	router        *gin.Engine
	users         service.UserService
	notifications service.NotificationService
	tokens        *service.TokenIssuer
	accounts      map[model.Role]*service.UserResponse
}

type envelope struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	log := logger.NewNop()
	store := storage.NewFSStore(afero.NewMemMapFs())
	tx := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	docRepo := repository.NewDocumentRepository(db)

	tokens := service.NewTokenIssuer("handler-secret", time.Hour)
	users := service.NewUserService(userRepo, tokens, 24*time.Hour, log)
	history := service.NewHistoryService(repository.NewHistoryRepository(db))
	notifications := service.NewNotificationService(repository.NewNotificationRepository(db), userRepo, nil, service.DefaultNotifierOptions(), log)
	documents := service.NewDocumentService(tx, docRepo, history, store, log)
	workflow := service.NewWorkflowService(tx, docRepo, history, notifications, store, log)
	t.Cleanup(notifications.Wait)

	auth := middleware.NewAuth(tokens, userRepo, 24*time.Hour, false)

	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))
	api := &r.RouterGroup
	NewAuthHandler(users, auth).RegisterRoutes(api)
	NewUserHandler(users, auth).RegisterRoutes(api)
	NewDocumentHandler(documents, workflow, history, auth).RegisterRoutes(api)
	NewNotificationHandler(notifications, auth).RegisterRoutes(api)
	NewHistoryHandler(history, auth).RegisterRoutes(api)

	env := &apiEnv{router: r, users: users, notifications: notifications, tokens: tokens, accounts: map[model.Role]*service.UserResponse{}}
	for _, role := range model.AllRoles {
		acct, err := users.CreateUser(context.Background(), service.CreateUserRequest{
			Username: string(role),
			Email:    string(role) + "@empresa.com",
			Password: "secreto1",
			FullName: "Usuario " + string(role),
			Role:     string(role),
		})
		require.NoError(t, err)
		env.accounts[role] = acct
	}
	return env
}

func (e *apiEnv) token(t *testing.T, role model.Role) string {
	t.Helper()
	acct := e.accounts[role]
	tok, err := e.tokens.Issue(&model.User{ID: acct.ID, Username: acct.Username, Role: acct.Role})
	require.NoError(t, err)
	return tok
}

func (e *apiEnv) do(t *testing.T, req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var body envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func jsonRequest(method, path string, payload interface{}) *http.Request {
	var body io.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func multipartRequest(t *testing.T, method, path string, fields map[string]string, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (e *apiEnv) createDocument(t *testing.T, code string) service.DocumentResponse {
	t.Helper()
	req := multipartRequest(t, http.MethodPost, "/api/documents", map[string]string{
		"code":  code,
		"title": "Manual " + code,
		"type":  string(model.TypeManual),
	}, code+".pdf", pdfContent)
	w, body := e.do(t, req, e.token(t, model.RoleCreator))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var doc service.DocumentResponse
	require.NoError(t, json.Unmarshal(body.Data, &doc))
	return doc
}

func TestAuthenticationRequired(t *testing.T) {
	env := newAPIEnv(t)

	for _, path := range []string{"/api/documents", "/api/notifications", "/api/auth/profile", "/api/history"} {
		w, body := env.do(t, httptest.NewRequest(http.MethodGet, path, nil), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "error", body.Status)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("Authorization", "Token abc")
	w, _ := env.do(t, req, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil), "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginSetsCookiesAndCookieAuthenticates(t *testing.T) {
	env := newAPIEnv(t)

	w, body := env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", service.LoginRequest{
		Username: "Creador@empresa.com",
		Password: "secreto1",
	}), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Login exitoso.", body.Message)

	var access *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "access_token" {
			access = c
		}
	}
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/profile", nil)
	req.AddCookie(access)
	w, body = env.do(t, req, "")
	require.Equal(t, http.StatusOK, w.Code)

	var profile service.UserResponse
	require.NoError(t, json.Unmarshal(body.Data, &profile))
	assert.Equal(t, model.RoleCreator, profile.Role)

	w, _ = env.do(t, jsonRequest(http.MethodPost, "/api/auth/login", service.LoginRequest{
		Username: "Creador",
		Password: "incorrecta",
	}), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDisabledUserTokenIsForbidden(t *testing.T) {
	env := newAPIEnv(t)
	token := env.token(t, model.RoleReviewer)

	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil), token)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/"+env.accounts[model.RoleReviewer].ID.String(), nil), env.token(t, model.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents", nil), token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUserAdministrationIsAdminOnly(t *testing.T) {
	env := newAPIEnv(t)

	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/users", nil), env.token(t, model.RoleCreator))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/users?limit=2", nil), env.token(t, model.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []service.UserResponse `json:"items"`
		Total int64                  `json:"total"`
		Limit int                    `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.Len(t, page.Items, 2)
	assert.EqualValues(t, 4, page.Total)

	w, _ = env.do(t, jsonRequest(http.MethodPost, "/api/users", service.CreateUserRequest{
		Username: "Creador", Email: "dup@empresa.com", Password: "secreto1", FullName: "Dup", Role: "Creador",
	}), env.token(t, model.RoleAdmin))
	assert.Equal(t, http.StatusConflict, w.Code)

	self := env.accounts[model.RoleAdmin].ID.String()
	w, _ = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/users/"+self, nil), env.token(t, model.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDocumentWorkflowOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	creator := env.token(t, model.RoleCreator)
	reviewer := env.token(t, model.RoleReviewer)

	req := multipartRequest(t, http.MethodPost, "/api/documents", map[string]string{
		"code": "X-1", "title": "x", "type": "Manual",
	}, "", nil)
	w, _ := env.do(t, req, reviewer)
	assert.Equal(t, http.StatusForbidden, w.Code, "reviewers cannot create")

	doc := env.createDocument(t, "HTTP-001")
	assert.Equal(t, model.StatusDraft, doc.Status)
	statusPath := "/api/documents/" + doc.ID.String() + "/status"

	w, _ = env.do(t, jsonRequest(http.MethodPatch, statusPath, service.ChangeStatusRequest{Status: "Publicado"}), creator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, jsonRequest(http.MethodPatch, statusPath, service.ChangeStatusRequest{Status: "Aprobado"}), reviewer)
	assert.Equal(t, http.StatusConflict, w.Code, "draft cannot be approved")

	w, body := env.do(t, jsonRequest(http.MethodPatch, statusPath, service.ChangeStatusRequest{Status: "En Revision"}), creator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Estado del documento actualizado a En Revision.", body.Message)

	w, _ = env.do(t, jsonRequest(http.MethodPatch, statusPath, service.ChangeStatusRequest{Status: "Aprobado"}), creator)
	assert.Equal(t, http.StatusForbidden, w.Code, "creators cannot approve")

	w, _ = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/documents/"+doc.ID.String(), nil), creator)
	assert.Equal(t, http.StatusForbidden, w.Code, "only drafts can be deleted")

	w, _ = env.do(t, jsonRequest(http.MethodPatch, statusPath, service.ChangeStatusRequest{Status: "Aprobado", Comments: "ok"}), reviewer)
	require.Equal(t, http.StatusOK, w.Code)

	revokePath := "/api/documents/" + doc.ID.String() + "/revoke"
	w, _ = env.do(t, jsonRequest(http.MethodPost, revokePath, service.RevokeRequest{Reason: "x"}), reviewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, jsonRequest(http.MethodPost, revokePath, service.RevokeRequest{}), env.token(t, model.RoleAdmin))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	versionPath := "/api/documents/" + doc.ID.String() + "/new-version"
	w, _ = env.do(t, multipartRequest(t, http.MethodPost, versionPath, map[string]string{"comments": "sin archivo"}, "", nil), creator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, multipartRequest(t, http.MethodPost, versionPath, map[string]string{"comments": "rev 2"}, "v2.pdf", pdfContent), creator)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated service.DocumentResponse
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.Equal(t, "1.1", updated.Version)
	assert.Equal(t, model.StatusDraft, updated.Status)

	w, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID.String()+"/history", nil), reviewer)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []service.HistoryEntryResponse
	require.NoError(t, json.Unmarshal(body.Data, &entries))
	assert.Len(t, entries, 4)

	env.notifications.Wait()
	w, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/notifications/count", nil), reviewer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":1}`, string(body.Data))
}

func TestEditDocumentFormFields(t *testing.T) {
	env := newAPIEnv(t)
	doc := env.createDocument(t, "EDIT-001")

	req := multipartRequest(t, http.MethodPut, "/api/documents/"+doc.ID.String(), map[string]string{
		"description": "",
	}, "", nil)
	w, body := env.do(t, req, env.token(t, model.RoleCreator))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated service.DocumentResponse
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.Equal(t, doc.Title, updated.Title, "absent fields are kept")
	assert.Equal(t, "", updated.Description)

	w, body = env.do(t, jsonRequest(http.MethodPut, "/api/documents/"+doc.ID.String(), map[string]string{
		"title": "Nuevo título",
	}), env.token(t, model.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.Equal(t, "Nuevo título", updated.Title)
}

func TestOversizedUploadIsRejected(t *testing.T) {
	env := newAPIEnv(t)
	creator := env.token(t, model.RoleCreator)
	big := append(bytes.Clone(pdfContent), bytes.Repeat([]byte{'x'}, 12<<20)...)

	for _, chunked := range []bool{false, true} {
		req := multipartRequest(t, http.MethodPost, "/api/documents", map[string]string{
			"code":  "BIG-001",
			"title": "Manual grande",
			"type":  string(model.TypeManual),
		}, "big.pdf", big)
		if chunked {
			req.ContentLength = -1
		}
		w, body := env.do(t, req, creator)
		assert.Equal(t, http.StatusBadRequest, w.Code, "chunked=%v", chunked)
		assert.Contains(t, body.Message+body.Error, "tamaño máximo")
	}

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/search?query=BIG-001", nil), creator)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(body.Data))
}

func TestDocumentReads(t *testing.T) {
	env := newAPIEnv(t)
	doc := env.createDocument(t, "READ-001")
	approver := env.token(t, model.RoleApprover)

	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/not-a-uuid", nil), approver)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+env.accounts[model.RoleAdmin].ID.String(), nil), approver)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID.String(), nil), approver)
	require.Equal(t, http.StatusOK, w.Code)
	var detail service.DocumentDetail
	require.NoError(t, json.Unmarshal(body.Data, &detail))
	assert.Equal(t, "READ-001", detail.Document.Code)
	assert.Len(t, detail.History, 1)

	w, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/search?query=read", nil), approver)
	require.Equal(t, http.StatusOK, w.Code)
	var found []service.DocumentResponse
	require.NoError(t, json.Unmarshal(body.Data, &found))
	assert.Len(t, found, 1)

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/search", nil), approver)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/status/Pendiente", nil), approver)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/statistics", nil), approver)
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.DocumentStatistics
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.EqualValues(t, 1, stats.Borradores)

	w, body = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/my-documents", nil), approver)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(body.Data))

	w, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/api/documents/"+doc.ID.String()+"/download", nil), approver)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename=READ-001_v1.0.pdf`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, pdfContent, w.Body.Bytes())
}

func TestHistoryEndpointsAreAdminOnly(t *testing.T) {
	env := newAPIEnv(t)
	env.createDocument(t, "HIS-001")

	w, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil), env.token(t, model.RoleApprover))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil), env.token(t, model.RoleAdmin))
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []service.HistoryEntryResponse `json:"items"`
		Total int64                          `json:"total"`
		Limit int                            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &page))
	assert.EqualValues(t, 1, page.Total)
	assert.Equal(t, service.DefaultHistoryLimit, page.Limit)

	w, _ = env.do(t, httptest.NewRequest(http.MethodPost, "/api/history/fix-empty-actions", nil), env.token(t, model.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
}
