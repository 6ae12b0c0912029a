package handler

import (
	"io"
	"mime"
	"net/http"

	"docuflow/internal/middleware"
	"docuflow/internal/model"
	"docuflow/internal/service"
	"docuflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type DocumentHandler struct {
	documents service.DocumentService
	workflow  service.WorkflowService
	history   service.HistoryService
	auth      *middleware.Auth
}

func NewDocumentHandler(documents service.DocumentService, workflow service.WorkflowService, history service.HistoryService, auth *middleware.Auth) *DocumentHandler {
	return &DocumentHandler{documents: documents, workflow: workflow, history: history, auth: auth}
}

func (h *DocumentHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/documents", h.auth.Authenticate())
	{
		group.GET("", h.List)
		group.GET("/statistics", h.Statistics)
		group.GET("/search", h.Search)
		group.GET("/my-documents", h.MyDocuments)
		group.GET("/status/:status", h.ListByStatus)
		group.GET("/:id/history", h.History)
		group.GET("/:id/download", h.Download)
		group.GET("/:id", h.Get)

		creators := middleware.RequireRole(model.RoleCreator, model.RoleAdmin)
		group.POST("", creators, h.Create)
		group.PUT("/:id", creators, h.Edit)
		group.DELETE("/:id", creators, h.Delete)
		group.POST("/:id/new-version", creators, h.NewVersion)

		group.PATCH("/:id/status", h.ChangeStatus)
		group.POST("/:id/revoke", middleware.RequireRole(model.RoleAdmin), h.Revoke)
	}
}

// List handles GET /api/documents
// @Summary      List documents
// @Description  Every document, most recently updated first
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]service.DocumentResponse}
// @Router       /api/documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, docs))
}

// Statistics handles GET /api/documents/statistics
// @Summary      Document counts per status
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=model.DocumentStatistics}
// @Router       /api/documents/statistics [get]
func (h *DocumentHandler) Statistics(c *gin.Context) {
	stats, err := h.documents.Statistics(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// Search handles GET /api/documents/search?query=
// @Summary      Search documents
// @Description  Case-insensitive substring match over code, title and description
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Param        query  query     string  true  "Search term"
// @Success      200    {object}  response.Response{data=[]service.DocumentResponse}
// @Failure      400    {object}  response.Response
// @Router       /api/documents/search [get]
func (h *DocumentHandler) Search(c *gin.Context) {
	docs, err := h.documents.Search(c.Request.Context(), c.Query("query"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, docs))
}

// MyDocuments handles GET /api/documents/my-documents
// @Summary      Documents created by the current user
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=[]service.DocumentResponse}
// @Router       /api/documents/my-documents [get]
func (h *DocumentHandler) MyDocuments(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	docs, err := h.documents.ListByCreator(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, docs))
}

// ListByStatus handles GET /api/documents/status/:status
// @Summary      Documents in a status
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Param        status  path      string  true  "Borrador, En Revision, Aprobado, Rechazado or Obsoleto"
// @Success      200     {object}  response.Response{data=[]service.DocumentResponse}
// @Failure      400     {object}  response.Response
// @Router       /api/documents/status/{status} [get]
func (h *DocumentHandler) ListByStatus(c *gin.Context) {
	docs, err := h.documents.ListByStatus(c.Request.Context(), c.Param("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, docs))
}

// Get handles GET /api/documents/:id
// @Summary      Get a document with its history
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  response.Response{data=service.DocumentDetail}
// @Failure      404  {object}  response.Response
// @Router       /api/documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	detail, err := h.documents.GetByID(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// History handles GET /api/documents/:id/history
// @Summary      Document history, newest first
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  response.Response{data=[]service.HistoryEntryResponse}
// @Router       /api/documents/{id}/history [get]
func (h *DocumentHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entries, err := h.history.ListByDocument(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}

// Download handles GET /api/documents/:id/download
// @Summary      Download the current file of a document
// @Tags         documents
// @Produce      octet-stream
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {file}    binary
// @Failure      404  {object}  response.Response
// @Router       /api/documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	dl, err := h.documents.Download(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	defer dl.Content.Close()

	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, dl.Content); err != nil {
		_ = c.Error(err)
	}
}

// Create handles POST /api/documents (multipart)
// @Summary      Create a document
// @Description  Creates a Draft document at version 1.0, optionally with a file
// @Tags         documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        code         formData  string  true   "Business code (unique)"
// @Param        title        formData  string  true   "Title"
// @Param        description  formData  string  false  "Description"
// @Param        type         formData  string  true   "Manual, Procedimiento, Instructivo, Politica, Formato or Otro"
// @Param        file         formData  file    false  "PDF, Word, Excel or PowerPoint, at most 10MB"
// @Success      201          {object}  response.Response{data=service.DocumentResponse}
// @Failure      400          {object}  response.Response
// @Failure      409          {object}  response.Response
// @Router       /api/documents [post]
func (h *DocumentHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	file, closeFile, err := formFile(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer closeFile()

	var req service.CreateDocumentRequest
	if err := c.ShouldBind(&req); err != nil {
		badRequest(c, "Código, título y tipo son requeridos.")
		return
	}

	doc, err := h.documents.Create(c.Request.Context(), user, req, file)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.SuccessMessage(http.StatusCreated, "Documento creado exitosamente.", doc))
}

// editForm distinguishes absent fields from empty ones.
func editForm(c *gin.Context) service.EditDocumentRequest {
	var req service.EditDocumentRequest
	if v, ok := c.GetPostForm("title"); ok {
		req.Title = &v
	}
	if v, ok := c.GetPostForm("description"); ok {
		req.Description = &v
	}
	if v, ok := c.GetPostForm("type"); ok {
		req.Type = &v
	}
	return req
}

// Edit handles PUT /api/documents/:id (multipart or JSON)
// @Summary      Edit a Draft or Rejected document
// @Description  Only provided fields change. Editing a Rejected document returns it to Draft.
// @Tags         documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id           path      string  true   "Document ID"
// @Param        title        formData  string  false  "Title"
// @Param        description  formData  string  false  "Description"
// @Param        type         formData  string  false  "Document type"
// @Param        file         formData  file    false  "Replacement file"
// @Success      200          {object}  response.Response{data=service.DocumentResponse}
// @Failure      400          {object}  response.Response
// @Failure      403          {object}  response.Response
// @Router       /api/documents/{id} [put]
func (h *DocumentHandler) Edit(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	file, closeFile, err := formFile(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer closeFile()

	var req service.EditDocumentRequest
	if c.ContentType() == gin.MIMEJSON {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "Invalid request payload")
			return
		}
	} else {
		req = editForm(c)
	}

	doc, err := h.workflow.Edit(c.Request.Context(), user, id, req, file)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Documento actualizado exitosamente.", doc))
}

// Delete handles DELETE /api/documents/:id
// @Summary      Delete a Draft document
// @Tags         documents
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Document ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/documents/{id} [delete]
func (h *DocumentHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.workflow.Delete(c.Request.Context(), user, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Documento eliminado exitosamente.", nil))
}

// NewVersion handles POST /api/documents/:id/new-version (multipart)
// @Summary      Start a new version of an approved document
// @Description  Requires a file. Version increases by 0.1 and the document returns to Draft.
// @Tags         documents
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id        path      string  true   "Document ID"
// @Param        file      formData  file    true   "New file"
// @Param        comments  formData  string  false  "Change notes"
// @Success      200       {object}  response.Response{data=service.DocumentResponse}
// @Failure      400       {object}  response.Response
// @Failure      403       {object}  response.Response
// @Router       /api/documents/{id}/new-version [post]
func (h *DocumentHandler) NewVersion(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	file, closeFile, err := formFile(c)
	if err != nil {
		writeError(c, err)
		return
	}
	defer closeFile()

	doc, err := h.workflow.NewVersion(c.Request.Context(), user, id, file, c.PostForm("comments"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Nueva versión "+doc.Version+" creada exitosamente.", doc))
}

// ChangeStatus handles PATCH /api/documents/:id/status
// @Summary      Move a document through review
// @Description  "En Revision" sends to review, "Aprobado" approves, "Rechazado" rejects.
// @Tags         documents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                       true  "Document ID"
// @Param        payload  body      service.ChangeStatusRequest  true  "Target status and comments"
// @Success      200      {object}  response.Response{data=service.DocumentResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/documents/{id}/status [patch]
func (h *DocumentHandler) ChangeStatus(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Estado inválido.")
		return
	}

	doc, err := h.workflow.ChangeStatus(c.Request.Context(), user, id, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Estado del documento actualizado a "+string(doc.Status)+".", doc))
}

// Revoke handles POST /api/documents/:id/revoke
// @Summary      Revoke an approval
// @Description  Admin only. Returns the document to Draft; a reason is required.
// @Tags         documents
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                 true  "Document ID"
// @Param        payload  body      service.RevokeRequest  true  "Reason"
// @Success      200      {object}  response.Response{data=service.DocumentResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/documents/{id}/revoke [post]
func (h *DocumentHandler) Revoke(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req service.RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Debe proporcionar una razón para revocar la aprobación.")
		return
	}

	doc, err := h.workflow.Revoke(c.Request.Context(), user, id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Aprobacion Revocada exitosamente. El documento ha vuelto a estado Borrador.", doc))
}
