package handler

import (
	"net/http"

	"docuflow/internal/middleware"
	"docuflow/internal/model"
	"docuflow/internal/service"
	"docuflow/pkg/pagination"
	"docuflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type HistoryHandler struct {
	history service.HistoryService
	auth    *middleware.Auth
}

func NewHistoryHandler(history service.HistoryService, auth *middleware.Auth) *HistoryHandler {
	return &HistoryHandler{history: history, auth: auth}
}

func (h *HistoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/history", h.auth.Authenticate(), middleware.RequireRole(model.RoleAdmin))
	{
		group.GET("", h.List)
		group.POST("/fix-empty-actions", h.FixEmptyActions)
	}
}

// List retrieves the ledger across all documents, newest first
// @Summary      Get history entries
// @Description  Paginated history of every document with the acting user preloaded
// @Tags         history
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 50)"
// @Success      200    {object}  response.Response{data=pagination.Page}
// @Router       /api/history [get]
func (h *HistoryHandler) List(c *gin.Context) {
	p := pagination.ParseWithDefault(c, service.DefaultHistoryLimit)

	entries, total, err := h.history.ListAll(c.Request.Context(), p.Page, p.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, pagination.NewPage(entries, total, p)))
}

// FixEmptyActions handles POST /api/history/fix-empty-actions
// @Summary      Repair history entries recorded without an action
// @Tags         history
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/history/fix-empty-actions [post]
func (h *HistoryHandler) FixEmptyActions(c *gin.Context) {
	n, err := h.history.FixEmptyActions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"updated": n}))
}
