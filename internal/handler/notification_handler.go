package handler

import (
	"net/http"
	"strconv"

	"docuflow/internal/middleware"
	"docuflow/internal/service"
	"docuflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type NotificationHandler struct {
	notifications service.NotificationService
	auth          *middleware.Auth
}

func NewNotificationHandler(notifications service.NotificationService, auth *middleware.Auth) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, auth: auth}
}

func (h *NotificationHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/notifications", h.auth.Authenticate())
	{
		group.GET("", h.List)
		group.GET("/unread", h.Unread)
		group.GET("/count", h.Count)
		group.PATCH("/read-all", h.MarkAllRead)
		group.PATCH("/:id/read", h.MarkRead)
		group.DELETE("/:id", h.Delete)
	}
}

// List handles GET /api/notifications
// @Summary      My notifications
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Param        limit  query     int  false  "Maximum entries (default 10)"
// @Success      200    {object}  response.Response{data=[]service.NotificationResponse}
// @Router       /api/notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	items, err := h.notifications.ListMine(c.Request.Context(), user.ID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

func (h *NotificationHandler) Unread(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	items, err := h.notifications.ListUnread(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, items))
}

// Count handles GET /api/notifications/count
// @Summary      Unread notification count
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response{data=object}
// @Router       /api/notifications/count [get]
func (h *NotificationHandler) Count(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	count, err := h.notifications.CountUnread(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"count": count}))
}

func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	n, err := h.notifications.MarkAllRead(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Todas las notificaciones marcadas como leídas.", gin.H{"updated": n}))
}

// MarkRead handles PATCH /api/notifications/:id/read
// @Summary      Mark one of my notifications as read
// @Tags         notifications
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Notification ID"
// @Success      200  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/notifications/{id}/read [patch]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), user.ID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Notificación marcada como leída.", nil))
}

func (h *NotificationHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.notifications.Delete(c.Request.Context(), user.ID, id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.SuccessMessage(http.StatusOK, "Notificación eliminada.", nil))
}
