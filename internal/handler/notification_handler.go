package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	svc service.NotificationService
	log *zap.Logger
}

func NewNotificationHandler(svc service.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{svc: svc, log: log}
}

type NotificationResponse struct {
	ID         uint64  `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	PurchaseID *string `json:"purchaseId,omitempty"`
	Read       bool    `json:"read"`
	ReadAt     *string `json:"readAt,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

func toNotificationResponse(n model.Notification) NotificationResponse {
	return NotificationResponse{
		ID:         n.ID,
		Type:       n.Type,
		Title:      n.Title,
		Body:       n.Body,
		PurchaseID: n.PurchaseID,
		Read:       n.ReadAt != nil,
		ReadAt:     formatTime(n.ReadAt),
		CreatedAt:  n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List returns the caller's notifications, unread only unless unread_only=false.
func (h *NotificationHandler) List(c echo.Context) error {
	uid, _, _ := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	unreadOnly := c.QueryParam("unread_only") != "false"
	list, unread, err := h.svc.List(c.Request().Context(), uid, unreadOnly, queryLimit(c, 20))
	if err != nil {
		return writeError(c, h.log, err)
	}
	items := make([]NotificationResponse, 0, len(list))
	for _, n := range list {
		items = append(items, toNotificationResponse(n))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"notifications": items,
		"unreadCount":   unread,
	})
}

func (h *NotificationHandler) MarkAllRead(c echo.Context) error {
	uid, _, _ := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	if err := h.svc.MarkAllRead(c.Request().Context(), uid); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}
