package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"go.uber.org/zap"
)

type AdminHandler struct {
	deliveries service.DeliveryAdmin
	log        *zap.Logger
}

func NewAdminHandler(deliveries service.DeliveryAdmin, log *zap.Logger) *AdminHandler {
	return &AdminHandler{deliveries: deliveries, log: log}
}

type DeliveryResponse struct {
	ID             uint64          `json:"id"`
	EventID        string          `json:"eventId"`
	EventType      string          `json:"eventType"`
	Channel        string          `json:"channel"`
	Target         string          `json:"target"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"lastError,omitempty"`
	LastStatusCode int             `json:"lastStatusCode,omitempty"`
	DeadAt         *string         `json:"deadAt,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

func toDeliveryResponse(d model.NotificationDelivery) DeliveryResponse {
	return DeliveryResponse{
		ID:             d.ID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Channel:        string(d.Channel),
		Target:         d.Target,
		Status:         string(d.Status),
		Attempts:       d.Attempts,
		LastError:      d.LastError,
		LastStatusCode: d.LastStatusCode,
		DeadAt:         formatTime(d.DeadAt),
		Payload:        json.RawMessage(d.Payload),
	}
}

func (h *AdminHandler) DeadDeliveries(c echo.Context) error {
	list, err := h.deliveries.ListDead(c.Request().Context(), queryLimit(c, 50))
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := make([]DeliveryResponse, 0, len(list))
	for _, d := range list {
		resp = append(resp, toDeliveryResponse(d))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deliveries": resp})
}

func (h *AdminHandler) RetryDelivery(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid delivery id"))
	}
	if err := h.deliveries.Requeue(c.Request().Context(), id); err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"id":         id,
		"status":     model.DeliveryStatusPending,
		"requeuedAt": time.Now().UTC().Format(time.RFC3339),
	})
}
