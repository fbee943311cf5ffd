package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"github.com/shinyyama/leadmarket-backend/internal/signing"
	"go.uber.org/zap"
)

const maxEventBytes = 1 << 20

type WebhookHandler struct {
	svc service.PaymentEventService
	log *zap.Logger
}

func NewWebhookHandler(svc service.PaymentEventService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{svc: svc, log: log}
}

// Payments receives processor events. Any 2xx tells the processor to stop
// redelivering, so only verified and applied (or deliberately ignored) events
// get one.
func (h *WebhookHandler) Payments(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxEventBytes))
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "unreadable body"))
	}
	out, err := h.svc.Handle(c.Request().Context(), c.Request().Header.Get(signing.HeaderName), body)
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := map[string]interface{}{
		"received": true,
		"ignored":  out.Ignored,
	}
	if out.Settlement != nil {
		resp["status"] = out.Settlement.Status
		resp["alreadyCompleted"] = out.Settlement.AlreadyCompleted
	}
	return c.JSON(http.StatusOK, resp)
}
