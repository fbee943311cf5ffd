package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/reqctx"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// money renders an amount at the stored scale.
func money(d decimal.Decimal) string {
	return d.StringFixed(model.MoneyScale)
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error errorPayload `json:"error"`
}

func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{
		Error: errorPayload{
			Code:    code,
			Message: message,
		},
	}
}

type InsufficientCreditsResponse struct {
	Error     errorPayload `json:"error"`
	Required  string       `json:"required"`
	Available string       `json:"available"`
}

type LeadsUnavailableResponse struct {
	Error   errorPayload `json:"error"`
	LeadIDs []string     `json:"leadIds"`
}

// writeError maps service errors to status codes. Business rule failures
// never surface as 500.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var (
		insufficient *service.InsufficientCreditsError
		unavailable  *service.LeadsUnavailableError
	)
	switch {
	case errors.As(err, &insufficient):
		return c.JSON(http.StatusPaymentRequired, InsufficientCreditsResponse{
			Error:     errorPayload{Code: "insufficient_credits", Message: "insufficient credits"},
			Required:  money(insufficient.Required),
			Available: money(insufficient.Available),
		})
	case errors.As(err, &unavailable):
		return c.JSON(http.StatusBadRequest, LeadsUnavailableResponse{
			Error:   errorPayload{Code: "leads_unavailable", Message: service.ReasonLeadsUnavailable},
			LeadIDs: unavailable.LeadIDs,
		})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrPaymentMismatch):
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", err.Error()))
	case errors.Is(err, service.ErrPaymentUnavailable):
		return c.JSON(http.StatusBadRequest, NewErrorResponse(service.ErrPaymentUnavailable.Error(), "card payments are not enabled"))
	case errors.Is(err, service.ErrInvalidSignature):
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("invalid_signature", "signature verification failed"))
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, NewErrorResponse("forbidden", "forbidden"))
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", "not found"))
	case errors.Is(err, service.ErrNotCompleted):
		return c.JSON(http.StatusConflict, NewErrorResponse(service.ErrNotCompleted.Error(), "purchase has not completed"))
	case errors.Is(err, service.ErrNotDead):
		return c.JSON(http.StatusConflict, NewErrorResponse(service.ErrNotDead.Error(), "delivery is not dead"))
	case errors.Is(err, service.ErrArtifactExpired):
		return c.JSON(http.StatusGone, NewErrorResponse(service.ErrArtifactExpired.Error(), "download window has closed"))
	case errors.Is(err, service.ErrPaymentGateway):
		return c.JSON(http.StatusBadGateway, NewErrorResponse(service.ErrPaymentGateway.Error(), "payment processor unavailable"))
	}
	if log != nil {
		log.Error("request failed",
			zap.String("rid", reqctx.RID(c.Request().Context())),
			zap.String("path", c.Path()),
			zap.Error(err))
	}
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", "internal error"))
}

func identity(c echo.Context) (uid, workspaceID string, admin bool) {
	uid, _ = c.Get("uid").(string)
	workspaceID, _ = c.Get("workspace_id").(string)
	admin, _ = c.Get("admin").(bool)
	return uid, workspaceID, admin
}

func queryLimit(c echo.Context, def int) int {
	if lStr := c.QueryParam("limit"); lStr != "" {
		if lParsed, err := strconv.Atoi(lStr); err == nil && lParsed > 0 {
			return lParsed
		}
	}
	return def
}
