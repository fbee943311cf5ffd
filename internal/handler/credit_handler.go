package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreditHandler struct {
	svc service.CreditService
	log *zap.Logger
}

func NewCreditHandler(svc service.CreditService, log *zap.Logger) *CreditHandler {
	return &CreditHandler{svc: svc, log: log}
}

type LedgerEntryResponse struct {
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Amount       string  `json:"amount"`
	BalanceAfter string  `json:"balanceAfter"`
	PurchaseID   *string `json:"purchaseId,omitempty"`
	Note         string  `json:"note,omitempty"`
	CreatedAt    string  `json:"createdAt"`
}

func toLedgerEntryResponse(e model.CreditLedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		// snowflake ids overflow JS numbers
		ID:           strconv.FormatInt(e.ID, 10),
		Type:         string(e.EntryType),
		Amount:       money(e.Amount),
		BalanceAfter: money(e.BalanceAfter),
		PurchaseID:   e.PurchaseID,
		Note:         e.Note,
		CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *CreditHandler) Balance(c echo.Context) error {
	uid, ws, _ := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	ctx := c.Request().Context()
	bal, err := h.svc.Balance(ctx, ws)
	if err != nil {
		return writeError(c, h.log, err)
	}
	entries, err := h.svc.Entries(ctx, ws, queryLimit(c, 20))
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, toLedgerEntryResponse(e))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"workspaceId": ws,
		"balance":     money(bal),
		"entries":     resp,
	})
}

type grantRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Amount      string `json:"amount"`
	Note        string `json:"note"`
}

func (h *CreditHandler) Grant(c echo.Context) error {
	var body grantRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid body"))
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "amount must be a decimal string"))
	}
	entry, err := h.svc.Grant(c.Request().Context(), body.WorkspaceID, amount, body.Note)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, toLedgerEntryResponse(*entry))
}
