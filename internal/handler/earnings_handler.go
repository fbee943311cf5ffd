package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"go.uber.org/zap"
)

type EarningsHandler struct {
	svc service.EarningsService
	log *zap.Logger
}

func NewEarningsHandler(svc service.EarningsService, log *zap.Logger) *EarningsHandler {
	return &EarningsHandler{svc: svc, log: log}
}

type EarningResponse struct {
	PurchaseID string `json:"purchaseId"`
	LeadID     string `json:"leadId"`
	Rate       string `json:"rate"`
	Amount     string `json:"amount"`
	AccruedAt  string `json:"accruedAt"`
	PayableAt  string `json:"payableAt"`
	Payable    bool   `json:"payable"`
}

func (h *EarningsHandler) Mine(c echo.Context) error {
	uid, _, _ := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	sum, err := h.svc.ForOwner(c.Request().Context(), uid)
	if err != nil {
		return writeError(c, h.log, err)
	}
	now := time.Now()
	items := make([]EarningResponse, 0, len(sum.Earnings))
	for _, e := range sum.Earnings {
		items = append(items, EarningResponse{
			PurchaseID: e.PurchaseID,
			LeadID:     e.LeadID,
			Rate:       e.Rate.String(),
			Amount:     money(e.Amount),
			AccruedAt:  e.AccruedAt.UTC().Format(time.RFC3339),
			PayableAt:  e.PayableAt.UTC().Format(time.RFC3339),
			Payable:    e.Payable(now),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"partnerId":     sum.PartnerID,
		"heldTotal":     money(sum.HeldTotal),
		"payableTotal":  money(sum.PayableTotal),
		"minimumPayout": money(sum.MinimumPayout),
		"payoutReady":   sum.PayoutReady,
		"nextPayableAt": formatTime(sum.NextPayableAt),
		"earnings":      items,
	})
}
