package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/service"
	"go.uber.org/zap"
)

type PurchaseHandler struct {
	svc     service.PurchaseService
	exports service.ExportService
	log     *zap.Logger
}

func NewPurchaseHandler(svc service.PurchaseService, exports service.ExportService, log *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, exports: exports, log: log}
}

type LineItemResponse struct {
	LeadID            string   `json:"leadId"`
	PartnerID         *string  `json:"partnerId,omitempty"`
	PriceAtPurchase   string   `json:"priceAtPurchase"`
	CommissionRate    *string  `json:"commissionRate"`
	CommissionAmount  *string  `json:"commissionAmount"`
	CommissionBonuses []string `json:"commissionBonuses"`
}

type LeadResponse struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	CompanyName     string `json:"companyName"`
	CompanyIndustry string `json:"companyIndustry"`
	CompanyLocation string `json:"companyLocation"`
}

type PurchaseResponse struct {
	ID                string                   `json:"purchaseId"`
	WorkspaceID       string                   `json:"workspaceId"`
	TotalPrice        string                   `json:"totalPrice"`
	LeadCount         int                      `json:"leadCount"`
	PaymentMethod     string                   `json:"paymentMethod"`
	Status            string                   `json:"status"`
	FailureReason     string                   `json:"failureReason,omitempty"`
	PaymentRef        *string                  `json:"paymentRef,omitempty"`
	CompletedAt       *string                  `json:"completedAt,omitempty"`
	DeliveryURL       *string                  `json:"deliveryUrl,omitempty"`
	DeliveryExpiresAt *string                  `json:"deliveryExpiresAt,omitempty"`
	AlreadyCompleted  bool                     `json:"alreadyCompleted,omitempty"`
	Replayed          bool                     `json:"replayed,omitempty"`
	CheckoutHandoff   *service.CheckoutHandoff `json:"checkoutHandoff,omitempty"`
	Items             []LineItemResponse       `json:"items,omitempty"`
	Leads             []LeadResponse           `json:"leads,omitempty"`
	CreatedAt         string                   `json:"createdAt"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	val := t.UTC().Format(time.RFC3339)
	return &val
}

func toPurchaseResponse(p *model.Purchase, withItems bool) PurchaseResponse {
	resp := PurchaseResponse{
		ID:                p.ID,
		WorkspaceID:       p.BuyerWorkspaceID,
		TotalPrice:        money(p.TotalPrice),
		LeadCount:         p.LeadCount,
		PaymentMethod:     string(p.PaymentMethod),
		Status:            string(p.Status),
		FailureReason:     p.FailureReason,
		PaymentRef:        p.PaymentRef,
		CompletedAt:       formatTime(p.CompletedAt),
		DeliveryURL:       p.DeliveryRef,
		DeliveryExpiresAt: formatTime(p.DeliveryExpiresAt),
		CreatedAt:         p.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !withItems {
		return resp
	}
	resp.Items = make([]LineItemResponse, 0, len(p.Items))
	for _, it := range p.Items {
		item := LineItemResponse{
			LeadID:            it.LeadID,
			PartnerID:         it.PartnerID,
			PriceAtPurchase:   money(it.PriceAtPurchase),
			CommissionBonuses: []string(it.CommissionBonuses),
		}
		if it.CommissionRate != nil {
			v := it.CommissionRate.String()
			item.CommissionRate = &v
		}
		if it.CommissionAmount != nil {
			v := money(*it.CommissionAmount)
			item.CommissionAmount = &v
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func toLeadResponse(l model.Lead) LeadResponse {
	return LeadResponse{
		ID:              l.ID,
		FirstName:       l.FirstName,
		LastName:        l.LastName,
		Email:           l.Email,
		Phone:           l.Phone,
		CompanyName:     l.CompanyName,
		CompanyIndustry: l.CompanyIndustry,
		CompanyLocation: l.CompanyLocation,
	}
}

type createPurchaseRequest struct {
	LeadIDs       []string `json:"leadIds"`
	RecordIDs     []string `json:"recordIds"`
	PaymentMethod string   `json:"paymentMethod"`
}

func (h *PurchaseHandler) Create(c echo.Context) error {
	uid, ws, _ := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	var body createPurchaseRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", "invalid body"))
	}
	leadIDs := body.LeadIDs
	if len(leadIDs) == 0 {
		leadIDs = body.RecordIDs
	}
	res, err := h.svc.Create(c.Request().Context(), service.CreatePurchaseInput{
		WorkspaceID:    ws,
		UserID:         uid,
		LeadIDs:        leadIDs,
		PaymentMethod:  model.PaymentMethod(body.PaymentMethod),
		IdempotencyKey: c.Request().Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := toPurchaseResponse(res.Purchase, false)
	resp.Replayed = res.Replayed
	resp.CheckoutHandoff = res.Checkout
	if res.Settlement != nil {
		resp.AlreadyCompleted = res.Settlement.AlreadyCompleted
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, resp)
}

func (h *PurchaseHandler) Get(c echo.Context) error {
	uid, ws, admin := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	detail, err := h.svc.Get(c.Request().Context(), c.Param("id"), service.Viewer{WorkspaceID: ws, Admin: admin})
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := toPurchaseResponse(detail.Purchase, true)
	for _, l := range detail.Leads {
		resp.Leads = append(resp.Leads, toLeadResponse(l))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *PurchaseHandler) List(c echo.Context) error {
	uid, ws, _ := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	list, err := h.svc.ListByWorkspace(c.Request().Context(), ws, queryLimit(c, 50))
	if err != nil {
		return writeError(c, h.log, err)
	}
	resp := make([]PurchaseResponse, 0, len(list))
	for i := range list {
		resp = append(resp, toPurchaseResponse(&list[i], false))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"purchases": resp})
}

func (h *PurchaseHandler) Download(c echo.Context) error {
	uid, ws, admin := identity(c)
	if uid == "" {
		return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", "missing uid"))
	}
	export, err := h.exports.Download(c.Request().Context(), c.Param("id"), service.Viewer{WorkspaceID: ws, Admin: admin})
	if err != nil {
		return writeError(c, h.log, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", export.Filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", export.Data)
}
