package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/logger"
	"github.com/shinyyama/leadmarket-backend/internal/metrics"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/payment"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const MaxLeadsPerPurchase = 100

type CreatePurchaseInput struct {
	WorkspaceID    string
	UserID         string
	LeadIDs        []string
	PaymentMethod  model.PaymentMethod
	IdempotencyKey string
}

// CheckoutHandoff is what the buyer's client needs to finish a card payment.
type CheckoutHandoff struct {
	Token           string `json:"token"`
	URL             string `json:"url,omitempty"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type CreatePurchaseResult struct {
	Purchase *model.Purchase
	// Replayed is set when an Idempotency-Key matched an earlier purchase.
	Replayed   bool
	Checkout   *CheckoutHandoff
	Settlement *SettlementResult
}

type Viewer struct {
	WorkspaceID string
	Admin       bool
}

type PurchaseDetail struct {
	Purchase *model.Purchase
	// Leads is filled only once the purchase has completed.
	Leads []model.Lead
}

type PurchaseService interface {
	Create(ctx context.Context, in CreatePurchaseInput) (*CreatePurchaseResult, error)
	Get(ctx context.Context, purchaseID string, viewer Viewer) (*PurchaseDetail, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]model.Purchase, error)
}

type PurchaseOptions struct {
	// Gateway and Handoff are both required for card purchases.
	Gateway payment.Gateway
	Handoff *payment.HandoffSigner
	Metrics *metrics.Metrics
}

type purchaseService struct {
	store      repository.Store
	settlement SettlementService
	ids        *idgen.Generator
	gateway    payment.Gateway
	handoff    *payment.HandoffSigner
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func NewPurchaseService(store repository.Store, settlement SettlementService, ids *idgen.Generator, log *zap.Logger, opts PurchaseOptions) PurchaseService {
	if log == nil {
		log = zap.NewNop()
	}
	return &purchaseService{
		store:      store,
		settlement: settlement,
		ids:        ids,
		gateway:    opts.Gateway,
		handoff:    opts.Handoff,
		metrics:    opts.Metrics,
		log:        log.Named("purchase"),
	}
}

func (s *purchaseService) Create(ctx context.Context, in CreatePurchaseInput) (*CreatePurchaseResult, error) {
	if in.WorkspaceID == "" {
		return nil, invalidInput("buyer workspace is required")
	}
	if !in.PaymentMethod.Valid() {
		return nil, invalidInput(fmt.Sprintf("payment method must be %q or %q", model.PaymentMethodCredit, model.PaymentMethodCard))
	}
	leadIDs, err := normalizeLeadIDs(in.LeadIDs)
	if err != nil {
		return nil, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.store.Purchases().FindByIdempotencyKey(ctx, in.WorkspaceID, key)
		if err == nil {
			return s.replay(existing)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	if in.PaymentMethod == model.PaymentMethodCard && (s.gateway == nil || s.handoff == nil) {
		return nil, ErrPaymentUnavailable
	}

	leads, err := s.store.Leads().FindByIDs(ctx, leadIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}
	var unavailable []string
	for _, id := range leadIDs {
		if l, ok := byID[id]; !ok || !l.Available() {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		return nil, &LeadsUnavailableError{LeadIDs: unavailable}
	}
	if err := s.checkPartners(ctx, leadIDs, byID); err != nil {
		return nil, err
	}

	total := decimal.Zero
	items := make([]model.PurchaseLineItem, 0, len(leadIDs))
	for _, id := range leadIDs {
		l := byID[id]
		price := l.ListPrice()
		total = total.Add(price)
		items = append(items, model.PurchaseLineItem{
			LeadID:          l.ID,
			PartnerID:       l.PartnerID,
			PriceAtPurchase: price,
		})
	}

	if in.PaymentMethod == model.PaymentMethodCredit {
		bal, err := s.store.Credits().Balance(ctx, in.WorkspaceID)
		if err != nil {
			return nil, err
		}
		if bal.LessThan(total) {
			return nil, &InsufficientCreditsError{Required: total, Available: bal}
		}
	}

	p := &model.Purchase{
		ID:               s.ids.PurchaseID(),
		BuyerWorkspaceID: in.WorkspaceID,
		BuyerUserID:      in.UserID,
		TotalPrice:       total,
		LeadCount:        len(items),
		PaymentMethod:    in.PaymentMethod,
		Status:           model.PurchaseStatusPending,
		Items:            items,
	}
	if key != "" {
		p.IdempotencyKey = &key
	}
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		return tx.Purchases().Create(ctx, p)
	})
	if err != nil {
		if key != "" && errors.Is(err, repository.ErrConflict) {
			existing, ferr := s.store.Purchases().FindByIdempotencyKey(ctx, in.WorkspaceID, key)
			if ferr == nil {
				return s.replay(existing)
			}
		}
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	if s.metrics != nil {
		s.metrics.PurchasesCreated.WithLabelValues(string(p.PaymentMethod)).Inc()
	}
	s.log.Info("purchase created",
		zap.String("purchase_id", p.ID),
		zap.String("workspace_id", p.BuyerWorkspaceID),
		zap.String("method", string(p.PaymentMethod)),
		zap.Int("lead_count", p.LeadCount),
		zap.String("total", p.TotalPrice.StringFixed(2)))

	if p.PaymentMethod == model.PaymentMethodCredit {
		return s.settleCredit(ctx, p)
	}
	return s.openCheckout(ctx, p)
}

func (s *purchaseService) checkPartners(ctx context.Context, leadIDs []string, leads map[string]model.Lead) error {
	var partnerIDs []string
	seen := make(map[string]bool)
	for _, id := range leadIDs {
		pid := leads[id].PartnerID
		if pid == nil || seen[*pid] {
			continue
		}
		seen[*pid] = true
		partnerIDs = append(partnerIDs, *pid)
	}
	if len(partnerIDs) == 0 {
		return nil
	}
	partners, err := s.store.Partners().FindByIDs(ctx, partnerIDs)
	if err != nil {
		return err
	}
	for _, pid := range partnerIDs {
		if _, ok := partners[pid]; !ok {
			return invalidInput("unknown partner " + pid)
		}
	}
	return nil
}

func (s *purchaseService) settleCredit(ctx context.Context, p *model.Purchase) (*CreatePurchaseResult, error) {
	res, err := s.settlement.Settle(ctx, p.ID, nil)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		switch res.FailureReason {
		case ReasonInsufficientFunds:
			bal, err := s.store.Credits().Balance(ctx, p.BuyerWorkspaceID)
			if err != nil {
				return nil, err
			}
			return nil, &InsufficientCreditsError{Required: p.TotalPrice, Available: bal}
		case ReasonLeadsUnavailable:
			return nil, &LeadsUnavailableError{LeadIDs: res.UnavailableLeadIDs}
		}
	}
	return &CreatePurchaseResult{Purchase: res.Purchase, Settlement: res}, nil
}

func (s *purchaseService) openCheckout(ctx context.Context, p *model.Purchase) (*CreatePurchaseResult, error) {
	intent, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		PurchaseID:     p.ID,
		WorkspaceID:    p.BuyerWorkspaceID,
		Amount:         p.TotalPrice,
		IdempotencyKey: "purchase-" + p.ID,
	})
	if err != nil {
		s.log.Error("payment intent failed", zap.String("purchase_id", p.ID), zap.Error(err))
		if _, ferr := s.settlement.Fail(ctx, p.ID, ReasonPaymentIntentError); ferr != nil {
			s.log.Error("could not fail purchase", zap.String("purchase_id", p.ID), zap.Error(ferr))
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if err := s.store.Purchases().SetPaymentRef(ctx, p.ID, intent.ID, intent.CheckoutURL); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, err
		}
		// settled before we got here
		latest, ferr := s.store.Purchases().FindByID(ctx, p.ID)
		if ferr != nil {
			return nil, ferr
		}
		return &CreatePurchaseResult{Purchase: latest}, nil
	}
	ref, checkoutURL := intent.ID, intent.CheckoutURL
	p.PaymentRef = &ref
	p.CheckoutURL = &checkoutURL

	handoff, err := s.checkout(p)
	if err != nil {
		return nil, err
	}
	s.log.Info("checkout opened",
		zap.String("purchase_id", p.ID),
		zap.String("payment_intent_id", intent.ID),
		logger.Token("handoff", handoff.Token))
	return &CreatePurchaseResult{Purchase: p, Checkout: handoff}, nil
}

func (s *purchaseService) replay(p *model.Purchase) (*CreatePurchaseResult, error) {
	res := &CreatePurchaseResult{Purchase: p, Replayed: true}
	if p.PaymentMethod == model.PaymentMethodCard && p.Status == model.PurchaseStatusPending && p.PaymentRef != nil && s.handoff != nil {
		handoff, err := s.checkout(p)
		if err != nil {
			return nil, err
		}
		res.Checkout = handoff
	}
	return res, nil
}

func (s *purchaseService) checkout(p *model.Purchase) (*CheckoutHandoff, error) {
	token, err := s.handoff.Issue(p.ID, p.BuyerWorkspaceID, p.TotalPrice.StringFixed(2), *p.PaymentRef)
	if err != nil {
		return nil, fmt.Errorf("issue checkout handoff: %w", err)
	}
	h := &CheckoutHandoff{Token: token, PaymentIntentID: *p.PaymentRef}
	if p.CheckoutURL != nil {
		h.URL = *p.CheckoutURL
	}
	return h, nil
}

func (s *purchaseService) Get(ctx context.Context, purchaseID string, viewer Viewer) (*PurchaseDetail, error) {
	p, err := s.store.Purchases().FindByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !viewer.Admin && p.BuyerWorkspaceID != viewer.WorkspaceID {
		return nil, ErrForbidden
	}
	detail := &PurchaseDetail{Purchase: p}
	if p.Status != model.PurchaseStatusCompleted {
		return detail, nil
	}
	leads, err := s.store.Leads().FindByIDs(ctx, p.LeadIDs())
	if err != nil {
		return nil, err
	}
	detail.Leads = orderLeads(leads, p.LeadIDs())
	return detail, nil
}

func (s *purchaseService) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]model.Purchase, error) {
	if workspaceID == "" {
		return nil, invalidInput("buyer workspace is required")
	}
	return s.store.Purchases().ListByWorkspace(ctx, workspaceID, limit)
}

func normalizeLeadIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, invalidInput("at least one lead is required")
	}
	if len(ids) > MaxLeadsPerPurchase {
		return nil, invalidInput(fmt.Sprintf("at most %d leads per purchase", MaxLeadsPerPurchase))
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, invalidInput("lead id must not be empty")
		}
		if seen[id] {
			return nil, invalidInput("duplicate lead id " + id)
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func orderLeads(leads []model.Lead, order []string) []model.Lead {
	byID := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}
	out := make([]model.Lead, 0, len(order))
	for _, id := range order {
		if l, ok := byID[id]; ok {
			out = append(out, l)
		}
	}
	return out
}
