package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/commission"
	"github.com/shinyyama/leadmarket-backend/internal/idgen"
	"github.com/shinyyama/leadmarket-backend/internal/lock"
	"github.com/shinyyama/leadmarket-backend/internal/metrics"
	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shinyyama/leadmarket-backend/internal/payment"
	"github.com/shinyyama/leadmarket-backend/internal/repository"
	"github.com/shinyyama/leadmarket-backend/internal/reqctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	ReasonInsufficientFunds  = "insufficient funds"
	ReasonLeadsUnavailable   = "some leads no longer available"
	ReasonPaymentFailed      = "payment failed"
	ReasonPaymentIntentError = "payment intent could not be created"
)

// DeliveryWindow is how long a completed purchase can be downloaded.
const DeliveryWindow = 90 * 24 * time.Hour

// CardConfirmation is the verified payload of a processor success event.
type CardConfirmation struct {
	PaymentRef string
	// Amount is the charged amount when the processor reports one.
	Amount *decimal.Decimal
}

type SettlementResult struct {
	PurchaseID         string
	Success            bool
	AlreadyCompleted   bool
	Status             model.PurchaseStatus
	FailureReason      string
	UnavailableLeadIDs []string
	CompletedAt        *time.Time
	Purchase           *model.Purchase
}

// AccruedCommission is one commission written during settlement.
type AccruedCommission struct {
	PartnerID  string
	LineItemID uint64
	LeadID     string
	Rate       decimal.Decimal
	Amount     decimal.Decimal
	Bonuses    []string
	PayableAt  time.Time
}

type CompletedEvent struct {
	Purchase    model.Purchase
	Commissions []AccruedCommission
}

// SettlementListener is told about completed purchases after commit. It must
// not block on network I/O.
type SettlementListener interface {
	PurchaseCompleted(ctx context.Context, ev CompletedEvent)
}

type SettlementService interface {
	// Settle moves a pending purchase to completed or failed. Calling it for
	// a purchase that is no longer pending returns AlreadyCompleted without
	// side effects.
	Settle(ctx context.Context, purchaseID string, confirm *CardConfirmation) (*SettlementResult, error)
	// Fail moves a pending purchase to failed with reason.
	Fail(ctx context.Context, purchaseID, reason string) (*SettlementResult, error)
	// FailCard is Fail for processor failure events. It returns
	// ErrPaymentMismatch when the purchase is not paid by card.
	FailCard(ctx context.Context, purchaseID, reason string) (*SettlementResult, error)
}

type SettlementOptions struct {
	AppBaseURL string
	Listener   SettlementListener
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type settlementService struct {
	store    repository.Store
	locker   lock.Locker
	ids      *idgen.Generator
	log      *zap.Logger
	listener SettlementListener
	metrics  *metrics.Metrics
	baseURL  string
	now      func() time.Time
}

func NewSettlementService(store repository.Store, locker lock.Locker, ids *idgen.Generator, log *zap.Logger, opts SettlementOptions) SettlementService {
	if log == nil {
		log = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &settlementService{
		store:    store,
		locker:   locker,
		ids:      ids,
		log:      log.Named("settlement"),
		listener: opts.Listener,
		metrics:  opts.Metrics,
		baseURL:  strings.TrimRight(opts.AppBaseURL, "/"),
		now:      now,
	}
}

func lockKey(purchaseID string) string {
	return "purchase:" + purchaseID
}

func (s *settlementService) Settle(ctx context.Context, purchaseID string, confirm *CardConfirmation) (*SettlementResult, error) {
	start := time.Now()
	ctx = reqctx.WithPurchaseID(ctx, purchaseID)
	unlock, err := s.locker.Lock(ctx, lockKey(purchaseID))
	if err != nil {
		return nil, fmt.Errorf("acquire purchase lock: %w", err)
	}
	defer unlock()

	var (
		res   *SettlementResult
		event *CompletedEvent
	)
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		res, event = nil, nil
		var txErr error
		res, event, txErr = s.settleTx(ctx, tx, purchaseID, confirm)
		return txErr
	})
	method := "unknown"
	if res != nil && res.Purchase != nil {
		method = string(res.Purchase.PaymentMethod)
	}
	s.observe(method, start, res, confirm, err)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrPaymentMismatch) {
			return nil, err
		}
		s.log.Error("settlement aborted", append(ctxFields(ctx), zap.Error(err))...)
		return nil, fmt.Errorf("settle purchase %s: %w", purchaseID, err)
	}

	if capturedWithoutGoods(res, confirm) {
		// The processor captured funds for goods we cannot deliver.
		s.log.Warn("card purchase failed after capture, refund required", append(ctxFields(ctx),
			zap.String("payment_ref", confirm.PaymentRef),
			zap.String("reason", res.FailureReason),
			zap.Bool("late_confirmation", res.AlreadyCompleted))...)
	}
	if event != nil && s.listener != nil {
		s.listener.PurchaseCompleted(context.WithoutCancel(ctx), *event)
	}
	return res, nil
}

func (s *settlementService) settleTx(ctx context.Context, tx repository.Store, purchaseID string, confirm *CardConfirmation) (*SettlementResult, *CompletedEvent, error) {
	p, err := tx.Purchases().LockByID(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	if p.Terminal() {
		return terminalResult(p), nil, nil
	}

	if p.PaymentMethod == model.PaymentMethodCard {
		if err := checkConfirmation(p, confirm); err != nil {
			return nil, nil, err
		}
	}

	now := s.now()
	if p.PaymentMethod == model.PaymentMethodCredit {
		bal, err := tx.Credits().LockBalance(ctx, p.BuyerWorkspaceID)
		if err != nil {
			return nil, nil, err
		}
		if bal.LessThan(p.TotalPrice) {
			res, err := s.failTx(ctx, tx, p, ReasonInsufficientFunds, now)
			return res, nil, err
		}
	}

	leadIDs := p.LeadIDs()
	leads, err := tx.Leads().LockByIDs(ctx, leadIDs)
	if err != nil {
		return nil, nil, err
	}
	leadByID := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		leadByID[l.ID] = l
	}
	var unavailable []string
	for _, id := range leadIDs {
		if l, ok := leadByID[id]; !ok || !l.Available() {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		res, err := s.failTx(ctx, tx, p, ReasonLeadsUnavailable, now)
		if res != nil {
			res.UnavailableLeadIDs = unavailable
		}
		return res, nil, err
	}

	if p.PaymentMethod == model.PaymentMethodCredit {
		pid := p.ID
		entry := &model.CreditLedgerEntry{
			ID:          s.ids.LedgerID(),
			WorkspaceID: p.BuyerWorkspaceID,
			PurchaseID:  &pid,
			EntryType:   model.LedgerEntryPurchase,
			Amount:      p.TotalPrice.Neg(),
			Note:        fmt.Sprintf("purchase of %d leads", len(leadIDs)),
		}
		if err := tx.Credits().Apply(ctx, entry); err != nil {
			return nil, nil, fmt.Errorf("debit credits: %w", err)
		}
	}

	if err := tx.Leads().MarkSold(ctx, leadIDs, now); err != nil {
		return nil, nil, fmt.Errorf("mark leads sold: %w", err)
	}

	accrued, err := s.accrueCommissions(ctx, tx, p, leadByID, now)
	if err != nil {
		return nil, nil, err
	}

	params := repository.CompleteParams{
		CompletedAt:       now,
		DeliveryRef:       s.deliveryRef(p.ID),
		DeliveryExpiresAt: now.Add(DeliveryWindow),
	}
	if confirm != nil && p.PaymentMethod == model.PaymentMethodCard {
		params.PaymentRef = confirm.PaymentRef
	}
	if err := tx.Purchases().Complete(ctx, p.ID, params); err != nil {
		return nil, nil, fmt.Errorf("complete purchase: %w", err)
	}
	p.Status = model.PurchaseStatusCompleted
	p.CompletedAt = &params.CompletedAt
	p.DeliveryRef = &params.DeliveryRef
	p.DeliveryExpiresAt = &params.DeliveryExpiresAt
	if params.PaymentRef != "" {
		p.PaymentRef = &params.PaymentRef
	}

	res := &SettlementResult{
		PurchaseID:  p.ID,
		Success:     true,
		Status:      p.Status,
		CompletedAt: p.CompletedAt,
		Purchase:    p,
	}
	return res, &CompletedEvent{Purchase: *p, Commissions: accrued}, nil
}

func (s *settlementService) accrueCommissions(ctx context.Context, tx repository.Store, p *model.Purchase, leads map[string]model.Lead, now time.Time) ([]AccruedCommission, error) {
	var partnerIDs []string
	for _, it := range p.Items {
		if it.PartnerID != nil {
			partnerIDs = append(partnerIDs, *it.PartnerID)
		}
	}
	if len(partnerIDs) == 0 {
		return nil, nil
	}
	partners, err := tx.Partners().FindByIDs(ctx, partnerIDs)
	if err != nil {
		return nil, err
	}

	payableAt := commission.PayableDate(now)
	accrued := make([]AccruedCommission, 0, len(partnerIDs))
	for i := range p.Items {
		it := &p.Items[i]
		if it.PartnerID == nil {
			continue
		}
		partner, ok := partners[*it.PartnerID]
		if !ok {
			s.log.Warn("partner missing at settlement, using default rates",
				append(ctxFields(ctx), zap.String("partner_id", *it.PartnerID))...)
		}
		result := commission.Calculate(commission.Input{
			SalePrice: it.PriceAtPurchase,
			Partner: commission.Partner{
				BaseCommissionRate:   partner.BaseCommissionRate,
				VerificationPassRate: partner.VerificationPassRate,
				BonusCommissionRate:  partner.BonusCommissionRate,
			},
			LeadCreatedAt: leads[it.LeadID].CreatedAt,
			SaleDate:      now,
		})
		snap := repository.CommissionSnapshot{Rate: result.Rate, Amount: result.Amount, Bonuses: result.Bonuses, Computed: now}
		if err := tx.Purchases().SaveCommission(ctx, it.ID, snap); err != nil {
			return nil, fmt.Errorf("save commission for line item %d: %w", it.ID, err)
		}
		if err := tx.Earnings().Create(ctx, &model.PartnerEarning{
			PartnerID:  *it.PartnerID,
			PurchaseID: p.ID,
			LineItemID: it.ID,
			LeadID:     it.LeadID,
			Rate:       result.Rate,
			Amount:     result.Amount,
			AccruedAt:  now,
			PayableAt:  payableAt,
		}); err != nil {
			return nil, fmt.Errorf("record partner earning: %w", err)
		}

		rate, amount, at := result.Rate, result.Amount, now
		it.CommissionRate = &rate
		it.CommissionAmount = &amount
		it.CommissionBonuses = result.Bonuses
		it.CommissionedAt = &at
		accrued = append(accrued, AccruedCommission{
			PartnerID:  *it.PartnerID,
			LineItemID: it.ID,
			LeadID:     it.LeadID,
			Rate:       result.Rate,
			Amount:     result.Amount,
			Bonuses:    result.Bonuses,
			PayableAt:  payableAt,
		})
	}
	return accrued, nil
}

func (s *settlementService) Fail(ctx context.Context, purchaseID, reason string) (*SettlementResult, error) {
	return s.fail(ctx, purchaseID, reason, false)
}

func (s *settlementService) FailCard(ctx context.Context, purchaseID, reason string) (*SettlementResult, error) {
	return s.fail(ctx, purchaseID, reason, true)
}

func (s *settlementService) fail(ctx context.Context, purchaseID, reason string, cardOnly bool) (*SettlementResult, error) {
	unlock, err := s.locker.Lock(ctx, lockKey(purchaseID))
	if err != nil {
		return nil, fmt.Errorf("acquire purchase lock: %w", err)
	}
	defer unlock()

	var res *SettlementResult
	err = s.store.Transaction(ctx, func(tx repository.Store) error {
		p, err := tx.Purchases().LockByID(ctx, purchaseID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if cardOnly && p.PaymentMethod != model.PaymentMethodCard {
			return fmt.Errorf("%w: purchase %s is not paid by card", ErrPaymentMismatch, p.ID)
		}
		if p.Terminal() {
			res = terminalResult(p)
			return nil
		}
		res, err = s.failTx(ctx, tx, p, reason, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil && !res.AlreadyCompleted {
		s.metrics.Settlements.WithLabelValues(string(res.Purchase.PaymentMethod), "failed").Inc()
	}
	return res, nil
}

func (s *settlementService) failTx(ctx context.Context, tx repository.Store, p *model.Purchase, reason string, now time.Time) (*SettlementResult, error) {
	if err := tx.Purchases().Fail(ctx, p.ID, reason, now); err != nil {
		return nil, fmt.Errorf("fail purchase: %w", err)
	}
	p.Status = model.PurchaseStatusFailed
	p.FailureReason = reason
	p.FailedAt = &now
	s.log.Info("purchase failed",
		zap.String("purchase_id", p.ID),
		zap.String("method", string(p.PaymentMethod)),
		zap.String("reason", reason))
	return &SettlementResult{
		PurchaseID:    p.ID,
		Status:        p.Status,
		FailureReason: reason,
		Purchase:      p,
	}, nil
}

func (s *settlementService) deliveryRef(purchaseID string) string {
	return fmt.Sprintf("%s/api/purchases/%s/download", s.baseURL, purchaseID)
}

func (s *settlementService) observe(method string, start time.Time, res *SettlementResult, confirm *CardConfirmation, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "error"
	switch {
	case err != nil:
	case res.AlreadyCompleted && capturedWithoutGoods(res, confirm):
		outcome = "captured_after_fail"
	case res.AlreadyCompleted:
		outcome = "already_completed"
	case res.Success:
		outcome = "completed"
	default:
		outcome = "failed"
	}
	s.metrics.Settlements.WithLabelValues(method, outcome).Inc()
	s.metrics.SettlementDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func terminalResult(p *model.Purchase) *SettlementResult {
	return &SettlementResult{
		PurchaseID:       p.ID,
		Success:          p.Status == model.PurchaseStatusCompleted,
		AlreadyCompleted: true,
		Status:           p.Status,
		FailureReason:    p.FailureReason,
		CompletedAt:      p.CompletedAt,
		Purchase:         p,
	}
}

// capturedWithoutGoods reports a processor success confirmation for a card
// purchase that ended failed, either now or by an earlier failure event.
func capturedWithoutGoods(res *SettlementResult, confirm *CardConfirmation) bool {
	return confirm != nil && res != nil && res.Purchase != nil &&
		res.Purchase.PaymentMethod == model.PaymentMethodCard &&
		res.Status == model.PurchaseStatusFailed
}

func checkConfirmation(p *model.Purchase, confirm *CardConfirmation) error {
	if confirm == nil {
		return fmt.Errorf("%w: card purchase %s needs a payment confirmation", ErrPaymentMismatch, p.ID)
	}
	if p.PaymentRef != nil && confirm.PaymentRef != "" && *p.PaymentRef != confirm.PaymentRef {
		return fmt.Errorf("%w: payment reference does not match purchase %s", ErrPaymentMismatch, p.ID)
	}
	if confirm.Amount != nil && payment.AmountInCents(*confirm.Amount) != payment.AmountInCents(p.TotalPrice) {
		return fmt.Errorf("%w: charged %s, expected %s", ErrPaymentMismatch, confirm.Amount.StringFixed(2), p.TotalPrice.StringFixed(2))
	}
	return nil
}

// ctxFields tags a log line with the request and purchase in ctx.
func ctxFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 2)
	if rid := reqctx.RID(ctx); rid != "" {
		fields = append(fields, zap.String("rid", rid))
	}
	if pid := reqctx.PurchaseID(ctx); pid != "" {
		fields = append(fields, zap.String("purchase_id", pid))
	}
	return fields
}
