package repository

import (
	"context"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CompleteParams is what settlement writes when a purchase completes.
type CompleteParams struct {
	CompletedAt       time.Time
	DeliveryRef       string
	DeliveryExpiresAt time.Time
	// PaymentRef records the acknowledged card charge when set.
	PaymentRef string
}

type CommissionSnapshot struct {
	Rate     decimal.Decimal
	Amount   decimal.Decimal
	Bonuses  []string
	Computed time.Time
}

type PurchaseRepository interface {
	Create(ctx context.Context, p *model.Purchase) error
	FindByID(ctx context.Context, id string) (*model.Purchase, error)
	FindByIdempotencyKey(ctx context.Context, workspaceID, key string) (*model.Purchase, error)
	// LockByID loads the purchase and its line items, holding a row lock on
	// the purchase until the surrounding transaction ends.
	LockByID(ctx context.Context, id string) (*model.Purchase, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]model.Purchase, error)
	SetPaymentRef(ctx context.Context, id, ref, checkoutURL string) error
	// Complete and Fail only move a pending purchase; anything else yields
	// ErrConflict.
	Complete(ctx context.Context, id string, params CompleteParams) error
	Fail(ctx context.Context, id, reason string, at time.Time) error
	// SaveCommission writes a line item's commission once. A second write
	// yields ErrConflict.
	SaveCommission(ctx context.Context, lineItemID uint64, snap CommissionSnapshot) error
}

type purchaseRepository struct {
	db *gorm.DB
}

func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Create(ctx context.Context, p *model.Purchase) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *purchaseRepository) FindByID(ctx context.Context, id string) (*model.Purchase, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var p model.Purchase
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ?", id).
		First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *purchaseRepository) FindByIdempotencyKey(ctx context.Context, workspaceID, key string) (*model.Purchase, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var p model.Purchase
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("buyer_workspace_id = ? AND idempotency_key = ?", workspaceID, key).
		First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *purchaseRepository) LockByID(ctx context.Context, id string) (*model.Purchase, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var p model.Purchase
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error; err != nil {
		return nil, translate(err)
	}
	if err := r.db.WithContext(ctx).
		Where("purchase_id = ?", id).
		Order("id ASC").
		Find(&p.Items).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *purchaseRepository) ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]model.Purchase, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var list []model.Purchase
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("buyer_workspace_id = ?", workspaceID).
		Order("created_at DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *purchaseRepository) SetPaymentRef(ctx context.Context, id, ref, checkoutURL string) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("id = ? AND status = ?", id, model.PurchaseStatusPending).
		Updates(map[string]interface{}{
			"payment_ref":  ref,
			"checkout_url": checkoutURL,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *purchaseRepository) Complete(ctx context.Context, id string, params CompleteParams) error {
	updates := map[string]interface{}{
		"status":              model.PurchaseStatusCompleted,
		"completed_at":        params.CompletedAt,
		"delivery_ref":        params.DeliveryRef,
		"delivery_expires_at": params.DeliveryExpiresAt,
	}
	if params.PaymentRef != "" {
		updates["payment_ref"] = params.PaymentRef
	}
	return r.transition(ctx, id, updates)
}

func (r *purchaseRepository) Fail(ctx context.Context, id, reason string, at time.Time) error {
	return r.transition(ctx, id, map[string]interface{}{
		"status":         model.PurchaseStatusFailed,
		"failure_reason": reason,
		"failed_at":      at,
	})
}

func (r *purchaseRepository) transition(ctx context.Context, id string, updates map[string]interface{}) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Purchase{}).
		Where("id = ? AND status = ?", id, model.PurchaseStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func (r *purchaseRepository) SaveCommission(ctx context.Context, lineItemID uint64, snap CommissionSnapshot) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.PurchaseLineItem{}).
		Where("id = ? AND commissioned_at IS NULL", lineItemID).
		Updates(map[string]interface{}{
			"commission_rate":    snap.Rate,
			"commission_amount":  snap.Amount,
			"commission_bonuses": datatypes.NewJSONSlice(snap.Bonuses),
			"commissioned_at":    snap.Computed,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}
