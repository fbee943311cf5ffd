package repository

import (
	"context"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookRepository interface {
	CreateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error
	ListEndpoints(ctx context.Context, ownerType, ownerID string) ([]model.WebhookEndpoint, error)
	FindEndpoint(ctx context.Context, id uint64) (*model.WebhookEndpoint, error)

	// EnqueueDelivery inserts d unless a delivery for the same event and
	// target already exists. It reports whether a row was created.
	EnqueueDelivery(ctx context.Context, d *model.NotificationDelivery) (bool, error)
	FindDelivery(ctx context.Context, id uint64) (*model.NotificationDelivery, error)
	// ClaimDelivery leases a due delivery until leaseUntil so only one
	// worker attempts it. It reports whether the claim succeeded.
	ClaimDelivery(ctx context.Context, id uint64, now, leaseUntil time.Time) (bool, error)
	SaveDelivery(ctx context.Context, d *model.NotificationDelivery) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationDelivery, error)
	ListByStatus(ctx context.Context, status model.DeliveryStatus, limit int) ([]model.NotificationDelivery, error)
	// Requeue moves a dead delivery back to pending with a fresh attempt
	// budget. Non-dead deliveries yield ErrConflict.
	Requeue(ctx context.Context, id uint64, now time.Time) error
}

type webhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) CreateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *webhookRepository) ListEndpoints(ctx context.Context, ownerType, ownerID string) ([]model.WebhookEndpoint, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.WebhookEndpoint
	if err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ? AND active = ?", ownerType, ownerID, true).
		Order("id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *webhookRepository) FindEndpoint(ctx context.Context, id uint64) (*model.WebhookEndpoint, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var e model.WebhookEndpoint
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *webhookRepository) EnqueueDelivery(ctx context.Context, d *model.NotificationDelivery) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(d)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *webhookRepository) FindDelivery(ctx context.Context, id uint64) (*model.NotificationDelivery, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var d model.NotificationDelivery
	if err := r.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (r *webhookRepository) ClaimDelivery(ctx context.Context, id uint64, now, leaseUntil time.Time) (bool, error) {
	if r.db == nil {
		return false, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.NotificationDelivery{}).
		Where("id = ? AND status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			id, []model.DeliveryStatus{model.DeliveryStatusPending, model.DeliveryStatusRetrying}, now).
		Update("next_attempt_at", leaseUntil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *webhookRepository) SaveDelivery(ctx context.Context, d *model.NotificationDelivery) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Save(d).Error
}

func (r *webhookRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.NotificationDelivery, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if limit <= 0 {
		limit = 100
	}
	var list []model.NotificationDelivery
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
			[]model.DeliveryStatus{model.DeliveryStatusPending, model.DeliveryStatusRetrying}, now).
		Order("id ASC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *webhookRepository) ListByStatus(ctx context.Context, status model.DeliveryStatus, limit int) ([]model.NotificationDelivery, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []model.NotificationDelivery
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *webhookRepository) Requeue(ctx context.Context, id uint64, now time.Time) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.NotificationDelivery{}).
		Where("id = ? AND status = ?", id, model.DeliveryStatusDead).
		Updates(map[string]interface{}{
			"status":          model.DeliveryStatusPending,
			"attempts":        0,
			"next_attempt_at": now,
			"dead_at":         gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindDelivery(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}
