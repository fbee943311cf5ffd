package repository

import (
	"context"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"gorm.io/gorm"
)

type EarningRepository interface {
	Create(ctx context.Context, e *model.PartnerEarning) error
	ListByPartner(ctx context.Context, partnerID string) ([]model.PartnerEarning, error)
}

type earningRepository struct {
	db *gorm.DB
}

func NewEarningRepository(db *gorm.DB) EarningRepository {
	return &earningRepository{db: db}
}

func (r *earningRepository) Create(ctx context.Context, e *model.PartnerEarning) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *earningRepository) ListByPartner(ctx context.Context, partnerID string) ([]model.PartnerEarning, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var list []model.PartnerEarning
	if err := r.db.WithContext(ctx).
		Where("partner_id = ?", partnerID).
		Order("accrued_at DESC, id DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
