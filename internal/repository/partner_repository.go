package repository

import (
	"context"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PartnerRepository interface {
	FindByIDs(ctx context.Context, ids []string) (map[string]model.Partner, error)
	FindByOwner(ctx context.Context, uid string) (*model.Partner, error)
	Upsert(ctx context.Context, p *model.Partner) error
}

type partnerRepository struct {
	db *gorm.DB
}

func NewPartnerRepository(db *gorm.DB) PartnerRepository {
	return &partnerRepository{db: db}
}

func (r *partnerRepository) FindByIDs(ctx context.Context, ids []string) (map[string]model.Partner, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	out := make(map[string]model.Partner, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var list []model.Partner
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&list).Error; err != nil {
		return nil, err
	}
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

func (r *partnerRepository) FindByOwner(ctx context.Context, uid string) (*model.Partner, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var p model.Partner
	if err := r.db.WithContext(ctx).Where("owner_uid = ?", uid).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *partnerRepository) Upsert(ctx context.Context, p *model.Partner) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "owner_uid", "base_commission_rate", "verification_pass_rate", "bonus_commission_rate", "updated_at",
		}),
	}).Create(p).Error
}
