package repository

import (
	"context"
	"sort"
	"time"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LeadRepository interface {
	Create(ctx context.Context, leads []model.Lead) error
	FindByIDs(ctx context.Context, ids []string) ([]model.Lead, error)
	// LockByIDs row-locks the leads in ascending id order so concurrent
	// settlements cannot deadlock on overlapping sets.
	LockByIDs(ctx context.Context, ids []string) ([]model.Lead, error)
	// MarkSold flips every lead to sold or none of them; if any lead is no
	// longer available it returns ErrConflict without changes.
	MarkSold(ctx context.Context, ids []string, at time.Time) error
	List(ctx context.Context, availableOnly bool, limit, offset int) ([]model.Lead, int64, error)
}

type leadRepository struct {
	db *gorm.DB
}

func NewLeadRepository(db *gorm.DB) LeadRepository {
	return &leadRepository{db: db}
}

func (r *leadRepository) Create(ctx context.Context, leads []model.Lead) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	if len(leads) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).CreateInBatches(leads, 200).Error)
}

func (r *leadRepository) FindByIDs(ctx context.Context, ids []string) ([]model.Lead, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var leads []model.Lead
	if len(ids) == 0 {
		return leads, nil
	}
	if err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

func (r *leadRepository) LockByIDs(ctx context.Context, ids []string) ([]model.Lead, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var leads []model.Lead
	if len(ids) == 0 {
		return leads, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", sorted).
		Order("id ASC").
		Find(&leads).Error; err != nil {
		return nil, err
	}
	return leads, nil
}

func (r *leadRepository) MarkSold(ctx context.Context, ids []string, at time.Time) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	if len(ids) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&model.Lead{}).
		Where("id IN ? AND availability_status = ?", ids, model.LeadStatusAvailable).
		Updates(map[string]interface{}{
			"availability_status": model.LeadStatusSold,
			"sold_count":          gorm.Expr("sold_count + 1"),
			"sold_at":             at,
		})
	if res.Error != nil {
		return res.Error
	}
	// The caller's transaction rolls back the partial update.
	if res.RowsAffected != int64(len(ids)) {
		return ErrConflict
	}
	return nil
}

func (r *leadRepository) List(ctx context.Context, availableOnly bool, limit, offset int) ([]model.Lead, int64, error) {
	if r.db == nil {
		return nil, 0, ErrDBNotReady
	}
	var (
		leads []model.Lead
		total int64
	)
	q := r.db.WithContext(ctx).Model(&model.Lead{})
	if availableOnly {
		q = q.Where("availability_status = ?", model.LeadStatusAvailable)
	}
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := q.Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&leads).Error; err != nil {
		return nil, 0, err
	}
	return leads, total, nil
}
