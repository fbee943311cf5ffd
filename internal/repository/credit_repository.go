package repository

import (
	"context"

	"github.com/shinyyama/leadmarket-backend/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreditRepository interface {
	Balance(ctx context.Context, workspaceID string) (decimal.Decimal, error)
	// LockBalance reads the balance under a row lock. A workspace without a
	// balance row has zero credits.
	LockBalance(ctx context.Context, workspaceID string) (decimal.Decimal, error)
	// Apply moves the balance by entry.Amount and records the entry with the
	// resulting BalanceAfter. A debit larger than the balance yields
	// ErrInsufficientBalance and changes nothing.
	Apply(ctx context.Context, entry *model.CreditLedgerEntry) error
	ListEntries(ctx context.Context, workspaceID string, limit int) ([]model.CreditLedgerEntry, error)
}

type creditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) CreditRepository {
	return &creditRepository{db: db}
}

func (r *creditRepository) Balance(ctx context.Context, workspaceID string) (decimal.Decimal, error) {
	if r.db == nil {
		return decimal.Zero, ErrDBNotReady
	}
	return r.read(r.db.WithContext(ctx), workspaceID)
}

func (r *creditRepository) LockBalance(ctx context.Context, workspaceID string) (decimal.Decimal, error) {
	if r.db == nil {
		return decimal.Zero, ErrDBNotReady
	}
	return r.read(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), workspaceID)
}

func (r *creditRepository) read(q *gorm.DB, workspaceID string) (decimal.Decimal, error) {
	var bal model.CreditBalance
	err := q.Where("workspace_id = ?", workspaceID).First(&bal).Error
	if err != nil {
		if translate(err) == ErrNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return bal.Balance, nil
}

func (r *creditRepository) Apply(ctx context.Context, entry *model.CreditLedgerEntry) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	db := r.db.WithContext(ctx)
	if entry.Amount.IsNegative() {
		debit := entry.Amount.Neg()
		res := db.Model(&model.CreditBalance{}).
			Where("workspace_id = ? AND balance >= ?", entry.WorkspaceID, debit).
			Update("balance", gorm.Expr("balance - ?", debit))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
	} else {
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workspace_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"balance": gorm.Expr("balance + ?", entry.Amount)}),
		}).Create(&model.CreditBalance{WorkspaceID: entry.WorkspaceID, Balance: entry.Amount}).Error; err != nil {
			return err
		}
	}
	after, err := r.read(db, entry.WorkspaceID)
	if err != nil {
		return err
	}
	entry.BalanceAfter = after
	return translate(db.Create(entry).Error)
}

func (r *creditRepository) ListEntries(ctx context.Context, workspaceID string, limit int) ([]model.CreditLedgerEntry, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var list []model.CreditLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("id DESC").
		Limit(limit).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
