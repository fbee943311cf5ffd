package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Partner struct {
	ID       string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"column:name;size:255"`
	OwnerUID string `gorm:"column:owner_uid;size:128;uniqueIndex"`
	// BaseCommissionRate overrides the default base rate when set.
	BaseCommissionRate   *decimal.Decimal `gorm:"column:base_commission_rate;type:decimal(6,4)"`
	VerificationPassRate float64          `gorm:"column:verification_pass_rate;not null;default:0"`
	BonusCommissionRate  decimal.Decimal  `gorm:"column:bonus_commission_rate;type:decimal(6,4);not null;default:0"`
	CreatedAt            time.Time        `gorm:"autoCreateTime"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime"`
}

func (Partner) TableName() string {
	return "partners"
}

type PartnerEarning struct {
	ID         uint64          `gorm:"primaryKey;autoIncrement"`
	PartnerID  string          `gorm:"column:partner_id;size:64;index;not null"`
	PurchaseID string          `gorm:"column:purchase_id;size:36;index;not null"`
	LineItemID uint64          `gorm:"column:line_item_id;uniqueIndex;not null"`
	LeadID     string          `gorm:"column:lead_id;size:36;not null"`
	Rate       decimal.Decimal `gorm:"column:rate;type:decimal(6,4);not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(12,4);not null"`
	AccruedAt  time.Time       `gorm:"column:accrued_at;not null"`
	PayableAt  time.Time       `gorm:"column:payable_at;index;not null"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
}

func (PartnerEarning) TableName() string {
	return "partner_earnings"
}

func (e PartnerEarning) Payable(now time.Time) bool {
	return !now.Before(e.PayableAt)
}
