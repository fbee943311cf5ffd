package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

type PaymentMethod string

const (
	PaymentMethodCredit PaymentMethod = "credit"
	PaymentMethodCard   PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodCredit || m == PaymentMethodCard
}

type Purchase struct {
	ID                string             `gorm:"primaryKey;size:36"`
	BuyerWorkspaceID  string             `gorm:"column:buyer_workspace_id;size:128;index;not null;uniqueIndex:idx_purchase_idempotency,priority:1"`
	BuyerUserID       string             `gorm:"column:buyer_user_id;size:128"`
	IdempotencyKey    *string            `gorm:"column:idempotency_key;size:128;uniqueIndex:idx_purchase_idempotency,priority:2"`
	TotalPrice        decimal.Decimal    `gorm:"column:total_price;type:decimal(12,4);not null"`
	LeadCount         int                `gorm:"column:lead_count;not null"`
	PaymentMethod     PaymentMethod      `gorm:"column:payment_method;size:16;not null"`
	Status            PurchaseStatus     `gorm:"column:status;size:16;index;not null"`
	FailureReason     string             `gorm:"column:failure_reason;size:255"`
	PaymentRef        *string            `gorm:"column:payment_ref;size:255;index"`
	CheckoutURL       *string            `gorm:"column:checkout_url;type:text"`
	CompletedAt       *time.Time         `gorm:"column:completed_at"`
	FailedAt          *time.Time         `gorm:"column:failed_at"`
	DeliveryRef       *string            `gorm:"column:delivery_ref;size:512"`
	DeliveryExpiresAt *time.Time         `gorm:"column:delivery_expires_at"`
	Items             []PurchaseLineItem `gorm:"foreignKey:PurchaseID"`
	CreatedAt         time.Time          `gorm:"autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"autoUpdateTime"`
}

func (Purchase) TableName() string {
	return "purchases"
}

func (p *Purchase) Terminal() bool {
	return p.Status == PurchaseStatusCompleted || p.Status == PurchaseStatusFailed
}

func (p *Purchase) LeadIDs() []string {
	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.LeadID)
	}
	return ids
}

// PurchaseLineItem snapshots the price at order time. Commission columns stay
// NULL until settlement writes them once.
type PurchaseLineItem struct {
	ID                uint64                      `gorm:"primaryKey;autoIncrement"`
	PurchaseID        string                      `gorm:"column:purchase_id;size:36;index;not null"`
	LeadID            string                      `gorm:"column:lead_id;size:36;index;not null"`
	PartnerID         *string                     `gorm:"column:partner_id;size:64;index"`
	PriceAtPurchase   decimal.Decimal             `gorm:"column:price_at_purchase;type:decimal(12,4);not null"`
	CommissionRate    *decimal.Decimal            `gorm:"column:commission_rate;type:decimal(6,4)"`
	CommissionAmount  *decimal.Decimal            `gorm:"column:commission_amount;type:decimal(12,4)"`
	CommissionBonuses datatypes.JSONSlice[string] `gorm:"column:commission_bonuses;type:json"`
	CommissionedAt    *time.Time                  `gorm:"column:commissioned_at"`
	CreatedAt         time.Time                   `gorm:"autoCreateTime"`
}

func (PurchaseLineItem) TableName() string {
	return "purchase_line_items"
}
