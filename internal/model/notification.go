package model

import "time"

const (
	NotificationTypePurchaseCompleted = "purchase_completed"
	NotificationTypeCommissionAccrued = "commission_accrued"
)

type Notification struct {
	ID         uint64  `gorm:"primaryKey;autoIncrement"`
	UserUID    string  `gorm:"column:user_uid;size:128;index;not null"`
	Type       string  `gorm:"column:type;size:64;not null"`
	Title      string  `gorm:"column:title;size:255"`
	Body       string  `gorm:"column:body;type:text"`
	PurchaseID *string `gorm:"column:purchase_id;size:36;index"`
	// DedupeKey is set for notifications tied to a purchase so a repeated
	// settlement callback cannot post the same message twice.
	DedupeKey *string    `gorm:"column:dedupe_key;size:255;uniqueIndex"`
	ReadAt    *time.Time `gorm:"column:read_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}

// NotificationDedupeKey identifies one message per user, type and purchase.
func NotificationDedupeKey(userUID, typ, purchaseID string) string {
	return typ + ":" + purchaseID + ":" + userUID
}
